package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/sdk/trace"
)

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	res := newResource(cfg)

	found := map[string]string{}
	for _, attr := range res.Attributes() {
		found[string(attr.Key)] = attr.Value.AsString()
	}
	assert.Equal(t, "ragchat", found["service.name"])
	assert.Equal(t, cfg.ServiceVersion, found["service.version"])
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, trace.ParentBased(trace.AlwaysSample()).Description()},
		{0, trace.ParentBased(trace.NeverSample()).Description()},
		{0.25, trace.ParentBased(trace.TraceIDRatioBased(0.25)).Description()},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sampler(tt.rate).Description())
	}
}
