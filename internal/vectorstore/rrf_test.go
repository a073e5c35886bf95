package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRRF(t *testing.T) {
	t.Run("items in both lists rank first", func(t *testing.T) {
		fused := RRF([]string{"a", "b", "c"}, []string{"c", "a", "d"})
		require.Len(t, fused, 4)
		assert.Equal(t, "a", fused[0].ID)
		assert.Equal(t, "c", fused[1].ID)
		assert.InDelta(t, 1.0/61+1.0/62, fused[0].Score, 1e-12)
	})

	t.Run("ties break on id", func(t *testing.T) {
		fused := RRF([]string{"y"}, []string{"x"})
		require.Len(t, fused, 2)
		assert.Equal(t, "x", fused[0].ID)
		assert.Equal(t, "y", fused[1].ID)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, RRF())
		assert.Empty(t, RRF(nil, nil))
	})
}

func TestCandidateLimit(t *testing.T) {
	assert.Equal(t, 20, candidateLimit(20, 5))
	assert.Equal(t, 50, candidateLimit(20, 50))
}
