package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

func TestValidateCollectionName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "documents", false},
		{"digits and underscores", "cv_2024", false},
		{"empty", "", true},
		{"uppercase", "Documents", true},
		{"hyphen", "my-docs", true},
		{"too long", string(make([]byte, 65)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCollectionName(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCollectionName)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHybridQuery_Validate(t *testing.T) {
	ok := HybridQuery{Dense: []float32{1, 0, 0}, TopK: 3}
	require.NoError(t, ok.Validate(3))

	assert.ErrorIs(t, HybridQuery{Dense: []float32{1, 0, 0}}.Validate(3), rag.ErrValidation)
	assert.ErrorIs(t, HybridQuery{Dense: []float32{1}, TopK: 1}.Validate(3), rag.ErrValidation)

	bad := ok
	bad.Sparse = rag.SparseVector{Indices: []uint32{1, 1}, Values: []float32{1, 2}}
	assert.ErrorIs(t, bad.Validate(3), rag.ErrValidation)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"chromem defaults", Config{VectorSize: 4}, nil},
		{"qdrant defaults", Config{Provider: "Qdrant", VectorSize: 4}, nil},
		{"missing vector size", Config{}, ErrInvalidConfig},
		{"unknown provider", Config{Provider: "pinecone", VectorSize: 4}, ErrInvalidConfig},
		{"bad collection", Config{Collection: "Bad Name", VectorSize: 4}, ErrInvalidCollectionName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.ApplyDefaults()
			err := cfg.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(rag.Filter{}))

	f := buildFilter(rag.Filter{Keys: rag.HeaderKeys(2), Value: "Alice"})
	require.NotNil(t, f)
	require.Len(t, f.Should, 2)
	assert.Empty(t, f.Must)
	assert.Equal(t, "header_1", f.Should[0].GetField().GetKey())
	assert.Equal(t, "Alice", f.Should[1].GetField().GetMatch().GetKeyword())
}

func TestPayloadRoundTrip(t *testing.T) {
	p := rag.Payload{
		Content: "Alice - Skills: Go",
		Metadata: rag.ChunkMetadata{
			HeaderPath: []string{"Alice", "Skills"},
			SourceFile: "cv.md",
		},
	}
	encoded := encodePayload(p)
	assert.Equal(t, "Alice", encoded["header_1"].GetStringValue())
	assert.Len(t, encoded[rag.PayloadHeaderPath].GetListValue().GetValues(), 2)
	assert.Equal(t, p, decodePayload(encoded))
}
