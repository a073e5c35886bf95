package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBM25Encoder_Encode(t *testing.T) {
	enc, err := NewBM25Encoder(0)
	require.NoError(t, err)

	t.Run("parallel unique ascending indices", func(t *testing.T) {
		sv := enc.Encode("Go developers develop Go services; the services scale.")
		require.NoError(t, sv.Validate())
		require.NotZero(t, sv.Len())
		for i := 1; i < len(sv.Indices); i++ {
			assert.Less(t, sv.Indices[i-1], sv.Indices[i])
		}
	})

	t.Run("stop words only", func(t *testing.T) {
		sv := enc.Encode("the and of")
		assert.Zero(t, sv.Len())
		assert.Equal(t, len(sv.Indices), len(sv.Values))
	})

	t.Run("repeated terms saturate", func(t *testing.T) {
		once := enc.Encode("kubernetes")
		thrice := enc.Encode("kubernetes kubernetes kubernetes")
		require.Equal(t, 1, once.Len())
		require.Equal(t, 1, thrice.Len())
		assert.Equal(t, once.Indices, thrice.Indices)
		assert.Greater(t, thrice.Values[0], once.Values[0])
		assert.Less(t, thrice.Values[0], float32(DefaultBM25K1+1))
		assert.InDelta(t, 1.0, once.Values[0], 1e-6)
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, enc.Encode("hybrid retrieval fusion"), enc.Encode("hybrid retrieval fusion"))
	})
}

func TestBM25Encoder_EmbedSparse(t *testing.T) {
	enc, err := NewBM25Encoder(DefaultBM25K1)
	require.NoError(t, err)

	out, err := enc.EmbedSparse(context.Background(), []string{"alpha beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	_, err = enc.EmbedSparse(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}
