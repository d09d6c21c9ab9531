package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTiktokenTokenizer_KnownModels(t *testing.T) {
	tests := []struct {
		model        string
		wantEncoding string
		wantMax      int
	}{
		{"gpt-4o-mini", "o200k_base", 128000},
		{"gpt-4o", "o200k_base", 128000},
		{"gpt-4", "cl100k_base", 8192},
		{"text-embedding-3-small", "cl100k_base", 8191},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			tok, err := NewTiktokenTokenizer(tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEncoding, tok.encoding)
			assert.Equal(t, tt.wantMax, tok.MaxTokens())
			assert.Equal(t, "tiktoken["+tt.wantEncoding+"]", tok.Name())
		})
	}
}

func TestNewTiktokenTokenizer_PrefixMatch(t *testing.T) {
	tok, err := NewTiktokenTokenizer("gpt-4o-mini-2024-07-18")
	require.NoError(t, err)
	assert.Equal(t, "o200k_base", tok.encoding)
}

func TestNewTiktokenTokenizer_Unknown(t *testing.T) {
	_, err := NewTiktokenTokenizer("some-local-model")
	require.Error(t, err)
}

func TestForModel_FallsBackToEstimator(t *testing.T) {
	tok := ForModel("some-local-model")
	assert.Equal(t, "estimator", tok.Name())
}

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("any", 0)

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// 40 ASCII chars at ~4 chars/token.
	n, err = e.CountTokens("the minimum riser height shall be 125 mm")
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// Short strings never round down to zero.
	n, err = e.CountTokens("a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimatorTokenizer("any", 0)
	msgs := []Message{
		{Role: "user", Content: "what is the minimum stair width"},  // 31 chars -> 7 tokens
		{Role: "assistant", Content: "see Section 9.8"},             // 15 chars -> 3 tokens
	}
	n, err := e.CountMessages(msgs)
	require.NoError(t, err)
	// 7 + 4 overhead + 3 + 4 overhead + 3 trailer.
	assert.Equal(t, 21, n)
}

func TestEstimator_DecodeUnsupported(t *testing.T) {
	e := NewEstimatorTokenizer("any", 0)
	_, err := e.Decode([]int{1, 2, 3})
	require.Error(t, err)
}
