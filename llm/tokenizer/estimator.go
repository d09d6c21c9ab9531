package tokenizer

import (
	"fmt"
	"unicode/utf8"
)

// EstimatorTokenizer is a character-count-based token estimator used
// when no real encoding is available for a model. English regulatory
// prose averages about four characters per token.
type EstimatorTokenizer struct {
	model         string
	maxTokens     int
	charsPerToken float64
}

// NewEstimatorTokenizer creates a generic estimator.
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &EstimatorTokenizer{
		model:         model,
		maxTokens:     maxTokens,
		charsPerToken: 4.0,
	}
}

// WithCharsPerToken overrides the default chars-per-token ratio.
func (e *EstimatorTokenizer) WithCharsPerToken(ratio float64) *EstimatorTokenizer {
	if ratio > 0 {
		e.charsPerToken = ratio
	}
	return e
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	estimated := int(float64(utf8.RuneCountInString(text)) / e.charsPerToken)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := 0
	for _, msg := range messages {
		// Each message has ~4 tokens of overhead (role markers, separators).
		tokens, err := e.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		total += tokens + 4
	}
	// Conversation-end overhead.
	total += 3
	return total, nil
}

func (e *EstimatorTokenizer) Encode(text string) ([]int, error) {
	// The estimator cannot truly encode; return pseudo token IDs.
	count, err := e.CountTokens(text)
	if err != nil {
		return nil, err
	}
	tokens := make([]int, count)
	for i := range tokens {
		tokens[i] = i
	}
	return tokens, nil
}

func (e *EstimatorTokenizer) Decode(_ []int) (string, error) {
	return "", fmt.Errorf("estimator tokenizer does not support decode")
}

func (e *EstimatorTokenizer) MaxTokens() int {
	return e.maxTokens
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}
