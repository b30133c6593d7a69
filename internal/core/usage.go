package core

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	encoder *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of text with the cl100k_base
// encoding. Used when an upstream response carries no usage block. Returns 0
// if the encoding cannot be loaded.
func EstimateTokens(text string) int {
	encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})

	if encoder == nil {
		return 0
	}

	return len(encoder.Encode(text, nil, nil))
}

// EstimateRequestTokens approximates the prompt token count of a request by
// summing its system text and message text parts.
func EstimateRequestTokens(req Request) int {
	total := EstimateTokens(req.System)
	for _, msg := range req.Messages {
		total += EstimateTokens(msg.Text())
	}

	return total
}
