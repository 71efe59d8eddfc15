// Package budget deterministically allocates the prompt token budget across
// trailing history, retrieval hits and junior metadata, trimming at unit
// boundaries so no message or hit is ever cut mid-text.
package budget

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures the token cost of a text unit. Implementations must
// be safe for concurrent use.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter approximates token counts by whitespace-separated words,
// flooring at 1 for non-empty text. Used when no tokenizer assets are
// available and in tests where exact counts must be obvious.
type HeuristicCounter struct{}

// Count implements TokenCounter.
func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	n := len(strings.Fields(text))
	if n == 0 {
		return 1
	}
	return n
}

// TiktokenCounter counts tokens with a real BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding (cl100k_base covers the model
// family the pipeline targets). Callers should fall back to HeuristicCounter
// when tokenizer assets cannot be fetched.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// NewCounter returns a TiktokenCounter when the encoding loads, otherwise
// the heuristic fallback.
func NewCounter() TokenCounter {
	if c, err := NewTiktokenCounter(""); err == nil {
		return c
	}
	return HeuristicCounter{}
}
