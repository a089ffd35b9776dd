package buffer

import (
	"sync"

	"github.com/agentsight/agentsight-go/internal/model"
)

// TokenCounter accumulates per-conversation LLM token usage. Counters are
// additive; the dispatcher commits a snapshot only after a confirmed
// successful flush. Negative deltas are rejected by the caller's
// validation before Add is reached.
type TokenCounter struct {
	mu         sync.Mutex
	prompt     int64
	completion int64
	total      int64
	embedding  int64
}

// Add adds the given deltas to the running totals.
func (c *TokenCounter) Add(prompt, completion, total, embedding int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt += prompt
	c.completion += completion
	c.total += total
	c.embedding += embedding
}

// Read returns a point-in-time snapshot without mutating the counters.
func (c *TokenCounter) Read() model.TokenUsagePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.TokenUsagePayload{
		PromptTokens:     c.prompt,
		CompletionTokens: c.completion,
		TotalTokens:      c.total,
		EmbeddingTokens:  c.embedding,
	}
}

// Commit subtracts a previously read snapshot once its flush is confirmed
// delivered. Subtracting rather than zeroing preserves deltas added while
// the batch was on the wire.
func (c *TokenCounter) Commit(snap model.TokenUsagePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt -= snap.PromptTokens
	c.completion -= snap.CompletionTokens
	c.total -= snap.TotalTokens
	c.embedding -= snap.EmbeddingTokens
}
