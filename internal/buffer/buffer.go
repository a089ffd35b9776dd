// Package buffer holds the in-memory tracking state of the SDK: one
// append-only event buffer and one token counter per conversation, plus the
// registry that multiplexes conversations without cross-talk.
package buffer

import (
	"errors"
	"sync"
	"time"

	"github.com/agentsight/agentsight-go/internal/model"
)

// DefaultCapacity is the per-conversation cap on buffered items. When the
// cap is reached, Append applies backpressure by returning ErrFull rather
// than growing without bound.
const DefaultCapacity = 10_000

var (
	// ErrFull is returned by Append when the buffer is at capacity.
	ErrFull = errors.New("buffer: conversation buffer at capacity")

	// ErrFlushInFlight is returned by BeginFlush when a previous flush of
	// the same conversation has not completed or aborted yet.
	ErrFlushInFlight = errors.New("buffer: flush already in flight")
)

// Buffer is an ordered, append-only list of tracked items for one
// conversation. It never performs I/O. Safe for concurrent use; appends
// remain non-blocking while a flushed batch is on the wire because the
// mutex is held only for the drain step, never for the network call.
type Buffer struct {
	conversationID string
	capacity       int

	mu       sync.Mutex
	items    []model.TrackedItem
	nextSeq  int64
	flushing bool
}

// New creates an empty buffer for the given conversation. A capacity of
// zero or less falls back to DefaultCapacity.
func New(conversationID string, capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{conversationID: conversationID, capacity: capacity}
}

// Append assigns the next sequence index, stamps the capture time (UTC),
// and pushes the item to the tail. The caller validates payloads before
// appending; an item that reaches Append is always buffered unless the
// buffer is at capacity.
func (b *Buffer) Append(typ model.ItemType, data any, metadata map[string]any) (model.TrackedItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.capacity {
		return model.TrackedItem{}, ErrFull
	}

	item := model.TrackedItem{
		ConversationID: b.conversationID,
		Type:           typ,
		Sequence:       b.nextSeq,
		Timestamp:      time.Now().UTC(),
		Data:           data,
		Metadata:       metadata,
	}
	b.nextSeq++
	b.items = append(b.items, item)
	return item, nil
}

// Snapshot returns a copy of the buffered items in append order.
// Non-destructive; used to build summary views.
func (b *Buffer) Snapshot() []model.TrackedItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.TrackedItem, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the current number of buffered items.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// BeginFlush atomically drains all buffered items and marks the buffer as
// flushing. It also reserves one sequence index for the synthetic
// token-usage item the dispatcher may add; if the dispatcher doesn't use
// it, the index becomes a gap, which is acceptable (sequences order items,
// they don't promise continuity). Returns ErrFlushInFlight if a previous
// flush has not been completed or aborted.
func (b *Buffer) BeginFlush() (items []model.TrackedItem, reservedSeq int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.flushing {
		return nil, 0, ErrFlushInFlight
	}
	b.flushing = true
	items = b.items
	b.items = nil
	reservedSeq = b.nextSeq
	b.nextSeq++
	return items, reservedSeq, nil
}

// CompleteFlush commits a successful flush: the drained items stay gone.
func (b *Buffer) CompleteFlush() {
	b.mu.Lock()
	b.flushing = false
	b.mu.Unlock()
}

// AbortFlush restores drained items after a failed transmission so a
// subsequent flush retries them without loss. Items appended while the
// batch was on the wire keep their place after the restored ones, which
// preserves sequence order because restored sequences predate them.
func (b *Buffer) AbortFlush(items []model.TrackedItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushing = false
	if len(items) == 0 {
		return
	}
	b.items = append(items, b.items...)
}
