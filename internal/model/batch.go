package model

import "time"

// Batch is one atomic transmission unit: the ordered items drained from one
// or more conversations. ID is the idempotency key; it stays stable across
// transport-level retries of the same transmission so the collector can
// de-duplicate replays.
type Batch struct {
	ID    string        `json:"-"`
	Items []TrackedItem `json:"items"`
}

// BatchItemResult is the collector's per-item outcome, in item order.
type BatchItemResult struct {
	Index     int       `json:"index"`
	Type      ItemType  `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// BatchSummary counts batch items by type. Errors counts items with
// Success == false regardless of type.
type BatchSummary struct {
	Questions   int `json:"questions"`
	Answers     int `json:"answers"`
	Actions     int `json:"actions"`
	Buttons     int `json:"buttons"`
	Attachments int `json:"attachments"`
	Errors      int `json:"errors"`
}

// BatchResponse is the collector's acknowledgement of a batch.
type BatchResponse struct {
	Items   []BatchItemResult `json:"items"`
	Summary BatchSummary      `json:"summary"`
}
