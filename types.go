package agentsight

import "time"

// Environment selects which dataset tracked data lands in.
type Environment string

const (
	Production  Environment = "production"
	Development Environment = "development"
)

// Sender identifies which side of the conversation produced an item.
type Sender string

const (
	SenderUser  Sender = "end_user"
	SenderAgent Sender = "agent"
)

// AttachmentMode selects how attachment payloads travel to the collector:
// inline base64 in the batch, or out-of-band multipart form data.
type AttachmentMode string

const (
	AttachmentBase64   AttachmentMode = "base64"
	AttachmentFormData AttachmentMode = "form_data"
)

// Device values for ConversationParams.Device.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
)

// ConversationParams are the creation fields of a conversation. They are
// write-once: after the first GetOrCreateConversation call for an ID,
// later calls with different values are silently ignored.
type ConversationParams struct {
	CustomerID        string
	CustomerIPAddress string
	Device            string // DeviceDesktop or DeviceMobile
	Source            string // e.g. "web", "app"
	Language          string
	Name              string
	Environment       Environment // defaults to the tracker's environment
	Metadata          map[string]any
}

// Action describes a tool or function invocation performed by the agent.
// Name is required and acts as a stable category key for server-side
// aggregation; renaming an action fragments its historical analytics.
type Action struct {
	Name       string
	StartedAt  *time.Time
	EndedAt    *time.Time
	DurationMS *int64
	ToolsUsed  map[string]any
	Response   string
	ErrorMsg   string
	Metadata   map[string]any
}

// Button describes a button click. Event, Label, and Value are all
// required; tracking fails with a *ValidationError when any is empty.
type Button struct {
	Event    string // what the button is used for
	Label    string // text displayed to the user
	Value    string
	Metadata map[string]any
}

// Attachment is one file to track. In base64 mode set Filename, MIMEType,
// and Base64Data; in form_data mode set Data (Filename and MIMEType are
// inferred when omitted). Setting the wrong field for the mode fails
// validation before the event is buffered.
type Attachment struct {
	Filename   string
	MIMEType   string
	Base64Data string // base64 mode only
	Data       []byte // form_data mode only
}

// TokenUsage is a snapshot of (or an additive delta to) a conversation's
// cumulative token counters. Negative values are rejected.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	EmbeddingTokens  int64
}

// ItemResult is the per-item outcome of a flush, in transmission order.
type ItemResult struct {
	Index     int
	Type      string
	Timestamp time.Time
	Success   bool
	Error     string
}

// DispatchSummary counts flushed items by type. Errors counts items the
// collector (or an attachment upload) reported as failed; those items are
// not retried automatically.
type DispatchSummary struct {
	Questions   int
	Answers     int
	Actions     int
	Buttons     int
	Attachments int
	Errors      int
}

// DispatchResult is the outcome of one flush.
type DispatchResult struct {
	Items   []ItemResult
	Summary DispatchSummary
}

// ItemErrors returns one PartialItemError per rejected item, in item
// order. Empty when every item succeeded.
func (r *DispatchResult) ItemErrors() []*PartialItemError {
	var errs []*PartialItemError
	for _, item := range r.Items {
		if !item.Success {
			errs = append(errs, &PartialItemError{
				Index:  item.Index,
				Type:   item.Type,
				Reason: item.Error,
			})
		}
	}
	return errs
}

// ItemPreview is one buffered item in a BufferSummary, with a truncated
// view of its payload for debugging.
type ItemPreview struct {
	Index     int
	Type      string
	Timestamp time.Time
	Preview   map[string]any
}

// SummaryCounts tallies buffered items by type.
type SummaryCounts struct {
	Conversations int
	Questions     int
	Answers       int
	Attachments   int
	Actions       int
	Buttons       int
	Total         int
}

// BufferSummary is a non-destructive view of a conversation's buffer with
// order preserved.
type BufferSummary struct {
	ConversationID string
	Items          []ItemPreview
	Counts         SummaryCounts
}
