// Package model defines the wire types shared by the buffer, dispatcher,
// and transport: tracked items, their payloads, and the batch
// request/response shapes of the AgentSight collector API.
package model

import "time"

// ItemType tags a tracked item with its collector-side category.
type ItemType string

const (
	ItemConversation ItemType = "conversation"
	ItemQuestion     ItemType = "question"
	ItemAnswer       ItemType = "answer"
	ItemAction       ItemType = "action"
	ItemButton       ItemType = "button"
	ItemAttachments  ItemType = "attachments"
	ItemTokenUsage   ItemType = "token_usage"
)

// Sender identifies which side of the conversation produced an item.
type Sender string

const (
	SenderUser  Sender = "end_user"
	SenderAgent Sender = "agent"
)

// Environment selects which dataset tracked data lands in.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
)

// AttachmentMode selects how attachment payloads travel to the collector.
type AttachmentMode string

const (
	// AttachmentBase64 carries file contents inline in the batch item.
	AttachmentBase64 AttachmentMode = "base64"
	// AttachmentFormData carries only filenames in the batch item; binary
	// contents are uploaded out-of-band as multipart form data.
	AttachmentFormData AttachmentMode = "form_data"
)

// TrackedItem is one buffered event. Sequence is assigned at append time
// and is strictly increasing within a conversation; Timestamp is the
// capture time (UTC). Data holds one of the *Payload structs in this
// package; after a spool round-trip it may instead hold a map[string]any
// with the same JSON shape, which the transport forwards as-is.
type TrackedItem struct {
	ConversationID string         `json:"conversation_id"`
	Type           ItemType       `json:"type"`
	Sequence       int64          `json:"sequence_index"`
	Timestamp      time.Time      `json:"timestamp"`
	Data           any            `json:"data"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ConversationPayload is the creation record for a conversation.
// Fields are write-once: the registry ignores them after first creation.
type ConversationPayload struct {
	ConversationID    string         `json:"conversation_id"`
	CustomerID        string         `json:"customer_id,omitempty"`
	CustomerIPAddress string         `json:"customer_ip_address,omitempty"`
	Device            string         `json:"device,omitempty"`
	Source            string         `json:"source,omitempty"`
	Language          string         `json:"language,omitempty"`
	Name              string         `json:"name,omitempty"`
	Environment       Environment    `json:"environment"`
	// IsUsed is false for conversations created immediately via the
	// conversations endpoint and true for buffered get-or-create records.
	IsUsed   bool           `json:"is_used"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MessagePayload is a human (question) or agent (answer) message.
type MessagePayload struct {
	Content string `json:"content"`
	Sender  Sender `json:"sender"`
}

// ActionPayload records a tool or function invocation made by the agent.
type ActionPayload struct {
	ActionName string         `json:"action_name"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
	DurationMS *int64         `json:"duration_ms,omitempty"`
	ToolsUsed  map[string]any `json:"tools_used,omitempty"`
	Response   string         `json:"response,omitempty"`
	ErrorMsg   string         `json:"error_msg,omitempty"`
}

// ButtonPayload records a button click. All three fields are required.
type ButtonPayload struct {
	ButtonEvent string `json:"button_event"`
	Label       string `json:"label"`
	Value       string `json:"value"`
}

// AttachmentFile is a single file within an attachments item.
// Exactly one of Data (base64 mode) or Binary (form_data mode) is set.
// Binary never travels inline in a batch; the transport strips it and
// uploads the bytes as multipart form data instead.
type AttachmentFile struct {
	Filename string `json:"filename,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
	Binary   []byte `json:"binary,omitempty"`
}

// AttachmentsPayload groups the files tracked by one call.
type AttachmentsPayload struct {
	Mode   AttachmentMode   `json:"mode"`
	Sender Sender           `json:"sender"`
	Files  []AttachmentFile `json:"attachments"`
}

// TokenUsagePayload is the synthetic item carrying the accumulated token
// counters of a conversation, added once per flush when non-zero.
type TokenUsagePayload struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	EmbeddingTokens  int64 `json:"embedding_tokens"`
}

// IsZero reports whether all four counters are zero.
func (p TokenUsagePayload) IsZero() bool {
	return p.PromptTokens == 0 && p.CompletionTokens == 0 &&
		p.TotalTokens == 0 && p.EmbeddingTokens == 0
}
