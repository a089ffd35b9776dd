package agentsight

import (
	"github.com/agentsight/agentsight-go/internal/model"
)

// previewMaxLen bounds string fields in buffer previews.
const previewMaxLen = 100

// summarize builds a non-destructive view of buffered items: per-type
// counts plus a truncated preview of each payload, order preserved.
func summarize(conversationID string, items []model.TrackedItem) BufferSummary {
	s := BufferSummary{
		ConversationID: conversationID,
		Items:          make([]ItemPreview, 0, len(items)),
	}
	for i, item := range items {
		switch item.Type {
		case model.ItemConversation:
			s.Counts.Conversations++
		case model.ItemQuestion:
			s.Counts.Questions++
		case model.ItemAnswer:
			s.Counts.Answers++
		case model.ItemAttachments:
			s.Counts.Attachments++
		case model.ItemAction:
			s.Counts.Actions++
		case model.ItemButton:
			s.Counts.Buttons++
		}
		s.Counts.Total++
		s.Items = append(s.Items, ItemPreview{
			Index:     i,
			Type:      string(item.Type),
			Timestamp: item.Timestamp,
			Preview:   previewData(item.Data),
		})
	}
	return s
}

// previewData renders a payload as a map with long strings truncated.
// Attachment binary contents are elided entirely.
func previewData(data any) map[string]any {
	switch p := data.(type) {
	case model.MessagePayload:
		return map[string]any{
			"content": truncate(p.Content),
			"sender":  string(p.Sender),
		}
	case model.ActionPayload:
		out := map[string]any{"action_name": p.ActionName}
		if p.Response != "" {
			out["response"] = truncate(p.Response)
		}
		if p.ErrorMsg != "" {
			out["error_msg"] = truncate(p.ErrorMsg)
		}
		if p.DurationMS != nil {
			out["duration_ms"] = *p.DurationMS
		}
		return out
	case model.ButtonPayload:
		return map[string]any{
			"button_event": truncate(p.ButtonEvent),
			"label":        truncate(p.Label),
			"value":        truncate(p.Value),
		}
	case model.AttachmentsPayload:
		names := make([]string, len(p.Files))
		for i, f := range p.Files {
			names[i] = f.Filename
		}
		return map[string]any{
			"mode":  string(p.Mode),
			"files": names,
		}
	case model.ConversationPayload:
		return map[string]any{
			"conversation_id": p.ConversationID,
			"environment":     string(p.Environment),
		}
	case model.TokenUsagePayload:
		return map[string]any{
			"prompt_tokens":     p.PromptTokens,
			"completion_tokens": p.CompletionTokens,
			"total_tokens":      p.TotalTokens,
			"embedding_tokens":  p.EmbeddingTokens,
		}
	case map[string]any:
		// Items recovered from the spool carry their payload as a map.
		out := make(map[string]any, len(p))
		for k, v := range p {
			if s, ok := v.(string); ok {
				out[k] = truncate(s)
				continue
			}
			out[k] = v
		}
		return out
	default:
		return map[string]any{}
	}
}

func truncate(s string) string {
	if len(s) <= previewMaxLen {
		return s
	}
	return s[:previewMaxLen] + "..."
}
