package agentsight

import (
	"encoding/base64"
	"fmt"

	"github.com/agentsight/agentsight-go/internal/mimetype"
	"github.com/agentsight/agentsight-go/internal/model"
)

func validateContent(field, content string) error {
	if content == "" {
		return &ValidationError{Field: field, Reason: "content must not be empty"}
	}
	return nil
}

func validateAction(a Action) error {
	if a.Name == "" {
		return &ValidationError{Field: "action.name", Reason: "name is required"}
	}
	if a.StartedAt != nil && a.EndedAt != nil && a.EndedAt.Before(*a.StartedAt) {
		return &ValidationError{Field: "action.ended_at", Reason: "ends before it starts"}
	}
	if a.DurationMS != nil && *a.DurationMS < 0 {
		return &ValidationError{Field: "action.duration_ms", Reason: "must not be negative"}
	}
	return nil
}

func validateButton(b Button) error {
	switch {
	case b.Event == "":
		return &ValidationError{Field: "button.event", Reason: "event is required"}
	case b.Label == "":
		return &ValidationError{Field: "button.label", Reason: "label is required"}
	case b.Value == "":
		return &ValidationError{Field: "button.value", Reason: "value is required"}
	}
	return nil
}

func validateTokenUsage(u TokenUsage) error {
	for _, c := range []struct {
		field string
		value int64
	}{
		{"prompt_tokens", u.PromptTokens},
		{"completion_tokens", u.CompletionTokens},
		{"total_tokens", u.TotalTokens},
		{"embedding_tokens", u.EmbeddingTokens},
	} {
		if c.value < 0 {
			return &ValidationError{Field: c.field, Reason: "must not be negative"}
		}
	}
	return nil
}

func validateSender(sender Sender) error {
	switch sender {
	case SenderUser, SenderAgent:
		return nil
	default:
		return &ValidationError{Field: "sender", Reason: fmt.Sprintf("unknown sender %q", sender)}
	}
}

// validateAttachments checks every file against the mode's required fields
// and normalizes them into model form. In form_data mode missing filenames
// and MIME types are inferred from the content; in base64 mode filename
// and mime_type are both required and the payload must decode.
func validateAttachments(mode AttachmentMode, files []Attachment) ([]model.AttachmentFile, error) {
	if len(files) == 0 {
		return nil, &ValidationError{Field: "attachments", Reason: "at least one file is required"}
	}

	out := make([]model.AttachmentFile, 0, len(files))
	for i, f := range files {
		field := fmt.Sprintf("attachments[%d]", i)
		switch mode {
		case AttachmentBase64:
			if f.Base64Data == "" {
				return nil, &ValidationError{Field: field, Reason: "base64 mode requires base64_data"}
			}
			if len(f.Data) != 0 {
				return nil, &ValidationError{Field: field, Reason: "base64 mode does not accept raw data"}
			}
			if f.Filename == "" {
				return nil, &ValidationError{Field: field, Reason: "base64 mode requires a filename"}
			}
			if f.MIMEType == "" {
				return nil, &ValidationError{Field: field, Reason: "base64 mode requires a mime_type"}
			}
			if _, err := base64.StdEncoding.DecodeString(f.Base64Data); err != nil {
				return nil, &ValidationError{Field: field, Reason: "base64_data is not valid base64"}
			}
			out = append(out, model.AttachmentFile{
				Filename: f.Filename,
				MIMEType: f.MIMEType,
				Data:     f.Base64Data,
			})

		case AttachmentFormData:
			if len(f.Data) == 0 {
				return nil, &ValidationError{Field: field, Reason: "form_data mode requires data"}
			}
			if f.Base64Data != "" {
				return nil, &ValidationError{Field: field, Reason: "form_data mode does not accept base64_data"}
			}
			mime := f.MIMEType
			if mime == "" {
				if f.Filename != "" {
					mime = mimetype.ByFilename(f.Filename)
				} else {
					mime = mimetype.Detect(f.Data)
				}
			}
			name := f.Filename
			if name == "" {
				name = mimetype.Filename(mime, i)
			}
			out = append(out, model.AttachmentFile{
				Filename: name,
				MIMEType: mime,
				Binary:   f.Data,
			})

		default:
			return nil, &ValidationError{Field: "attachments.mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
		}
	}
	return out, nil
}
