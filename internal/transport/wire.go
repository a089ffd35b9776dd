package transport

import (
	"encoding/json"
	"time"

	"github.com/agentsight/agentsight-go/internal/model"
)

// wireBatch is the request body of POST /api/batch/.
type wireBatch struct {
	Items []wireItem `json:"items"`
}

// wireItem mirrors model.TrackedItem on the wire. It exists so form-data
// attachment items can drop their binary payloads from the JSON body: the
// bytes travel out-of-band as multipart form data.
type wireItem struct {
	ConversationID string         `json:"conversation_id"`
	Type           model.ItemType `json:"type"`
	Sequence       int64          `json:"sequence_index"`
	Timestamp      time.Time      `json:"timestamp"`
	Data           any            `json:"data"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func toWireItem(item model.TrackedItem) wireItem {
	w := wireItem{
		ConversationID: item.ConversationID,
		Type:           item.Type,
		Sequence:       item.Sequence,
		Timestamp:      item.Timestamp,
		Data:           item.Data,
		Metadata:       item.Metadata,
	}
	if item.Type != model.ItemAttachments {
		return w
	}
	payload, ok := attachmentsPayload(item)
	if !ok || payload.Mode != model.AttachmentFormData {
		return w
	}
	stripped := model.AttachmentsPayload{
		Mode:   payload.Mode,
		Sender: payload.Sender,
		Files:  make([]model.AttachmentFile, len(payload.Files)),
	}
	for i, f := range payload.Files {
		stripped.Files[i] = model.AttachmentFile{Filename: f.Filename, MIMEType: f.MIMEType}
	}
	w.Data = stripped
	return w
}

// attachmentsPayload recovers the typed payload of an attachments item.
// Freshly tracked items carry model.AttachmentsPayload; items restored
// from the spool carry a map with the same JSON shape, so those take a
// round trip through encoding/json (which also decodes the base64 form of
// the binary field back into bytes).
func attachmentsPayload(item model.TrackedItem) (model.AttachmentsPayload, bool) {
	switch data := item.Data.(type) {
	case model.AttachmentsPayload:
		return data, true
	case *model.AttachmentsPayload:
		return *data, true
	case map[string]any:
		raw, err := json.Marshal(data)
		if err != nil {
			return model.AttachmentsPayload{}, false
		}
		var payload model.AttachmentsPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return model.AttachmentsPayload{}, false
		}
		return payload, true
	default:
		return model.AttachmentsPayload{}, false
	}
}
