package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentsight/agentsight-go/internal/mimetype"
	"github.com/agentsight/agentsight-go/internal/model"
)

// maxConcurrentUploads bounds parallel multipart uploads within one batch.
const maxConcurrentUploads = 3

// uploadPendingAttachments uploads the binary payloads of form-data
// attachment items after the batch has been accepted. Uploads of distinct
// items run concurrently; a failure marks the corresponding item failed in
// resp (partial failure, no restore, no automatic retry of the item).
func (c *Client) uploadPendingAttachments(ctx context.Context, items []model.TrackedItem, resp *model.BatchResponse) {
	type pending struct {
		index   int
		item    model.TrackedItem
		payload model.AttachmentsPayload
	}
	var uploads []pending
	for i, item := range items {
		if item.Type != model.ItemAttachments {
			continue
		}
		payload, ok := attachmentsPayload(item)
		if !ok || payload.Mode != model.AttachmentFormData {
			continue
		}
		uploads = append(uploads, pending{index: i, item: item, payload: payload})
	}
	if len(uploads) == 0 {
		return
	}

	var mu sync.Mutex
	failed := make(map[int]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUploads)
	for _, up := range uploads {
		up := up
		g.Go(func() error {
			if err := c.uploadFormData(gctx, up.item, up.payload); err != nil {
				mu.Lock()
				failed[up.index] = err
				mu.Unlock()
			}
			return nil // item failures are reported per-item, not batch-wide
		})
	}
	_ = g.Wait()

	for idx, err := range failed {
		c.logger.Error("transport: attachment upload failed", "item_index", idx, "error", err)
		if idx < len(resp.Items) {
			resp.Items[idx].Success = false
			resp.Items[idx].Error = err.Error()
		}
		resp.Summary.Errors++
	}
}

// uploadFormData posts one attachments item's files as multipart form data
// to the attachments endpoint. Field layout matches the collector contract:
// conversation, sender, mode, metadata, timestamp, sequence_index, then
// attachment_0..n-1 file parts.
func (c *Client) uploadFormData(ctx context.Context, item model.TrackedItem, payload model.AttachmentsPayload) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"conversation":   item.ConversationID,
		"sender":         string(payload.Sender),
		"mode":           string(model.AttachmentFormData),
		"timestamp":      item.Timestamp.Format(time.RFC3339Nano),
		"sequence_index": strconv.FormatInt(item.Sequence, 10),
	}
	if item.Metadata != nil {
		meta, err := json.Marshal(item.Metadata)
		if err != nil {
			return fmt.Errorf("transport: marshal attachment metadata: %w", err)
		}
		fields["metadata"] = string(meta)
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return fmt.Errorf("transport: write form field %s: %w", name, err)
		}
	}

	for i, f := range payload.Files {
		mimeType := f.MIMEType
		if mimeType == "" {
			if f.Filename != "" {
				mimeType = mimetype.ByFilename(f.Filename)
			} else {
				mimeType = mimetype.Detect(f.Binary)
			}
		}
		filename := f.Filename
		if filename == "" {
			filename = mimetype.Filename(mimeType, i)
		}

		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachment_%d"; filename=%q`, i, filename))
		header.Set("Content-Type", mimeType)
		part, err := w.CreatePart(header)
		if err != nil {
			return fmt.Errorf("transport: create form part: %w", err)
		}
		if _, err := part.Write(f.Binary); err != nil {
			return fmt.Errorf("transport: write attachment %s: %w", filename, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("transport: finalize form data: %w", err)
	}

	auth, err := c.authorization()
	if err != nil {
		return err
	}

	// Attachments get a generous deadline: payloads are bigger than batch JSON.
	reqCtx, cancel := context.WithTimeout(ctx, 3*c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint+"/api/attachments/", &buf)
	if err != nil {
		return fmt.Errorf("transport: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", auth)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: upload attachments: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return nil
}
