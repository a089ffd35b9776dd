package agentsight

import (
	"context"

	"github.com/agentsight/agentsight-go/internal/buffer"
	"github.com/agentsight/agentsight-go/internal/model"
)

// Conversation is a handle to one tracked conversation. Handles are cheap
// and safe for concurrent use; all Track methods buffer locally and never
// touch the network.
type Conversation struct {
	tracker *Tracker
	conv    *buffer.Conversation
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string { return c.conv.ID }

// TrackQuestion buffers a message authored by the end user.
func (c *Conversation) TrackQuestion(content string, metadata map[string]any) error {
	if err := validateContent("question", content); err != nil {
		return err
	}
	return c.append(model.ItemQuestion, model.MessagePayload{
		Content: content,
		Sender:  model.SenderUser,
	}, metadata)
}

// TrackAnswer buffers a message authored by the agent.
func (c *Conversation) TrackAnswer(content string, metadata map[string]any) error {
	if err := validateContent("answer", content); err != nil {
		return err
	}
	return c.append(model.ItemAnswer, model.MessagePayload{
		Content: content,
		Sender:  model.SenderAgent,
	}, metadata)
}

// TrackAction buffers a tool or function invocation.
func (c *Conversation) TrackAction(action Action, metadata map[string]any) error {
	if err := validateAction(action); err != nil {
		return err
	}
	return c.append(model.ItemAction, model.ActionPayload{
		ActionName: action.Name,
		StartedAt:  action.StartedAt,
		EndedAt:    action.EndedAt,
		DurationMS: action.DurationMS,
		ToolsUsed:  action.ToolsUsed,
		Response:   action.Response,
		ErrorMsg:   action.ErrorMsg,
	}, mergeMetadata(action.Metadata, metadata))
}

// TrackButtonClick buffers a button click event.
func (c *Conversation) TrackButtonClick(button Button, metadata map[string]any) error {
	if err := validateButton(button); err != nil {
		return err
	}
	return c.append(model.ItemButton, model.ButtonPayload{
		ButtonEvent: button.Event,
		Label:       button.Label,
		Value:       button.Value,
	}, mergeMetadata(button.Metadata, metadata))
}

// TrackAttachments buffers one or more files sent by the given sender.
// Base64 files travel inline in the batch; form_data files are uploaded
// out-of-band at flush time and only their names travel in the batch.
func (c *Conversation) TrackAttachments(mode AttachmentMode, sender Sender, files []Attachment, metadata map[string]any) error {
	if err := validateSender(sender); err != nil {
		return err
	}
	normalized, err := validateAttachments(mode, files)
	if err != nil {
		return err
	}
	return c.append(model.ItemAttachments, model.AttachmentsPayload{
		Mode:   model.AttachmentMode(mode),
		Sender: model.Sender(sender),
		Files:  normalized,
	}, metadata)
}

// AddTokenUsage adds a usage delta to the conversation's cumulative
// counters. Counters reset only after a flush is confirmed delivered.
func (c *Conversation) AddTokenUsage(usage TokenUsage) error {
	if err := validateTokenUsage(usage); err != nil {
		return err
	}
	if c.tracker.isClosed() {
		return ErrClosed
	}
	c.conv.Tokens.Add(usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, usage.EmbeddingTokens)
	return nil
}

// TokenUsage returns the current cumulative token counters.
func (c *Conversation) TokenUsage() TokenUsage {
	p := c.conv.Tokens.Read()
	return TokenUsage{
		PromptTokens:     p.PromptTokens,
		CompletionTokens: p.CompletionTokens,
		TotalTokens:      p.TotalTokens,
		EmbeddingTokens:  p.EmbeddingTokens,
	}
}

// Len returns the number of buffered items awaiting flush.
func (c *Conversation) Len() int { return c.conv.Buffer.Len() }

// Summary returns a non-destructive view of the buffered items.
func (c *Conversation) Summary() BufferSummary {
	return summarize(c.conv.ID, c.conv.Buffer.Snapshot())
}

// Flush drains this conversation's buffer and delivers it as one atomic
// batch. On failure the drained items are restored and the error explains
// the outcome; see Tracker.Flush for the full contract.
func (c *Conversation) Flush(ctx context.Context) (*DispatchResult, error) {
	if c.tracker.isClosed() {
		return nil, ErrClosed
	}
	return c.tracker.flushConversations(ctx, []*buffer.Conversation{c.conv})
}

func (c *Conversation) append(typ model.ItemType, data any, metadata map[string]any) error {
	if c.tracker.isClosed() {
		return ErrClosed
	}
	_, err := c.conv.Buffer.Append(typ, data, metadata)
	return mapBufferErr(err)
}

// mergeMetadata overlays call-site metadata on payload-level metadata.
func mergeMetadata(base, extra map[string]any) map[string]any {
	if len(base) == 0 {
		return extra
	}
	if len(extra) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
