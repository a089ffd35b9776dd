package agentsight

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentsight/agentsight-go/internal/buffer"
	"github.com/agentsight/agentsight-go/internal/model"
)

// stagedFlush tracks one conversation's contribution to an in-flight
// batch so a failed transmission can be undone per conversation.
type stagedFlush struct {
	conv   *buffer.Conversation
	items  []model.TrackedItem // drained items, restored verbatim on abort
	tokens model.TokenUsagePayload
}

// flushConversations drains the given conversations and delivers their
// items as one atomic batch.
//
// Staging is all-or-nothing: if any conversation already has a flush in
// flight, everything staged so far is restored and the call fails with
// ErrFlushInFlight before touching the network. On delivery failure every
// drained item goes back to its buffer (ahead of items appended
// meanwhile) and token counters keep their values; on success the token
// snapshots are committed. Per-item rejections by the collector do not
// fail the flush; they are surfaced in the result and not retried.
func (t *Tracker) flushConversations(ctx context.Context, convs []*buffer.Conversation) (*DispatchResult, error) {
	ctx, span := t.tracer.Start(ctx, "agentsight.flush")
	defer span.End()

	if err := t.replayPending(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, wrapTransportErr(err)
	}

	staged := make([]stagedFlush, 0, len(convs))
	restoreAll := func() {
		for _, s := range staged {
			s.conv.Buffer.AbortFlush(s.items)
		}
	}

	var batchItems []model.TrackedItem
	for _, conv := range convs {
		items, reservedSeq, err := conv.Buffer.BeginFlush()
		if err != nil {
			restoreAll()
			return nil, mapBufferErr(err)
		}

		usage := conv.Tokens.Read()
		if len(items) == 0 && usage.IsZero() {
			conv.Buffer.CompleteFlush()
			continue
		}

		staged = append(staged, stagedFlush{conv: conv, items: items, tokens: usage})
		batchItems = append(batchItems, items...)
		if !usage.IsZero() {
			batchItems = append(batchItems, model.TrackedItem{
				ConversationID: conv.ID,
				Type:           model.ItemTokenUsage,
				Sequence:       reservedSeq,
				Timestamp:      time.Now().UTC(),
				Data:           usage,
			})
		}
	}

	if len(batchItems) == 0 {
		return &DispatchResult{}, nil
	}

	batch := model.Batch{ID: uuid.NewString(), Items: batchItems}
	span.SetAttributes(
		attribute.String("agentsight.batch.id", batch.ID),
		attribute.Int("agentsight.batch.items", len(batchItems)),
	)

	if t.spool != nil {
		// Durability is best-effort: a spool write failure must not block
		// delivery of an otherwise healthy batch.
		if err := t.spool.Put(batch); err != nil {
			t.logger.Warn("batch not staged to spool", "batch", batch.ID, "error", err)
		}
	}

	resp, err := t.client.SendBatch(ctx, batch)

	if t.spool != nil {
		// The outcome is applied in memory either way, so the staged copy
		// is no longer needed.
		if derr := t.spool.Delete(batch.ID); derr != nil {
			t.logger.Warn("staged batch not removed from spool", "batch", batch.ID, "error", derr)
		}
	}

	if err != nil {
		restoreAll()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.flushCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
		t.logger.Warn("flush failed, events restored to buffer",
			"batch", batch.ID, "items", len(batchItems), "error", err)
		return nil, wrapTransportErr(err)
	}

	for _, s := range staged {
		s.conv.Tokens.Commit(s.tokens)
		s.conv.Buffer.CompleteFlush()
	}

	result := toDispatchResult(resp)
	t.flushCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	t.itemCounter.Add(ctx, int64(len(result.Items)))
	if result.Summary.Errors > 0 {
		t.errorCounter.Add(ctx, int64(result.Summary.Errors))
	}
	t.logger.Info("flush delivered",
		"batch", batch.ID,
		"items", len(result.Items),
		"item_errors", result.Summary.Errors)
	return result, nil
}

// replayPending retransmits batches recovered from the spool, oldest
// first, each under its persisted batch ID. Reusing the ID as the
// Idempotency-Key lets the collector drop a replay of a batch it accepted
// right before the crash, which is what keeps at-least-once delivery from
// double-counting. Per-item rejections in a replayed batch are logged and
// not retried, same as in a live flush. On failure the remaining batches
// stay spooled and pending for the next attempt.
func (t *Tracker) replayPending(ctx context.Context) error {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	for len(t.pending) > 0 {
		batch := t.pending[0]
		resp, err := t.client.SendBatch(ctx, batch)
		if err != nil {
			return err
		}
		if t.spool != nil {
			if derr := t.spool.Delete(batch.ID); derr != nil {
				t.logger.Warn("replayed batch not removed from spool", "batch", batch.ID, "error", derr)
			}
		}
		t.pending = t.pending[1:]
		t.logger.Info("recovered batch delivered",
			"batch", batch.ID,
			"items", len(batch.Items),
			"item_errors", resp.Summary.Errors)
	}
	return nil
}

func toDispatchResult(resp *model.BatchResponse) *DispatchResult {
	result := &DispatchResult{
		Items: make([]ItemResult, len(resp.Items)),
		Summary: DispatchSummary{
			Questions:   resp.Summary.Questions,
			Answers:     resp.Summary.Answers,
			Actions:     resp.Summary.Actions,
			Buttons:     resp.Summary.Buttons,
			Attachments: resp.Summary.Attachments,
			Errors:      resp.Summary.Errors,
		},
	}
	for i, item := range resp.Items {
		result.Items[i] = ItemResult{
			Index:     item.Index,
			Type:      string(item.Type),
			Timestamp: item.Timestamp,
			Success:   item.Success,
			Error:     item.Error,
		}
	}
	return result
}
