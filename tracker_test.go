package agentsight

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentsight/agentsight-go/internal/model"
	"github.com/agentsight/agentsight-go/internal/spool"
)

const testAPIKey = "ags_0123456789abcdef0123456789abcdef_a1b2c3"

// collector is a mock AgentSight collector. It records every batch it
// accepts and answers with per-item outcomes like the real API.
type collector struct {
	mu       sync.Mutex
	batches  [][]receivedItem
	idemKeys []string
	convs    []map[string]any

	failNext  int               // fail this many batch requests with HTTP 500
	failTypes map[string]string // per-item rejection: item type -> error message
	blockOn   chan struct{}
	arrived   chan struct{}

	srv *httptest.Server
}

type receivedItem struct {
	ConversationID string         `json:"conversation_id"`
	Type           string         `json:"type"`
	Sequence       int64          `json:"sequence_index"`
	Timestamp      time.Time      `json:"timestamp"`
	Data           map[string]any `json:"data"`
	Metadata       map[string]any `json:"metadata"`
}

func newCollector(t *testing.T) *collector {
	t.Helper()
	c := &collector{arrived: make(chan struct{}, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/batch/", c.handleBatch)
	mux.HandleFunc("/api/attachments/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/conversations/", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		c.mu.Lock()
		c.convs = append(c.convs, payload)
		c.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{"conversation_id": payload["conversation_id"]})
	})

	c.srv = httptest.NewServer(mux)
	t.Cleanup(c.srv.Close)
	return c
}

func (c *collector) handleBatch(w http.ResponseWriter, r *http.Request) {
	select {
	case c.arrived <- struct{}{}:
	default:
	}
	if c.blockOn != nil {
		<-c.blockOn
	}

	var body struct {
		Items []receivedItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": err.Error()})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "collector unavailable"})
		return
	}
	c.batches = append(c.batches, body.Items)
	c.idemKeys = append(c.idemKeys, r.Header.Get("Idempotency-Key"))

	resp := model.BatchResponse{Items: make([]model.BatchItemResult, len(body.Items))}
	for i, item := range body.Items {
		resp.Items[i] = model.BatchItemResult{
			Index:     i,
			Type:      model.ItemType(item.Type),
			Timestamp: item.Timestamp,
			Success:   true,
		}
		if msg, reject := c.failTypes[item.Type]; reject {
			resp.Items[i].Success = false
			resp.Items[i].Error = msg
			resp.Summary.Errors++
			continue
		}
		switch model.ItemType(item.Type) {
		case model.ItemQuestion:
			resp.Summary.Questions++
		case model.ItemAnswer:
			resp.Summary.Answers++
		case model.ItemAction:
			resp.Summary.Actions++
		case model.ItemButton:
			resp.Summary.Buttons++
		case model.ItemAttachments:
			resp.Summary.Attachments++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *collector) received() [][]receivedItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]receivedItem, len(c.batches))
	copy(out, c.batches)
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestTracker(t *testing.T, c *collector, opts ...Option) *Tracker {
	t.Helper()
	base := []Option{
		withoutDotenv(),
		WithAPIKey(testAPIKey),
		WithEndpoint(c.srv.URL),
		WithTimeout(5 * time.Second),
		WithRetryInterval(time.Millisecond),
	}
	tr, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return tr
}

func TestFlushDeliversItemsInTrackingOrder(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c)

	conv := tr.GetOrCreateConversation("conv_order", ConversationParams{CustomerID: "cust-1"})
	if err := conv.TrackQuestion("what is the refund policy?", nil); err != nil {
		t.Fatalf("TrackQuestion: %v", err)
	}
	if err := conv.TrackAnswer("30 days, no questions asked", nil); err != nil {
		t.Fatalf("TrackAnswer: %v", err)
	}
	if err := conv.TrackAction(Action{Name: "lookup_policy"}, nil); err != nil {
		t.Fatalf("TrackAction: %v", err)
	}
	if err := conv.TrackButtonClick(Button{Event: "open_faq", Label: "FAQ", Value: "faq"}, nil); err != nil {
		t.Fatalf("TrackButtonClick: %v", err)
	}

	result, err := conv.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}

	batches := c.received()
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	items := batches[0]
	wantTypes := []string{"conversation", "question", "answer", "action", "button"}
	if len(items) != len(wantTypes) {
		t.Fatalf("expected %d items, got %d", len(wantTypes), len(items))
	}
	for i, item := range items {
		if item.Type != wantTypes[i] {
			t.Errorf("item %d: expected type %q, got %q", i, wantTypes[i], item.Type)
		}
		if item.ConversationID != "conv_order" {
			t.Errorf("item %d: wrong conversation %q", i, item.ConversationID)
		}
		if i > 0 && items[i].Sequence <= items[i-1].Sequence {
			t.Errorf("item %d: sequence %d not after %d", i, items[i].Sequence, items[i-1].Sequence)
		}
	}

	if result.Summary.Questions != 1 || result.Summary.Answers != 1 ||
		result.Summary.Actions != 1 || result.Summary.Buttons != 1 {
		t.Errorf("unexpected summary: %+v", result.Summary)
	}
	if conv.Len() != 0 {
		t.Errorf("expected empty buffer after flush, got %d items", conv.Len())
	}
}

func TestFlushFailureRestoresBufferAndNothingIsLost(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c, WithMaxRetries(1))

	conv := tr.GetOrCreateConversation("conv_restore", ConversationParams{})
	if err := conv.TrackQuestion("first", nil); err != nil {
		t.Fatal(err)
	}
	if err := conv.TrackAnswer("second", nil); err != nil {
		t.Fatal(err)
	}
	buffered := conv.Len()

	// HTTP errors are not retried in-flight; the next Flush call retries.
	c.mu.Lock()
	c.failNext = 1
	c.mu.Unlock()

	_, err := conv.Flush(context.Background())
	if err == nil {
		t.Fatal("expected flush to fail")
	}
	if !IsTransport(err) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	var te *TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500 in error, got %+v", te)
	}
	if conv.Len() != buffered {
		t.Fatalf("expected %d items restored, got %d", buffered, conv.Len())
	}

	// New events keep landing after the restore, then everything goes out
	// together in order.
	if err := conv.TrackAnswer("third", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := conv.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}

	batches := c.received()
	if len(batches) != 1 {
		t.Fatalf("expected 1 accepted batch, got %d", len(batches))
	}
	items := batches[0]
	var contents []string
	for _, item := range items {
		if item.Type == "question" || item.Type == "answer" {
			contents = append(contents, item.Data["content"].(string))
		}
	}
	want := []string{"first", "second", "third"}
	if len(contents) != len(want) {
		t.Fatalf("expected %v, got %v", want, contents)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], contents[i])
		}
	}
	for i := 1; i < len(items); i++ {
		if items[i].Sequence <= items[i-1].Sequence {
			t.Errorf("sequence order violated at %d", i)
		}
	}
}

func TestConversationParamsAreWriteOnce(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c)

	first := tr.GetOrCreateConversation("conv_once", ConversationParams{CustomerID: "original"})
	second := tr.GetOrCreateConversation("conv_once", ConversationParams{CustomerID: "ignored"})
	if first.ID() != second.ID() {
		t.Fatal("expected the same conversation")
	}

	if _, err := first.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	batches := c.received()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("expected one conversation record, got %v", batches)
	}
	record := batches[0][0]
	if record.Type != "conversation" {
		t.Fatalf("expected conversation record, got %q", record.Type)
	}
	if got := record.Data["customer_id"]; got != "original" {
		t.Errorf("expected write-once customer_id 'original', got %v", got)
	}
}

func TestTokenUsageAccumulatesAndCommitsOnlyOnSuccess(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c, WithMaxRetries(1))

	conv := tr.GetOrCreateConversation("conv_tokens", ConversationParams{})
	if err := conv.AddTokenUsage(TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}); err != nil {
		t.Fatal(err)
	}
	if err := conv.AddTokenUsage(TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}); err != nil {
		t.Fatal(err)
	}
	if usage := conv.TokenUsage(); usage.TotalTokens != 165 {
		t.Fatalf("expected 165 total tokens, got %d", usage.TotalTokens)
	}

	// Failed flush must not reset the counters.
	c.mu.Lock()
	c.failNext = 1
	c.mu.Unlock()
	if _, err := conv.Flush(context.Background()); err == nil {
		t.Fatal("expected flush to fail")
	}
	if usage := conv.TokenUsage(); usage.TotalTokens != 165 {
		t.Fatalf("counters must survive a failed flush, got %d", usage.TotalTokens)
	}

	if _, err := conv.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if usage := conv.TokenUsage(); usage.TotalTokens != 0 {
		t.Fatalf("expected counters committed after success, got %d", usage.TotalTokens)
	}

	// The delivered batch carries one synthetic token_usage item with the
	// accumulated totals, sequenced after the conversation record.
	batches := c.received()
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	var tokenItems []receivedItem
	for _, item := range batches[0] {
		if item.Type == "token_usage" {
			tokenItems = append(tokenItems, item)
		}
	}
	if len(tokenItems) != 1 {
		t.Fatalf("expected 1 token_usage item, got %d", len(tokenItems))
	}
	if got := tokenItems[0].Data["total_tokens"].(float64); got != 165 {
		t.Errorf("expected total_tokens 165, got %v", got)
	}

	// Nothing new to report: the next flush carries no token item.
	if err := conv.TrackQuestion("anything buffered?", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := conv.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, item := range c.received()[1] {
		if item.Type == "token_usage" {
			t.Error("unexpected token_usage item on a flush with zero counters")
		}
	}
}

func TestValidationFailureLeavesBufferUntouched(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c)
	conv := tr.GetOrCreateConversation("conv_valid", ConversationParams{})
	before := conv.Len()

	if err := conv.TrackButtonClick(Button{Label: "x", Value: "y"}, nil); !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if err := conv.TrackQuestion("", nil); !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if err := conv.AddTokenUsage(TokenUsage{PromptTokens: -5}); !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	if conv.Len() != before {
		t.Errorf("rejected events must not be buffered: had %d, now %d", before, conv.Len())
	}
	if conv.TokenUsage() != (TokenUsage{}) {
		t.Error("rejected token delta must not touch the counters")
	}
}

func TestPartialItemFailureDoesNotFailTheFlush(t *testing.T) {
	c := newCollector(t)
	c.failTypes = map[string]string{"button": "unknown button event"}
	tr := newTestTracker(t, c)

	conv := tr.GetOrCreateConversation("conv_partial", ConversationParams{})
	_ = conv.TrackQuestion("fine", nil)
	_ = conv.TrackButtonClick(Button{Event: "bad", Label: "l", Value: "v"}, nil)

	result, err := conv.Flush(context.Background())
	if err != nil {
		t.Fatalf("partial rejection must not fail the flush, got %v", err)
	}
	if result.Summary.Errors != 1 {
		t.Fatalf("expected 1 item error, got %d", result.Summary.Errors)
	}
	itemErrs := result.ItemErrors()
	if len(itemErrs) != 1 {
		t.Fatalf("expected 1 PartialItemError, got %d", len(itemErrs))
	}
	if itemErrs[0].Type != "button" || !strings.Contains(itemErrs[0].Reason, "unknown button event") {
		t.Errorf("unexpected item error %+v", itemErrs[0])
	}

	// Rejected items are not retried: the buffer stays drained.
	if conv.Len() != 0 {
		t.Errorf("expected drained buffer, got %d items", conv.Len())
	}
}

func TestEmptyFlushIsANoop(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c)

	conv := tr.GetOrCreateConversation("conv_empty", ConversationParams{})
	if _, err := conv.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	// First flush ships the conversation record; the second has nothing.
	result, err := conv.Flush(context.Background())
	if err != nil {
		t.Fatalf("empty flush must succeed, got %v", err)
	}
	if len(result.Items) != 0 {
		t.Errorf("expected empty result, got %d items", len(result.Items))
	}
	if got := len(c.received()); got != 1 {
		t.Errorf("expected no second request, got %d batches", got)
	}
}

func TestConcurrentFlushIsRejected(t *testing.T) {
	c := newCollector(t)
	c.blockOn = make(chan struct{})
	tr := newTestTracker(t, c)

	conv := tr.GetOrCreateConversation("conv_inflight", ConversationParams{})
	if err := conv.TrackQuestion("q", nil); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := conv.Flush(context.Background())
		done <- err
	}()

	select {
	case <-c.arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("first flush never reached the collector")
	}

	if _, err := conv.Flush(context.Background()); !errors.Is(err, ErrFlushInFlight) {
		t.Fatalf("expected ErrFlushInFlight, got %v", err)
	}

	close(c.blockOn)
	if err := <-done; err != nil {
		t.Fatalf("first flush: %v", err)
	}
}

func TestAppendsDuringFlushAreNotLost(t *testing.T) {
	c := newCollector(t)
	c.blockOn = make(chan struct{})
	tr := newTestTracker(t, c)

	conv := tr.GetOrCreateConversation("conv_during", ConversationParams{})
	if err := conv.TrackQuestion("before", nil); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := conv.Flush(context.Background())
		done <- err
	}()
	select {
	case <-c.arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("flush never reached the collector")
	}

	// Lands while the batch is on the wire.
	if err := conv.TrackAnswer("during", nil); err != nil {
		t.Fatal(err)
	}
	close(c.blockOn)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if conv.Len() != 1 {
		t.Fatalf("expected the mid-flight item to remain buffered, got %d", conv.Len())
	}
	if _, err := conv.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	second := c.received()[1]
	if len(second) != 1 || second[0].Data["content"] != "during" {
		t.Errorf("expected the mid-flight answer in the second batch, got %v", second)
	}
}

func TestIdempotencyKeyIsFreshPerBatch(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c)

	conv := tr.GetOrCreateConversation("conv_idem", ConversationParams{})
	_ = conv.TrackQuestion("one", nil)
	if _, err := conv.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = conv.TrackQuestion("two", nil)
	if _, err := conv.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.idemKeys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(c.idemKeys))
	}
	if c.idemKeys[0] == "" || c.idemKeys[0] == c.idemKeys[1] {
		t.Errorf("expected distinct non-empty idempotency keys, got %q and %q", c.idemKeys[0], c.idemKeys[1])
	}
}

func TestFlushAllCombinesConversations(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c)

	a := tr.GetOrCreateConversation("conv_a", ConversationParams{})
	b := tr.GetOrCreateConversation("conv_b", ConversationParams{})
	_ = a.TrackQuestion("from a", nil)
	_ = b.TrackQuestion("from b", nil)

	if _, err := tr.FlushAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	batches := c.received()
	if len(batches) != 1 {
		t.Fatalf("expected one combined batch, got %d", len(batches))
	}
	seen := map[string]bool{}
	for _, item := range batches[0] {
		seen[item.ConversationID] = true
	}
	if !seen["conv_a"] || !seen["conv_b"] {
		t.Errorf("expected items from both conversations, got %v", seen)
	}
	if a.Len() != 0 || b.Len() != 0 {
		t.Error("expected both buffers drained")
	}
}

func TestSpoolReplaysStagedBatchUnderPersistedKey(t *testing.T) {
	c := newCollector(t)
	spoolPath := filepath.Join(t.TempDir(), "spool.db")

	// Simulate a crash: a batch was staged but its outcome never applied.
	sp, err := spool.Open(spoolPath)
	if err != nil {
		t.Fatal(err)
	}
	staged := model.Batch{ID: "staged-before-crash", Items: []model.TrackedItem{
		{
			ConversationID: "conv_crashed",
			Type:           model.ItemQuestion,
			Sequence:       3,
			Timestamp:      time.Now().UTC(),
			Data:           model.MessagePayload{Content: "lost?", Sender: model.SenderUser},
		},
	}}
	if err := sp.Put(staged); err != nil {
		t.Fatal(err)
	}
	if err := sp.Close(); err != nil {
		t.Fatal(err)
	}

	tr := newTestTracker(t, c, WithSpoolPath(spoolPath))
	conv := tr.GetOrCreateConversation("conv_live", ConversationParams{})
	if err := conv.TrackQuestion("fresh", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := conv.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The staged batch goes out first, byte-for-byte, under the batch ID
	// persisted before the crash; the fresh batch gets its own key. The
	// stable key is what lets the collector drop a replay of a batch it
	// had already accepted.
	batches := c.received()
	if len(batches) != 2 {
		t.Fatalf("expected replayed + fresh batch, got %d", len(batches))
	}
	replayed := batches[0]
	if len(replayed) != 1 || replayed[0].Type != "question" || replayed[0].Data["content"] != "lost?" {
		t.Fatalf("unexpected replayed batch %v", replayed)
	}
	if replayed[0].Sequence != 3 {
		t.Errorf("expected replayed item to keep sequence 3, got %d", replayed[0].Sequence)
	}

	c.mu.Lock()
	keys := append([]string(nil), c.idemKeys...)
	c.mu.Unlock()
	if keys[0] != "staged-before-crash" {
		t.Fatalf("expected replay under persisted key, got %q", keys[0])
	}
	if keys[1] == "" || keys[1] == keys[0] {
		t.Errorf("expected a distinct fresh key for the new batch, got %q", keys[1])
	}

	// Replay is once-only: the spool entry is gone, so another flush
	// sends nothing extra.
	if err := conv.TrackQuestion("again", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := conv.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(c.received()); got != 3 {
		t.Fatalf("expected 3 batches total, got %d", got)
	}
	for _, item := range c.received()[2] {
		if item.Data["content"] == "lost?" {
			t.Error("staged batch was replayed twice")
		}
	}
}

func TestSpoolReplayFailureKeepsBatchPending(t *testing.T) {
	c := newCollector(t)
	spoolPath := filepath.Join(t.TempDir(), "spool.db")

	sp, err := spool.Open(spoolPath)
	if err != nil {
		t.Fatal(err)
	}
	staged := model.Batch{ID: "staged-before-crash", Items: []model.TrackedItem{
		{
			ConversationID: "conv_crashed",
			Type:           model.ItemQuestion,
			Timestamp:      time.Now().UTC(),
			Data:           model.MessagePayload{Content: "still here", Sender: model.SenderUser},
		},
	}}
	if err := sp.Put(staged); err != nil {
		t.Fatal(err)
	}
	if err := sp.Close(); err != nil {
		t.Fatal(err)
	}

	tr := newTestTracker(t, c, WithSpoolPath(spoolPath))
	conv := tr.GetOrCreateConversation("conv_live", ConversationParams{})

	c.mu.Lock()
	c.failNext = 1
	c.mu.Unlock()
	if _, err := conv.Flush(context.Background()); !IsTransport(err) {
		t.Fatalf("expected TransportError from the failed replay, got %v", err)
	}
	if conv.Len() != 1 {
		t.Fatalf("live items must stay buffered when replay fails, got %d", conv.Len())
	}

	// Next flush retries the replay under the same key, then ships the
	// live batch.
	if _, err := conv.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.mu.Lock()
	keys := append([]string(nil), c.idemKeys...)
	c.mu.Unlock()
	if len(keys) != 2 || keys[0] != "staged-before-crash" {
		t.Fatalf("expected replay retry under persisted key, got %v", keys)
	}
}

func TestTrackAfterCloseFails(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c)
	conv := tr.GetOrCreateConversation("conv_closed", ConversationParams{})

	if err := tr.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := conv.TrackQuestion("too late", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := conv.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseFlushesBufferedEvents(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c)
	conv := tr.GetOrCreateConversation("conv_final", ConversationParams{})
	_ = conv.TrackQuestion("parting words", nil)

	if err := tr.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.received()) != 1 {
		t.Fatal("expected a final flush on Close")
	}
}

func TestNewConversationGeneratesPrefixedID(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c)

	conv := tr.NewConversation(ConversationParams{})
	if !strings.HasPrefix(conv.ID(), "conv_") || len(conv.ID()) != len("conv_")+12 {
		t.Fatalf("unexpected generated ID %q", conv.ID())
	}
	if tr.registry.Active() != conv.ID() {
		t.Error("expected the new conversation to become active")
	}

	other := tr.NewConversation(ConversationParams{})
	if other.ID() == conv.ID() {
		t.Error("expected distinct IDs")
	}
}

func TestConvenienceMethodsUseActiveConversation(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c)

	tr.SetConversation("conv_active", ConversationParams{})
	if err := tr.TrackQuestion("via tracker", nil); err != nil {
		t.Fatal(err)
	}
	if err := tr.AddTokenUsage(TokenUsage{TotalTokens: 9}); err != nil {
		t.Fatal(err)
	}

	conv, ok := tr.Conversation("conv_active")
	if !ok {
		t.Fatal("active conversation missing from registry")
	}
	if conv.Len() != 2 { // conversation record + question
		t.Fatalf("expected 2 buffered items, got %d", conv.Len())
	}
	if conv.TokenUsage().TotalTokens != 9 {
		t.Error("token usage did not land on the active conversation")
	}
}

func TestInitializeConversationCreatesImmediately(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c)

	conv, err := tr.InitializeConversation(context.Background(), "conv_now", ConversationParams{CustomerID: "cust-9"})
	if err != nil {
		t.Fatal(err)
	}
	if conv.ID() != "conv_now" {
		t.Fatalf("unexpected ID %q", conv.ID())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.convs) != 1 {
		t.Fatalf("expected 1 immediate conversation create, got %d", len(c.convs))
	}
	if c.convs[0]["conversation_id"] != "conv_now" || c.convs[0]["customer_id"] != "cust-9" {
		t.Errorf("unexpected payload %v", c.convs[0])
	}
}

func TestNewRejectsMalformedAPIKey(t *testing.T) {
	_, err := New(withoutDotenv(), WithAPIKey("not-a-key"), WithEndpoint("http://localhost:1"))
	if !IsConfiguration(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestSummaryPreviewsBufferWithoutDraining(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c)
	conv := tr.GetOrCreateConversation("conv_summary", ConversationParams{})

	long := strings.Repeat("x", 300)
	_ = conv.TrackQuestion(long, nil)
	_ = conv.TrackButtonClick(Button{Event: "e", Label: "l", Value: "v"}, nil)

	s := conv.Summary()
	if s.ConversationID != "conv_summary" {
		t.Errorf("unexpected conversation ID %q", s.ConversationID)
	}
	if s.Counts.Total != 3 || s.Counts.Questions != 1 || s.Counts.Buttons != 1 || s.Counts.Conversations != 1 {
		t.Errorf("unexpected counts %+v", s.Counts)
	}
	preview := s.Items[1].Preview["content"].(string)
	if len(preview) > 110 {
		t.Errorf("expected truncated preview, got %d chars", len(preview))
	}
	if !strings.HasSuffix(preview, "...") {
		t.Error("expected ellipsis on truncated preview")
	}
	if conv.Len() != 3 {
		t.Error("summary must not drain the buffer")
	}
}

func TestBufferCapacityBackpressure(t *testing.T) {
	c := newCollector(t)
	tr := newTestTracker(t, c, WithBufferCapacity(3))
	conv := tr.GetOrCreateConversation("conv_cap", ConversationParams{})

	// Conversation record occupies one slot.
	_ = conv.TrackQuestion("one", nil)
	_ = conv.TrackQuestion("two", nil)
	if err := conv.TrackQuestion("three", nil); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}

	if _, err := conv.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := conv.TrackQuestion("after flush", nil); err != nil {
		t.Fatalf("expected room after flush, got %v", err)
	}
}
