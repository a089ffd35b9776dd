// Package agentsight is the Go SDK for the AgentSight conversation
// analytics platform. It buffers tracked conversation events in memory,
// accumulates token usage, and delivers everything to the collector in
// atomic batches with restore-on-failure semantics: a failed flush puts
// the drained events back so nothing is lost between retries.
//
// The zero-configuration path reads AGENTSIGHT_* environment variables
// (a .env file is honored); Default returns a lazily-constructed
// process-wide tracker for that path. Library integrations construct
// their own Tracker with options instead.
package agentsight

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentsight/agentsight-go/internal/buffer"
	"github.com/agentsight/agentsight-go/internal/config"
	"github.com/agentsight/agentsight-go/internal/model"
	"github.com/agentsight/agentsight-go/internal/spool"
	"github.com/agentsight/agentsight-go/internal/telemetry"
	"github.com/agentsight/agentsight-go/internal/transport"
)

// Version is the SDK version reported to telemetry.
const Version = "0.4.2"

// Tracker is the SDK entry point. It owns the conversation registry, the
// delivery transport, and the optional durable flush spool. A single
// Tracker serves any number of conversations concurrently; per-call cost
// of the Track methods is an in-memory append.
type Tracker struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *buffer.Registry
	client   *transport.Client
	spool    *spool.Spool

	env model.Environment

	tracer        trace.Tracer
	flushCounter  metric.Int64Counter
	itemCounter   metric.Int64Counter
	errorCounter  metric.Int64Counter
	stopTelemetry telemetry.Shutdown

	closed atomic.Bool

	// activeMu serializes lazy creation of the active conversation.
	activeMu sync.Mutex

	// pending holds batches recovered from the spool after a crash. They
	// are retransmitted under their persisted idempotency keys before the
	// next fresh batch, so a batch the collector accepted right before
	// the crash is de-duplicated rather than double-counted.
	pendingMu sync.Mutex
	pending   []model.Batch
}

// New constructs a Tracker. Configuration is read from the environment
// (including a .env file in the working directory, if present) and then
// overridden by options. Returns a *ConfigurationError when the resulting
// configuration is unusable.
func New(opts ...Option) (*Tracker, error) {
	var o resolvedOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !o.skipDotenv {
		// Missing .env is the common case, not an error.
		_ = godotenv.Load()
	}
	cfg := config.Load()
	applyOptions(&cfg, &o)

	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	}

	env := model.EnvProduction
	if cfg.Environment == string(Development) {
		env = model.EnvDevelopment
	}

	t := &Tracker{
		cfg:      cfg,
		logger:   logger,
		registry: buffer.NewRegistry(cfg.BufferCapacity),
		env:      env,
		client: transport.New(transport.Config{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			BearerToken:   cfg.BearerToken,
			HTTPClient:    o.httpClient,
			Timeout:       cfg.Timeout,
			MaxRetries:    cfg.MaxRetries,
			RetryInterval: o.retryInterval,
			Logger:        logger,
		}),
	}

	shutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, Version)
	if err != nil {
		return nil, fmt.Errorf("agentsight: init telemetry: %w", err)
	}
	t.stopTelemetry = shutdown
	t.tracer = telemetry.Tracer("agentsight")
	if err := t.registerMetrics(); err != nil {
		_ = shutdown(context.Background())
		return nil, fmt.Errorf("agentsight: register metrics: %w", err)
	}

	if cfg.SpoolPath != "" {
		sp, err := spool.Open(cfg.SpoolPath)
		if err != nil {
			_ = shutdown(context.Background())
			return nil, fmt.Errorf("agentsight: open spool: %w", err)
		}
		t.spool = sp
		pending, err := sp.Pending()
		if err != nil {
			logger.Warn("staged batches not recovered", "error", err)
		} else if len(pending) > 0 {
			t.pending = pending
			logger.Info("recovered staged batches", "batches", len(pending))
		}
	}

	if cfg.ConversationID != "" {
		t.registry.SetActive(cfg.ConversationID)
		t.GetOrCreateConversation(cfg.ConversationID, ConversationParams{})
	}

	logger.Debug("tracker initialized",
		"endpoint", cfg.Endpoint,
		"environment", string(env),
		"spool", cfg.SpoolPath != "")
	return t, nil
}

func applyOptions(cfg *config.Config, o *resolvedOptions) {
	if o.apiKey != "" {
		cfg.APIKey = o.apiKey
	}
	if o.bearerToken != "" {
		cfg.BearerToken = o.bearerToken
	}
	if o.endpoint != "" {
		cfg.Endpoint = o.endpoint
	}
	if o.appURL != "" {
		cfg.AppURL = o.appURL
	}
	if o.environment != "" {
		cfg.Environment = string(o.environment)
	}
	if o.conversationID != "" {
		cfg.ConversationID = o.conversationID
	}
	if o.timeout > 0 {
		cfg.Timeout = o.timeout
	}
	if o.maxRetries > 0 {
		cfg.MaxRetries = o.maxRetries
	}
	if o.spoolPath != "" {
		cfg.SpoolPath = o.spoolPath
	}
	if o.otelEndpoint != "" {
		cfg.OTELEndpoint = o.otelEndpoint
	}
	if o.bufferCapacity > 0 {
		cfg.BufferCapacity = o.bufferCapacity
	}
}

// GetOrCreateConversation returns the conversation for id, creating it if
// absent. Creation buffers a conversation record so the collector learns
// about the conversation in the next batch. Params are write-once: on an
// existing conversation they are ignored.
func (t *Tracker) GetOrCreateConversation(id string, params ConversationParams) *Conversation {
	conv, created := t.registry.GetOrCreate(id, t.toPayload(params, true))
	if created {
		if _, err := conv.Buffer.Append(model.ItemConversation, conv.Params, nil); err != nil {
			t.logger.Warn("conversation record not buffered", "conversation", id, "error", err)
		}
	}
	return &Conversation{tracker: t, conv: conv}
}

// NewConversation creates a conversation with a generated identifier and
// makes it the active conversation.
func (t *Tracker) NewConversation(params ConversationParams) *Conversation {
	id := uuid.New()
	c := t.GetOrCreateConversation(fmt.Sprintf("conv_%x", id[0:6]), params)
	t.registry.SetActive(c.ID())
	return c
}

// Conversation returns the handle for an existing conversation ID.
func (t *Tracker) Conversation(id string) (*Conversation, bool) {
	conv, ok := t.registry.Get(id)
	if !ok {
		return nil, false
	}
	return &Conversation{tracker: t, conv: conv}, true
}

// SetConversation switches the active conversation used by the
// convenience methods, creating it if needed. The active pointer is a
// single mutable slot; concurrent logical conversations should hold their
// own handles instead of switching it back and forth.
func (t *Tracker) SetConversation(id string, params ConversationParams) *Conversation {
	c := t.GetOrCreateConversation(id, params)
	t.registry.SetActive(id)
	return c
}

// active returns the active conversation, creating one with a generated
// ID on first use.
func (t *Tracker) active() *Conversation {
	if id := t.registry.Active(); id != "" {
		return t.GetOrCreateConversation(id, ConversationParams{})
	}
	t.activeMu.Lock()
	defer t.activeMu.Unlock()
	if id := t.registry.Active(); id != "" {
		return t.GetOrCreateConversation(id, ConversationParams{})
	}
	return t.NewConversation(ConversationParams{})
}

// TrackQuestion buffers an end-user message on the active conversation.
func (t *Tracker) TrackQuestion(content string, metadata map[string]any) error {
	return t.active().TrackQuestion(content, metadata)
}

// TrackAnswer buffers an agent message on the active conversation.
func (t *Tracker) TrackAnswer(content string, metadata map[string]any) error {
	return t.active().TrackAnswer(content, metadata)
}

// TrackAction buffers a tool invocation on the active conversation.
func (t *Tracker) TrackAction(action Action, metadata map[string]any) error {
	return t.active().TrackAction(action, metadata)
}

// TrackButtonClick buffers a button click on the active conversation.
func (t *Tracker) TrackButtonClick(button Button, metadata map[string]any) error {
	return t.active().TrackButtonClick(button, metadata)
}

// TrackAttachments buffers files on the active conversation.
func (t *Tracker) TrackAttachments(mode AttachmentMode, sender Sender, files []Attachment, metadata map[string]any) error {
	return t.active().TrackAttachments(mode, sender, files, metadata)
}

// AddTokenUsage adds a token usage delta on the active conversation.
func (t *Tracker) AddTokenUsage(usage TokenUsage) error {
	return t.active().AddTokenUsage(usage)
}

// Summary returns a non-destructive view of the active conversation's
// buffer.
func (t *Tracker) Summary() BufferSummary {
	return t.active().Summary()
}

// InitializeConversation creates a conversation on the collector
// immediately, bypassing the buffer. Use it when the conversation must
// exist server-side before any events are flushed, e.g. to hand its ID to
// another system. The conversation is also registered locally and made
// active.
func (t *Tracker) InitializeConversation(ctx context.Context, id string, params ConversationParams) (*Conversation, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	if id == "" {
		u := uuid.New()
		id = fmt.Sprintf("conv_%x", u[0:6])
	}
	payload := t.toPayload(params, false)
	payload.ConversationID = id
	if err := t.client.SendConversation(ctx, payload); err != nil {
		return nil, wrapTransportErr(err)
	}

	conv, _ := t.registry.GetOrCreate(id, payload)
	t.registry.SetActive(id)
	return &Conversation{tracker: t, conv: conv}, nil
}

// Flush delivers the active conversation's buffered events. See
// Conversation.Flush.
func (t *Tracker) Flush(ctx context.Context) (*DispatchResult, error) {
	return t.active().Flush(ctx)
}

// FlushAll delivers the buffered events of every conversation as a single
// atomic batch. Conversations whose previous flush is still in flight
// cause the whole call to fail with ErrFlushInFlight before anything is
// transmitted.
func (t *Tracker) FlushAll(ctx context.Context) (*DispatchResult, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	return t.flushConversations(ctx, t.registry.List())
}

// Close flushes every conversation, then releases the spool and telemetry
// resources. The tracker is unusable afterwards.
func (t *Tracker) Close(ctx context.Context) error {
	if t.closed.Swap(true) {
		return ErrClosed
	}

	var firstErr error
	if _, err := t.flushConversations(ctx, t.registry.List()); err != nil {
		firstErr = err
		t.logger.Warn("final flush failed, buffered events dropped with the process", "error", err)
	}
	if t.spool != nil {
		if err := t.spool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.stopTelemetry != nil {
		if err := t.stopTelemetry(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Tracker) isClosed() bool { return t.closed.Load() }

func (t *Tracker) toPayload(params ConversationParams, buffered bool) model.ConversationPayload {
	env := t.env
	if params.Environment != "" {
		env = model.Environment(params.Environment)
	}
	return model.ConversationPayload{
		CustomerID:        params.CustomerID,
		CustomerIPAddress: params.CustomerIPAddress,
		Device:            params.Device,
		Source:            params.Source,
		Language:          params.Language,
		Name:              params.Name,
		Environment:       env,
		IsUsed:            buffered,
		Metadata:          params.Metadata,
	}
}

func (t *Tracker) registerMetrics() error {
	meter := telemetry.Meter("agentsight")

	var err error
	if t.flushCounter, err = meter.Int64Counter("agentsight.flush.count",
		metric.WithDescription("Completed flush attempts by outcome")); err != nil {
		return err
	}
	if t.itemCounter, err = meter.Int64Counter("agentsight.flush.items",
		metric.WithDescription("Items delivered to the collector")); err != nil {
		return err
	}
	if t.errorCounter, err = meter.Int64Counter("agentsight.flush.item_errors",
		metric.WithDescription("Items the collector rejected")); err != nil {
		return err
	}

	_, err = meter.Int64ObservableGauge("agentsight.buffer.depth",
		metric.WithDescription("Buffered items awaiting flush across all conversations"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(t.registry.BufferedItems()))
			return nil
		}))
	return err
}

var (
	defaultTracker   *Tracker
	defaultTrackerMu sync.Mutex
)

// Default returns the process-wide tracker, constructing it from the
// environment on first use.
func Default() (*Tracker, error) {
	defaultTrackerMu.Lock()
	defer defaultTrackerMu.Unlock()
	if defaultTracker != nil {
		return defaultTracker, nil
	}
	t, err := New()
	if err != nil {
		return nil, err
	}
	defaultTracker = t
	return t, nil
}

// SetDefault replaces the process-wide tracker.
func SetDefault(t *Tracker) {
	defaultTrackerMu.Lock()
	defaultTracker = t
	defaultTrackerMu.Unlock()
}
