package agentsight

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Tracker. Options override values loaded from the
// environment.
type Option func(*resolvedOptions)

type resolvedOptions struct {
	apiKey         string
	bearerToken    string
	endpoint       string
	appURL         string
	environment    Environment
	conversationID string
	logger         *slog.Logger
	httpClient     *http.Client
	timeout        time.Duration
	maxRetries     int
	retryInterval  time.Duration
	spoolPath      string
	otelEndpoint   string
	bufferCapacity int
	skipDotenv     bool
}

// WithAPIKey sets the API key credential. The key's embedded project hash
// is checked against the app URL when both are configured.
func WithAPIKey(key string) Option {
	return func(o *resolvedOptions) { o.apiKey = key }
}

// WithBearerToken sets a JWT bearer credential used instead of an API
// key. The token's exp claim is checked before each flush.
func WithBearerToken(token string) Option {
	return func(o *resolvedOptions) { o.bearerToken = token }
}

// WithEndpoint overrides the collector base URL.
func WithEndpoint(endpoint string) Option {
	return func(o *resolvedOptions) { o.endpoint = endpoint }
}

// WithAppURL sets the application URL the API key is scoped to.
func WithAppURL(appURL string) Option {
	return func(o *resolvedOptions) { o.appURL = appURL }
}

// WithEnvironment sets the default environment for new conversations.
func WithEnvironment(env Environment) Option {
	return func(o *resolvedOptions) { o.environment = env }
}

// WithConversationID pins the tracker's initial active conversation.
func WithConversationID(id string) Option {
	return func(o *resolvedOptions) { o.conversationID = id }
}

// WithLogger sets the structured logger. When unset, the tracker logs
// through a text handler on stderr at the configured log level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithHTTPClient sets the HTTP client used for delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = c }
}

// WithTimeout sets the per-request delivery timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.timeout = d }
}

// WithMaxRetries sets how many times a failed delivery attempt is retried
// before the batch is restored to the buffer.
func WithMaxRetries(n int) Option {
	return func(o *resolvedOptions) { o.maxRetries = n }
}

// WithRetryInterval sets the initial backoff interval between delivery
// retries.
func WithRetryInterval(d time.Duration) Option {
	return func(o *resolvedOptions) { o.retryInterval = d }
}

// WithSpoolPath enables the durable flush spool at the given SQLite file
// path. Batches staged there survive a crash between send and outcome.
func WithSpoolPath(path string) Option {
	return func(o *resolvedOptions) { o.spoolPath = path }
}

// WithTelemetryEndpoint enables OTLP trace and metric export to the given
// collector URL, the same form OTEL_EXPORTER_OTLP_ENDPOINT takes.
func WithTelemetryEndpoint(endpoint string) Option {
	return func(o *resolvedOptions) { o.otelEndpoint = endpoint }
}

// WithBufferCapacity overrides the per-conversation buffer capacity.
func WithBufferCapacity(n int) Option {
	return func(o *resolvedOptions) { o.bufferCapacity = n }
}

// withoutDotenv skips loading .env files. Used by tests.
func withoutDotenv() Option {
	return func(o *resolvedOptions) { o.skipDotenv = true }
}
