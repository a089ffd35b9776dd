// Package transport implements the HTTP client for the AgentSight
// collector: the atomic batch POST, the immediate conversation-create
// call, and the out-of-band multipart upload for form-data attachments.
// Network failures are retried with exponential backoff; HTTP error
// statuses are not (the collector already saw the request).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/agentsight/agentsight-go/internal/model"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	Endpoint    string // collector base URL
	APIKey      string // Api-Key auth mode
	BearerToken string // bearer-JWT auth mode; takes precedence over APIKey

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client is used; per-request deadlines come from Timeout.
	HTTPClient *http.Client

	Timeout       time.Duration // per-request bound; attachments get 3x
	MaxRetries    int           // network-failure retries per request
	RetryInterval time.Duration // initial backoff interval; tests shorten it

	Logger *slog.Logger
}

// Client is the HTTP transport for the collector API.
// All methods are safe for concurrent use.
type Client struct {
	endpoint      string
	apiKey        string
	bearerToken   string
	client        *http.Client
	timeout       time.Duration
	maxRetries    uint64
	retryInterval time.Duration
	logger        *slog.Logger
}

// New creates a Client from the given configuration.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:        cfg.APIKey,
		bearerToken:   cfg.BearerToken,
		client:        httpClient,
		timeout:       timeout,
		maxRetries:    uint64(max(cfg.MaxRetries, 0)),
		retryInterval: retryInterval,
		logger:        logger,
	}
}

// SendBatch transmits a batch as a single atomic unit and returns the
// collector's per-item outcomes. After the batch is accepted, binary
// payloads of form-data attachment items are uploaded out-of-band; an
// upload failure downgrades that item's outcome in the returned response
// but never fails the batch (the collector has already recorded it).
func (c *Client) SendBatch(ctx context.Context, batch model.Batch) (*model.BatchResponse, error) {
	items := make([]wireItem, len(batch.Items))
	for i, item := range batch.Items {
		items[i] = toWireItem(item)
	}
	body, err := json.Marshal(wireBatch{Items: items})
	if err != nil {
		return nil, fmt.Errorf("transport: marshal batch: %w", err)
	}

	headers := map[string]string{"Idempotency-Key": batch.ID}
	respBody, err := c.post(ctx, "/api/batch/", body, c.timeout, headers)
	if err != nil {
		return nil, err
	}

	var resp model.BatchResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("transport: decode batch response: %w", err)
	}

	c.uploadPendingAttachments(ctx, batch.Items, &resp)
	return &resp, nil
}

// SendConversation creates a conversation immediately, outside any batch.
func (c *Client) SendConversation(ctx context.Context, payload model.ConversationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal conversation: %w", err)
	}
	_, err = c.post(ctx, "/api/conversations/", body, c.timeout, nil)
	return err
}

// post sends a JSON POST with auth headers, retrying network failures with
// exponential backoff. HTTP error statuses are permanent.
func (c *Client) post(ctx context.Context, path string, body []byte, timeout time.Duration, headers map[string]string) ([]byte, error) {
	auth, err := c.authorization()
	if err != nil {
		return nil, err
	}

	var respBody []byte
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("transport: create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", auth)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Don't let the per-attempt timeout mask caller cancellation.
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			c.logger.Warn("transport: request failed, will retry", "path", path, "error", err)
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("transport: read response body: %w", err)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)})
		}
		respBody = data
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)); err != nil {
		return nil, fmt.Errorf("transport: POST %s: %w", path, err)
	}
	return respBody, nil
}

// authorization builds the Authorization header value. In bearer mode the
// token's exp claim is checked (without signature verification) so an
// expired credential fails fast instead of burning a round trip.
func (c *Client) authorization() (string, error) {
	if c.bearerToken != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(c.bearerToken, claims); err == nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
				return "", ErrTokenExpired
			}
		}
		return "Bearer " + c.bearerToken, nil
	}
	return "Api-Key " + c.apiKey, nil
}
