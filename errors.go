package agentsight

import (
	"errors"
	"fmt"

	"github.com/agentsight/agentsight-go/internal/buffer"
	"github.com/agentsight/agentsight-go/internal/transport"
)

// Sentinel errors returned by buffer and lifecycle operations.
var (
	// ErrBufferFull is returned when a conversation's buffer has reached
	// its capacity. Flush the conversation to make room.
	ErrBufferFull = errors.New("agentsight: buffer full")

	// ErrFlushInFlight is returned when a flush is attempted on a
	// conversation that already has one in progress.
	ErrFlushInFlight = errors.New("agentsight: flush already in progress")

	// ErrClosed is returned by operations on a closed tracker.
	ErrClosed = errors.New("agentsight: tracker closed")

	// ErrTokenExpired is returned when the configured bearer token's exp
	// claim is in the past. Events stay buffered until the credential is
	// refreshed and the flush retried.
	ErrTokenExpired = transport.ErrTokenExpired
)

// ValidationError reports a rejected event. The event was not buffered.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("agentsight: invalid %s: %s", e.Field, e.Reason)
}

// ConfigurationError reports unusable tracker configuration, such as a
// missing credential or a malformed API key.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "agentsight: configuration: " + e.Reason
}

// TransportError reports a failed batch delivery. StatusCode is zero for
// network-level failures that never produced an HTTP response. The batch
// was restored to the buffer and will be retransmitted on the next flush.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("agentsight: batch delivery failed: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("agentsight: batch delivery failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PartialItemError describes a single item the collector rejected within
// an otherwise accepted batch. It is surfaced through
// DispatchResult.ItemErrors, never returned from Flush: the batch is
// atomic at the transport level, and the rejected item is not retried
// automatically.
type PartialItemError struct {
	Index  int
	Type   string
	Reason string
}

func (e *PartialItemError) Error() string {
	return fmt.Sprintf("agentsight: item %d (%s) rejected: %s", e.Index, e.Type, e.Reason)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransport reports whether err is a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsConfiguration reports whether err is a *ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// mapBufferErr converts internal buffer sentinels to their public
// counterparts.
func mapBufferErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, buffer.ErrFull):
		return ErrBufferFull
	case errors.Is(err, buffer.ErrFlushInFlight):
		return ErrFlushInFlight
	default:
		return err
	}
}

// wrapTransportErr converts a transport failure into a *TransportError,
// extracting the HTTP status when one was received. Token expiry passes
// through unwrapped so callers can match ErrTokenExpired directly.
func wrapTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrTokenExpired) {
		return err
	}
	var se *transport.StatusError
	if errors.As(err, &se) {
		return &TransportError{StatusCode: se.StatusCode, Err: err}
	}
	return &TransportError{Err: err}
}
