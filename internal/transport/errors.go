package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTokenExpired is returned before any network I/O when the configured
// bearer JWT has an exp claim in the past.
var ErrTokenExpired = errors.New("transport: bearer token expired")

// StatusError is a non-2xx response to a whole request. The batch endpoint
// is atomic at the transport level: either the collector accepted the batch
// and returned a result array, or the whole transmission failed with one of
// these (or a network error).
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: collector returned %d: %s", e.StatusCode, e.Message)
}

// errorMessage extracts a human-readable message from a collector error
// body: either {"detail": "..."} or per-field validation errors, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed) == 0 {
		if len(body) == 0 {
			return "unknown error"
		}
		return string(body)
	}
	if detail, ok := parsed["detail"].(string); ok {
		return detail
	}
	msg := ""
	for field, v := range parsed {
		if msg != "" {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %v", field, v)
	}
	return msg
}
