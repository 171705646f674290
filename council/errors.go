package council

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStaleEvent marks an event that belongs to a superseded StreamToken.
	ErrStaleEvent = errors.New("stale stream event")

	// ErrTurnInFlight is returned when a send is attempted while the active
	// conversation still has an unsettled turn.
	ErrTurnInFlight = errors.New("a council turn is already in flight")

	// ErrNotAuthenticated is returned by authenticated calls made without a token.
	ErrNotAuthenticated = errors.New("not logged in")

	// ErrAttachmentRejected is returned when a file fails the local upload checks.
	ErrAttachmentRejected = errors.New("attachment rejected")
)

// ConnectivityError means the backend could not be reached or answered with
// something that is not a usable HTTP/JSON response.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: cannot reach server", e.Op)
	}
	return fmt.Sprintf("%s: cannot reach server: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// CredentialsError carries the detail the server gave for a rejected
// login or registration.
type CredentialsError struct {
	StatusCode int
	Detail     string
}

func (e *CredentialsError) Error() string { return e.Detail }

// ProtocolError is a fatal error frame received mid-stream.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "council stream error: " + e.Message
}

// MalformedFrameError describes a frame whose payload is not valid JSON.
// It is logged and skipped, never returned to callers of the stream.
type MalformedFrameError struct {
	Payload string
	Err     error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame %q: %v", truncate(e.Payload, 120), e.Err)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// NotFoundError is returned for get/remove on a missing conversation.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// StatusError is any other non-success HTTP status.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Detail)
}

// decodeDetail extracts FastAPI's "detail" field. Validation errors arrive as
// a list of objects with a "msg" field.
func decodeDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}

	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}

	return string(payload.Detail)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
