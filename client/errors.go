package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aluiziolira/bookwise/models"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrStatus reports an unexpected HTTP status.
type ErrStatus struct {
	Code    int
	Message string
}

func (e ErrStatus) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("http status %d", e.Code)
}

// classifyTransportError maps an error from the HTTP round trip onto the
// error taxonomy. Cancellation by the caller is reported as cancelled, every
// other transport failure as a network failure.
func classifyTransportError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %w", models.ErrCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrNetwork{Err: ErrTimeout{Err: err}}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrNetwork{Err: ErrTimeout{Err: err}}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return models.ErrNetwork{Err: ErrConnection{Err: err}}
	}
	return models.ErrNetwork{Err: err}
}

// errorBody is the error envelope returned by the backend.
type errorBody struct {
	Message string                     `json:"message"`
	Errors  map[string]json.RawMessage `json:"errors"`
}

// classifyStatus maps a non-2xx response onto the error taxonomy: 404 is
// not found, 400 and 422 are validation failures carrying per-field
// messages, anything else is a network failure.
func classifyStatus(status int, body []byte) error {
	var envelope errorBody
	_ = json.Unmarshal(body, &envelope)

	switch status {
	case http.StatusNotFound:
		return models.ErrNotFound{Err: ErrStatus{Code: status, Message: envelope.Message}}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		verr := models.NewValidationError()
		for field, raw := range envelope.Errors {
			if msg := fieldMessage(raw); msg != "" {
				verr.Add(field, msg)
			}
		}
		if verr.Empty() {
			msg := strings.TrimSpace(envelope.Message)
			if msg == "" {
				msg = http.StatusText(status)
			}
			verr.Add("", msg)
		}
		return verr
	default:
		return models.ErrNetwork{Err: ErrStatus{Code: status, Message: envelope.Message}}
	}
}

// fieldMessage accepts "msg" or ["msg", ...].
func fieldMessage(raw json.RawMessage) string {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

// errorTypeLabel refines models.ErrorKind for metrics.
func errorTypeLabel(err error) string {
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	return models.ErrorKind(err)
}
