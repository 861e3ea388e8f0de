package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/quii/vue-fast-sub001/models"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("request rejected as invalid")
	ErrConflict           = errors.New("request conflicts with the shoot state")
	ErrRequestTimeout     = errors.New("request timed out waiting for a response")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrQueuedOffline      = errors.New("offline: request queued for later delivery")
)

// RemoteError is a failure reported by the server, over either transport.
type RemoteError struct {
	Status  int    // HTTP status, zero for realtime errors
	Code    string // realtime error code, empty for HTTP errors
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("server responded %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound || e.Code == models.ErrorCodeNotFound:
		return ErrNotFound
	case e.Status == http.StatusConflict || e.Code == models.ErrorCodeConflict:
		return ErrConflict
	case e.Status == http.StatusBadRequest || e.Code == models.ErrorCodeValidation || e.Code == models.ErrorCodeBadRequest:
		return ErrValidation
	}
	return nil
}
