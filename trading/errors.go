package trading

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnitsOutOfRange is returned for a price or quantity that cannot be
	// represented exactly by every client of the server.
	ErrUnitsOutOfRange = errors.New("units out of range")
	// ErrInvalidOrder is returned when an order request fails local validation.
	ErrInvalidOrder = errors.New("invalid order")
)

// RequestFailedError is returned for every non-2xx response.
type RequestFailedError struct {
	StatusCode int
	Body       string
}

func (e *RequestFailedError) Error() string {
	if msg := strings.TrimSpace(e.Body); msg != "" {
		return msg
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Rejection decodes an order rejection carried in the error body.
func (e *RequestFailedError) Rejection() (*OrderResult, bool) {
	var r OrderResult
	if err := json.Unmarshal([]byte(e.Body), &r); err != nil || r.Status != StatusRejected {
		return nil, false
	}
	return &r, true
}

// StatusCode returns the HTTP status of err, or 0 if err is not a RequestFailedError.
func StatusCode(err error) int {
	var rf *RequestFailedError
	if errors.As(err, &rf) {
		return rf.StatusCode
	}
	return 0
}
