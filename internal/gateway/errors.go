package gateway

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the gateway answered 404 for the endpoint.
var ErrNotFound = errors.New("gateway: not found")

// BadResponseError indicates a non-200 gateway status. Body carries the
// server's own message when one was returned.
type BadResponseError struct {
	Status int
	Body   string
}

func (e *BadResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway: bad response (status %d)", e.Status)
	}
	return fmt.Sprintf("gateway: bad response (status %d): %s", e.Status, e.Body)
}

// InvalidResponseError indicates a 200 response whose body could not be
// decoded, or decoded to nothing usable.
type InvalidResponseError struct {
	Reason string
	Err    error
}

func (e *InvalidResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: invalid response: %s: %v", e.Reason, e.Err)
	}
	return "gateway: invalid response: " + e.Reason
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }

// BadSignatureError indicates the response signature failed verification.
// Always fatal: the payload must not be used regardless of HTTP status.
type BadSignatureError struct {
	Endpoint string
}

func (e *BadSignatureError) Error() string {
	return fmt.Sprintf("gateway: invalid response (bad signature) from %q", e.Endpoint)
}
