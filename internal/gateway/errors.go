package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthorized marks a 401. The gateway has already torn the session down when a caller sees it.
	ErrUnauthorized = errors.New("credential rejected by remote api")
	ErrServer       = errors.New("remote api server fault")
	ErrTransport    = errors.New("remote api unreachable")
)

// APIError is a non-2xx response. Message is empty when the payload had no usable message.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Path       string
	kind       error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no message"
	}
	return fmt.Sprintf("remote api %s returned %d: %s", e.Path, e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

type errorPayload struct {
	Code    string          `json:"code"`
	Message json.RawMessage `json:"message"`
}

// decodeAPIError reads the {message} shape without trusting it: non-JSON bodies, arrays and
// non-string messages all yield an empty Message.
func decodeAPIError(status int, path string, body []byte) *APIError {
	e := &APIError{StatusCode: status, Path: path}
	switch {
	case status == 401:
		e.kind = ErrUnauthorized
	case status >= 500:
		e.kind = ErrServer
	}

	var p errorPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return e
	}
	e.Code = p.Code
	var msg string
	if err := json.Unmarshal(p.Message, &msg); err == nil {
		e.Message = strings.TrimSpace(msg)
	}
	return e
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// Message picks the text a store shows to the user. Business rejections carry the server's
// message; server faults and transport failures always surface as the generic fallback.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrServer) || errors.Is(err, ErrTransport) {
		return fallback
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
