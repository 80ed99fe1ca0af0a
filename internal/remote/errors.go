// Package remote is the HTTP client for the recipe service: recipe create,
// update, delete and fetch, media upload, and URL/image extraction. It
// classifies failures into sentinel errors and refreshes the credential once
// when a request is rejected as unauthenticated.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Sentinel errors. Use errors.Is(err, remote.ErrNotFound) to check.
var (
	// ErrUnauthenticated means no usable credential, even after one refresh.
	ErrUnauthenticated = errors.New("remote: unauthenticated")
	// ErrNetworkUnavailable covers transport failures and timeouts.
	ErrNetworkUnavailable = errors.New("remote: network unavailable")
	ErrServerError        = errors.New("remote: server error")
	ErrNotFound           = errors.New("remote: not found")
	ErrBadRequest         = errors.New("remote: bad request")
	ErrForbidden          = errors.New("remote: forbidden")
	ErrConflict           = errors.New("remote: conflict")
	ErrThrottled          = errors.New("remote: throttled")
	// ErrProtocol means the service answered with something unusable, such
	// as an undecodable body or a reserved identifier.
	ErrProtocol = errors.New("remote: protocol violation")
)

// APIError carries the HTTP status and the service's error message. It
// unwraps to the sentinel for its status class.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: HTTP %d", e.StatusCode)
	}

	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusRequestTimeout:
		return ErrNetworkUnavailable
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrBadRequest
	}
}

// errorMessage extracts a human-readable message from an error body. The
// service reports errors as {"detail": ...}, {"message": ...} or
// {"error": ...}; anything else is returned trimmed.
func errorMessage(body []byte) string {
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			raw, ok := parsed[key]
			if !ok {
				continue
			}

			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				return s
			}

			return string(raw)
		}
	}

	const maxLen = 512

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}

		msg = msg[:cut] + "..."
	}

	return msg
}
