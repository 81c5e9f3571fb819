package engines

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Common engine errors
var (
	// ErrMissingCredential indicates no API key was configured
	ErrMissingCredential = errors.New("API Key is missing. Please check your environment variables.")

	// ErrEmptyInput indicates empty text or image input
	ErrEmptyInput = errors.New("input is empty")

	// ErrExtractionFailed indicates the service returned no usable text
	ErrExtractionFailed = errors.New("text extraction failed")

	// ErrSynthesisFailed indicates the service returned no usable audio
	ErrSynthesisFailed = errors.New("Failed to generate audio content.")

	// ErrUnknownEngine indicates an unsupported engine name
	ErrUnknownEngine = errors.New("unknown engine")
)

// APIError is a non-2xx response from the remote service.
type APIError struct {
	StatusCode int
	Status     string // from error.status, e.g. INVALID_ARGUMENT
	Message    string
	Body       []byte
}

// Error returns the raw response body when it is JSON, so callers can
// extract error.message themselves, and a plain description otherwise.
func (e *APIError) Error() string {
	if len(e.Body) > 0 && gjson.ValidBytes(e.Body) {
		return string(e.Body)
	}
	if e.Message != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether retrying later might succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func newAPIError(statusCode int, body []byte) *APIError {
	e := &APIError{StatusCode: statusCode, Body: body}
	if gjson.ValidBytes(body) {
		e.Message = gjson.GetBytes(body, "error.message").String()
		e.Status = gjson.GetBytes(body, "error.status").String()
	} else {
		e.Message = strings.TrimSpace(string(body))
		e.Body = nil
	}
	return e
}
