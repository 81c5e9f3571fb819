package history

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// Common history errors
var (
	// ErrNotReady is returned by every operation before Hydrate completes
	ErrNotReady = errors.New("history is not hydrated yet")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("history is closed")

	// ErrBusy is returned when an extraction or synthesis is already running
	ErrBusy = errors.New("another operation is in progress")

	// ErrItemNotFound is returned for an unknown item id
	ErrItemNotFound = errors.New("history item not found")

	// ErrItemGone is returned when the target item was deleted while an
	// extraction or synthesis was in flight
	ErrItemGone = errors.New("history item was deleted during the operation")

	// ErrTextChanged is returned when the item's text was edited while its
	// audio was being synthesized
	ErrTextChanged = errors.New("text changed during audio generation")
)

// DefaultErrorMessage is shown when an error carries no usable message.
const DefaultErrorMessage = "An unexpected error occurred."

// FormatError turns err into a single line for display. Service errors whose
// message is a JSON document are reduced to their error.message field.
func FormatError(err error) string {
	if err == nil {
		return DefaultErrorMessage
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := strings.TrimSpace(e.Error())
		if !strings.HasPrefix(msg, "{") {
			continue
		}
		if gjson.Valid(msg) {
			if m := gjson.Get(msg, "error.message").String(); m != "" {
				return m
			}
		}
		return msg
	}

	if msg := err.Error(); msg != "" {
		return msg
	}
	return DefaultErrorMessage
}
