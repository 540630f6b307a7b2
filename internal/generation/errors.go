package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a generation failure.
type Kind string

const (
	KindUnavailable Kind = "unavailable"
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindMalformed   Kind = "malformed"
	KindFatal       Kind = "fatal"
)

// UnavailableMessage is shown to users once transient failures have exhausted retries.
const UnavailableMessage = "The AI service is temporarily unavailable. Please try again in a moment."

// Error is a classified generation failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("generation %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindUnavailable, KindTimeout, KindRateLimited, KindMalformed:
		return true
	}
	return false
}

// UserMessage is the text shown to users for this failure. Every transient kind reads
// as the service being temporarily unavailable.
func (e *Error) UserMessage() string {
	if e.Retryable() {
		return UnavailableMessage
	}
	return e.Message
}

// UpstreamError is returned by Client implementations for non-2xx responses.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream http %d: %v", e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// SchemaError reports content that does not satisfy the requested output contract.
type SchemaError struct {
	Schema string
	Reason string
	Raw    string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("response does not match %s schema: %s", e.Schema, e.Reason)
}

// Classify maps any invocation error onto the generation taxonomy.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr
	}

	if looksLikeHTML(err.Error()) {
		return &Error{Kind: KindUnavailable, Message: UnavailableMessage, Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindFatal, Message: "request cancelled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "generation request timed out", Err: err}
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		switch {
		case upstream.StatusCode == 429:
			return &Error{Kind: KindRateLimited, Message: "generation service is rate limiting requests", Err: err}
		case upstream.StatusCode == 408 || upstream.StatusCode == 504:
			return &Error{Kind: KindTimeout, Message: "generation request timed out", Err: err}
		case upstream.StatusCode >= 500:
			return &Error{Kind: KindUnavailable, Message: UnavailableMessage, Err: err}
		default:
			return &Error{Kind: KindFatal, Message: "generation request rejected", Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Message: "generation request timed out", Err: err}
		}
		return &Error{Kind: KindUnavailable, Message: UnavailableMessage, Err: err}
	}
	// Unknown transport failures (EOF, reset connections) are treated as transient.
	return &Error{Kind: KindUnavailable, Message: UnavailableMessage, Err: err}
}

func malformed(reason string) *Error {
	return &Error{Kind: KindMalformed, Message: reason}
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<!doctype") ||
		strings.Contains(lower, "<html") ||
		strings.Contains(lower, "invalid character '<'")
}
