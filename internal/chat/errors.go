// Package chat implements the messaging core: the message pipeline, room
// membership, read receipts, the typing relay, and the presence
// broadcaster. Storage and fan-out are consumed through the interfaces in
// service.go so the services stay independent of Postgres and NATS.
package chat

import "errors"

// Kind classifies a core error for dispatch-layer handling.
type Kind int

const (
	// KindValidation marks malformed or empty input; no state changed.
	KindValidation Kind = iota
	// KindUnauthorized marks a caller that is not a chat participant.
	KindUnauthorized
	// KindNotFound marks a missing chat or message.
	KindNotFound
	// KindStorage marks a persistence failure after the retry budget.
	KindStorage
)

// Error is a classified core error with a client-safe message. Internal
// detail stays in the wrapped error and never reaches a client.
type Error struct {
	Kind    Kind
	Message string // human-readable, safe to send to the client
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Message + ": " + e.err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Unauthorized creates an authorization error.
func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// NotFound creates a not-found error.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// StorageError wraps a persistence failure behind a generic client message.
func StorageError(err error) *Error {
	return &Error{Kind: KindStorage, Message: "temporary server error, please retry", err: err}
}

// ClientMessage returns the message to deliver to the originating
// connection for err. Unclassified errors get a generic message so
// internals are never leaked.
func ClientMessage(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Message
	}
	return "internal error"
}

// KindOf returns the Kind of a classified error, or KindStorage for
// anything unclassified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindStorage
}
