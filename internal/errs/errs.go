// Package errs defines the typed error taxonomy shared across the
// chunking core: each component raises a *Error with a Kind so callers
// can branch on failure category with errors.As instead of string
// matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the component and policy that apply to it.
type Kind string

const (
	ChunkEncoding      Kind = "chunk_encoding"
	ChunkDecoding      Kind = "chunk_decoding"
	InsufficientChunks Kind = "insufficient_chunks"
	ChunkNotFound      Kind = "chunk_not_found"
	ChunkValidation    Kind = "chunk_validation"
	ChunkStorage       Kind = "chunk_storage"
	ChunkDatabase      Kind = "chunk_database"
	PeerCommunication  Kind = "peer_communication"
	Replication        Kind = "replication"
	WrongPassphrase    Kind = "wrong_passphrase"
	Configuration      Kind = "configuration"
	NoPeersAvailable   Kind = "no_peers_available"
	InvalidKeyOrCipher Kind = "invalid_key_or_cipher"
)

// Error is the concrete error type raised by every component in this
// module. It carries a Kind for policy dispatch and wraps the underlying
// cause, if any.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, allowing
// errors.Is(err, errs.New(errs.ChunkNotFound, "", "")) style checks via
// a zero-value sentinel of the right Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given Kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an *Error of the given Kind wrapping cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
