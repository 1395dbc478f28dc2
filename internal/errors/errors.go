// Package errors provides the error wrapping used throughout snapbox. It
// re-exports github.com/pkg/errors for stack-annotated construction and adds
// the kind taxonomy from the core's error handling design: callers can test
// which of the seven kinds an error belongs to with errors.Is.
package errors

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// New, Wrap, Wrapf, Errorf and WithStack behave like their github.com/pkg/errors
// counterparts; kept as thin re-exports so callers only ever import this package.
var (
	New       = pkgerrors.New
	Wrap      = pkgerrors.Wrap
	Wrapf     = pkgerrors.Wrapf
	Errorf    = pkgerrors.Errorf
	WithStack = pkgerrors.WithStack
)

// Is, As and Unwrap are re-exported from the standard library so call sites
// need not import both "errors" and this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// kind tags an error with one of the taxonomy buckets from the error
// handling design. It is deliberately unexported: callers match on the
// sentinel values below with errors.Is, not on the kind string.
type kind string

const (
	kindInput       kind = "input"
	kindIO          kind = "io"
	kindFormat      kind = "format"
	kindCrypto      kind = "crypto"
	kindConsistency kind = "consistency"
	kindPolicy      kind = "policy"
	kindCancelled   kind = "cancelled"
)

// kindError wraps an underlying error with a taxonomy kind. errors.Is
// matches against the kind sentinels (ErrInput, ErrIO, ...), not the
// wrapped message, so two unrelated kindErrors of the same kind compare
// equal for classification purposes.
type kindError struct {
	k   kind
	err error
}

func (e *kindError) Error() string {
	if e.err == nil {
		return string(e.k)
	}
	return fmt.Sprintf("%s: %s", e.k, e.err)
}

func (e *kindError) Unwrap() error { return e.err }

func (e *kindError) Is(target error) bool {
	t, ok := target.(*kindError)
	if !ok {
		return false
	}
	return t.err == nil && t.k == e.k
}

// Sentinel kinds used with errors.Is(err, errors.ErrConsistency) and friends.
var (
	ErrInput       = &kindError{k: kindInput}
	ErrIO          = &kindError{k: kindIO}
	ErrFormat      = &kindError{k: kindFormat}
	ErrCrypto      = &kindError{k: kindCrypto}
	ErrConsistency = &kindError{k: kindConsistency}
	ErrPolicy      = &kindError{k: kindPolicy}
	ErrCancelled   = &kindError{k: kindCancelled}
)

// WithKind tags err with a taxonomy kind, preserving the original error as
// the wrapped cause.
func WithKind(k *kindError, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{k: k.k, err: err}
}

// Fatal marks an error as non-recoverable: the orchestrator must abort the
// backup rather than warn-and-skip.
type fatalError struct {
	msg string
	err error
}

func (e *fatalError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.err)
}

func (e *fatalError) Unwrap() error { return e.err }

// Fatal creates a new fatal error.
func Fatal(msg string) error { return &fatalError{msg: msg} }

// Fatalf creates a new fatal error with a formatted message.
func Fatalf(format string, args ...interface{}) error {
	return &fatalError{msg: fmt.Sprintf(format, args...)}
}

// WrapFatal marks err as fatal while preserving it as the wrapped cause, so
// errors.Is/As against err's own taxonomy (ErrIO, ErrCrypto, ...) still
// works alongside IsFatal. Use this instead of Fatal/Fatalf when the
// underlying error must still be inspectable.
func WrapFatal(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &fatalError{msg: msg, err: err}
}

// IsFatal returns whether err (or something it wraps) was created by
// Fatal/Fatalf/WrapFatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}
