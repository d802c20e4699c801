// Package errdefs defines the typed error kinds shared across the control
// plane. Callers branch on kinds through the Is* predicates instead of
// matching message text, so wrapping with fmt.Errorf("...: %w", err) at any
// layer keeps the classification intact.
package errdefs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindNoQuorum
	KindElectionTimeout
	KindNoElectableSecondary
	KindProvisioningFailed
	KindConnectionLost
	KindCrashFailed
	KindNodeNotFound
	KindNoPrimary
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindNoQuorum:
		return "no quorum"
	case KindElectionTimeout:
		return "election timeout"
	case KindNoElectableSecondary:
		return "no electable secondary"
	case KindProvisioningFailed:
		return "provisioning failed"
	case KindConnectionLost:
		return "connection lost"
	case KindCrashFailed:
		return "crash failed"
	case KindNodeNotFound:
		return "node not found"
	case KindNoPrimary:
		return "no primary"
	case KindUnsupported:
		return "unsupported operation"
	default:
		return "unknown"
	}
}

// Error carries a kind, a message and an optional cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Kind() Kind { return e.kind }

// New builds a typed error. err may be nil when there is no cause to carry.
func New(kind Kind, err error, format string, args ...interface{}) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

func NotFound(format string, args ...interface{}) error {
	return New(KindNotFound, nil, format, args...)
}

func AlreadyExists(format string, args ...interface{}) error {
	return New(KindAlreadyExists, nil, format, args...)
}

func NoQuorum(format string, args ...interface{}) error {
	return New(KindNoQuorum, nil, format, args...)
}

func ElectionTimeout(format string, args ...interface{}) error {
	return New(KindElectionTimeout, nil, format, args...)
}

func NoElectableSecondary(err error, format string, args ...interface{}) error {
	return New(KindNoElectableSecondary, err, format, args...)
}

func ProvisioningFailed(err error, format string, args ...interface{}) error {
	return New(KindProvisioningFailed, err, format, args...)
}

func ConnectionLost(err error, format string, args ...interface{}) error {
	return New(KindConnectionLost, err, format, args...)
}

func CrashFailed(err error, format string, args ...interface{}) error {
	return New(KindCrashFailed, err, format, args...)
}

func NodeNotFound(format string, args ...interface{}) error {
	return New(KindNodeNotFound, nil, format, args...)
}

func NoPrimary(format string, args ...interface{}) error {
	return New(KindNoPrimary, nil, format, args...)
}

func Unsupported(format string, args ...interface{}) error {
	return New(KindUnsupported, nil, format, args...)
}

// KindOf returns the kind of the first typed error in err's chain, or
// KindUnknown if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

func is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.kind == k
}

func IsNotFound(err error) bool             { return is(err, KindNotFound) }
func IsAlreadyExists(err error) bool        { return is(err, KindAlreadyExists) }
func IsNoQuorum(err error) bool             { return is(err, KindNoQuorum) }
func IsElectionTimeout(err error) bool      { return is(err, KindElectionTimeout) }
func IsNoElectableSecondary(err error) bool { return is(err, KindNoElectableSecondary) }
func IsProvisioningFailed(err error) bool   { return is(err, KindProvisioningFailed) }
func IsConnectionLost(err error) bool       { return is(err, KindConnectionLost) }
func IsCrashFailed(err error) bool          { return is(err, KindCrashFailed) }
func IsNodeNotFound(err error) bool         { return is(err, KindNodeNotFound) }
func IsNoPrimary(err error) bool            { return is(err, KindNoPrimary) }
func IsUnsupported(err error) bool          { return is(err, KindUnsupported) }
