package dbcon

import (
	"errors"
	"strings"

	"github.com/yuku/dbcon/internal/connpool"
)

// Error kinds. Compare with errors.Is.
var (
	// ErrConfiguration reports an unknown synonym or an unusable
	// configuration. It is fatal to the creation of that pool.
	ErrConfiguration = errors.New("configuration error")

	// ErrDriverLoad reports that the configured driver is not registered
	// with database/sql.
	ErrDriverLoad = errors.New("driver not available")

	// ErrNoValidURL reports that neither the primary nor the backup URL
	// accepted a connection.
	ErrNoValidURL = errors.New("no valid url")

	// ErrConnectionNotAvailable reports that a pool could not lend a
	// connection under its exhausted action. Callers may retry.
	ErrConnectionNotAvailable = errors.New("connection not available")

	// ErrUnknownVendorVersion reports a driver version the vendor fixes do
	// not know how to classify.
	ErrUnknownVendorVersion = errors.New("unknown vendor driver version")

	ErrPoolNotReady  = errors.New("pool not initialised")
	ErrPoolDestroyed = errors.New("pool destroyed")

	// ErrExhausted is wrapped by the errors Pool.DB reports when the pool
	// cannot lend a connection.
	ErrExhausted = connpool.ErrExhausted
)

// Error is returned by the registry, pools and connections. Kind is one of
// the Err* values above.
type Error struct {
	Kind    error
	Synonym string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Synonym != "" {
		b.WriteString(" for ")
		b.WriteString(e.Synonym)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, synonym, msg string, err error) *Error {
	return &Error{Kind: kind, Synonym: synonym, Msg: msg, Err: err}
}

// IsRetryable reports whether err is an exhaustion failure rather than a
// configuration, driver or URL failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnectionNotAvailable) || errors.Is(err, ErrExhausted)
}
