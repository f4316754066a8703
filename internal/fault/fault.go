// Package fault classifies pipeline failures so callers can decide between
// aborting a run and skipping a single series.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind names one failure cause.
type Kind string

const (
	KindConfig      Kind = "config"
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindStatus      Kind = "status"
	KindPayload     Kind = "payload"
	KindAuth        Kind = "auth"
	KindRateLimited Kind = "rate_limited"
	KindRejected    Kind = "rejected"
	KindNormalize   Kind = "normalize"
	KindWrite       Kind = "write"
	KindUnknown     Kind = "unknown"
)

// Class groups kinds by the stage that produced them.
type Class string

const (
	ClassConfig    Class = "configuration"
	ClassAdapter   Class = "adapter"
	ClassNormalize Class = "normalization"
	ClassWriter    Class = "writer"
)

// Class returns the stage a kind belongs to. Unknown kinds count as adapter
// failures: they come from code paths that talk to the outside world.
func (k Kind) Class() Class {
	switch k {
	case KindConfig:
		return ClassConfig
	case KindNormalize:
		return ClassNormalize
	case KindWrite:
		return ClassWriter
	default:
		return ClassAdapter
	}
}

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Series string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Series != "" {
		msg = e.Series + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind. A nil err yields a nil error.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithSeries stamps the series identifier on err. A classified error at the
// top of the chain is copied with the id set, unless it already has one.
// Anything else is wrapped, keeping the kind found deeper in the chain
// (KindUnknown when there is none).
func WithSeries(id string, err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*Error); ok {
		if fe.Series != "" {
			return err
		}
		cp := *fe
		cp.Series = id
		return &cp
	}
	return &Error{Kind: KindOf(err), Series: id, Err: err}
}

// KindOf reports the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Transport classifies an error returned by an HTTP round trip. Deadline
// and net timeouts become KindTimeout; everything else is KindNetwork.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindTimeout, op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return New(KindTimeout, op, err)
	}
	return New(KindNetwork, op, err)
}
