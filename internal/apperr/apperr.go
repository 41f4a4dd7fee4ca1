// Package apperr classifies errors so transports can pick a status code.
// Messages stay plain strings; the kind never reaches the wire.
package apperr

import "errors"

type Kind int

const (
	Internal Kind = iota
	Invalid
	Unauthenticated
	Forbidden
	NotFound
	Conflict
	NotImplemented
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case NotImplemented:
		return "not_implemented"
	default:
		return "internal"
	}
}

type staticErr struct {
	kind Kind
	msg  string
}

func (e *staticErr) Error() string { return e.msg }
func (e *staticErr) Kind() Kind    { return e.kind }

// New returns a sentinel error of the given kind. Compare with errors.Is.
func New(kind Kind, msg string) error { return &staticErr{kind: kind, msg: msg} }

type kinded interface{ Kind() Kind }

// KindOf walks the wrap chain and returns the first kind found, or Internal.
func KindOf(err error) Kind {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return Internal
}
