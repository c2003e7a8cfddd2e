package api

import (
	"fmt"
)

// Kind is the closed set of failure categories a caller can tell apart.
type Kind int

const (
	KindOther Kind = iota
	KindTransport
	KindDecode
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "http error"
	case KindDecode:
		return "json parsing error"
	case KindServer:
		return "server error"
	default:
		return "error"
	}
}

// Error is returned by every Client method.
type Error struct {
	Kind    Kind
	Op      string // e.g. "create job"
	Status  int    // HTTP status, 0 if no response was received
	Message string // message reported by the server
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindServer && e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	case e.Kind == KindServer:
		return fmt.Sprintf("%s: %s: status %d", e.Op, e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a target *Error by Kind, so callers may write
// errors.Is(err, &api.Error{Kind: api.KindServer}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}
