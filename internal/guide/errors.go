package guide

import "errors"

// Error kinds. Callers classify failures with errors.Is against these.
var (
	// ErrNetwork covers an unreachable remote, a non-success envelope and timeouts.
	ErrNetwork = errors.New("network error")
	// ErrStorage covers local store write or read failures.
	ErrStorage = errors.New("storage error")
	// ErrParse covers malformed remote payloads and content documents.
	ErrParse = errors.New("parse error")
	// ErrSuperseded is returned by a replication run whose generation was
	// replaced before it could commit.
	ErrSuperseded = errors.New("superseded by a newer sync generation")
)

// Error attaches an error kind and the failing operation to an underlying error.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NetworkError wraps err as an ErrNetwork failure of op.
func NetworkError(op string, err error) error {
	return &Error{Kind: ErrNetwork, Op: op, Err: err}
}

// StorageError wraps err as an ErrStorage failure of op.
func StorageError(op string, err error) error {
	return &Error{Kind: ErrStorage, Op: op, Err: err}
}

// ParseError wraps err as an ErrParse failure of op.
func ParseError(op string, err error) error {
	return &Error{Kind: ErrParse, Op: op, Err: err}
}
