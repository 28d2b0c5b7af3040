package gateway

import (
	"errors"
	"fmt"
)

// ErrSchemaMismatch reports a model response that arrived but did not
// validate against the operation's contract.
var ErrSchemaMismatch = errors.New("model output does not match schema")

// Error is a transport-level gateway failure: the request could not be
// sent, timed out, or came back with a non-2xx status.
type Error struct {
	Op         string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func schemaMismatch(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSchemaMismatch, fmt.Sprintf(format, args...))
}

// IsGatewayFailure reports whether err came from the model boundary, either
// as a transport error or a schema mismatch.
func IsGatewayFailure(err error) bool {
	var gwErr *Error
	return isSchemaMismatch(err) || errors.As(err, &gwErr)
}

func isSchemaMismatch(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}
