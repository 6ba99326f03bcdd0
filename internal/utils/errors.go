package utils

import (
	"fmt"
	"log/slog"
)

// AppError carries the failing operation alongside the message so errors stay
// attributable after crossing package boundaries. It unwraps to the underlying
// error, keeping errors.Is matches against the taxonomy sentinels intact.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// LogValue renders the error as structured attributes, so slog call sites get
// the operation as its own field instead of one flattened string.
func (e *AppError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("op", e.Op),
		slog.String("msg", e.Msg),
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("cause", e.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

// NewAppError wraps err with the operation and message.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
