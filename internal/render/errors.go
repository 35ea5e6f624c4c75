package render

import "fmt"

// Error reports a template that failed to tokenize or evaluate.
type Error struct {
	Pos   Position
	Msg   string
	Cause error
}

func newError(pos Position, msg string, cause error) *Error {
	return &Error{Pos: pos, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	base := fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *Error) Unwrap() error {
	return e.Cause
}
