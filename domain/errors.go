package domain

import "errors"

// Code is the stable symbolic error code surfaced to callers.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeAssigneeNotMember  Code = "ASSIGNEE_NOT_MEMBER"
	CodeBoardNotFound      Code = "BOARD_NOT_FOUND"
	CodeTaskNotFound       Code = "TASK_NOT_FOUND"
	CodeTransactionAborted Code = "TRANSACTION_ABORTED"
)

// Error is a board error carrying its symbolic code. Callers map codes to
// localized messages; the message here is for logs.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes sentinel comparisons match on code so wrapped causes do not break
// errors.Is checks.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

var (
	ErrBoardNotFound      = E(CodeBoardNotFound, "board not found")
	ErrTaskNotFound       = E(CodeTaskNotFound, "task not found")
	ErrAssigneeNotMember  = E(CodeAssigneeNotMember, "assignee is not a template member")
	ErrTransactionAborted = E(CodeTransactionAborted, "move transaction aborted")
)

// CodeOf extracts the symbolic code from an error chain. The second return
// is false for errors outside the board taxonomy (storage failures and the
// like).
func CodeOf(err error) (Code, bool) {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Code, true
	}
	return "", false
}
