package errors

import (
	"errors"
	"fmt"
)

// Error codes used by coordinator operations. Handlers map these to HTTP
// responses; clients treat CodeInvalidState as a benign race and resync.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeNotAuthorized = "NOT_AUTHORIZED"
	CodeInvalidState  = "INVALID_STATE"
	CodeBadRequest    = "BAD_REQUEST"
	CodeExternal      = "EXTERNAL"
)

type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func NotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NotAuthorized(message string) *AppError {
	return &AppError{Code: CodeNotAuthorized, Message: message}
}

func InvalidState(message string) *AppError {
	return &AppError{Code: CodeInvalidState, Message: message}
}

func BadRequest(message string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message}
}

func External(message string, err error) *AppError {
	return &AppError{Code: CodeExternal, Message: message, Err: err}
}

// Code extracts the error code, defaulting to EXTERNAL for plain errors.
func Code(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeExternal
}

func Is(err error, code string) bool {
	return Code(err) == code
}
