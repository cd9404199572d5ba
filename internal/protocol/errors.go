package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated       = errors.New("protocol: truncated data")
	ErrInvalidLength   = errors.New("protocol: invalid length")
	ErrInvalidStreamID = errors.New("protocol: invalid stream id")
	ErrUnexpectedFrame = errors.New("protocol: unexpected frame")
)

// ErrorCode is the 32-bit code carried by ERROR frames.
type ErrorCode uint32

const (
	CodeInvalidSetup     ErrorCode = 0x00000001
	CodeUnsupportedSetup ErrorCode = 0x00000002
	CodeRejectedSetup    ErrorCode = 0x00000003
	CodeRejectedResume   ErrorCode = 0x00000004
	CodeConnectionError  ErrorCode = 0x00000101
	CodeConnectionClose  ErrorCode = 0x00000102
	CodeApplicationError ErrorCode = 0x00000201
	CodeRejected         ErrorCode = 0x00000202
	CodeCanceled         ErrorCode = 0x00000203
	CodeInvalid          ErrorCode = 0x00000204
)

var codeNames = map[ErrorCode]string{
	CodeInvalidSetup:     "INVALID_SETUP",
	CodeUnsupportedSetup: "UNSUPPORTED_SETUP",
	CodeRejectedSetup:    "REJECTED_SETUP",
	CodeRejectedResume:   "REJECTED_RESUME",
	CodeConnectionError:  "CONNECTION_ERROR",
	CodeConnectionClose:  "CONNECTION_CLOSE",
	CodeApplicationError: "APPLICATION_ERROR",
	CodeRejected:         "REJECTED",
	CodeCanceled:         "CANCELED",
	CodeInvalid:          "INVALID",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_CODE(0x%08X)", uint32(c))
}

// Error is a terminal error received from or sent to the peer.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func ApplicationError(msg string) *Error {
	return NewError(CodeApplicationError, msg)
}

func Rejected(msg string) *Error {
	return NewError(CodeRejected, msg)
}

func Canceled(msg string) *Error {
	return NewError(CodeCanceled, msg)
}

func Invalid(msg string) *Error {
	return NewError(CodeInvalid, msg)
}

// AsError converts err into a wire error, defaulting to APPLICATION_ERROR.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return ApplicationError(err.Error())
}
