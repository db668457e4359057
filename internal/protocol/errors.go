package protocol

import (
	"errors"
	"fmt"
)

// Code is the numeric error/status code shared by the client and the server.
type Code uint32

const (
	CodeOK                   Code = 0
	CodeInvalidArgs          Code = 1
	CodeOpNotSupported       Code = 2
	CodeOpNotPermitted       Code = 3
	CodeDropped              Code = 4
	CodeProtocolNotSupported Code = 5
	CodeEncTypeNotSupported  Code = 6
	CodeUnexpectedFrame      Code = 7
	CodeInvalidFrame         Code = 8
	CodeOutOfSync            Code = 9
	CodeLargeArgs            Code = 10
	CodeLargeResponse        Code = 11
	CodeConnectionTimeout    Code = 12
	CodeServerBusy           Code = 13
	CodeIncompleteCommand    Code = 14
	CodeInvalidArrayOffset   Code = 15
	CodeInvalidTextOffset    Code = 16
	CodeInvalidRow           Code = 17
	CodeInvalidField         Code = 18
	CodeTypeMismatch         Code = 19
	CodeProcNotFound         Code = 20
	CodeProcRuntimeError     Code = 21
	CodeGeneralError         Code = 22
)

var codeNames = map[Code]string{
	CodeOK:                   "ok",
	CodeInvalidArgs:          "invalid_args",
	CodeOpNotSupported:       "op_not_supported",
	CodeOpNotPermitted:       "op_not_permitted",
	CodeDropped:              "dropped",
	CodeProtocolNotSupported: "protocol_not_supported",
	CodeEncTypeNotSupported:  "enc_type_not_supported",
	CodeUnexpectedFrame:      "unexpected_frame",
	CodeInvalidFrame:         "invalid_frame",
	CodeOutOfSync:            "out_of_sync",
	CodeLargeArgs:            "large_args",
	CodeLargeResponse:        "large_response",
	CodeConnectionTimeout:    "connection_timeout",
	CodeServerBusy:           "server_busy",
	CodeIncompleteCommand:    "incomplete_command",
	CodeInvalidArrayOffset:   "invalid_array_offset",
	CodeInvalidTextOffset:    "invalid_text_offset",
	CodeInvalidRow:           "invalid_row",
	CodeInvalidField:         "invalid_field",
	CodeTypeMismatch:         "type_mismatch",
	CodeProcNotFound:         "proc_not_found",
	CodeProcRuntimeError:     "proc_runtime_error",
	CodeGeneralError:         "general_error",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// Fatal reports whether an error of this code leaves the session unusable.
func (c Code) Fatal() bool {
	switch c {
	case CodeDropped, CodeProtocolNotSupported, CodeEncTypeNotSupported,
		CodeUnexpectedFrame, CodeInvalidFrame, CodeOutOfSync,
		CodeConnectionTimeout, CodeServerBusy:
		return true
	}
	return false
}

// Error is a protocol failure carrying its numeric code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s (%d): %s: %v", e.Code, uint32(e.Code), msg, e.Err)
	}
	return fmt.Sprintf("protocol: %s (%d): %s", e.Code, uint32(e.Code), msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Fatal reports whether the session must be discarded after this error.
func (e *Error) Fatal() bool { return e.Code.Fatal() }

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// FromStatus converts a response status into an error; CodeOK yields nil.
func FromStatus(status uint32, op string) error {
	if Code(status) == CodeOK {
		return nil
	}
	return &Error{Code: Code(status), Message: op + " failed on server"}
}

// CodeOf extracts the protocol code of err, or CodeGeneralError for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeGeneralError
}

var (
	ErrInvalidArgs          = &Error{Code: CodeInvalidArgs}
	ErrOpNotSupported       = &Error{Code: CodeOpNotSupported}
	ErrOpNotPermitted       = &Error{Code: CodeOpNotPermitted}
	ErrDropped              = &Error{Code: CodeDropped}
	ErrProtocolNotSupported = &Error{Code: CodeProtocolNotSupported}
	ErrEncTypeNotSupported  = &Error{Code: CodeEncTypeNotSupported}
	ErrUnexpectedFrame      = &Error{Code: CodeUnexpectedFrame}
	ErrInvalidFrame         = &Error{Code: CodeInvalidFrame}
	ErrOutOfSync            = &Error{Code: CodeOutOfSync}
	ErrLargeArgs            = &Error{Code: CodeLargeArgs}
	ErrLargeResponse        = &Error{Code: CodeLargeResponse}
	ErrConnectionTimeout    = &Error{Code: CodeConnectionTimeout}
	ErrServerBusy           = &Error{Code: CodeServerBusy}
	ErrIncompleteCommand    = &Error{Code: CodeIncompleteCommand}
	ErrInvalidArrayOffset   = &Error{Code: CodeInvalidArrayOffset}
	ErrInvalidTextOffset    = &Error{Code: CodeInvalidTextOffset}
	ErrInvalidRow           = &Error{Code: CodeInvalidRow}
	ErrInvalidField         = &Error{Code: CodeInvalidField}
	ErrTypeMismatch         = &Error{Code: CodeTypeMismatch}
	ErrProcNotFound         = &Error{Code: CodeProcNotFound}
	ErrProcRuntimeError     = &Error{Code: CodeProcRuntimeError}
	ErrGeneralError         = &Error{Code: CodeGeneralError}
)
