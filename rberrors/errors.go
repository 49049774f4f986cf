// Package rberrors defines the typed error hierarchy shared by the
// wisun, session, echonetlite, and rbmeter packages. Centralizing them
// here lets every layer participate in errors.Is/errors.As without
// importing each other.
package rberrors

import (
	"errors"
	"fmt"
)

// Sentinel errors usable with errors.Is. Concrete failures wrap one of
// these together with a dynamic message via fmt.Errorf("...: %w", ...).
var (
	// ErrScanFailure means SKSCAN exhausted its retries without finding a PAN.
	ErrScanFailure = errors.New("could not find the specified PAN")
	// ErrJoinFailure means SKJOIN exhausted its retries without a PANA session.
	ErrJoinFailure = errors.New("could not establish a PANA session")
	// ErrNeedToReopen means the session is unusable and must be closed and reopened.
	ErrNeedToReopen = errors.New("session must be closed and reopened")
	// ErrResponseNotExpected means a wire-level validation check failed (EHD/SEOJ/DEOJ/TID/OPC/EPC mismatch).
	ErrResponseNotExpected = errors.New("response not expected")
	// ErrResponseNotPossible means the meter returned a failure ESV (0x50-0x5F).
	ErrResponseNotPossible = errors.New("response not possible")
	// ErrInvariant marks an internal invariant violation (unknown unit code, unknown EPC in dispatch, malformed radio module line).
	ErrInvariant = errors.New("internal invariant violation")
	// ErrValue marks a caller-supplied set-parameter that is out of range.
	ErrValue = errors.New("value out of range")
	// ErrTransport marks an unrecoverable serial I/O failure.
	ErrTransport = errors.New("transport error")
)

// Timeout is the error returned when a blocking primitive (read_line,
// command exec, transmit-lock acquisition, ...) exceeds its bound.
type Timeout struct {
	Op string
}

func (e *Timeout) Error() string { return fmt.Sprintf("%s timed out", e.Op) }

// Timeout and Temporary let callers treat this like a net.Error.
func (e *Timeout) Timeout() bool   { return true }
func (e *Timeout) Temporary() bool { return true }

// NewTimeout builds a *Timeout for operation op.
func NewTimeout(op string) error { return &Timeout{Op: op} }

// SkCommandKind classifies a FAIL ER<nn> response from the radio module.
type SkCommandKind int

const (
	SkUnknownError SkCommandKind = iota
	SkUnsupported
	SkInvalidArgument
	SkInvalidSyntax
	SkSerialInputError
	SkFailedToExecute
)

func (k SkCommandKind) String() string {
	switch k {
	case SkUnknownError:
		return "unknown error"
	case SkUnsupported:
		return "unsupported"
	case SkInvalidArgument:
		return "invalid argument"
	case SkInvalidSyntax:
		return "invalid syntax"
	case SkSerialInputError:
		return "serial input error"
	case SkFailedToExecute:
		return "failed to execute"
	default:
		return "sk command error"
	}
}

// SkCommandError is raised when the radio module answers a command with
// "FAIL ER<nn>". Code is the raw two-digit error code from the module.
type SkCommandError struct {
	Kind    SkCommandKind
	Code    int
	Command string
}

func (e *SkCommandError) Error() string {
	return fmt.Sprintf("%s: command %q failed with code %02d", e.Kind, e.Command, e.Code)
}

// SkCommandKindForCode maps a FAIL ER<nn> numeric code to its classification.
func SkCommandKindForCode(code int) SkCommandKind {
	switch {
	case code >= 1 && code <= 3:
		return SkUnknownError
	case code == 4:
		return SkUnsupported
	case code == 5:
		return SkInvalidArgument
	case code == 6:
		return SkInvalidSyntax
	case code >= 7 && code <= 8:
		return SkUnknownError
	case code == 9:
		return SkSerialInputError
	case code == 10:
		return SkFailedToExecute
	default:
		return SkUnknownError
	}
}

// NewSkCommandError builds a typed error from a FAIL ER<nn> response.
func NewSkCommandError(command string, code int) error {
	return &SkCommandError{Kind: SkCommandKindForCode(code), Code: code, Command: command}
}

// ScanFailure wraps ErrScanFailure with context.
func ScanFailure(msg string) error { return fmt.Errorf("%s: %w", msg, ErrScanFailure) }

// JoinFailure wraps ErrJoinFailure with context.
func JoinFailure(msg string) error { return fmt.Errorf("%s: %w", msg, ErrJoinFailure) }

// NeedToReopen wraps ErrNeedToReopen with context, optionally chaining a cause.
func NeedToReopen(msg string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%s: %v: %w", msg, cause, ErrNeedToReopen)
	}
	return fmt.Errorf("%s: %w", msg, ErrNeedToReopen)
}

// ResponseNotExpected wraps ErrResponseNotExpected with context.
func ResponseNotExpected(msg string) error { return fmt.Errorf("%s: %w", msg, ErrResponseNotExpected) }

// ResponseNotPossible wraps ErrResponseNotPossible with context.
func ResponseNotPossible(esv byte) error {
	return fmt.Errorf("the target smart meter could not respond, ESV=%02X: %w", esv, ErrResponseNotPossible)
}

// Invariant wraps ErrInvariant with context.
func Invariant(msg string) error { return fmt.Errorf("%s: %w", msg, ErrInvariant) }

// Value wraps ErrValue with context.
func Value(msg string) error { return fmt.Errorf("%s: %w", msg, ErrValue) }

// Transport wraps ErrTransport around an underlying I/O error.
func Transport(op string, cause error) error {
	return fmt.Errorf("%s: %v: %w", op, cause, ErrTransport)
}
