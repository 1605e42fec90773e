package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess             Code = 0
	CodeInternal            Code = 1
	CodeUsage               Code = 2
	CodeUnavailable         Code = 12
	CodeUnsupported         Code = 13
	CodeBlocked             Code = 16
	CodeSigner              Code = 17
	CodeInsufficientBalance Code = 20
	CodeNoPoolFound         Code = 21
	CodeQuoteFailed         Code = 22
	CodeApprovalFailed      Code = 23
	CodeSwapFailed          Code = 24
	CodeMetadataUnavailable Code = 25
	CodeWrapFailed          Code = 26
	CodeTimeout             Code = 27
)

var codeTypes = map[Code]string{
	CodeInternal:            "internal_error",
	CodeUsage:               "usage_error",
	CodeUnavailable:         "rpc_unavailable",
	CodeUnsupported:         "unsupported",
	CodeBlocked:             "command_blocked",
	CodeSigner:              "signer_error",
	CodeInsufficientBalance: "insufficient_balance",
	CodeNoPoolFound:         "no_pool_found",
	CodeQuoteFailed:         "quote_failed",
	CodeApprovalFailed:      "approval_failed",
	CodeSwapFailed:          "swap_failed",
	CodeMetadataUnavailable: "metadata_unavailable",
	CodeWrapFailed:          "wrap_failed",
	CodeTimeout:             "timeout",
}

// Type returns the snake_case kind name rendered in error envelopes.
func (c Code) Type() string {
	if t, ok := codeTypes[c]; ok {
		return t
	}
	return "internal_error"
}

// Revert holds the decoded payload of a reverted EVM call.
type Revert struct {
	Data   string `json:"data,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Error is a typed CLI error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Revert  *Revert
	// Fallback is the error of an alternate path attempted after Cause.
	Fallback error
	// Reverted is set when the EVM executed the call and it reverted, as opposed to
	// failures where the outcome on chain is unknown.
	Reverted bool
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Revert != nil && e.Revert.Reason != "" && !sameRevert(RevertOf(e.Cause), e.Revert) {
		msg = fmt.Sprintf("%s (revert: %s)", msg, e.Revert.Reason)
	}
	if e.Fallback != nil {
		msg = fmt.Sprintf("%s; fallback: %v", msg, e.Fallback)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithRevert attaches decoded revert data. A nil or empty revert is ignored.
func (e *Error) WithRevert(r *Revert) *Error {
	if r != nil && (r.Data != "" || r.Reason != "") {
		e.Revert = r
	}
	return e
}

// MarkReverted flags e as an EVM revert.
func (e *Error) MarkReverted() *Error {
	e.Reverted = true
	return e
}

// WithFallback records the failure of a secondary attempt.
func (e *Error) WithFallback(err error) *Error {
	e.Fallback = err
	return e
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		var target *Error
		if !errors.As(err, &target) {
			return false
		}
		if target.Code == code {
			return true
		}
		err = target.Cause
	}
	return false
}

// RevertOf returns the first revert payload found in the chain.
func RevertOf(err error) *Revert {
	for err != nil {
		var target *Error
		if !errors.As(err, &target) {
			return nil
		}
		if target.Revert != nil {
			return target.Revert
		}
		err = target.Cause
	}
	return nil
}

// IsReverted reports whether any error in the chain is a flagged EVM revert.
func IsReverted(err error) bool {
	for err != nil {
		var target *Error
		if !errors.As(err, &target) {
			return false
		}
		if target.Reverted {
			return true
		}
		err = target.Cause
	}
	return false
}

func sameRevert(a, b *Revert) bool {
	return a != nil && b != nil && a.Reason == b.Reason && a.Data == b.Data
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}
