package apperrors

import (
	"errors"
	"fmt"
)

// Code identifies an expected failure of a wallet-core operation.
// Every code here is a contract with the client: denials are specific
// enough to drive UX without leaking account existence.
type Code string

const (
	// Ledger
	CodeInvalidAmount     Code = "invalid_amount"
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeInvalidTransfer   Code = "invalid_transfer"
	CodeWalletNotFound    Code = "wallet_not_found"
	CodeSystemError       Code = "system_error"

	// Signature & replay guard
	CodeSignatureMalformed    Code = "signature_malformed"
	CodeSignatureExpired      Code = "signature_expired"
	CodeDeviceIDRequired      Code = "device_id_required"
	CodeDeviceNotFound        Code = "device_not_found"
	CodeDeviceRevoked         Code = "device_revoked"
	CodeDeviceSessionMismatch Code = "device_session_mismatch"
	CodeMissingPublicKey      Code = "missing_public_key"
	CodeInvalidSignature      Code = "invalid_signature"
	CodeReplayDetected        Code = "replay_detected"

	// Step-up
	CodeTwoFactorRequired Code = "two_factor_required"

	// Recovery
	CodeInvalidOrExpiredToken      Code = "invalid_or_expired_token"
	CodeDeviceMismatch             Code = "device_mismatch"
	CodeDeviceKeySignatureRequired Code = "device_key_signature_required"
	CodeInvalidDeviceKeySignature  Code = "invalid_device_key_signature"
	CodeRecoveryLimitReached       Code = "recovery_limit_reached"

	// Canonicalization
	CodeEncodingError Code = "encoding_error"
)

// Error is a typed, expected outcome. Callers match on Code; Err carries
// the underlying cause for logs only and is never rendered to clients.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, apperrors.New(code, "")) match on code alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// System wraps a genuinely unexpected fault (store, crypto library).
func System(err error) *Error {
	return &Error{Code: CodeSystemError, Message: "internal error", Err: err}
}

// CodeOf extracts the taxonomy code from err, or CodeSystemError when the
// error did not originate in this core.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeSystemError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
