package errors

import (
	"errors"
	"fmt"
)

// BridgeError represents a request-level failure that is converted into a
// structured failure response rather than propagated as a fault.
type BridgeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *BridgeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeInvalidNetwork  = "invalid_network"
	ErrCodeNotConnected    = "not_connected"
	ErrCodeSignerFailure   = "signer_failure"
	ErrCodeDeliveryFailure = "delivery_failure"
	ErrCodeInternalError   = "internal_error"
)

// Predefined errors. The messages are wire-visible and must stay stable:
// dApps match on them.
var (
	ErrInvalidNetwork = &BridgeError{
		Code:    ErrCodeInvalidNetwork,
		Message: "Invalid network",
	}

	ErrNotConnected = &BridgeError{
		Code:    ErrCodeNotConnected,
		Message: "Not connected",
	}

	ErrSignerFailure = &BridgeError{
		Code:    ErrCodeSignerFailure,
		Message: "Fail to get signedCmd",
	}

	ErrDeliveryFailure = &BridgeError{
		Code:    ErrCodeDeliveryFailure,
		Message: "Channel delivery failed",
	}
)

// New creates a new BridgeError
func New(code, message string) *BridgeError {
	return &BridgeError{
		Code:    code,
		Message: message,
	}
}

// NewWithDetail creates a new BridgeError with additional detail
func NewWithDetail(code, message, detail string) *BridgeError {
	return &BridgeError{
		Code:    code,
		Message: message,
		Detail:  detail,
	}
}

// SignerFailure wraps a command-construction error into the uniform
// signing failure, keeping the underlying cause in the detail.
func SignerFailure(err error) *BridgeError {
	return &BridgeError{
		Code:    ErrCodeSignerFailure,
		Message: ErrSignerFailure.Message,
		Detail:  err.Error(),
	}
}

// IsBridgeError checks if an error is a BridgeError
func IsBridgeError(err error) (*BridgeError, bool) {
	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) {
		return bridgeErr, true
	}
	return nil, false
}
