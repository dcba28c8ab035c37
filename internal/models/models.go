// Package models defines the core data structures for orderflow.
//
// It includes the per-session flow context, the cart, the purchase
// transaction types, and the shared API response envelope used across
// modules.
package models

import "errors"

// APIStatus represents the status values used in API responses.
type APIStatus string

const (
	// APIStatusOK indicates a successful operation.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates a failed operation.
	APIStatusError APIStatus = "error"
	// APIStatusPending indicates an operation that was accepted but has not
	// reached a terminal state yet (e.g. a purchase still being processed).
	APIStatusPending APIStatus = "pending"
)

// Error variables for better error handling and testability
var (
	ErrInvalidSessionID         = errors.New("session id cannot be empty")
	ErrInvalidLineCount         = errors.New("line count cannot be negative")
	ErrLineOutOfRange           = errors.New("line number out of range")
	ErrUnknownItemType          = errors.New("unknown item type")
	ErrProtectionRequiresDevice = errors.New("protection requires a device on the same line")
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Pending creates a pending API response with a message and result data.
// Used for purchases that were created but have not reached a terminal
// payment state yet.
func Pending(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusPending), Message: message, Result: result}
}
