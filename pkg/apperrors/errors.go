// Package apperrors defines sentinel errors shared across the engine.
package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrNoDatasource      = errors.New("no datasource configured")
	ErrUnknownOperation  = errors.New("unknown operation")
	ErrUnknownInputField = errors.New("unknown input field")
	ErrInvalidIdentifier = errors.New("invalid SQL identifier")
	ErrInjectionDetected = errors.New("SQL injection pattern detected")
	ErrApproverRequired  = errors.New("approver identity required")
)
