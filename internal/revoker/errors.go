package revoker

import (
	"errors"
	"fmt"
)

// Typed errors for programmatic handling.
var (
	ErrDelegationNotFound  = errors.New("revoker: delegation not found")
	ErrEncoding            = errors.New("revoker: encoding failed")
	ErrSubmissionFailed    = errors.New("revoker: submission failed")
	ErrConfirmationTimeout = errors.New("revoker: confirmation timed out")
	ErrTransactionReverted = errors.New("revoker: transaction reverted")
)

// RevokeError wraps revocation failures with context.
type RevokeError struct {
	Op     string // Operation that failed
	TxHash string // Transaction hash if available
	Err    error  // Underlying error
}

func (e *RevokeError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("revoker: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("revoker: %s failed: %v", e.Op, e.Err)
}

func (e *RevokeError) Unwrap() error { return e.Err }
