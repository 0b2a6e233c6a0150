package chain

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrTransactionFailed is returned when a landed transaction carries an error status.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrConfirmTimeout is returned when a signature does not reach the
	// requested commitment before the confirm timeout.
	ErrConfirmTimeout = errors.New("confirmation timed out")

	// ErrAccountNotFound is returned when an account does not exist.
	ErrAccountNotFound = errors.New("account not found")
)

// TxError wraps a submission or confirmation failure with the operation
// name and, when the transaction was sent, its signature.
type TxError struct {
	Op        string
	Signature solana.Signature
	Err       error
}

func (e *TxError) Error() string {
	if e.Signature == (solana.Signature{}) {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Signature, e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}
