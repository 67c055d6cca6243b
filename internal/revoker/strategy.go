package revoker

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultGasLimit for delegation redemptions when estimation fails
	DefaultGasLimit = uint64(500000)

	// DefaultConfirmationTimeout for waiting on transactions
	DefaultConfirmationTimeout = 60 * time.Second

	// ConfirmationPollInterval between receipt checks
	ConfirmationPollInterval = 2 * time.Second
)

// TxHandle identifies a submitted transaction across strategies.
type TxHandle struct {
	Hash string
}

// Confirmation is the finalized result of a submission.
type Confirmation struct {
	Success     bool
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// Strategy submits a prepared redemption and waits for its confirmation.
// The executor's contract is independent of which strategy is wired in.
type Strategy interface {
	Name() string
	Submit(ctx context.Context, target common.Address, calldata []byte, value *big.Int) (*TxHandle, error)
	AwaitConfirmation(ctx context.Context, handle *TxHandle) (*Confirmation, error)
}
