package revoker

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/sentinel/internal/chain"
)

// SelfFunded submits redemptions as plain dynamic-fee transactions signed
// and paid for by the operator key.
type SelfFunded struct {
	client         chain.EthClient
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	chainID        *big.Int
	confirmTimeout time.Duration
}

// SelfFundedConfig configures the self-funded strategy.
type SelfFundedConfig struct {
	PrivateKey          string // hex, with or without 0x prefix
	ChainID             int64
	ConfirmationTimeout time.Duration
}

// NewSelfFunded creates the self-funded submission strategy.
func NewSelfFunded(client chain.EthClient, cfg SelfFundedConfig) (*SelfFunded, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid operator key: %w", err)
	}

	timeout := cfg.ConfirmationTimeout
	if timeout <= 0 {
		timeout = DefaultConfirmationTimeout
	}

	return &SelfFunded{
		client:         client,
		privateKey:     key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:        big.NewInt(cfg.ChainID),
		confirmTimeout: timeout,
	}, nil
}

func (s *SelfFunded) Name() string { return "selffunded" }

// Address returns the operator address funding submissions.
func (s *SelfFunded) Address() string { return s.address.Hex() }

func (s *SelfFunded) Submit(ctx context.Context, target common.Address, calldata []byte, value *big.Int) (*TxHandle, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return nil, &RevokeError{Op: "nonce", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}

	tip, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, &RevokeError{Op: "gas_tip", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}

	head, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, &RevokeError{Op: "head", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &target,
		Value: value,
		Data:  calldata,
	})
	if err != nil {
		// Use default if estimation fails
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      calldata,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return nil, &RevokeError{Op: "sign", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, &RevokeError{
			Op:     "send",
			TxHash: signedTx.Hash().Hex(),
			Err:    fmt.Errorf("%w: %v", ErrSubmissionFailed, err),
		}
	}

	return &TxHandle{Hash: signedTx.Hash().Hex()}, nil
}

func (s *SelfFunded) AwaitConfirmation(ctx context.Context, handle *TxHandle) (*Confirmation, error) {
	return awaitReceipt(ctx, s.client, handle, s.confirmTimeout)
}

// awaitReceipt polls for a transaction receipt until the timeout. Shared
// by the strategies that read receipts directly from the chain.
func awaitReceipt(ctx context.Context, client chain.EthClient, handle *TxHandle, timeout time.Duration) (*Confirmation, error) {
	hash := common.HexToHash(handle.Hash)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &RevokeError{
					Op:     "confirm",
					TxHash: handle.Hash,
					Err:    ErrConfirmationTimeout,
				}
			}
			return nil, ctx.Err()

		case <-ticker.C:
			receipt, err := client.TransactionReceipt(ctx, hash)
			if err != nil {
				// Transaction not yet mined, continue waiting
				continue
			}

			return &Confirmation{
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
				TxHash:      handle.Hash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}, nil
		}
	}
}

var _ Strategy = (*SelfFunded)(nil)
