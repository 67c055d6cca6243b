package revoker

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/mbd888/sentinel/internal/chain"
)

// Upgraded submits redemptions through an EIP-7702 set-code transaction:
// the operator account is temporarily upgraded with delegator contract
// code so the redemption executes from an account-abstraction context.
type Upgraded struct {
	client         chain.EthClient
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	chainID        *big.Int
	implementation common.Address
	confirmTimeout time.Duration
}

// UpgradedConfig configures the account-upgrade strategy.
type UpgradedConfig struct {
	PrivateKey          string
	ChainID             int64
	Implementation      string // delegator implementation contract
	ConfirmationTimeout time.Duration
}

// NewUpgraded creates the EIP-7702 submission strategy.
func NewUpgraded(client chain.EthClient, cfg UpgradedConfig) (*Upgraded, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid operator key: %w", err)
	}

	timeout := cfg.ConfirmationTimeout
	if timeout <= 0 {
		timeout = DefaultConfirmationTimeout
	}

	return &Upgraded{
		client:         client,
		privateKey:     key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:        big.NewInt(cfg.ChainID),
		implementation: common.HexToAddress(cfg.Implementation),
		confirmTimeout: timeout,
	}, nil
}

func (u *Upgraded) Name() string { return "upgraded" }

func (u *Upgraded) Submit(ctx context.Context, target common.Address, calldata []byte, value *big.Int) (*TxHandle, error) {
	nonce, err := u.client.PendingNonceAt(ctx, u.address)
	if err != nil {
		return nil, &RevokeError{Op: "nonce", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}

	tip, err := u.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, &RevokeError{Op: "gas_tip", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}

	head, err := u.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, &RevokeError{Op: "head", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	chainID, overflow := uint256.FromBig(u.chainID)
	if overflow {
		return nil, &RevokeError{Op: "chain_id", Err: fmt.Errorf("%w: chain id overflow", ErrSubmissionFailed)}
	}

	// The authorization nonce is nonce+1: the transaction itself consumes
	// the account's current nonce before the authorization is checked.
	auth, err := types.SignSetCode(u.privateKey, types.SetCodeAuthorization{
		ChainID: *chainID,
		Address: u.implementation,
		Nonce:   nonce + 1,
	})
	if err != nil {
		return nil, &RevokeError{Op: "sign_auth", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}

	gasLimit, err := u.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  u.address,
		To:    &target,
		Value: value,
		Data:  calldata,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tipCap, _ := uint256.FromBig(tip)
	feeCapU, _ := uint256.FromBig(feeCap)
	valueU, overflow := uint256.FromBig(value)
	if overflow {
		return nil, &RevokeError{Op: "value", Err: fmt.Errorf("%w: value overflow", ErrSubmissionFailed)}
	}

	tx := types.NewTx(&types.SetCodeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCapU,
		Gas:       gasLimit,
		To:        target,
		Value:     valueU,
		Data:      calldata,
		AuthList:  []types.SetCodeAuthorization{auth},
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(u.chainID), u.privateKey)
	if err != nil {
		return nil, &RevokeError{Op: "sign", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}

	if err := u.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, &RevokeError{
			Op:     "send",
			TxHash: signedTx.Hash().Hex(),
			Err:    fmt.Errorf("%w: %v", ErrSubmissionFailed, err),
		}
	}

	return &TxHandle{Hash: signedTx.Hash().Hex()}, nil
}

func (u *Upgraded) AwaitConfirmation(ctx context.Context, handle *TxHandle) (*Confirmation, error) {
	return awaitReceipt(ctx, u.client, handle, u.confirmTimeout)
}

var _ Strategy = (*Upgraded)(nil)
