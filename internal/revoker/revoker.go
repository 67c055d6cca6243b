// Package revoker executes on-chain revocations of malicious approvals by
// redeeming the owner's pre-signed delegation. The owner never signs at
// revocation time.
package revoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/sentinel/internal/approval"
	"github.com/mbd888/sentinel/internal/delegation"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/retry"
)

// Outcome status values.
const (
	OutcomeConfirmed      = "confirmed"
	OutcomeAlreadyCleared = "already_cleared"
)

// Outcome reports a completed revocation back to the pipeline.
type Outcome struct {
	Status      string
	TxHash      string
	BlockNumber uint64
}

// AllowanceReader reads the live on-chain allowance. Satisfied by
// chain.Reader.
type AllowanceReader interface {
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
}

// Config tunes the executor's retry policy.
type Config struct {
	DelegationManager string
	MaxAttempts       int
	BaseDelay         time.Duration
}

// Executor runs the five-step revocation: delegation lookup, call
// construction, redemption encoding, submission, confirmation.
type Executor struct {
	delegations delegation.Store
	strategy    Strategy
	records     RecordStore
	allowance   AllowanceReader
	encoder     *Encoder
	manager     common.Address
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// NewExecutor creates a revocation executor.
func NewExecutor(
	delegations delegation.Store,
	strategy Strategy,
	records RecordStore,
	allowance AllowanceReader,
	cfg Config,
	logger *slog.Logger,
) (*Executor, error) {
	encoder, err := NewEncoder()
	if err != nil {
		return nil, err
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}

	return &Executor{
		delegations: delegations,
		strategy:    strategy,
		records:     records,
		allowance:   allowance,
		encoder:     encoder,
		manager:     common.HexToAddress(cfg.DelegationManager),
		logger:      logger,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}, nil
}

// Revoke neutralizes a malicious approval. The operation is complete only
// once confirmation is observed; submission alone is not success.
func (e *Executor) Revoke(ctx context.Context, ev *approval.Event) (*Outcome, error) {
	start := time.Now()
	outcome, err := e.revoke(ctx, ev)

	status := StatusFailed
	if err == nil {
		status = outcome.Status
	}
	metrics.RevocationsTotal.WithLabelValues(status).Inc()
	metrics.RevocationDuration.Observe(time.Since(start).Seconds())

	return outcome, err
}

func (e *Executor) revoke(ctx context.Context, ev *approval.Event) (*Outcome, error) {
	// Step 1: the stored delegation is the sole authority for this call.
	// Absence is terminal for the event.
	deleg, err := e.delegations.Get(ctx, ev.Owner)
	if err != nil {
		if errors.Is(err, delegation.ErrNotFound) {
			return nil, &RevokeError{Op: "lookup", Err: fmt.Errorf("%w: owner %s", ErrDelegationNotFound, ev.Owner)}
		}
		return nil, &RevokeError{Op: "lookup", Err: err}
	}
	if len(deleg.Caveats) == 0 {
		// An uncaveated delegation grants unbounded authority. Refuse it.
		return nil, &RevokeError{Op: "lookup", Err: fmt.Errorf("%w: delegation has no caveats", ErrEncoding)}
	}

	// Step 2: approve(spender, 0) against the token.
	calldata, err := e.encoder.ApproveCalldata(ev.Spender)
	if err != nil {
		return nil, &RevokeError{Op: "encode", Err: err}
	}

	// Step 3: wrap the call in a redemption proving the owner authorized it.
	redemption, err := e.encoder.RedeemCalldata(deleg, common.HexToAddress(ev.Token), calldata)
	if err != nil {
		return nil, &RevokeError{Op: "encode", Err: err}
	}

	// Steps 4 and 5: submit and await confirmation, with bounded retry.
	var outcome *Outcome
	err = retry.Do(ctx, e.maxAttempts, e.baseDelay, func() error {
		handle, err := e.strategy.Submit(ctx, e.manager, redemption, big.NewInt(0))
		if err != nil {
			e.logger.Warn("revocation submission failed",
				"approval_id", ev.ApprovalID, "strategy", e.strategy.Name(), "error", err)
			return err
		}

		e.recordSubmission(ctx, ev, handle.Hash)
		e.logger.Info("revocation submitted",
			"approval_id", ev.ApprovalID, "tx_hash", handle.Hash, "strategy", e.strategy.Name())

		conf, err := e.strategy.AwaitConfirmation(ctx, handle)
		if err != nil {
			if cleared := e.allowanceCleared(ctx, ev); cleared {
				outcome = e.finishCleared(ctx, ev, handle.Hash)
				return nil
			}
			e.updateRecord(ctx, ev.ApprovalID, StatusFailed, nil)
			return err
		}

		if !conf.Success {
			// A reverted redemption usually means the approval was already
			// cleared out-of-band; the desired end state is achieved.
			if cleared := e.allowanceCleared(ctx, ev); cleared {
				outcome = e.finishCleared(ctx, ev, handle.Hash)
				return nil
			}
			e.updateRecord(ctx, ev.ApprovalID, StatusFailed, nil)
			return &RevokeError{Op: "confirm", TxHash: handle.Hash, Err: ErrTransactionReverted}
		}

		now := time.Now().UTC()
		e.updateRecord(ctx, ev.ApprovalID, StatusConfirmed, &now)
		outcome = &Outcome{
			Status:      OutcomeConfirmed,
			TxHash:      conf.TxHash,
			BlockNumber: conf.BlockNumber,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return outcome, nil
}

// allowanceCleared checks whether the approval is already zero on chain,
// which turns a confirmation failure into a success.
func (e *Executor) allowanceCleared(ctx context.Context, ev *approval.Event) bool {
	if e.allowance == nil {
		return false
	}
	remaining, err := e.allowance.Allowance(ctx, ev.Token, ev.Owner, ev.Spender)
	if err != nil {
		e.logger.Warn("allowance check failed",
			"approval_id", ev.ApprovalID, "error", err)
		return false
	}
	return remaining.Sign() == 0
}

func (e *Executor) finishCleared(ctx context.Context, ev *approval.Event, txHash string) *Outcome {
	now := time.Now().UTC()
	e.updateRecord(ctx, ev.ApprovalID, StatusConfirmed, &now)
	e.logger.Info("approval already cleared on chain",
		"approval_id", ev.ApprovalID, "tx_hash", txHash)
	return &Outcome{Status: OutcomeAlreadyCleared, TxHash: txHash}
}

func (e *Executor) recordSubmission(ctx context.Context, ev *approval.Event, txHash string) {
	err := e.records.Create(ctx, &Record{
		ApprovalID:  ev.ApprovalID,
		Owner:       ev.Owner,
		Token:       ev.Token,
		Spender:     ev.Spender,
		TxHash:      txHash,
		Strategy:    e.strategy.Name(),
		Status:      StatusPending,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("failed to persist revocation record",
			"approval_id", ev.ApprovalID, "error", err)
	}
}

func (e *Executor) updateRecord(ctx context.Context, approvalID, status string, confirmedAt *time.Time) {
	if err := e.records.UpdateStatus(ctx, approvalID, status, confirmedAt); err != nil {
		e.logger.Error("failed to update revocation record",
			"approval_id", approvalID, "status", status, "error", err)
	}
}
