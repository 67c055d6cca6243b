// Package approval defines the approval event model and webhook payload
// parsing for inbound indexer notifications.
package approval

import (
	"fmt"
	"math/big"

	"github.com/mbd888/sentinel/internal/validation"
)

// maxUint256 is 2^256 - 1, the conventional "unlimited" ERC-20 allowance.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Event is one observed on-chain approval, normalized for processing.
// Events are immutable after construction.
type Event struct {
	ApprovalID  string
	Owner       string
	Token       string
	Spender     string
	Amount      *big.Int
	Timestamp   int64
	BlockNumber int64
}

// IsRevocation reports whether the approval clears itself (amount == 0).
func (e *Event) IsRevocation() bool {
	return e.Amount.Sign() == 0
}

// IsUnlimited reports whether the approval grants the maximum allowance.
func (e *Event) IsUnlimited() bool {
	return e.Amount.Cmp(maxUint256) == 0
}

// Key returns the idempotency key for the (owner, token, spender) triple.
func (e *Event) Key() string {
	return fmt.Sprintf("%s|%s|%s", e.Owner, e.Token, e.Spender)
}

// WebhookPayload is the raw JSON body posted by the indexer.
type WebhookPayload struct {
	ApprovalID   string `json:"approvalId"`
	UserAddress  string `json:"userAddress"`
	TokenAddress string `json:"tokenAddress"`
	Spender      string `json:"spender"`
	Amount       string `json:"amount"`
	Timestamp    int64  `json:"timestamp"`
	BlockNumber  int64  `json:"blockNumber"`
}

// Validate checks all required fields and types. It returns every field
// failure rather than stopping at the first one.
func (p *WebhookPayload) Validate() validation.FieldErrors {
	var errs validation.FieldErrors

	if p.ApprovalID == "" {
		errs.Add("approvalId", "required")
	}
	if p.UserAddress == "" {
		errs.Add("userAddress", "required")
	} else if !validation.IsValidEthAddress(p.UserAddress) {
		errs.Add("userAddress", "must be a 20-byte hex address")
	}
	if p.TokenAddress == "" {
		errs.Add("tokenAddress", "required")
	} else if !validation.IsValidEthAddress(p.TokenAddress) {
		errs.Add("tokenAddress", "must be a 20-byte hex address")
	}
	if p.Spender == "" {
		errs.Add("spender", "required")
	} else if !validation.IsValidEthAddress(p.Spender) {
		errs.Add("spender", "must be a 20-byte hex address")
	}
	if p.Amount == "" {
		errs.Add("amount", "required")
	} else if _, ok := validation.ParseAmount(p.Amount); !ok {
		errs.Add("amount", "must be an unsigned decimal integer up to 2^256-1")
	}
	if p.Timestamp < 0 {
		errs.Add("timestamp", "must be non-negative")
	}
	if p.BlockNumber < 0 {
		errs.Add("blockNumber", "must be non-negative")
	}

	return errs
}

// ToEvent converts a validated payload into a normalized Event.
// Addresses are lowercased so the idempotency key and delegation lookups
// are case-insensitive. Callers must run Validate first.
func (p *WebhookPayload) ToEvent() (*Event, error) {
	amount, ok := validation.ParseAmount(p.Amount)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", p.Amount)
	}
	return &Event{
		ApprovalID:  p.ApprovalID,
		Owner:       validation.NormalizeAddress(p.UserAddress),
		Token:       validation.NormalizeAddress(p.TokenAddress),
		Spender:     validation.NormalizeAddress(p.Spender),
		Amount:      amount,
		Timestamp:   p.Timestamp,
		BlockNumber: p.BlockNumber,
	}, nil
}
