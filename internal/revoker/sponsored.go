package revoker

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Sponsored submits redemptions through a gasless relayer service: the
// relayer signs and pays for the transaction, the service only tracks it.
type Sponsored struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// SponsoredConfig configures the relayed strategy.
type SponsoredConfig struct {
	RelayerURL          string
	APIKey              string
	ConfirmationTimeout time.Duration
}

// NewSponsored creates the relayed submission strategy.
func NewSponsored(cfg SponsoredConfig) (*Sponsored, error) {
	if cfg.RelayerURL == "" {
		return nil, errors.New("revoker: relayer URL required")
	}

	timeout := cfg.ConfirmationTimeout
	if timeout <= 0 {
		timeout = DefaultConfirmationTimeout
	}

	return &Sponsored{
		baseURL:        cfg.RelayerURL,
		apiKey:         cfg.APIKey,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		confirmTimeout: timeout,
		pollInterval:   ConfirmationPollInterval,
	}, nil
}

func (s *Sponsored) Name() string { return "sponsored" }

type relaySubmitRequest struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

type relaySubmitResponse struct {
	TxHash string `json:"txHash"`
}

type relayStatusResponse struct {
	Status      string `json:"status"` // pending | confirmed | failed
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
}

func (s *Sponsored) Submit(ctx context.Context, target common.Address, calldata []byte, value *big.Int) (*TxHandle, error) {
	body, err := json.Marshal(relaySubmitRequest{
		To:    target.Hex(),
		Data:  "0x" + hex.EncodeToString(calldata),
		Value: value.String(),
	})
	if err != nil {
		return nil, &RevokeError{Op: "marshal", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, &RevokeError{Op: "request", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &RevokeError{Op: "send", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, &RevokeError{
			Op:  "send",
			Err: fmt.Errorf("%w: relayer returned status %d", ErrSubmissionFailed, resp.StatusCode),
		}
	}

	var submitResp relaySubmitResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&submitResp); err != nil {
		return nil, &RevokeError{Op: "decode", Err: fmt.Errorf("%w: %v", ErrSubmissionFailed, err)}
	}
	if submitResp.TxHash == "" {
		return nil, &RevokeError{Op: "decode", Err: fmt.Errorf("%w: relayer returned no txHash", ErrSubmissionFailed)}
	}

	return &TxHandle{Hash: submitResp.TxHash}, nil
}

func (s *Sponsored) AwaitConfirmation(ctx context.Context, handle *TxHandle) (*Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
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
			status, err := s.status(ctx, handle.Hash)
			if err != nil {
				// Relayer hiccup, keep polling until the deadline
				continue
			}

			switch status.Status {
			case "confirmed":
				return &Confirmation{
					Success:     true,
					TxHash:      handle.Hash,
					BlockNumber: status.BlockNumber,
					GasUsed:     status.GasUsed,
				}, nil
			case "failed":
				return &Confirmation{Success: false, TxHash: handle.Hash}, nil
			default:
				// still pending
			}
		}
	}
}

func (s *Sponsored) status(ctx context.Context, txHash string) (*relayStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/v1/transactions/"+txHash, nil)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relayer status returned %d", resp.StatusCode)
	}

	var status relayStatusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

var _ Strategy = (*Sponsored)(nil)
