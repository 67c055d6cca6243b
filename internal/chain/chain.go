// Package chain wraps the go-ethereum client with the narrow read and
// submit surface the rest of the service needs.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var ErrRPCConnection = errors.New("chain: RPC connection failed")

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// ERC20 minimal ABI for approve and allowance
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// Reader provides the on-chain reads the classifier and executor depend on.
type Reader struct {
	client EthClient
	abi    abi.ABI
}

// NewReader creates a reader over an existing client.
func NewReader(client EthClient) (*Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	return &Reader{client: client, abi: parsed}, nil
}

// Dial connects to the RPC endpoint and returns a client.
func Dial(rpcURL string) (EthClient, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
	}
	return client, nil
}

// CodeAt returns the deployed bytecode at an address. Empty for EOAs.
func (r *Reader) CodeAt(ctx context.Context, addr string) ([]byte, error) {
	code, err := r.client.CodeAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch code at %s: %w", addr, err)
	}
	return code, nil
}

// Allowance reads the live ERC-20 allowance for (owner, spender) on a token.
func (r *Reader) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	data, err := r.abi.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}

	tokenAddr := common.HexToAddress(token)
	result, err := r.client.CallContract(ctx, ethereum.CallMsg{
		To:   &tokenAddr,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call allowance: %w", err)
	}

	return new(big.Int).SetBytes(result), nil
}

// Client exposes the underlying client for transaction submission.
func (r *Reader) Client() EthClient {
	return r.client
}
