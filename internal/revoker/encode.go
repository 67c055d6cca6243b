package revoker

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/sentinel/internal/delegation"
)

// ERC20 minimal ABI for approve
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// modeSingleDefault is the delegation manager's execution mode for one
// plain call: all-zero bytes32.
var modeSingleDefault [32]byte

// abiCaveat and abiDelegation mirror the delegation manager's tuple layout.
// Field order matters: the ABI encoder maps struct fields positionally.
type abiCaveat struct {
	Enforcer common.Address
	Terms    []byte
	Args     []byte
}

type abiDelegation struct {
	Delegate  common.Address
	Delegator common.Address
	Authority common.Hash
	Caveats   []abiCaveat
	Salt      *big.Int
	Signature []byte
}

// Encoder builds the calldata for delegation redemptions.
type Encoder struct {
	erc20       abi.ABI
	redeemArgs  abi.Arguments
	contextArgs abi.Arguments
	selector    []byte
}

// NewEncoder constructs the ABI machinery once at startup.
func NewEncoder() (*Encoder, error) {
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	delegationArr, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "delegate", Type: "address"},
		{Name: "delegator", Type: "address"},
		{Name: "authority", Type: "bytes32"},
		{Name: "caveats", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "enforcer", Type: "address"},
			{Name: "terms", Type: "bytes"},
			{Name: "args", Type: "bytes"},
		}},
		{Name: "salt", Type: "uint256"},
		{Name: "signature", Type: "bytes"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build delegation type: %w", err)
	}

	bytesArr, err := abi.NewType("bytes[]", "", nil)
	if err != nil {
		return nil, err
	}
	bytes32Arr, err := abi.NewType("bytes32[]", "", nil)
	if err != nil {
		return nil, err
	}

	// redeemDelegations(bytes[] permissionContexts, bytes32[] modes, bytes[] executionCallDatas)
	selector := crypto.Keccak256([]byte("redeemDelegations(bytes[],bytes32[],bytes[])"))[:4]

	return &Encoder{
		erc20: erc20,
		redeemArgs: abi.Arguments{
			{Type: bytesArr},
			{Type: bytes32Arr},
			{Type: bytesArr},
		},
		contextArgs: abi.Arguments{{Type: delegationArr}},
		selector:    selector,
	}, nil
}

// ApproveCalldata encodes approve(spender, 0), the minimal call that
// neutralizes an approval.
func (e *Encoder) ApproveCalldata(spender string) ([]byte, error) {
	data, err := e.erc20.Pack("approve", common.HexToAddress(spender), big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("%w: pack approve: %v", ErrEncoding, err)
	}
	return data, nil
}

// ExecutionCalldata packs a single execution for the default mode:
// target (20 bytes) ++ value (32 bytes) ++ calldata.
func ExecutionCalldata(target common.Address, value *big.Int, calldata []byte) []byte {
	packed := make([]byte, 0, 52+len(calldata))
	packed = append(packed, target.Bytes()...)
	packed = append(packed, common.LeftPadBytes(value.Bytes(), 32)...)
	packed = append(packed, calldata...)
	return packed
}

// RedeemCalldata encodes the full redeemDelegations payload proving the
// call is authorized by the owner's delegation.
func (e *Encoder) RedeemCalldata(d *delegation.Delegation, target common.Address, calldata []byte) ([]byte, error) {
	converted, err := convertDelegation(d)
	if err != nil {
		return nil, err
	}

	permissionContext, err := e.contextArgs.Pack([]abiDelegation{*converted})
	if err != nil {
		return nil, fmt.Errorf("%w: pack delegation: %v", ErrEncoding, err)
	}

	execution := ExecutionCalldata(target, big.NewInt(0), calldata)

	packed, err := e.redeemArgs.Pack(
		[][]byte{permissionContext},
		[][32]byte{modeSingleDefault},
		[][]byte{execution},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: pack redemption: %v", ErrEncoding, err)
	}

	return append(append([]byte{}, e.selector...), packed...), nil
}

func convertDelegation(d *delegation.Delegation) (*abiDelegation, error) {
	salt, err := delegation.ParseSalt(d.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	caveats := make([]abiCaveat, len(d.Caveats))
	for i, c := range d.Caveats {
		caveats[i] = abiCaveat{
			Enforcer: common.HexToAddress(c.Enforcer),
			Terms:    common.FromHex(c.Terms),
			Args:     common.FromHex(c.Args),
		}
	}

	sig := common.FromHex(d.Signature)
	if len(sig) == 0 {
		return nil, fmt.Errorf("%w: empty signature", ErrEncoding)
	}

	return &abiDelegation{
		Delegate:  common.HexToAddress(d.Delegate),
		Delegator: common.HexToAddress(d.Delegator),
		Authority: common.HexToHash(d.Authority),
		Caveats:   caveats,
		Salt:      salt,
		Signature: sig,
	}, nil
}
