package delegation

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EIP-712 type hashes for the delegation framework's signing scheme.
var (
	domainTypeHash = crypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	delegationTypeHash = crypto.Keccak256(
		[]byte("Delegation(address delegate,address delegator,bytes32 authority,Caveat[] caveats,uint256 salt)Caveat(address enforcer,bytes terms)"))
	caveatTypeHash = crypto.Keccak256(
		[]byte("Caveat(address enforcer,bytes terms)"))

	domainName    = crypto.Keccak256([]byte("DelegationManager"))
	domainVersion = crypto.Keccak256([]byte("1"))
)

// Verifier recovers and checks delegation signatures against a specific
// chain and delegation manager contract (the EIP-712 domain).
type Verifier struct {
	chainID *big.Int
	manager common.Address
}

// NewVerifier creates a verifier bound to the given chain and manager.
func NewVerifier(chainID int64, managerAddr string) *Verifier {
	return &Verifier{
		chainID: big.NewInt(chainID),
		manager: common.HexToAddress(managerAddr),
	}
}

func hashCaveat(c Caveat) []byte {
	return crypto.Keccak256(
		caveatTypeHash,
		common.LeftPadBytes(common.HexToAddress(c.Enforcer).Bytes(), 32),
		crypto.Keccak256(common.FromHex(c.Terms)),
	)
}

func hashDelegation(d *Delegation) ([]byte, error) {
	salt, err := ParseSalt(d.Salt)
	if err != nil {
		return nil, err
	}

	caveatHashes := make([]byte, 0, len(d.Caveats)*32)
	for _, c := range d.Caveats {
		caveatHashes = append(caveatHashes, hashCaveat(c)...)
	}

	return crypto.Keccak256(
		delegationTypeHash,
		common.LeftPadBytes(common.HexToAddress(d.Delegate).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(d.Delegator).Bytes(), 32),
		common.HexToHash(d.Authority).Bytes(),
		crypto.Keccak256(caveatHashes),
		common.LeftPadBytes(salt.Bytes(), 32),
	), nil
}

func (v *Verifier) domainSeparator() []byte {
	return crypto.Keccak256(
		domainTypeHash,
		domainName,
		domainVersion,
		common.LeftPadBytes(v.chainID.Bytes(), 32),
		common.LeftPadBytes(v.manager.Bytes(), 32),
	)
}

// SigningHash computes the EIP-712 digest the delegator signed.
func (v *Verifier) SigningHash(d *Delegation) ([]byte, error) {
	structHash, err := hashDelegation(d)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256([]byte{0x19, 0x01}, v.domainSeparator(), structHash), nil
}

// RecoverSigner recovers the address that produced the delegation signature.
func (v *Verifier) RecoverSigner(d *Delegation) (string, error) {
	sigHex := strings.TrimPrefix(d.Signature, "0x")
	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(signature) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}

	// Ethereum signatures carry v = 27 or 28, Ecrecover expects 0 or 1
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest, err := v.SigningHash(d)
	if err != nil {
		return "", err
	}

	pubKeyBytes, err := crypto.Ecrecover(digest, sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to unmarshal public key: %w", err)
	}

	return strings.ToLower(crypto.PubkeyToAddress(*pubKey).Hex()), nil
}

// Verify checks that the delegation was signed by its delegator.
func (v *Verifier) Verify(d *Delegation) error {
	recovered, err := v.RecoverSigner(d)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	if !strings.EqualFold(recovered, d.Delegator) {
		return fmt.Errorf("signature mismatch: expected %s, got %s",
			strings.ToLower(d.Delegator), recovered)
	}
	return nil
}

// ParseSalt accepts hex (0x-prefixed) or decimal salt encodings.
func ParseSalt(s string) (*big.Int, error) {
	v := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = v.SetString(s[2:], 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid salt %q", s)
	}
	return v, nil
}
