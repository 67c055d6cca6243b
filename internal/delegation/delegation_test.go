package delegation

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChainID = int64(10143)
	testManager = "0x739309deED0Ae184E66a427ACa432aE1D91d022e"
)

func testDelegation() Delegation {
	return Delegation{
		Delegate:  "0x1111111111111111111111111111111111111111",
		Delegator: "0x2222222222222222222222222222222222222222",
		Authority: "0x0000000000000000000000000000000000000000000000000000000000000000",
		Caveats: []Caveat{
			{
				Enforcer: "0x3333333333333333333333333333333333333333",
				Terms:    "0xdeadbeef",
			},
		},
		Salt:      "0x01",
		Signature: "0x" + strings.Repeat("ab", 65),
	}
}

// signedDelegation builds a delegation signed by a freshly generated key,
// with delegator set to the key's address.
func signedDelegation(t *testing.T, v *Verifier) Delegation {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	d := testDelegation()
	d.Delegator = addr

	digest, err := v.SigningHash(&d)
	require.NoError(t, err)

	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27 // wallets emit v = 27/28

	d.Signature = "0x" + hex.EncodeToString(sig)
	return d
}

func TestValidate_StructuralChecks(t *testing.T) {
	d := testDelegation()
	assert.False(t, d.Validate().HasErrors())

	bad := d
	bad.Delegate = "not-an-address"
	assert.True(t, bad.Validate().HasErrors())

	bad = d
	bad.Caveats = nil
	assert.True(t, bad.Validate().HasErrors(), "empty caveats grant unbounded authority")

	bad = d
	bad.Signature = ""
	assert.True(t, bad.Validate().HasErrors())
}

func TestVerify_RecoversDelegator(t *testing.T) {
	v := NewVerifier(testChainID, testManager)
	d := signedDelegation(t, v)

	recovered, err := v.RecoverSigner(&d)
	require.NoError(t, err)
	assert.Equal(t, d.Delegator, recovered)

	assert.NoError(t, v.Verify(&d))
}

func TestVerify_RejectsWrongDelegator(t *testing.T) {
	v := NewVerifier(testChainID, testManager)
	d := signedDelegation(t, v)
	d.Delegator = "0x9999999999999999999999999999999999999999"

	err := v.Verify(&d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature mismatch")
}

func TestVerify_DigestBindsToDomain(t *testing.T) {
	v := NewVerifier(testChainID, testManager)
	d := signedDelegation(t, v)

	// Same delegation verified against a different chain must fail: the
	// EIP-712 domain separator changes the digest.
	other := NewVerifier(1, testManager)
	assert.Error(t, other.Verify(&d))
}

func TestVerify_MalformedSignature(t *testing.T) {
	v := NewVerifier(testChainID, testManager)

	d := testDelegation()
	d.Signature = "0x1234"
	_, err := v.RecoverSigner(&d)
	assert.Error(t, err)

	d.Signature = "zzzz"
	_, err = v.RecoverSigner(&d)
	assert.Error(t, err)
}

func TestParseSalt(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
		ok   bool
	}{
		{"0x01", "1", true},
		{"0xff", "255", true},
		{"42", "42", true},
		{"", "", false},
		{"0xzz", "", false},
	} {
		got, err := ParseSalt(tc.in)
		if tc.ok {
			require.NoError(t, err, "salt %q", tc.in)
			assert.Equal(t, tc.want, got.String())
		} else {
			assert.Error(t, err, "salt %q", tc.in)
		}
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := testDelegation()

	_, err := s.Get(ctx, "0xAAA0000000000000000000000000000000000001")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "0xAAA0000000000000000000000000000000000001", &d))

	// lookup is case-insensitive
	got, err := s.Get(ctx, "0xaaa0000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, d.Delegate, got.Delegate)
	assert.Len(t, got.Caveats, 1)

	exists, err := s.Exists(ctx, "0xAAA0000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, "0xaaa0000000000000000000000000000000000001"))
	exists, err = s.Exists(ctx, "0xaaa0000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_CopiesOnGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := testDelegation()
	require.NoError(t, s.Put(ctx, d.Delegator, &d))

	got, err := s.Get(ctx, d.Delegator)
	require.NoError(t, err)
	got.Caveats[0].Enforcer = "0x0000000000000000000000000000000000000000"

	again, err := s.Get(ctx, d.Delegator)
	require.NoError(t, err)
	assert.Equal(t, "0x3333333333333333333333333333333333333333", again.Caveats[0].Enforcer)
}
