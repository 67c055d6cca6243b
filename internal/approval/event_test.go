package approval

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload() WebhookPayload {
	return WebhookPayload{
		ApprovalID:   "10143-12345-7",
		UserAddress:  "0xAbC1230000000000000000000000000000000001",
		TokenAddress: "0xAbC1230000000000000000000000000000000002",
		Spender:      "0xAbC1230000000000000000000000000000000003",
		Amount:       "1000000000000000000",
		Timestamp:    1756700000,
		BlockNumber:  12345,
	}
}

func TestValidate_AllFieldsOK(t *testing.T) {
	p := validPayload()
	assert.False(t, p.Validate().HasErrors())
}

func TestValidate_MissingFields(t *testing.T) {
	p := WebhookPayload{}
	errs := p.Validate()
	require.True(t, errs.HasErrors())

	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, f := range []string{"approvalId", "userAddress", "tokenAddress", "spender", "amount"} {
		assert.True(t, fields[f], "expected error for %s", f)
	}
}

func TestValidate_BadAddress(t *testing.T) {
	p := validPayload()
	p.Spender = "0x1234"
	errs := p.Validate()
	require.True(t, errs.HasErrors())
	assert.Equal(t, "spender", errs[0].Field)
}

func TestValidate_BadAmount(t *testing.T) {
	for _, bad := range []string{"-1", "1.5", "0x10", "abc"} {
		p := validPayload()
		p.Amount = bad
		assert.True(t, p.Validate().HasErrors(), "amount %q should fail", bad)
	}
}

func TestValidate_AmountOverflow(t *testing.T) {
	p := validPayload()
	// 2^256, one past the largest representable allowance
	p.Amount = "115792089237316195423570985008687907853269984665640564039457584007913129639936"
	assert.True(t, p.Validate().HasErrors())
}

func TestToEvent_NormalizesAddresses(t *testing.T) {
	p := validPayload()
	ev, err := p.ToEvent()
	require.NoError(t, err)

	assert.Equal(t, strings.ToLower(p.UserAddress), ev.Owner)
	assert.Equal(t, strings.ToLower(p.TokenAddress), ev.Token)
	assert.Equal(t, strings.ToLower(p.Spender), ev.Spender)
	assert.Equal(t, "1000000000000000000", ev.Amount.String())
}

func TestEvent_IsRevocation(t *testing.T) {
	ev := &Event{Amount: big.NewInt(0)}
	assert.True(t, ev.IsRevocation())

	ev.Amount = big.NewInt(1)
	assert.False(t, ev.IsRevocation())
}

func TestEvent_IsUnlimited(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	ev := &Event{Amount: max}
	assert.True(t, ev.IsUnlimited())

	ev.Amount = new(big.Int).Sub(max, big.NewInt(1))
	assert.False(t, ev.IsUnlimited())
}

func TestEvent_Key(t *testing.T) {
	ev := &Event{Owner: "0xaa", Token: "0xbb", Spender: "0xcc"}
	assert.Equal(t, "0xaa|0xbb|0xcc", ev.Key())
}
