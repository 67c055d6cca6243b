// Package delegation manages signed revocation capabilities: owners sign a
// delegation in advance that lets the service operator zero a malicious
// approval on their behalf. The package owns the model, signature recovery,
// persistence, and the HTTP surface used by the onboarding frontend.
package delegation

import (
	"errors"

	"github.com/mbd888/sentinel/internal/validation"
)

// ErrNotFound is returned when no delegation is stored for an owner.
var ErrNotFound = errors.New("delegation not found")

// Caveat restricts what the delegate may do with the delegation.
// Terms are enforcer-specific ABI-encoded bytes.
type Caveat struct {
	Enforcer string `json:"enforcer"`
	Terms    string `json:"terms"`
	Args     string `json:"args,omitempty"`
}

// Delegation is a capability signed by an owner (the delegator) authorizing
// a fixed delegate address to act on their behalf, bounded by caveats.
type Delegation struct {
	Delegate  string   `json:"delegate"`
	Delegator string   `json:"delegator"`
	Authority string   `json:"authority"`
	Caveats   []Caveat `json:"caveats"`
	Salt      string   `json:"salt"`
	Signature string   `json:"signature"`
}

// Validate checks the structural shape of a delegation. Signature recovery
// is a separate step (see Verifier) because it needs chain context.
func (d *Delegation) Validate() validation.FieldErrors {
	var errs validation.FieldErrors

	if !validation.IsValidEthAddress(d.Delegate) {
		errs.Add("delegation.delegate", "must be a 20-byte hex address")
	}
	if !validation.IsValidEthAddress(d.Delegator) {
		errs.Add("delegation.delegator", "must be a 20-byte hex address")
	}
	if d.Authority == "" || !validation.IsValidHex(d.Authority) {
		errs.Add("delegation.authority", "must be a 32-byte hex value")
	}
	if d.Salt == "" {
		errs.Add("delegation.salt", "required")
	}
	if d.Signature == "" || !validation.IsValidHex(d.Signature) {
		errs.Add("delegation.signature", "must be a hex-encoded signature")
	}
	// A delegation with no caveats would grant unbounded authority over the
	// owner's account. Refuse to store one.
	if len(d.Caveats) == 0 {
		errs.Add("delegation.caveats", "at least one caveat is required")
	}
	for _, c := range d.Caveats {
		if !validation.IsValidEthAddress(c.Enforcer) {
			errs.Add("delegation.caveats", "caveat enforcer must be a 20-byte hex address")
			break
		}
	}

	return errs
}
