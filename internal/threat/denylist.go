package threat

import "strings"

// defaultDenylist holds known-malicious spender addresses. Extended at
// startup from configuration.
var defaultDenylist = []string{
	"0x1234567890123456789012345678901234567890", // demo malicious contract
	"0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", // demo phishing contract
}

// Denylist is an immutable set of known-malicious addresses.
type Denylist struct {
	addrs map[string]struct{}
}

// NewDenylist builds a denylist from the built-in defaults plus any extra
// addresses. Matching is case-insensitive.
func NewDenylist(extra []string) *Denylist {
	addrs := make(map[string]struct{}, len(defaultDenylist)+len(extra))
	for _, a := range defaultDenylist {
		addrs[strings.ToLower(a)] = struct{}{}
	}
	for _, a := range extra {
		if a == "" {
			continue
		}
		addrs[strings.ToLower(a)] = struct{}{}
	}
	return &Denylist{addrs: addrs}
}

// Contains reports whether the address is known-malicious.
func (d *Denylist) Contains(addr string) bool {
	_, ok := d.addrs[strings.ToLower(addr)]
	return ok
}

// Len returns the number of denylisted addresses.
func (d *Denylist) Len() int {
	return len(d.addrs)
}
