// Package validate holds the two pure well-formedness predicates the
// core needs: onion-address and port syntax. Neither can fail; they
// return a bool and leave rejection handling to their callers.
package validate

import "strings"

// OnionSuffix is the fixed suffix of every onion address.
const OnionSuffix = ".onion"

// onionAlphabet is the base32 alphabet (RFC 4648, lower-case, as Tor
// renders onion addresses) permitted in the address portion.
const onionAlphabet = "abcdefghijklmnopqrstuvwxyz234567"

// Address lengths for the two onion service versions this module knows
// about, including the ".onion" suffix.
const (
	V2AddressLen = 16 + len(OnionSuffix) // 22
	V3AddressLen = 56 + len(OnionSuffix) // 62
)

// IsValidOnion reports whether s is exactly wantLen characters, ends in
// ".onion", and consists solely of the permitted base32 alphabet before
// the suffix. The core treats the onion grammar as opaque past
// length/charset — checksum and public-key validation belong to the
// onion-routing transport, not this module.
func IsValidOnion(s string, wantLen int) bool {
	if len(s) != wantLen {
		return false
	}
	if !strings.HasSuffix(s, OnionSuffix) {
		return false
	}
	body := s[:len(s)-len(OnionSuffix)]
	if body == "" {
		return false
	}
	lower := strings.ToLower(body)
	for i := 0; i < len(lower); i++ {
		if strings.IndexByte(onionAlphabet, lower[i]) < 0 {
			return false
		}
	}
	return true
}

// IsValidOnionV2 checks s against the canonical v2 length (22 characters).
func IsValidOnionV2(s string) bool { return IsValidOnion(s, V2AddressLen) }

// IsValidOnionV3 checks s against the v3 length (62 characters).
func IsValidOnionV3(s string) bool { return IsValidOnion(s, V3AddressLen) }

// IsValidPort reports whether p is a valid TCP listening port, 1..65535.
func IsValidPort(p int) bool {
	return p >= 1 && p <= 65535
}
