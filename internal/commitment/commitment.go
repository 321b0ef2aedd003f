// Package commitment implements the duel commit-reveal binding.
//
// A commitment is sha256(decimalASCII(value) || "-" || secret): the bid
// rendered in base-10 with no leading zeros, a literal dash, and the
// caller-chosen secret string. Reveals must reproduce it bit-exact.
package commitment

import (
	"crypto/sha256"
	"crypto/subtle"
	"strconv"
)

// Size is the commitment digest length in bytes.
const Size = sha256.Size

// Digest computes the commitment for a bid value and reveal secret.
func Digest(value uint64, secret string) []byte {
	preimage := strconv.FormatUint(value, 10) + "-" + secret
	sum := sha256.Sum256([]byte(preimage))
	return sum[:]
}

// Verify reports whether (value, secret) reproduces the stored commitment.
func Verify(stored []byte, value uint64, secret string) bool {
	if len(stored) != Size {
		return false
	}
	return subtle.ConstantTimeCompare(stored, Digest(value, secret)) == 1
}
