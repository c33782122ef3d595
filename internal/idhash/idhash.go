// Package idhash derives stable, collision-resistant identifiers for
// escrows and trades the same way the teacher derives account IDs:
// RIPEMD160(SHA256(input)), hex-encoded. Two different hashes guard
// against length-extension games on caller-supplied seeds, and 160
// bits is plenty for identifiers that only need to be unique, never
// secret.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/crypto/ripemd160"
)

// Size is the length in bytes of a derived id.
const Size = 20

// Derive hashes the concatenation of seed under a namespace tag and
// returns the hex-encoded digest, e.g. Derive("escrow", uid, refID, nonce).
func Derive(namespace string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	sum := h.Sum(nil)

	r := ripemd160.New()
	r.Write(sum)
	digest := r.Sum(nil)

	return hex.EncodeToString(digest)
}

// EscrowID derives a stable escrow identifier from its owner, reference
// and a caller-supplied monotonic nonce (e.g. a counter or timestamp)
// so retried create calls under the same nonce are idempotent.
func EscrowID(uid, refID string, nonce int64) string {
	return Derive("escrow", uid, refID, fmt.Sprintf("%d", nonce))
}

// TradeID derives a stable trade identifier from the two matched orders
// and the fill sequence number within that match.
func TradeID(buyOrderID, sellOrderID string, fillSeq int64) string {
	return Derive("trade", buyOrderID, sellOrderID, fmt.Sprintf("%d", fillSeq))
}
