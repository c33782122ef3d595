// Package adminauth authenticates privileged admin commands (IPO
// resets, balance grants, escrow repairs) with secp256k1 signatures,
// adapted from the teacher's SECP256K1 algorithm wrapper: the same
// curve and signature library, simplified to plain ECDSA sign/verify
// over a SHA-256 digest since admin commands need authentication, not
// XRPL wire-format canonicality.
package adminauth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Signer holds an admin's private key and signs commands with it.
type Signer struct {
	key *secp256k1.PrivateKey
}

// NewSigner parses a hex-encoded 32-byte secp256k1 private key.
func NewSigner(hexPrivKey string) (*Signer, error) {
	raw, err := hex.DecodeString(hexPrivKey)
	if err != nil {
		return nil, fmt.Errorf("adminauth: invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("adminauth: private key must be 32 bytes, got %d", len(raw))
	}
	return &Signer{key: secp256k1.PrivKeyFromBytes(raw)}, nil
}

// PublicKeyHex returns the hex-encoded compressed public key matching this signer.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.key.PubKey().SerializeCompressed())
}

// Sign returns a hex-encoded DER signature over payload.
func (s *Signer) Sign(payload []byte) (string, error) {
	digest := sha256.Sum256(payload)
	sig := ecdsa.Sign(s.key, digest[:])
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify checks a hex-encoded DER signature over payload against a
// hex-encoded compressed public key. Callers should compare pubkeyHex
// against a configured allowlist of admin keys before trusting this.
func Verify(pubkeyHex string, payload []byte, sigHex string) (bool, error) {
	pubBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return false, fmt.Errorf("adminauth: invalid public key hex: %w", err)
	}
	pubKey, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("adminauth: invalid public key: %w", err)
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("adminauth: invalid signature hex: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("adminauth: invalid signature: %w", err)
	}

	digest := sha256.Sum256(payload)
	return sig.Verify(digest[:], pubKey), nil
}

// Allowlist is the set of admin public keys authorized to issue
// privileged commands, keyed by hex-encoded compressed pubkey.
type Allowlist map[string]bool

// VerifyCommand verifies a signed admin command and checks the signer
// is in the allowlist, returning the authenticated pubkey on success.
func (a Allowlist) VerifyCommand(pubkeyHex string, payload []byte, sigHex string) (string, error) {
	if !a[pubkeyHex] {
		return "", fmt.Errorf("adminauth: %s is not an authorized admin key", pubkeyHex)
	}
	ok, err := Verify(pubkeyHex, payload, sigHex)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("adminauth: signature verification failed for %s", pubkeyHex)
	}
	return pubkeyHex, nil
}
