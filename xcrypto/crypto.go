// Package xcrypto provides the hash and signature primitives the kernel
// binds state to: Keccak-256 for frame/function-selector hashing, SHA-256
// for WAL integrity checksums, and secp256k1 ECDSA sign/recover for
// Ethereum-compatible address recovery. Grounded on the teacher's use of
// github.com/decred/dcrd/dcrec/secp256k1/v4 for curve operations
// (core/compliance.go) and golang.org/x/crypto/sha3 for the Keccak-256
// primitive every EVM-adjacent component in the pack relies on.
package xcrypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Kind enumerates the crypto failure taxonomy (spec §7).
type Kind int

const (
	_ Kind = iota
	InvalidSignature
	BadRecoveryID
)

func (k Kind) String() string {
	switch k {
	case InvalidSignature:
		return "InvalidSignature"
	case BadRecoveryID:
		return "BadRecoveryID"
	default:
		return "Unknown"
	}
}

// Error is the typed error value returned by crypto operations.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("crypto: %s: %v", e.Kind, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

func newErr(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Cause: fmt.Errorf(format, args...)}
}

// Hash is a 32-byte digest, used both for Keccak-256 and SHA-256 output.
// Hashes flow through the system as raw bytes and are never decoded as UTF-8.
type Hash [32]byte

// Bytes returns the digest as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// Keccak256 is the frame-hash and function-selector primitive. It must
// match Solidity's keccak256 byte-for-byte: no SHA-256 shortcut is
// acceptable here even though SHA-256 is cheaper, because frame hashes are
// expected to agree with any EVM-side verification of the same preimage.
func Keccak256(data ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// SHA256 is used exclusively for WAL entry integrity checksums (spec §4.9),
// never for frame hashing.
func SHA256(data ...[]byte) Hash {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// PrivateKey wraps a secp256k1 signing key.
type PrivateKey struct{ key *secp256k1.PrivateKey }

// PublicKey wraps a secp256k1 verification key.
type PublicKey struct{ key *secp256k1.PublicKey }

// GeneratePrivateKey creates a fresh signing key. Callers that need
// deterministic keys (tests, fixtures) should use PrivateKeyFromBytes with a
// fixed 32-byte seed instead — the reducer itself never calls this.
func GeneratePrivateKey() (*PrivateKey, error) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: k}, nil
}

// PrivateKeyFromBytes constructs a signing key from a 32-byte scalar.
func PrivateKeyFromBytes(b []byte) *PrivateKey {
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(b)}
}

// PublicKey returns the public key corresponding to priv.
func (priv *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: priv.key.PubKey()}
}

// Bytes returns the raw 32-byte scalar.
func (priv *PrivateKey) Bytes() []byte { return priv.key.Serialize() }

// Uncompressed returns the 65-byte uncompressed SEC1 encoding (0x04 || X || Y).
func (pub *PublicKey) Uncompressed() []byte { return pub.key.SerializeUncompressed() }

// Address derives a 20-byte Ethereum-style address: the low 20 bytes of
// Keccak256 over the uncompressed public key with the leading 0x04 byte
// stripped.
func (pub *PublicKey) Address() []byte {
	raw := pub.Uncompressed()
	h := Keccak256(raw[1:])
	return h[12:]
}

// Signature is an ECDSA signature in Ethereum's (r, s, v) form, where v is
// the 0/1 recovery identifier.
type Signature struct {
	R []byte
	S []byte
	V byte
}

// Sign produces a recoverable ECDSA signature over msgHash.
func Sign(priv *PrivateKey, msgHash Hash) (Signature, error) {
	compact := ecdsa.SignCompact(priv.key, msgHash[:], false)
	if len(compact) != 65 {
		return Signature{}, newErr(InvalidSignature, "unexpected compact signature length %d", len(compact))
	}
	recID := compact[0] - 27
	return Signature{
		R: append([]byte(nil), compact[1:33]...),
		S: append([]byte(nil), compact[33:65]...),
		V: recID,
	}, nil
}

// Recover recovers the signer's address from msgHash and sig, compatible
// with Ethereum's ecrecover semantics.
func Recover(msgHash Hash, sig Signature) ([]byte, error) {
	if sig.V > 1 {
		return nil, newErr(BadRecoveryID, "recovery id %d out of range", sig.V)
	}
	compact := make([]byte, 65)
	compact[0] = 27 + sig.V
	copy(compact[1:33], leftPad32(sig.R))
	copy(compact[33:65], leftPad32(sig.S))

	pub, _, err := ecdsa.RecoverCompact(compact, msgHash[:])
	if err != nil {
		return nil, newErr(InvalidSignature, "recover: %w", err)
	}
	wrapped := &PublicKey{key: pub}
	return wrapped.Address(), nil
}

// Verify checks that sig is a valid signature over msgHash by the holder of
// pub's address.
func Verify(pub *PublicKey, msgHash Hash, sig Signature) bool {
	addr, err := Recover(msgHash, sig)
	if err != nil {
		return false
	}
	want := pub.Address()
	if len(addr) != len(want) {
		return false
	}
	for i := range addr {
		if addr[i] != want[i] {
			return false
		}
	}
	return true
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
