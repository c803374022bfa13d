// Package signer handles SHA-256 hashing and secp256k1 signing for
// evidence records.
//
// The signing message is exactly "mediaHash:payloadHash:timestampMillis"
// (ASCII, decimal timestamp). The signer hashes it with SHA-256 and
// produces a deterministic (RFC 6979) secp256k1 signature, rendered as the
// 64-byte compact form r‖s in hex. Public keys are 33-byte compressed,
// hex-encoded.
package signer

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Errors
var (
	ErrInvalidKeyFormat = errors.New("signer: invalid key format (expected 64 hex chars)")
	ErrUnconfigured     = errors.New("signer: not configured")
)

// Algorithm is recorded verbatim in every evidence record.
const Algorithm = "secp256k1"

// Signer holds the process-wide signing key. The key is loaded once,
// read-only, never logged, and zeroized by Close.
type Signer struct {
	priv   *secp256k1.PrivateKey
	pubHex string
}

// New parses a 32-byte private key supplied as 64-char lowercase hex and
// derives the compressed public key.
func New(hexKey string) (*Signer, error) {
	hexKey = strings.TrimSpace(hexKey)
	if len(hexKey) != 64 {
		return nil, fmt.Errorf("%w: got %d chars", ErrInvalidKeyFormat, len(hexKey))
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}

	priv := secp256k1.PrivKeyFromBytes(raw)
	return &Signer{
		priv:   priv,
		pubHex: hex.EncodeToString(priv.PubKey().SerializeCompressed()),
	}, nil
}

// PublicKey returns the compressed public key in hex.
func (s *Signer) PublicKey() string { return s.pubHex }

// Sign produces the hex-encoded 64-byte compact signature over
// SHA-256("mediaHash:payloadHash:timestampMillis").
func (s *Signer) Sign(mediaHash, payloadHash string, timestampMillis int64) (string, error) {
	if s == nil || s.priv == nil {
		return "", ErrUnconfigured
	}

	digest := signingDigest(mediaHash, payloadHash, timestampMillis)

	// SignCompact prepends a recovery code byte; the evidence format
	// carries only r‖s.
	compact := ecdsa.SignCompact(s.priv, digest[:], true)
	return hex.EncodeToString(compact[1:]), nil
}

// Close zeroizes the private key. The signer is unusable afterwards.
func (s *Signer) Close() {
	if s.priv != nil {
		s.priv.Zero()
		s.priv = nil
	}
}

// Verify checks a compact signature against the compressed public key.
// It is pure: any single-bit change in message or signature fails.
func Verify(pubKeyHex, mediaHash, payloadHash string, timestampMillis int64, sigHex string) bool {
	pubRaw, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pubRaw)
	if err != nil {
		return false
	}

	sigRaw, err := hex.DecodeString(sigHex)
	if err != nil || len(sigRaw) != 64 {
		return false
	}
	var r, ss secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sigRaw[:32]); overflow {
		return false
	}
	if overflow := ss.SetByteSlice(sigRaw[32:]); overflow {
		return false
	}

	digest := signingDigest(mediaHash, payloadHash, timestampMillis)
	return ecdsa.NewSignature(&r, &ss).Verify(digest[:], pub)
}

func signingDigest(mediaHash, payloadHash string, timestampMillis int64) [32]byte {
	msg := mediaHash + ":" + payloadHash + ":" + strconv.FormatInt(timestampMillis, 10)
	return sha256.Sum256([]byte(msg))
}

// HashBytes returns the lowercase hex SHA-256 of data. Used for both
// media bytes and the UTF-8 canonical payload.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashEqual compares two hex hashes in constant time.
func HashEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
