// Package evidence defines the immutable record binding a watermarked
// artifact to its payload, parameters, quality and an authoritative
// timestamp, plus the versioned JSON export shape.
//
// An embedding is atomic: it consumes the original buffer and emits the
// watermarked buffer and the evidence record. The record never changes
// afterwards. Signing failures are isolated; a record without a signature
// marks the absent fields explicitly.
package evidence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"watermarkd/internal/payload"
	"watermarkd/internal/phash"
	"watermarkd/internal/quality"
	"watermarkd/internal/signer"
)

// Errors
var (
	ErrPayloadHashMismatch = errors.New("evidence: canonical payload does not reproduce payloadHash")
	ErrBadSignature        = errors.New("evidence: signature verification failed")
	ErrUnsigned            = errors.New("evidence: record carries no signature")
)

// ExportVersion is the persisted evidence JSON version.
const ExportVersion = "1.0"

// EmbeddingParams are recorded verbatim from the embed operation.
type EmbeddingParams struct {
	Strength        float64 `json:"strength"`
	EccBytes        int     `json:"eccBytes"`
	BlockSize       int     `json:"blockSize"`
	CoefficientSeed string  `json:"coefficientSeed"`
}

// Record is the evidence tuple for one embed operation.
type Record struct {
	WorkID             string            `json:"workId"`
	OriginalHash       string            `json:"originalHash"`
	PayloadHash        string            `json:"payloadHash"`
	CanonicalPayload   string            `json:"canonicalPayload"`
	EmbeddingParams    EmbeddingParams   `json:"embeddingParams"`
	QualityMetrics     *quality.Metrics  `json:"qualityMetrics,omitempty"`
	Fingerprint        phash.Fingerprint `json:"fingerprint"`
	Signature          string            `json:"signature,omitempty"`
	SignaturePublicKey string            `json:"signaturePublicKey,omitempty"`
	SignatureAlgorithm string            `json:"signatureAlgorithm,omitempty"`
	TimestampMillis    int64             `json:"timestampMillis"`
}

// Signed reports whether the record carries a signature.
func (r *Record) Signed() bool { return r.Signature != "" }

// Verify re-derives the payload hash from the canonical payload and, when
// a signature is present, checks it against the recorded public key.
func (r *Record) Verify() error {
	derived := signer.HashBytes([]byte(r.CanonicalPayload))
	if !signer.HashEqual(derived, r.PayloadHash) {
		return ErrPayloadHashMismatch
	}
	if !r.Signed() {
		return ErrUnsigned
	}
	if !signer.Verify(r.SignaturePublicKey, r.OriginalHash, r.PayloadHash, r.TimestampMillis, r.Signature) {
		return ErrBadSignature
	}
	return nil
}

// Builder assembles a record across the embed pipeline stages.
type Builder struct {
	rec Record
}

// NewBuilder starts a record for a work.
func NewBuilder(workID string) *Builder {
	return &Builder{rec: Record{WorkID: workID}}
}

// WithMedia records the SHA-256 of the original media bytes.
func (b *Builder) WithMedia(data []byte) *Builder {
	b.rec.OriginalHash = signer.HashBytes(data)
	return b
}

// WithCanonicalPayload records the canonical payload and its hash.
func (b *Builder) WithCanonicalPayload(canonical string) *Builder {
	b.rec.CanonicalPayload = canonical
	b.rec.PayloadHash = signer.HashBytes([]byte(canonical))
	return b
}

// WithParams records the embedding parameters verbatim.
func (b *Builder) WithParams(strength float64, eccBytes, blockSize int) *Builder {
	b.rec.EmbeddingParams = EmbeddingParams{
		Strength:        strength,
		EccBytes:        eccBytes,
		BlockSize:       blockSize,
		CoefficientSeed: b.rec.WorkID + ":" + b.rec.PayloadHash,
	}
	return b
}

// WithQuality attaches the validator's metrics.
func (b *Builder) WithQuality(m *quality.Metrics) *Builder {
	b.rec.QualityMetrics = m
	return b
}

// WithFingerprint attaches the perceptual hash trio.
func (b *Builder) WithFingerprint(fp phash.Fingerprint) *Builder {
	b.rec.Fingerprint = fp
	return b
}

// Sign stamps the record and signs originalHash:payloadHash:timestamp.
// A nil signer leaves the signature fields absent; the embed still
// produces a valid record.
func (b *Builder) Sign(s *signer.Signer, at time.Time) *Builder {
	b.rec.TimestampMillis = at.UnixMilli()
	if s == nil {
		return b
	}
	sig, err := s.Sign(b.rec.OriginalHash, b.rec.PayloadHash, b.rec.TimestampMillis)
	if err != nil {
		return b
	}
	b.rec.Signature = sig
	b.rec.SignaturePublicKey = s.PublicKey()
	b.rec.SignatureAlgorithm = signer.Algorithm
	return b
}

// Build returns the finished record.
func (b *Builder) Build() *Record {
	rec := b.rec
	return &rec
}

// Marshal renders the record as indented JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ParseRecord reads a record back, rejecting unknown fields loudly.
func ParseRecord(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("parse evidence record: %w", err)
	}
	return &rec, nil
}

// CanonicalFor is a convenience that re-parses a record's canonical
// payload into its structured form.
func (r *Record) CanonicalFor() (*payload.Canonical, error) {
	return payload.Parse(r.CanonicalPayload)
}
