// Package engine orchestrates the forensic embed pipeline: payload
// canonicalization, ECC, QIM embedding, quality validation, perceptual
// fingerprinting and evidence signing.
//
// The pipeline is single-threaded per operation and CPU-bound; callers
// may run many operations concurrently, each owning its buffers. Signing
// is isolated: a missing or broken signer still yields a watermarked
// buffer and an unsigned record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"watermarkd/internal/evidence"
	"watermarkd/internal/imageio"
	"watermarkd/internal/payload"
	"watermarkd/internal/phash"
	"watermarkd/internal/qim"
	"watermarkd/internal/quality"
	"watermarkd/internal/signer"
)

// ErrPayloadTooLarge mirrors the capacity failure for callers that want
// to distinguish it without importing qim.
var ErrPayloadTooLarge = qim.ErrCapacityExceeded

// OutputFormat selects the re-encode container.
type OutputFormat int

const (
	FormatJPEG OutputFormat = iota // default, quality >= 95
	FormatPNG
)

// Engine carries the per-process collaborators.
type Engine struct {
	Signer  *signer.Signer // nil disables signing
	Profile payload.Profile
}

// EmbedRequest describes one embed operation.
type EmbedRequest struct {
	Data      []byte // original image bytes (JPEG/PNG/WebP)
	FileName  string
	MediaType string // "image" unless the video wrapper calls in
	WorkID    string // generated when empty
	Payload   string // compact payload; generated from the profile when empty
	Strength  float64
	EccBytes  int
	Format    OutputFormat
	Quality   int // JPEG quality, DefaultJPEGQuality when 0
}

// EmbedResult is the atomic outcome: watermarked bytes plus the evidence
// record. QualityWarning is set when the embed fell below the perceptual
// floor; it does not fail the operation.
type EmbedResult struct {
	WorkID         string
	Watermarked    []byte
	Record         *evidence.Record
	Payload        string
	QualityWarning bool
}

// Embed runs the full pipeline on one image buffer.
func (e *Engine) Embed(ctx context.Context, req EmbedRequest) (*EmbedResult, error) {
	img, err := imageio.Decode(req.Data)
	if err != nil {
		return nil, err
	}

	workID := req.WorkID
	if workID == "" {
		workID, err = payload.NewWorkID(time.Now())
		if err != nil {
			return nil, err
		}
	}

	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = "image"
	}

	now := time.Now()
	canonical := payload.Build(e.Profile, workID, mediaType, img.Width, img.Height, now)
	payloadHash := signer.HashBytes([]byte(canonical.Serialize()))

	embeddable := req.Payload
	if embeddable == "" {
		embeddable = payload.Compact(e.Profile, workID)
	}

	params := qim.Params{
		Strength:    req.Strength,
		EccBytes:    req.EccBytes,
		WorkID:      workID,
		PayloadHash: payloadHash,
	}

	marked, err := qim.Embed(ctx, img, []byte(embeddable), params)
	if err != nil {
		return nil, err
	}

	metrics, err := quality.Compare(img, marked)
	if err != nil {
		return nil, err
	}

	var out []byte
	switch req.Format {
	case FormatPNG:
		out, err = marked.EncodePNG()
	default:
		out, err = marked.EncodeJPEG(req.Quality)
	}
	if err != nil {
		return nil, err
	}

	rec := evidence.NewBuilder(workID).
		WithMedia(req.Data).
		WithCanonicalPayload(canonical.Serialize()).
		WithParams(paramsStrength(params), paramsEcc(params), qim.DefaultBlockSize).
		WithQuality(metrics).
		WithFingerprint(phash.Compute(marked)).
		Sign(e.Signer, now).
		Build()

	return &EmbedResult{
		WorkID:         workID,
		Watermarked:    out,
		Record:         rec,
		Payload:        embeddable,
		QualityWarning: !metrics.Indistinguishable(),
	}, nil
}

// Extract recovers a payload from image bytes given the identifiers the
// embed recorded. It never fails hard for decodable input: RS failure
// reports a nil payload with zero confidence.
func (e *Engine) Extract(ctx context.Context, data []byte, workID, payloadHash string, payloadLen, eccBytes int, strength float64) (*qim.ExtractResult, error) {
	img, err := imageio.Decode(data)
	if err != nil {
		return nil, err
	}
	res, err := qim.Extract(ctx, img, payloadLen, qim.Params{
		Strength:    strength,
		EccBytes:    eccBytes,
		WorkID:      workID,
		PayloadHash: payloadHash,
	})
	if err != nil {
		if errors.Is(err, qim.ErrCapacityExceeded) {
			return nil, fmt.Errorf("image too small for claimed payload: %w", err)
		}
		return nil, err
	}
	return res, nil
}

func paramsStrength(p qim.Params) float64 {
	if p.Strength == 0 {
		return qim.DefaultStrength
	}
	return p.Strength
}

func paramsEcc(p qim.Params) int {
	if p.EccBytes == 0 {
		return qim.DefaultEccBytes
	}
	return p.EccBytes
}
