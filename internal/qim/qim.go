// Package qim embeds and extracts watermark bits with quantization index
// modulation on mid-frequency DCT coefficients of the luminance plane.
//
// For block i carrying bit b: the hopper picks a coefficient, the
// coefficient is quantized to step Δ = strength·255, and the quantization
// index parity is forced to b. Extraction reads the parity back. No
// synchronization bits are used; the decoder assumes perfect block
// alignment, a documented weakness against resize and crop.
package qim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"watermarkd/internal/dct"
	"watermarkd/internal/hopper"
	"watermarkd/internal/imageio"
	"watermarkd/internal/rs"
)

// Errors
var (
	ErrCapacityExceeded = errors.New("qim: payload and parity exceed block capacity")
	ErrBadStrength      = errors.New("qim: strength outside [0.05, 0.20]")
	ErrEmptyPayload     = errors.New("qim: empty payload")
)

// Defaults. Stills embed at 0.15; the video wrapper can request lower.
const (
	DefaultStrength  = 0.15
	DefaultEccBytes  = 8
	VideoEccBytes    = 12
	DefaultBlockSize = dct.DefaultBlockSize

	MinStrength = 0.05
	MaxStrength = 0.20
)

// Params pins one embed operation. Immutable once an embed is performed;
// recorded verbatim in the evidence record.
type Params struct {
	Strength    float64
	EccBytes    int
	BlockSize   int
	WorkID      string
	PayloadHash string
}

// withDefaults fills zero values.
func (p Params) withDefaults() Params {
	if p.Strength == 0 {
		p.Strength = DefaultStrength
	}
	if p.EccBytes == 0 {
		p.EccBytes = DefaultEccBytes
	}
	if p.BlockSize == 0 {
		p.BlockSize = DefaultBlockSize
	}
	return p
}

// CoefficientSeed renders the hopper seed material recorded in evidence.
func (p Params) CoefficientSeed() string {
	return p.WorkID + ":" + p.PayloadHash
}

// ExtractResult reports one extraction attempt. For an RS failure Payload
// is nil, Confidence 0 and ErrorsFound −1; extraction never fails hard on
// decodable image input.
type ExtractResult struct {
	Payload         []byte
	Confidence      float64
	ErrorsFound     int
	ErrorsCorrected int
}

// Capacity returns the number of embeddable bits for an image, one per
// complete block.
func Capacity(width, height, blockSize int) int {
	return (width / blockSize) * (height / blockSize)
}

// RequiredBits is the RS-encoded size of a payload in bits.
func RequiredBits(payloadLen, eccBytes int) int {
	return (payloadLen + eccBytes) * 8
}

// Embed writes the RS-encoded payload into a copy of img and returns it.
// Block processing observes ctx between row-bands and returns the context
// error on cancellation.
func Embed(ctx context.Context, img *imageio.Image, payload []byte, p Params) (*imageio.Image, error) {
	p = p.withDefaults()
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if p.Strength < MinStrength || p.Strength > MaxStrength {
		return nil, fmt.Errorf("%w: %g", ErrBadStrength, p.Strength)
	}

	codec, err := rs.NewCodec(p.EccBytes)
	if err != nil {
		return nil, err
	}

	totalBlocks := Capacity(img.Width, img.Height, p.BlockSize)
	required := RequiredBits(len(payload), p.EccBytes)
	if required > totalBlocks {
		return nil, fmt.Errorf("%w: need %d bits, have %d blocks", ErrCapacityExceeded, required, totalBlocks)
	}

	codeword, err := codec.Encode(payload)
	if err != nil {
		return nil, err
	}
	bits := bytesToBits(codeword)

	hop := hopper.New(p.WorkID, p.PayloadHash, p.BlockSize)
	delta := p.Strength * 255

	original := img.Luminance()
	plane := &dct.Plane{Width: img.Width, Height: img.Height, Pix: append([]float64(nil), original...)}

	blocksX := img.Width / p.BlockSize
	for i, bit := range bits {
		if i%blocksX == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		bx := (i % blocksX) * p.BlockSize
		by := (i / blocksX) * p.BlockSize

		block := plane.Block(bx, by, p.BlockSize)
		coeffs := dct.Forward(block)

		pos := hop.Position(i)
		coeffs[pos.Row][pos.Col] = quantizeToParity(coeffs[pos.Row][pos.Col], delta, bit)

		plane.SetBlock(bx, by, dct.Inverse(coeffs))
	}

	return img.ApplyLuminanceDelta(original, plane.Pix), nil
}

// quantizeToParity forces the coefficient's quantization index parity to
// the bit value.
func quantizeToParity(coeff, delta float64, bit uint8) float64 {
	k := int(math.Round(coeff / delta))
	mag := k
	if mag < 0 {
		mag = -mag
	}
	if mag%2 != int(bit) {
		mag++
	}
	sign := 1.0
	if k < 0 {
		sign = -1.0
	}
	return sign * float64(mag) * delta
}

// Extract reads payloadLen bytes back out of img. The same DCT pipeline
// runs and each block's coefficient parity yields one bit; the RS decoder
// repairs channel damage. Confidence is 1.0 minus errorsCorrected/ecc,
// so a codeword at full correction capacity reports 0.5.
func Extract(ctx context.Context, img *imageio.Image, payloadLen int, p Params) (*ExtractResult, error) {
	p = p.withDefaults()

	codec, err := rs.NewCodec(p.EccBytes)
	if err != nil {
		return nil, err
	}

	totalBlocks := Capacity(img.Width, img.Height, p.BlockSize)
	required := RequiredBits(payloadLen, p.EccBytes)
	if payloadLen <= 0 || required > totalBlocks {
		return nil, fmt.Errorf("%w: need %d bits, have %d blocks", ErrCapacityExceeded, required, totalBlocks)
	}

	hop := hopper.New(p.WorkID, p.PayloadHash, p.BlockSize)
	delta := p.Strength * 255

	plane := &dct.Plane{Width: img.Width, Height: img.Height, Pix: img.Luminance()}
	blocksX := img.Width / p.BlockSize

	bits := make([]uint8, required)
	for i := range bits {
		if i%blocksX == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		bx := (i % blocksX) * p.BlockSize
		by := (i / blocksX) * p.BlockSize

		coeffs := dct.Forward(plane.Block(bx, by, p.BlockSize))
		pos := hop.Position(i)

		k := int(math.Round(coeffs[pos.Row][pos.Col] / delta))
		if k < 0 {
			k = -k
		}
		bits[i] = uint8(k % 2)
	}

	decoded, err := codec.Decode(bitsToBytes(bits))
	if err != nil {
		return &ExtractResult{Confidence: 0, ErrorsFound: -1}, nil
	}

	confidence := 1.0 - float64(decoded.ErrorsCorrected)/float64(codec.Capacity()*2)
	if confidence < 0 {
		confidence = 0
	}

	return &ExtractResult{
		Payload:         decoded.Data,
		Confidence:      confidence,
		ErrorsFound:     decoded.ErrorsFound,
		ErrorsCorrected: decoded.ErrorsCorrected,
	}, nil
}

// bytesToBits expands bytes big-endian, MSB first.
func bytesToBits(data []byte) []uint8 {
	out := make([]uint8, len(data)*8)
	for i, b := range data {
		for j := 0; j < 8; j++ {
			out[i*8+j] = (b >> (7 - j)) & 1
		}
	}
	return out
}

// bitsToBytes packs bits MSB first.
func bitsToBytes(bits []uint8) []byte {
	out := make([]byte, len(bits)/8)
	for i := range out {
		var b byte
		for j := 0; j < 8; j++ {
			b = b<<1 | bits[i*8+j]
		}
		out[i] = b
	}
	return out
}
