// Package rs implements a systematic Reed–Solomon code over GF(2^8) with
// unknown-location error correction.
//
// The generator polynomial is g(x) = ∏(x − α^i) for i = 0..ecc−1 with
// α = 2 over 0x11D. Decoding runs syndromes, Berlekamp–Massey, a Chien
// search over message positions and Forney magnitudes, then re-checks the
// syndromes of the corrected codeword; any residual means the decode
// failed. Correction capacity is ⌊ecc/2⌋ byte errors.
package rs

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrInvalidEcc     = errors.New("rs: ecc byte count out of range")
	ErrMessageTooLong = errors.New("rs: message exceeds field codeword size")
	ErrTooShort       = errors.New("rs: codeword shorter than parity")
	ErrDecodeFailure  = errors.New("rs: uncorrectable codeword")
)

// Codec encodes and decodes with a fixed parity size.
type Codec struct {
	eccBytes  int
	generator []byte
}

// DecodeResult reports a successful correction. ErrorsFound equals
// ErrorsCorrected on success; callers translating a decode failure into an
// extract result report errorsFound = −1 and no data.
type DecodeResult struct {
	Data            []byte
	ErrorsFound     int
	ErrorsCorrected int
}

// NewCodec builds a codec appending eccBytes parity bytes.
// Images default to 8 (t=4); video frames to 12 (t=6).
func NewCodec(eccBytes int) (*Codec, error) {
	if eccBytes < 2 || eccBytes > 254 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEcc, eccBytes)
	}

	gen := []byte{1}
	for i := 0; i < eccBytes; i++ {
		gen = polyMul(gen, []byte{1, gfExp[i]})
	}

	return &Codec{eccBytes: eccBytes, generator: gen}, nil
}

// EccBytes reports the parity size.
func (c *Codec) EccBytes() int { return c.eccBytes }

// Capacity reports the correctable byte-error count t = ⌊ecc/2⌋.
func (c *Codec) Capacity() int { return c.eccBytes / 2 }

// Encode appends parity to data, returning the full codeword.
func (c *Codec) Encode(data []byte) ([]byte, error) {
	if len(data)+c.eccBytes > 255 {
		return nil, fmt.Errorf("%w: %d data + %d parity", ErrMessageTooLong, len(data), c.eccBytes)
	}

	out := make([]byte, len(data)+c.eccBytes)
	copy(out, data)
	for i := 0; i < len(data); i++ {
		coef := out[i]
		if coef == 0 {
			continue
		}
		for j := 1; j < len(c.generator); j++ {
			out[i+j] ^= gfMul(c.generator[j], coef)
		}
	}
	copy(out, data)
	return out, nil
}

// Decode corrects up to Capacity() byte errors in place of a copy and
// returns the message bytes. ErrDecodeFailure means the error count
// exceeded capacity or the correction did not verify.
func (c *Codec) Decode(codeword []byte) (*DecodeResult, error) {
	if len(codeword) <= c.eccBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(codeword))
	}
	if len(codeword) > 255 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLong, len(codeword))
	}

	synd := c.syndromes(codeword)
	if allZero(synd) {
		return &DecodeResult{
			Data: append([]byte(nil), codeword[:len(codeword)-c.eccBytes]...),
		}, nil
	}

	errLoc, err := c.errorLocator(synd)
	if err != nil {
		return nil, err
	}
	errCount := len(errLoc) - 1

	// Chien search wants the locator with its coefficients reversed, so
	// that its roots are the error locations X_k rather than X_k^-1.
	revLoc := make([]byte, len(errLoc))
	for i, coef := range errLoc {
		revLoc[len(errLoc)-1-i] = coef
	}
	errPos := chienSearch(revLoc, len(codeword))
	if len(errPos) != errCount {
		return nil, fmt.Errorf("%w: locator degree %d, %d roots", ErrDecodeFailure, errCount, len(errPos))
	}

	corrected := correctErrata(codeword, synd, errPos)

	// Second syndrome pass: a clean decode must leave no residual.
	if !allZero(c.syndromes(corrected)) {
		return nil, fmt.Errorf("%w: residual syndromes after correction", ErrDecodeFailure)
	}

	return &DecodeResult{
		Data:            corrected[:len(corrected)-c.eccBytes],
		ErrorsFound:     errCount,
		ErrorsCorrected: errCount,
	}, nil
}

// syndromes evaluates the codeword at α^i for i = 0..ecc−1.
func (c *Codec) syndromes(codeword []byte) []byte {
	out := make([]byte, c.eccBytes)
	for i := range out {
		out[i] = polyEval(codeword, gfExp[i])
	}
	return out
}

// errorLocator runs Berlekamp–Massey over the syndromes.
func (c *Codec) errorLocator(synd []byte) ([]byte, error) {
	errLoc := []byte{1}
	oldLoc := []byte{1}

	for i := 0; i < c.eccBytes; i++ {
		delta := synd[i]
		for j := 1; j < len(errLoc); j++ {
			delta ^= gfMul(errLoc[len(errLoc)-1-j], synd[i-j])
		}

		oldLoc = append(oldLoc, 0)
		if delta != 0 {
			if len(oldLoc) > len(errLoc) {
				newLoc := polyScale(oldLoc, delta)
				oldLoc = polyScale(errLoc, gfInverse(delta))
				errLoc = newLoc
			}
			errLoc = polyAdd(errLoc, polyScale(oldLoc, delta))
		}
	}

	for len(errLoc) > 0 && errLoc[0] == 0 {
		errLoc = errLoc[1:]
	}
	errCount := len(errLoc) - 1
	if errCount*2 > c.eccBytes {
		return nil, fmt.Errorf("%w: %d errors exceed capacity %d", ErrDecodeFailure, errCount, c.eccBytes/2)
	}
	return errLoc, nil
}

// chienSearch finds byte positions whose locator evaluation vanishes.
func chienSearch(errLoc []byte, n int) []int {
	var positions []int
	for i := 0; i < n; i++ {
		if polyEval(errLoc, gfExp[i]) == 0 {
			positions = append(positions, n-1-i)
		}
	}
	return positions
}

// correctErrata computes Forney magnitudes and repairs the codeword.
func correctErrata(codeword, synd []byte, errPos []int) []byte {
	n := len(codeword)

	coefPos := make([]int, len(errPos))
	for i, p := range errPos {
		coefPos[i] = n - 1 - p
	}

	// Errata locator from the known positions.
	errataLoc := []byte{1}
	for _, p := range coefPos {
		errataLoc = polyMul(errataLoc, polyAdd([]byte{1}, []byte{gfExp[p], 0}))
	}

	// Error evaluator Ω = (S_rev · Λ) mod x^(ν+1).
	syndRev := make([]byte, len(synd))
	for i, s := range synd {
		syndRev[len(synd)-1-i] = s
	}
	divisor := make([]byte, len(errataLoc)+1)
	divisor[0] = 1
	errEval := polyDivRem(polyMul(syndRev, errataLoc), divisor)

	x := make([]byte, len(coefPos))
	for i, p := range coefPos {
		x[i] = gfExp[p]
	}

	out := make([]byte, n)
	copy(out, codeword)
	for i, xi := range x {
		xiInv := gfInverse(xi)

		// Formal derivative of the locator evaluated at Xi^-1,
		// as the product over the other roots.
		locPrime := byte(1)
		for j, xj := range x {
			if j == i {
				continue
			}
			locPrime = gfMul(locPrime, 1^gfMul(xiInv, xj))
		}

		// With syndromes taken at α^0..α^(ecc−1), the magnitude is
		// Ω(Xi^-1) over the product of the other locator factors.
		y := polyEval(errEval, xiInv)
		out[errPos[i]] ^= gfDiv(y, locPrime)
	}
	return out
}

func allZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}
