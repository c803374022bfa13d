// Package quality measures the perceptual damage an embed did to an
// image: MSE, PSNR and structural similarity.
//
// "Perceptually indistinguishable" means PSNR >= 40 dB and SSIM >= 0.95.
package quality

import (
	"encoding/json"
	"errors"
	"math"

	"watermarkd/internal/imageio"
)

// ErrDimensionMismatch is returned when the inputs differ in size.
var ErrDimensionMismatch = errors.New("quality: image dimensions differ")

// SSIM stabilization constants for 8-bit samples.
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// Thresholds for the perceptual floor.
const (
	MinPSNR = 40.0
	MinSSIM = 0.95
)

// Metrics holds the comparison result.
type Metrics struct {
	PSNR    float64 `json:"psnr"`
	SSIM    float64 `json:"ssim"`
	MSE     float64 `json:"mse"`
	MaxDiff float64 `json:"maxDiff"`
}

// MarshalJSON caps an infinite PSNR at 999 dB; JSON has no Infinity.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	a := alias(m)
	if math.IsInf(a.PSNR, 1) {
		a.PSNR = 999
	}
	return json.Marshal(a)
}

// Indistinguishable reports whether the embed clears the perceptual floor.
func (m *Metrics) Indistinguishable() bool {
	return m.PSNR >= MinPSNR && m.SSIM >= MinSSIM
}

// Compare computes MSE, PSNR, global SSIM and the maximum channel
// difference over the full RGB sample.
func Compare(original, watermarked *imageio.Image) (*Metrics, error) {
	if original.Width != watermarked.Width || original.Height != watermarked.Height {
		return nil, ErrDimensionMismatch
	}

	n := len(original.Pix)
	var sumSq, maxDiff float64
	for i := 0; i < n; i++ {
		d := float64(original.Pix[i]) - float64(watermarked.Pix[i])
		sumSq += d * d
		if ad := math.Abs(d); ad > maxDiff {
			maxDiff = ad
		}
	}
	mse := sumSq / float64(n)

	psnr := math.Inf(1)
	if mse > 0 {
		psnr = 10 * math.Log10(255*255/mse)
	}

	return &Metrics{
		PSNR:    psnr,
		SSIM:    ssim(original.Pix, watermarked.Pix),
		MSE:     mse,
		MaxDiff: maxDiff,
	}, nil
}

// ssim is the global single-window variant over the raw RGB sample. It is
// faster than the windowed form and sufficient for the thresholds.
func ssim(o, w []uint8) float64 {
	n := float64(len(o))

	var muO, muW float64
	for i := range o {
		muO += float64(o[i])
		muW += float64(w[i])
	}
	muO /= n
	muW /= n

	var varO, varW, cov float64
	for i := range o {
		do := float64(o[i]) - muO
		dw := float64(w[i]) - muW
		varO += do * do
		varW += dw * dw
		cov += do * dw
	}
	varO /= n
	varW /= n
	cov /= n

	num := (2*muO*muW + ssimC1) * (2*cov + ssimC2)
	den := (muO*muO + muW*muW + ssimC1) * (varO + varW + ssimC2)
	return num / den
}

// WindowedSSIM tiles the BT.601 grayscale image into non-overlapping 8×8
// windows and averages per-window SSIM. Partial edge windows are skipped.
func WindowedSSIM(original, watermarked *imageio.Image) (float64, error) {
	if original.Width != watermarked.Width || original.Height != watermarked.Height {
		return 0, ErrDimensionMismatch
	}

	lo := original.Luminance()
	lw := watermarked.Luminance()
	w, h := original.Width, original.Height

	const win = 8
	var total float64
	var windows int
	for wy := 0; wy+win <= h; wy += win {
		for wx := 0; wx+win <= w; wx += win {
			total += windowSSIM(lo, lw, w, wx, wy, win)
			windows++
		}
	}
	if windows == 0 {
		return ssim(original.Pix, watermarked.Pix), nil
	}
	return total / float64(windows), nil
}

func windowSSIM(lo, lw []float64, stride, x0, y0, win int) float64 {
	n := float64(win * win)

	var muO, muW float64
	for y := 0; y < win; y++ {
		row := (y0 + y) * stride
		for x := 0; x < win; x++ {
			muO += lo[row+x0+x]
			muW += lw[row+x0+x]
		}
	}
	muO /= n
	muW /= n

	var varO, varW, cov float64
	for y := 0; y < win; y++ {
		row := (y0 + y) * stride
		for x := 0; x < win; x++ {
			do := lo[row+x0+x] - muO
			dw := lw[row+x0+x] - muW
			varO += do * do
			varW += dw * dw
			cov += do * dw
		}
	}
	varO /= n
	varW /= n
	cov /= n

	num := (2*muO*muW + ssimC1) * (2*cov + ssimC2)
	den := (muO*muO + muW*muW + ssimC1) * (varO + varW + ssimC2)
	return num / den
}
