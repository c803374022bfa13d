// Package robustness replays common distribution transforms against a
// watermarked image and records whether the payload survives each one.
//
// The harness measures, it does not promise: crop results in particular
// document block desynchronization rather than recovery.
package robustness

import (
	"context"
	"fmt"

	"watermarkd/internal/imageio"
	"watermarkd/internal/qim"
)

// Default attack grids.
var (
	JPEGQualities = []int{95, 85, 75, 65}
	ResizeScales  = []float64{0.5, 0.75, 1.25, 1.5}
	CropFractions = []float64{0.05, 0.10, 0.15}
)

// Instagram profile: downscale the long edge to 1080, recompress hard.
const (
	instagramLongEdge = 1080
	instagramQuality  = 72
)

// Case is one attack record.
type Case struct {
	Transformation  string  `json:"transformation"`
	Params          string  `json:"params"`
	Detected        bool    `json:"detected"`
	Confidence      float64 `json:"confidence"`
	ErrorsFound     int     `json:"errorsFound"`
	ErrorsCorrected int     `json:"errorsCorrected"`
	Payload         string  `json:"payload,omitempty"`
}

// Report is the full harness output.
type Report struct {
	Cases    []Case `json:"cases"`
	Survived int    `json:"survived"`
	Total    int    `json:"total"`
}

// Run replays the attack grid against a watermarked image and attempts
// extraction after each transform.
func Run(ctx context.Context, watermarked *imageio.Image, payloadLen int, p qim.Params) (*Report, error) {
	report := &Report{}

	for _, q := range JPEGQualities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := recompress(watermarked, q)
		if err != nil {
			return nil, err
		}
		report.add(attempt(ctx, img, payloadLen, p, "jpeg", fmt.Sprintf("quality=%d", q)))
	}

	for _, scale := range ResizeScales {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := int(float64(watermarked.Width) * scale)
		h := int(float64(watermarked.Height) * scale)
		img := watermarked.Resize(w, h).Resize(watermarked.Width, watermarked.Height)
		report.add(attempt(ctx, img, payloadLen, p, "resize", fmt.Sprintf("scale=%.2f", scale)))
	}

	for _, frac := range CropFractions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img := watermarked.CenterCrop(frac)
		report.add(attempt(ctx, img, payloadLen, p, "crop", fmt.Sprintf("perSide=%.0f%%", frac*100)))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ig, err := instagram(watermarked)
	if err != nil {
		return nil, err
	}
	report.add(attempt(ctx, ig, payloadLen, p, "instagram", fmt.Sprintf("longEdge=%d quality=%d", instagramLongEdge, instagramQuality)))

	return report, nil
}

func (r *Report) add(c Case) {
	r.Cases = append(r.Cases, c)
	r.Total++
	if c.Detected {
		r.Survived++
	}
}

// attempt extracts after one transform. Extraction errors (e.g. the crop
// left too few blocks) record as undetected rather than failing the run.
func attempt(ctx context.Context, img *imageio.Image, payloadLen int, p qim.Params, transformation, params string) Case {
	c := Case{Transformation: transformation, Params: params, ErrorsFound: -1}

	res, err := qim.Extract(ctx, img, payloadLen, p)
	if err != nil {
		return c
	}

	c.Confidence = res.Confidence
	c.ErrorsFound = res.ErrorsFound
	c.ErrorsCorrected = res.ErrorsCorrected
	if res.Payload != nil && res.Confidence >= 0.5 {
		c.Detected = true
		c.Payload = string(res.Payload)
	}
	return c
}

// recompress round-trips the image through JPEG at the given quality.
func recompress(img *imageio.Image, quality int) (*imageio.Image, error) {
	data, err := img.EncodeJPEG(quality)
	if err != nil {
		return nil, err
	}
	return imageio.Decode(data)
}

// instagram models the "Instagram profile": long edge capped at 1080,
// then a hard recompress.
func instagram(img *imageio.Image) (*imageio.Image, error) {
	w, h := img.Width, img.Height
	long := w
	if h > long {
		long = h
	}
	if long > instagramLongEdge {
		scale := float64(instagramLongEdge) / float64(long)
		img = img.Resize(int(float64(w)*scale), int(float64(h)*scale))
	}
	out, err := recompress(img, instagramQuality)
	if err != nil {
		return nil, err
	}
	// Restore original dimensions so extraction sees the full grid.
	if out.Width != w || out.Height != h {
		out = out.Resize(w, h)
	}
	return out, nil
}
