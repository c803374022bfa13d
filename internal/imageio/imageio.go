// Package imageio decodes and encodes the image formats the watermark
// pipeline accepts and exposes raw 8-bit RGB buffers to the core.
//
// Supported inputs: JPEG, PNG, WebP. Alpha is stripped on decode.
// Outputs: JPEG (default, quality >= 95) and PNG.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Errors
var (
	ErrInputUnreadable = errors.New("imageio: unreadable image data")
	ErrEmptyImage      = errors.New("imageio: zero-dimension image")
)

// DefaultJPEGQuality is the re-encode quality after embedding. Robustness
// is tuned against subsequent JPEG recompression, so the default output
// format is JPEG at high quality.
const DefaultJPEGQuality = 95

// Image is a raw interleaved 8-bit RGB buffer.
type Image struct {
	Width  int
	Height int
	Pix    []uint8 // len = Width*Height*3, row-major RGB
}

// New allocates a zeroed RGB image.
func New(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
}

// Decode parses JPEG, PNG or WebP bytes into an RGB image.
func Decode(data []byte) (*Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}
	return FromImage(img)
}

// FromImage converts any image.Image to a raw RGB buffer, dropping alpha.
func FromImage(img image.Image) (*Image, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyImage
	}

	out := New(w, h)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out.Pix[i+0] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(bl >> 8)
			i += 3
		}
	}
	return out, nil
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := New(im.Width, im.Height)
	copy(out.Pix, im.Pix)
	return out
}

// RGBA converts to the stdlib representation for encoding and scaling.
func (im *Image) RGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	si := 0
	for y := 0; y < im.Height; y++ {
		di := y * out.Stride
		for x := 0; x < im.Width; x++ {
			out.Pix[di+0] = im.Pix[si+0]
			out.Pix[di+1] = im.Pix[si+1]
			out.Pix[di+2] = im.Pix[si+2]
			out.Pix[di+3] = 0xFF
			si += 3
			di += 4
		}
	}
	return out
}

// EncodeJPEG serializes the image as JPEG at the given quality.
// A quality of 0 selects DefaultJPEGQuality.
func (im *Image) EncodeJPEG(quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, im.RGBA(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG serializes the image as PNG.
func (im *Image) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, im.RGBA()); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Luminance computes the BT.601 luma plane as float64 samples.
func (im *Image) Luminance() []float64 {
	out := make([]float64, im.Width*im.Height)
	for i := range out {
		p := i * 3
		out[i] = 0.299*float64(im.Pix[p]) + 0.587*float64(im.Pix[p+1]) + 0.114*float64(im.Pix[p+2])
	}
	return out
}

// ApplyLuminanceDelta reconstructs RGB from a modified luma plane by adding
// the per-pixel delta equally to each channel. This is the
// luminance-preserving approximation the embedder relies on.
func (im *Image) ApplyLuminanceDelta(original, modified []float64) *Image {
	out := im.Clone()
	for i := 0; i < im.Width*im.Height; i++ {
		delta := modified[i] - original[i]
		if delta == 0 {
			continue
		}
		p := i * 3
		out.Pix[p+0] = clampU8(float64(im.Pix[p+0]) + delta)
		out.Pix[p+1] = clampU8(float64(im.Pix[p+1]) + delta)
		out.Pix[p+2] = clampU8(float64(im.Pix[p+2]) + delta)
	}
	return out
}

// ResizeGray scales the image to w×h grayscale using bilinear filtering.
// The result is row-major float64 luma.
func (im *Image) ResizeGray(w, h int) []float64 {
	src := im.RGBA()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := y*dst.Stride + x*4
			out[y*w+x] = 0.299*float64(dst.Pix[p]) + 0.587*float64(dst.Pix[p+1]) + 0.114*float64(dst.Pix[p+2])
		}
	}
	return out
}

// Resize scales the image to w×h with bilinear filtering.
func (im *Image) Resize(w, h int) *Image {
	src := im.RGBA()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	out, _ := FromImage(dst)
	return out
}

// CenterCrop removes frac of the width and height from each side.
// frac must be in [0, 0.5); the crop keeps at least one pixel.
func (im *Image) CenterCrop(frac float64) *Image {
	dx := int(float64(im.Width) * frac)
	dy := int(float64(im.Height) * frac)
	w := im.Width - 2*dx
	h := im.Height - 2*dy
	if w < 1 {
		w = 1
		dx = (im.Width - 1) / 2
	}
	if h < 1 {
		h = 1
		dy = (im.Height - 1) / 2
	}

	out := New(w, h)
	for y := 0; y < h; y++ {
		srcOff := ((y+dy)*im.Width + dx) * 3
		copy(out.Pix[y*w*3:(y+1)*w*3], im.Pix[srcOff:srcOff+w*3])
	}
	return out
}

func clampU8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
