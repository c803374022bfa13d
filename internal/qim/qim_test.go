package qim

import (
	"bytes"
	"context"
	"testing"

	"watermarkd/internal/imageio"
)

// testImage builds a mid-range textured image that avoids clamping at the
// pixel-range edges, so QIM parity survives the uint8 round trip.
func testImage(w, h int) *imageio.Image {
	img := imageio.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(60 + (x*3+y*5+(x*y)%23)%140)
			p := (y*w + x) * 3
			img.Pix[p+0] = v
			img.Pix[p+1] = v - 10
			img.Pix[p+2] = v + 10
		}
	}
	return img
}

var testParams = Params{
	Strength:    0.15,
	EccBytes:    8,
	WorkID:      "GJP-MEDIA-2026-DEADBEEF00",
	PayloadHash: "f00dfeedc0ffee",
}

func TestEmbedExtractRoundTrip(t *testing.T) {
	img := testImage(512, 512)
	payload := []byte("©AB|Alex|GJP-MEDIA-2026-DEADBEEF")

	marked, err := Embed(context.Background(), img, payload, testParams)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	res, err := Extract(context.Background(), marked, len(payload), testParams)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Payload == nil {
		t.Fatal("clean channel extraction returned no payload")
	}
	if !bytes.Equal(res.Payload, payload) {
		t.Fatalf("payload = %q, want %q", res.Payload, payload)
	}
	if res.ErrorsFound != 0 {
		t.Errorf("clean channel reported %d errors", res.ErrorsFound)
	}
	if res.Confidence != 1.0 {
		t.Errorf("clean channel confidence = %v, want 1.0", res.Confidence)
	}
}

func TestEmbedDeterminism(t *testing.T) {
	payload := []byte("©AB|Alex|GJP-MEDIA-2026-DEADBEEF")

	a, err := Embed(context.Background(), testImage(256, 256), payload, testParams)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := Embed(context.Background(), testImage(256, 256), payload, testParams)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("embedding is not bit-identical across runs")
	}
}

func TestEmbedDoesNotMutateInput(t *testing.T) {
	img := testImage(256, 256)
	before := append([]byte(nil), img.Pix...)

	if _, err := Embed(context.Background(), img, []byte("payload"), testParams); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !bytes.Equal(img.Pix, before) {
		t.Error("embed mutated the caller's buffer")
	}
}

func TestCapacityExceeded(t *testing.T) {
	// 64×64 image: 64 blocks. 1 payload byte + 8 ecc = 72 bits required.
	img := testImage(64, 64)

	_, err := Embed(context.Background(), img, []byte("A"), testParams)
	if err == nil {
		t.Fatal("expected capacity failure")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("capacity")) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCapacityMath(t *testing.T) {
	if got := Capacity(512, 512, 8); got != 4096 {
		t.Errorf("Capacity(512,512,8) = %d, want 4096", got)
	}
	if got := RequiredBits(32, 8); got != 320 {
		t.Errorf("RequiredBits(32,8) = %d, want 320", got)
	}
}

func TestWrongSeedFailsCleanly(t *testing.T) {
	img := testImage(512, 512)
	payload := []byte("©AB|Alex|GJP-MEDIA-2026-DEADBEEF")

	marked, err := Embed(context.Background(), img, payload, testParams)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	wrong := testParams
	wrong.PayloadHash = "0000000000000000"
	res, err := Extract(context.Background(), marked, len(payload), wrong)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// A mismatched hopper reads noise; the decoder must fail in-band or
	// recover only with visible correction effort.
	if res.Payload != nil && res.ErrorsFound == 0 && bytes.Equal(res.Payload, payload) {
		t.Error("wrong coefficient seed recovered the payload without errors")
	}
}

func TestHeavyCropDesynchronizes(t *testing.T) {
	img := testImage(512, 512)
	payload := []byte("©AB|Alex|GJP-MEDIA-2026-DEADBEEF")

	marked, err := Embed(context.Background(), img, payload, testParams)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	// A 20% per-side crop shifts the block grid; the decoder has no
	// synchronization bits, so this documents rejection, not recovery.
	cropped := marked.CenterCrop(0.20)
	res, err := Extract(context.Background(), cropped, len(payload), testParams)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Payload != nil && res.Confidence >= 0.5 {
		t.Errorf("heavy crop unexpectedly survived: confidence %v", res.Confidence)
	}
}

func TestExtractReportsRsFailureInBand(t *testing.T) {
	// Plain image with no mark: extraction must not error, it reports
	// a failed decode.
	res, err := Extract(context.Background(), testImage(512, 512), 32, testParams)
	if err != nil {
		t.Fatalf("Extract must not fail hard: %v", err)
	}
	if res.Payload == nil {
		if res.ErrorsFound != -1 || res.Confidence != 0 {
			t.Errorf("failed decode must report errorsFound=-1, confidence=0; got %d, %v",
				res.ErrorsFound, res.Confidence)
		}
	}
}

func TestEmbedCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Embed(ctx, testImage(512, 512), []byte("payload"), testParams)
	if err == nil {
		t.Fatal("cancelled embed must return an error")
	}
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEmbedRejectsBadStrength(t *testing.T) {
	p := testParams
	p.Strength = 0.4
	if _, err := Embed(context.Background(), testImage(128, 128), []byte("x"), p); err == nil {
		t.Error("strength outside the admitted range must be rejected")
	}
}

func TestEmbedRejectsEmptyPayload(t *testing.T) {
	if _, err := Embed(context.Background(), testImage(128, 128), nil, testParams); err == nil {
		t.Error("empty payload must be rejected")
	}
}

func TestBitPacking(t *testing.T) {
	data := []byte{0xA5, 0x01}
	bits := bytesToBits(data)

	want := []uint8{1, 0, 1, 0, 0, 1, 0, 1, 0, 0, 0, 0, 0, 0, 0, 1}
	for i, b := range want {
		if bits[i] != b {
			t.Fatalf("bit %d = %d, want %d", i, bits[i], b)
		}
	}
	if !bytes.Equal(bitsToBytes(bits), data) {
		t.Error("bit packing does not round trip")
	}
}
