package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"watermarkd/internal/imageio"
	"watermarkd/internal/payload"
	"watermarkd/internal/qim"
	"watermarkd/internal/signer"
)

const testKey = "0101010101010101010101010101010101010101010101010101010101010101"

var testProfile = payload.Profile{
	LegalName:     "Alex Barrow Quinn",
	DisplayName:   "Alex",
	CopyrightYear: 2026,
	PrimarySource: "https://alex.example",
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
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
	data, err := img.EncodePNG()
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	return data
}

func TestEmbedFullPipeline(t *testing.T) {
	s, err := signer.New(testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	defer s.Close()

	eng := &Engine{Signer: s, Profile: testProfile}
	res, err := eng.Embed(context.Background(), EmbedRequest{
		Data:     testPNG(t, 512, 512),
		FileName: "photo.png",
		Format:   FormatPNG,
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if !payload.ValidWorkID(res.WorkID) {
		t.Errorf("generated work id %q is invalid", res.WorkID)
	}
	if !strings.HasPrefix(res.Payload, "©ABQ|Alex|") {
		t.Errorf("compact payload = %q", res.Payload)
	}
	if len(res.Watermarked) == 0 {
		t.Fatal("no watermarked bytes")
	}

	rec := res.Record
	if rec.WorkID != res.WorkID {
		t.Error("record work id mismatch")
	}
	if err := rec.Verify(); err != nil {
		t.Errorf("record verification: %v", err)
	}
	if rec.QualityMetrics == nil {
		t.Fatal("record lacks quality metrics")
	}
	if rec.EmbeddingParams.Strength != qim.DefaultStrength {
		t.Errorf("recorded strength %v", rec.EmbeddingParams.Strength)
	}
	if rec.EmbeddingParams.CoefficientSeed != rec.WorkID+":"+rec.PayloadHash {
		t.Error("coefficient seed not recorded verbatim")
	}
}

// Round trip through the lossless PNG path: P2, exact recovery.
func TestEmbedThenExtract(t *testing.T) {
	eng := &Engine{Profile: testProfile}

	res, err := eng.Embed(context.Background(), EmbedRequest{
		Data:   testPNG(t, 512, 512),
		Format: FormatPNG,
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	got, err := eng.Extract(context.Background(), res.Watermarked,
		res.WorkID, res.Record.PayloadHash, len(res.Payload), qim.DefaultEccBytes, qim.DefaultStrength)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Payload == nil {
		t.Fatal("extraction recovered nothing")
	}
	if string(got.Payload) != res.Payload {
		t.Errorf("payload = %q, want %q", got.Payload, res.Payload)
	}
	if got.ErrorsFound != 0 || got.Confidence != 1.0 {
		t.Errorf("clean channel: errors=%d confidence=%v", got.ErrorsFound, got.Confidence)
	}
}

func TestEmbedUnsignedStillSucceeds(t *testing.T) {
	eng := &Engine{Profile: testProfile}

	res, err := eng.Embed(context.Background(), EmbedRequest{Data: testPNG(t, 256, 256)})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if res.Record.Signed() {
		t.Error("record must be unsigned without a signer")
	}
	if res.Record.Signature != "" || res.Record.SignaturePublicKey != "" {
		t.Error("absent signature fields must stay empty")
	}
}

func TestEmbedCapacityError(t *testing.T) {
	eng := &Engine{Profile: testProfile}

	_, err := eng.Embed(context.Background(), EmbedRequest{Data: testPNG(t, 64, 64)})
	if !errors.Is(err, qim.ErrCapacityExceeded) {
		t.Errorf("err = %v, want capacity exceeded", err)
	}
}

func TestEmbedRejectsGarbage(t *testing.T) {
	eng := &Engine{Profile: testProfile}

	_, err := eng.Embed(context.Background(), EmbedRequest{Data: []byte("junk")})
	if !errors.Is(err, imageio.ErrInputUnreadable) {
		t.Errorf("err = %v, want input unreadable", err)
	}
}

func TestEmbedHonorsExplicitWorkID(t *testing.T) {
	eng := &Engine{Profile: testProfile}

	res, err := eng.Embed(context.Background(), EmbedRequest{
		Data:   testPNG(t, 512, 512),
		WorkID: "GJP-MEDIA-2026-FIXEDID123456",
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if res.WorkID != "GJP-MEDIA-2026-FIXEDID123456" {
		t.Errorf("work id = %q", res.WorkID)
	}
}
