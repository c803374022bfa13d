package robustness

import (
	"context"
	"testing"

	"watermarkd/internal/imageio"
	"watermarkd/internal/qim"
)

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

var testParams = qim.Params{
	Strength:    0.15,
	EccBytes:    8,
	WorkID:      "GJP-MEDIA-2026-ROBUST01",
	PayloadHash: "0badc0de0badc0de",
}

func TestRunCoversTheAttackGrid(t *testing.T) {
	if testing.Short() {
		t.Skip("harness runs the full attack grid")
	}

	payload := []byte("©AQ|Alex|ID")
	marked, err := qim.Embed(context.Background(), testImage(256, 256), payload, testParams)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	report, err := Run(context.Background(), marked, len(payload), testParams)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantCases := len(JPEGQualities) + len(ResizeScales) + len(CropFractions) + 1
	if report.Total != wantCases || len(report.Cases) != wantCases {
		t.Fatalf("report has %d cases, want %d", len(report.Cases), wantCases)
	}

	counts := map[string]int{}
	for _, c := range report.Cases {
		counts[c.Transformation]++
		if c.Detected && c.Payload == "" {
			t.Errorf("%s %s: detected without a payload", c.Transformation, c.Params)
		}
		if c.Detected && c.Confidence < 0.5 {
			t.Errorf("%s %s: detected with confidence %v", c.Transformation, c.Params, c.Confidence)
		}
	}
	if counts["jpeg"] != len(JPEGQualities) {
		t.Errorf("jpeg cases = %d", counts["jpeg"])
	}
	if counts["resize"] != len(ResizeScales) {
		t.Errorf("resize cases = %d", counts["resize"])
	}
	if counts["crop"] != len(CropFractions) {
		t.Errorf("crop cases = %d", counts["crop"])
	}
	if counts["instagram"] != 1 {
		t.Errorf("instagram cases = %d", counts["instagram"])
	}

	// Mild recompression is the tuned-for channel; Q=95 must survive.
	for _, c := range report.Cases {
		if c.Transformation == "jpeg" && c.Params == "quality=95" {
			if !c.Detected {
				t.Errorf("payload did not survive JPEG Q=95 (confidence %v, errors %d)", c.Confidence, c.ErrorsFound)
			}
			if c.Detected && c.Payload != string(payload) {
				t.Errorf("recovered %q, want %q", c.Payload, payload)
			}
		}
	}

	if report.Survived > report.Total {
		t.Error("survived exceeds total")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Run(ctx, testImage(64, 64), 1, testParams); err == nil {
		t.Fatal("cancelled run must fail")
	}
}
