package payload

import (
	"strings"
	"testing"
	"time"
)

var testProfile = Profile{
	LegalName:     "Alex Barrow Quinn",
	DisplayName:   "Alex",
	CopyrightYear: 2026,
	PrimarySource: "https://alex.example",
}

func TestCanonicalKeyOrder(t *testing.T) {
	instant := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	c := Build(testProfile, "GJP-MEDIA-2026-ABCDEF123456", "image", 1920, 1080, instant)

	got := c.Serialize()
	want := strings.Join([]string{
		"ASPECTRATIO=16:9",
		"AUTHOR=Alex Barrow Quinn",
		"COPYRIGHT=© 2026 Alex Barrow Quinn",
		"CREATEDUTC=2026-03-14T15:09:26Z",
		"KNOWNAS=Alex",
		"MEDIATYPE=image",
		"RIGHTS=ALL RIGHTS RESERVED",
		"SOURCE=https://alex.example",
		"WORKID=GJP-MEDIA-2026-ABCDEF123456",
	}, "\n")

	if got != want {
		t.Errorf("canonical form:\n%s\nwant:\n%s", got, want)
	}
	if strings.HasSuffix(got, "\n") {
		t.Error("canonical form must not carry a trailing newline")
	}
}

func TestSerializeParseIdempotent(t *testing.T) {
	instant := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	c := Build(testProfile, "GJP-MEDIA-2026-ABCDEF123456", "video", 1080, 1080, instant)

	first := c.Serialize()
	parsed, err := Parse(first)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Serialize() != first {
		t.Errorf("serialize∘parse is not the identity:\n%s\nvs\n%s", parsed.Serialize(), first)
	}
}

func TestParseRejectsUnknownKey(t *testing.T) {
	c := Build(testProfile, "GJP-MEDIA-2026-ABCDEF123456", "image", 100, 100, time.Now())
	text := c.Serialize() + "\nEVIL=1"

	if _, err := Parse(text); err == nil {
		t.Fatal("unknown key must be rejected")
	}
}

func TestParseRejectsDuplicateKey(t *testing.T) {
	c := Build(testProfile, "GJP-MEDIA-2026-ABCDEF123456", "image", 100, 100, time.Now())
	text := c.Serialize() + "\nAUTHOR=someone else"

	if _, err := Parse(text); err == nil {
		t.Fatal("duplicate key must be rejected")
	}
}

func TestParseRejectsMissingKey(t *testing.T) {
	if _, err := Parse("AUTHOR=x"); err == nil {
		t.Fatal("incomplete payload must be rejected")
	}
}

func TestCompact(t *testing.T) {
	got := Compact(testProfile, "GJP-MEDIA-2026-ABCDEF123456")
	want := "©ABQ|Alex|GJP-MEDIA-2026-ABCDEF123456"
	if got != want {
		t.Errorf("Compact = %q, want %q", got, want)
	}
}

func TestInitials(t *testing.T) {
	cases := map[string]string{
		"Alex Barrow Quinn": "ABQ",
		"alex quinn":        "AQ",
		"Cher":              "C",
		"  spaced   out  ":  "SO",
		"":                  "",
	}
	for name, want := range cases {
		if got := Initials(name); got != want {
			t.Errorf("Initials(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestNewWorkID(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

	id, err := NewWorkID(now)
	if err != nil {
		t.Fatalf("NewWorkID: %v", err)
	}
	if !strings.HasPrefix(id, "GJP-MEDIA-2026-") {
		t.Errorf("id %q lacks the prefix", id)
	}
	if !ValidWorkID(id) {
		t.Errorf("id %q fails its own contract", id)
	}

	other, err := NewWorkID(now)
	if err != nil {
		t.Fatalf("NewWorkID: %v", err)
	}
	if id == other {
		t.Error("two work ids for the same instant collided")
	}
}

func TestValidWorkID(t *testing.T) {
	if ValidWorkID("short") {
		t.Error("short id accepted")
	}
	if ValidWorkID("gjp-media-2026-abcdef1234567") {
		t.Error("lowercase id accepted")
	}
	if ValidWorkID("XXX-OTHER-2026-ABCDEF1234567") {
		t.Error("wrong prefix accepted")
	}
	if !ValidWorkID("GJP-MEDIA-2026-ABCDEF1234567") {
		t.Error("well-formed id rejected")
	}
}

func TestAspectRatio(t *testing.T) {
	cases := []struct {
		w, h int
		want string
	}{
		{1920, 1080, "16:9"},
		{1280, 720, "16:9"},
		{800, 600, "4:3"},
		{1000, 1000, "1:1"},
		{1080, 1920, "9:16"},
		{3000, 2000, "3:2"},
		{2560, 1097, "21:9"},
		{800, 1000, "4:5"},
		{1234, 333, "custom"},
		{0, 100, "custom"},
	}
	for _, tc := range cases {
		if got := AspectRatio(tc.w, tc.h); got != tc.want {
			t.Errorf("AspectRatio(%d,%d) = %q, want %q", tc.w, tc.h, got, tc.want)
		}
	}
}
