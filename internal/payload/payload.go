// Package payload builds the canonical and embeddable payload forms and
// generates work identifiers.
//
// The canonical form is deterministic for a given (profile, workID,
// mediaType, aspect, instant): one KEY=VALUE per line, keys uppercase and
// in ascending lexicographic order, joined by \n with no trailing newline.
package payload

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Errors
var (
	ErrMalformedPayload = errors.New("payload: malformed canonical payload")
	ErrUnknownKey       = errors.New("payload: unknown canonical key")
	ErrDuplicateKey     = errors.New("payload: duplicate canonical key")
)

// Canonical keys.
const (
	KeyAspectRatio = "ASPECTRATIO"
	KeyAuthor      = "AUTHOR"
	KeyCopyright   = "COPYRIGHT"
	KeyCreatedUTC  = "CREATEDUTC"
	KeyKnownAs     = "KNOWNAS"
	KeyMediaType   = "MEDIATYPE"
	KeyRights      = "RIGHTS"
	KeySource      = "SOURCE"
	KeyWorkID      = "WORKID"
)

var canonicalKeys = []string{
	KeyAspectRatio, KeyAuthor, KeyCopyright, KeyCreatedUTC, KeyKnownAs,
	KeyMediaType, KeyRights, KeySource, KeyWorkID,
}

// Profile identifies the rights holder. Consumed read-only.
type Profile struct {
	LegalName     string
	DisplayName   string
	CopyrightYear int
	PrimarySource string
}

// Canonical is the parsed canonical payload.
type Canonical struct {
	values map[string]string
}

// Build assembles the canonical payload for one embed operation.
func Build(p Profile, workID, mediaType string, width, height int, instant time.Time) *Canonical {
	return &Canonical{values: map[string]string{
		KeyAspectRatio: AspectRatio(width, height),
		KeyAuthor:      p.LegalName,
		KeyCopyright:   fmt.Sprintf("© %d %s", p.CopyrightYear, p.LegalName),
		KeyCreatedUTC:  instant.UTC().Format(time.RFC3339),
		KeyKnownAs:     p.DisplayName,
		KeyMediaType:   mediaType,
		KeyRights:      "ALL RIGHTS RESERVED",
		KeySource:      p.PrimarySource,
		KeyWorkID:      workID,
	}}
}

// Get returns the value for a canonical key.
func (c *Canonical) Get(key string) string { return c.values[key] }

// WorkID returns the embedded work identifier.
func (c *Canonical) WorkID() string { return c.values[KeyWorkID] }

// Serialize emits the canonical text form.
func (c *Canonical) Serialize() string {
	lines := make([]string, 0, len(canonicalKeys))
	for _, k := range canonicalKeys {
		lines = append(lines, k+"="+c.values[k])
	}
	return strings.Join(lines, "\n")
}

// Parse reads a canonical text form back. Unknown and duplicate keys are
// rejected; parse(serialize(x)) then serialize reproduces the input.
func Parse(text string) (*Canonical, error) {
	values := make(map[string]string, len(canonicalKeys))
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: line %q", ErrMalformedPayload, line)
		}
		if !isCanonicalKey(key) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		if _, dup := values[key]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
		}
		values[key] = value
	}
	for _, k := range canonicalKeys {
		if _, ok := values[k]; !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrMalformedPayload, k)
		}
	}
	return &Canonical{values: values}, nil
}

func isCanonicalKey(key string) bool {
	for _, k := range canonicalKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Compact builds the short embeddable payload:
// ©<initials>|<displayName>|<workId>.
func Compact(p Profile, workID string) string {
	return "©" + Initials(p.LegalName) + "|" + p.DisplayName + "|" + workID
}

// Initials takes the uppercase first letter of each whitespace-delimited
// name component.
func Initials(name string) string {
	var b strings.Builder
	for _, part := range strings.Fields(name) {
		for _, r := range part {
			b.WriteRune(unicode.ToUpper(r))
			break
		}
	}
	return b.String()
}

// workIDAlphabet is base36, uppercase.
const workIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewWorkID generates GJP-MEDIA-<year>-<base36 millis><6 base36 random>.
// The result is uppercase and unique per embed operation; it serves as a
// domain separator in all seeds.
func NewWorkID(now time.Time) (string, error) {
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))

	suffix := make([]byte, 6)
	max := big.NewInt(int64(len(workIDAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("work id entropy: %w", err)
		}
		suffix[i] = workIDAlphabet[n.Int64()]
	}

	return fmt.Sprintf("GJP-MEDIA-%d-%s%s", now.UTC().Year(), ts, string(suffix)), nil
}

// ValidWorkID checks the identifier contract: the GJP-MEDIA prefix,
// uppercase, and a total length of 24–32.
func ValidWorkID(id string) bool {
	if len(id) < 24 || len(id) > 32 {
		return false
	}
	if !strings.HasPrefix(id, "GJP-MEDIA-") {
		return false
	}
	return id == strings.ToUpper(id)
}

// aspectTable lists the common ratios the detector recognizes.
var aspectTable = []struct {
	name  string
	ratio float64
}{
	{"16:9", 16.0 / 9.0},
	{"4:3", 4.0 / 3.0},
	{"1:1", 1.0},
	{"3:2", 3.0 / 2.0},
	{"21:9", 21.0 / 9.0},
	{"9:16", 9.0 / 16.0},
	{"4:5", 4.0 / 5.0},
}

// aspectTolerance is how close a measured ratio must sit to a table entry.
const aspectTolerance = 0.05

// AspectRatio names the closest common ratio within tolerance, else
// "custom".
func AspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return "custom"
	}
	r := float64(width) / float64(height)

	best := "custom"
	bestDiff := aspectTolerance
	for _, entry := range aspectTable {
		diff := r - entry.ratio
		if diff < 0 {
			diff = -diff
		}
		if diff <= bestDiff {
			best = entry.name
			bestDiff = diff
		}
	}
	return best
}
