// Package hopper derives the deterministic coefficient schedule used to
// spread watermark bits across mid-frequency DCT positions.
//
// The schedule is a pure function of (workID, payloadHash, blockSize):
// SHA-256 of "workID:payloadHash" seeds a Fisher–Yates shuffle of the
// mid-band coordinate list, and block indices walk the shuffled list with
// wrap-around. The hopping pattern cycles across blocks, not within one.
package hopper

import (
	"crypto/sha256"
	"fmt"
)

// Coordinate is a (row, col) position inside an N×N coefficient block.
type Coordinate struct {
	Row int
	Col int
}

// midBand is the default coordinate set. DC carries visible luminance and
// high frequencies vanish under JPEG quantization; this band survives the
// standard quantization matrix at Q >= 65.
var midBand = []Coordinate{
	{2, 2}, {2, 3}, {3, 2}, {3, 3}, {2, 4}, {4, 2}, {3, 4},
	{4, 3}, {4, 4}, {2, 5}, {5, 2}, {3, 5}, {5, 3},
}

// Hopper is an immutable shuffled coordinate schedule.
type Hopper struct {
	coords    []Coordinate
	blockSize int
}

// New builds the schedule for the given identifiers. Two hoppers built
// from equal inputs produce equal sequences for all indices.
func New(workID, payloadHash string, blockSize int) *Hopper {
	seed := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", workID, payloadHash)))

	coords := make([]Coordinate, len(midBand))
	copy(coords, midBand)

	// Fisher–Yates: byte i of the seed (wrapping) supplies the swap
	// index j = seed[i] mod (i+1).
	for i := 1; i < len(coords); i++ {
		j := int(seed[i%len(seed)]) % (i + 1)
		coords[i], coords[j] = coords[j], coords[i]
	}

	return &Hopper{coords: coords, blockSize: blockSize}
}

// Position returns the coefficient coordinate for a block index.
func (h *Hopper) Position(blockIndex int) Coordinate {
	return h.coords[blockIndex%len(h.coords)]
}

// Coordinates returns a copy of the shuffled schedule.
func (h *Hopper) Coordinates() []Coordinate {
	out := make([]Coordinate, len(h.coords))
	copy(out, h.coords)
	return out
}

// BlockSize reports the block side the schedule targets.
func (h *Hopper) BlockSize() int { return h.blockSize }

// DefaultCoordinates returns a copy of the unshuffled mid-band set.
func DefaultCoordinates() []Coordinate {
	out := make([]Coordinate, len(midBand))
	copy(out, midBand)
	return out
}
