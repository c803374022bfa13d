// Package video shards a watermark payload across the frames of a video.
//
// Frame extraction and re-muxing belong to an external video I/O
// collaborator; this package only consumes an iterator of decoded frame
// buffers and emits watermarked ones, holding a single frame at a time.
//
// The RS-encoded bit string is split into S contiguous shards
// (S = min(3, ⌈N/10⌉)); each shard is re-encoded as a hex string and fed
// to the still-image embedder with workID "<base>-shard<s>", giving every
// shard an independent coefficient schedule. Shards carry no index byte,
// so a reordered frame sequence can splice them incorrectly; that is a
// known limitation, not a recovery target.
package video

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"watermarkd/internal/imageio"
	"watermarkd/internal/qim"
	"watermarkd/internal/rs"
)

// Errors
var (
	ErrNoFrames    = errors.New("video: no frames")
	ErrShardFailed = errors.New("video: shard recovery failed")
)

// Metadata mirrors what the video I/O collaborator reports.
type Metadata struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	Duration float64 `json:"duration"`
	Codec    string  `json:"codec"`
}

// FrameSource yields decoded frames in presentation order. Next returns
// io.EOF after the last frame.
type FrameSource interface {
	Next() (*imageio.Image, error)
}

// Options tunes the temporal wrapper. The zero value embeds at the still
// engine's default strength of 0.15; a lower strength applies only when a
// caller sets it explicitly, and it must stay inside the still engine's
// admitted range.
type Options struct {
	Strength          float64
	EccBytes          int
	TextureGate       bool
	TextureThreshold  float64
	FrameSamplingRate int
}

func (o Options) withDefaults() Options {
	if o.Strength == 0 {
		o.Strength = qim.DefaultStrength
	}
	if o.EccBytes == 0 {
		o.EccBytes = qim.VideoEccBytes
	}
	if o.TextureThreshold == 0 {
		o.TextureThreshold = 0.3
	}
	if o.FrameSamplingRate < 1 {
		o.FrameSamplingRate = 1
	}
	return o
}

// ShardCount is S for a frame count.
func ShardCount(frameCount int) int {
	s := (frameCount + 9) / 10
	if s > 3 {
		s = 3
	}
	if s < 1 {
		s = 1
	}
	return s
}

// shardHexes RS-encodes the payload and splits the bit string into S
// contiguous shards, each rendered as a lowercase hex string. The layout
// is a pure function of (payloadLen, ecc, S), so the extractor can
// recompute expected shard sizes.
func shardHexes(payload []byte, eccBytes, shards int) ([]string, error) {
	codec, err := rs.NewCodec(eccBytes)
	if err != nil {
		return nil, err
	}
	codeword, err := codec.Encode(payload)
	if err != nil {
		return nil, err
	}

	bits := make([]uint8, len(codeword)*8)
	for i, b := range codeword {
		for j := 0; j < 8; j++ {
			bits[i*8+j] = (b >> (7 - j)) & 1
		}
	}

	out := make([]string, shards)
	for s := 0; s < shards; s++ {
		lo, hi := shardBounds(len(bits), shards, s)
		out[s] = hex.EncodeToString(packBits(bits[lo:hi]))
	}
	return out, nil
}

// shardBounds returns the [lo, hi) bit range of shard s.
func shardBounds(totalBits, shards, s int) (int, int) {
	lo := s * totalBits / shards
	hi := (s + 1) * totalBits / shards
	return lo, hi
}

// shardHexLen is the expected hex-string length of shard s.
func shardHexLen(payloadLen, eccBytes, shards, s int) int {
	totalBits := (payloadLen + eccBytes) * 8
	lo, hi := shardBounds(totalBits, shards, s)
	return 2 * ((hi - lo + 7) / 8)
}

func packBits(bits []uint8) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b != 0 {
			out[i/8] |= 1 << (7 - i%8)
		}
	}
	return out
}

func unpackBits(data []byte, n int) []uint8 {
	out := make([]uint8, n)
	for i := range out {
		out[i] = (data[i/8] >> (7 - i%8)) & 1
	}
	return out
}

// EmbedFrames walks the frame stream, embedding shard s into every frame
// of interval s and passing each watermarked (or skipped) frame to emit.
// basePayloadHash seeds the per-shard hoppers together with the suffixed
// workID.
func EmbedFrames(ctx context.Context, src FrameSource, frameCount int, payload []byte, workID, basePayloadHash string, opts Options, emit func(*imageio.Image) error) error {
	if frameCount <= 0 {
		return ErrNoFrames
	}
	opts = opts.withDefaults()

	shards := ShardCount(frameCount)
	hexes, err := shardHexes(payload, opts.EccBytes, shards)
	if err != nil {
		return err
	}

	for i := 0; i < frameCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read frame %d: %w", i, err)
		}

		if opts.FrameSamplingRate > 1 && i%opts.FrameSamplingRate != 0 {
			if err := emit(frame); err != nil {
				return err
			}
			continue
		}
		if opts.TextureGate && textureScore(frame) < opts.TextureThreshold {
			if err := emit(frame); err != nil {
				return err
			}
			continue
		}

		s := shardForFrame(i, frameCount, shards)
		marked, err := qim.Embed(ctx, frame, []byte(hexes[s]), qim.Params{
			Strength:    opts.Strength,
			EccBytes:    opts.EccBytes,
			WorkID:      shardWorkID(workID, s),
			PayloadHash: basePayloadHash,
		})
		if err != nil {
			// A frame too small for its shard passes through verbatim
			// rather than aborting the stream.
			if errors.Is(err, qim.ErrCapacityExceeded) {
				marked = frame
			} else {
				return fmt.Errorf("embed frame %d: %w", i, err)
			}
		}
		if err := emit(marked); err != nil {
			return err
		}
	}
	return nil
}

// shardForFrame partitions frames into S contiguous intervals.
func shardForFrame(frame, frameCount, shards int) int {
	s := frame * shards / frameCount
	if s >= shards {
		s = shards - 1
	}
	return s
}

func shardWorkID(workID string, s int) string {
	return fmt.Sprintf("%s-shard%d", workID, s)
}

// textureScore is the normalized grayscale variance min(var/5000, 1).
// Flat frames hold the mark poorly and are skipped when the gate is on.
func textureScore(frame *imageio.Image) float64 {
	lum := frame.Luminance()
	n := float64(len(lum))

	var mean float64
	for _, v := range lum {
		mean += v
	}
	mean /= n

	var variance float64
	for _, v := range lum {
		d := v - mean
		variance += d * d
	}
	variance /= n

	score := variance / 5000
	if score > 1 {
		score = 1
	}
	return score
}

// ExtractResult reports a full video recovery.
type ExtractResult struct {
	Payload         []byte
	Confidence      float64
	ShardsRecovered int
	ShardsTotal     int
}

// ExtractFrames samples every 5th frame of each shard interval, keeps
// candidates with confidence > 0.5, takes the plurality hex string per
// shard, concatenates all shards and runs the RS decoder once more.
func ExtractFrames(ctx context.Context, src FrameSource, frameCount, payloadLen int, workID, basePayloadHash string, opts Options) (*ExtractResult, error) {
	if frameCount <= 0 {
		return nil, ErrNoFrames
	}
	opts = opts.withDefaults()

	shards := ShardCount(frameCount)
	votes := make([]map[string]int, shards)
	conf := make([]map[string]float64, shards)
	for s := range votes {
		votes[s] = make(map[string]int)
		conf[s] = make(map[string]float64)
	}

	for i := 0; i < frameCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read frame %d: %w", i, err)
		}
		if i%5 != 0 {
			continue
		}

		s := shardForFrame(i, frameCount, shards)
		hexLen := shardHexLen(payloadLen, opts.EccBytes, shards, s)

		res, err := qim.Extract(ctx, frame, hexLen, qim.Params{
			Strength:    opts.Strength,
			EccBytes:    opts.EccBytes,
			WorkID:      shardWorkID(workID, s),
			PayloadHash: basePayloadHash,
		})
		if err != nil || res.Payload == nil || res.Confidence <= 0.5 {
			continue
		}
		candidate := string(res.Payload)
		votes[s][candidate]++
		conf[s][candidate] += res.Confidence
	}

	recovered := make([]string, shards)
	var confidence float64
	var got int
	for s := 0; s < shards; s++ {
		best, n := "", 0
		for candidate, count := range votes[s] {
			if count > n {
				best, n = candidate, count
			}
		}
		if n == 0 {
			continue
		}
		recovered[s] = best
		confidence += conf[s][best] / float64(n)
		got++
	}

	if got < shards {
		return &ExtractResult{ShardsRecovered: got, ShardsTotal: shards}, nil
	}

	// Reassemble the codeword bit string from the shard hexes.
	totalBits := (payloadLen + opts.EccBytes) * 8
	bits := make([]uint8, 0, totalBits)
	for s := 0; s < shards; s++ {
		raw, err := hex.DecodeString(recovered[s])
		if err != nil {
			return nil, fmt.Errorf("%w: shard %d: %v", ErrShardFailed, s, err)
		}
		lo, hi := shardBounds(totalBits, shards, s)
		bits = append(bits, unpackBits(raw, hi-lo)...)
	}

	codec, err := rs.NewCodec(opts.EccBytes)
	if err != nil {
		return nil, err
	}
	decoded, err := codec.Decode(packBits(bits))
	if err != nil {
		return &ExtractResult{ShardsRecovered: got, ShardsTotal: shards}, nil
	}

	return &ExtractResult{
		Payload:         decoded.Data,
		Confidence:      confidence / float64(shards),
		ShardsRecovered: got,
		ShardsTotal:     shards,
	}, nil
}
