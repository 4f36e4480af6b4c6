package audio

import (
	"fmt"
	"math"

	"gopkg.in/hraban/opus.v2"

	"bken/server/internal/verr"
)

// FrameSize is 20ms of audio at TargetSampleRate, matching the teacher's
// client-side frame size so relayed packets interoperate with its decoder.
const FrameSize = 960

const (
	opusBitrate    = 64000
	opusComplexity = 5
)

// Clip is a fully encoded clip: a sequence of Opus frames plus the silence
// padding needed to round the final frame out to FrameSize samples.
type Clip struct {
	Frames     [][]byte
	DurationMs int64
}

// Encode converts resampled mono float64 PCM into 20ms Opus frames at
// 64kbps, VOIP-tuned, complexity 5 (spec §4.E).
func Encode(samples []float64) (Clip, error) {
	enc, err := opus.NewEncoder(TargetSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return Clip{}, fmt.Errorf("create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		return Clip{}, fmt.Errorf("set bitrate: %w", err)
	}
	if err := enc.SetComplexity(opusComplexity); err != nil {
		return Clip{}, fmt.Errorf("set complexity: %w", err)
	}

	pcm16 := toInt16(samples)
	var frames [][]byte
	out := make([]byte, 4000) // opusMaxPacketBytes-sized scratch buffer

	for i := 0; i < len(pcm16); i += FrameSize {
		end := i + FrameSize
		frame := make([]int16, FrameSize)
		if end > len(pcm16) {
			copy(frame, pcm16[i:])
		} else {
			copy(frame, pcm16[i:end])
		}
		n, err := enc.Encode(frame, out)
		if err != nil {
			return Clip{}, verr.Wrap(verr.Transient, "opus encode", err)
		}
		encoded := make([]byte, n)
		copy(encoded, out[:n])
		frames = append(frames, encoded)
	}

	durationMs := int64(len(pcm16)) * 1000 / TargetSampleRate
	return Clip{Frames: frames, DurationMs: durationMs}, nil
}

func toInt16(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(math.Round(s * 32767))
	}
	return out
}
