// Package audio turns an uploaded WAV or MP3 file into paced, Opus-encoded
// frames ready for broadcast (spec §4.E). Decoding always normalizes to
// mono float64 PCM at the source sample rate; resample.go then brings that
// to the fixed 48kHz the encoder requires.
package audio

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"bken/server/internal/verr"
)

// PCM is decoded mono audio at a given sample rate, prior to resampling.
type PCM struct {
	Samples    []float64
	SampleRate int
}

// wavFormatPCM is the WAV fmt-chunk audio format code for linear PCM. Any
// other code (e.g. 3 for IEEE float, 0x11 for IMA ADPCM) is rejected (spec
// §4.E: "reject non-PCM encodings").
const wavFormatPCM = 1

// DecodeWAV parses a WAV file and downmixes it to mono float64 samples in
// [-1, 1]. Both 8-bit (unsigned, centered at 128) and 16-bit PCM are
// accepted, per §4.E; go-audio/wav's FullPCMBuffer yields raw integer sample
// values, so they are re-centered (8-bit) and scaled by the bit depth here.
func DecodeWAV(r io.ReaderAt, size int64) (PCM, error) {
	dec := wav.NewDecoder(io.NewSectionReader(r, 0, size))
	if !dec.IsValidFile() {
		return PCM{}, verr.New(verr.ValidationError, "not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, verr.Wrap(verr.ValidationError, "decode WAV", err)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return PCM{}, verr.New(verr.ValidationError, "WAV file is not linear PCM")
	}
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	data := buf.AsFloatBuffer().Data
	bitDepth := int(dec.BitDepth)
	if bitDepth < 1 {
		bitDepth = 16
	}
	scale := float64(int64(1) << uint(bitDepth-1))
	for i, v := range data {
		if bitDepth == 8 {
			v -= 128 // 8-bit WAV samples are unsigned
		}
		data[i] = v / scale
	}
	return PCM{
		Samples:    downmix(data, channels),
		SampleRate: buf.Format.SampleRate,
	}, nil
}

// DecodeMP3 parses an MP3 file and downmixes it to mono float64 samples.
// go-mp3 always yields interleaved 16-bit stereo PCM regardless of the
// source channel count.
func DecodeMP3(r io.Reader) (PCM, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return PCM{}, verr.Wrap(verr.ValidationError, "decode MP3", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, verr.Wrap(verr.ValidationError, "read MP3 stream", err)
	}
	if len(raw)%4 != 0 {
		raw = raw[:len(raw)-len(raw)%4]
	}
	samples := make([]float64, 0, len(raw)/4)
	for i := 0; i+4 <= len(raw); i += 4 {
		l := int16(uint16(raw[i]) | uint16(raw[i+1])<<8)
		rr := int16(uint16(raw[i+2]) | uint16(raw[i+3])<<8)
		samples = append(samples, (float64(l)+float64(rr))/2/32768.0)
	}
	return PCM{Samples: samples, SampleRate: dec.SampleRate()}, nil
}

// DetectAndDecode picks a decoder by name's file extension, never by
// sniffing content: if the extension is ".wav", parse it as WAV; otherwise
// assume MPEG-1/2 Layer III (spec §4.E). name is whatever the caller has on
// hand that still carries the original extension — the source URL at
// download time, or the asset's on-disk path on a later replay.
func DetectAndDecode(data []byte, name string) (PCM, error) {
	if strings.EqualFold(filepath.Ext(name), ".wav") {
		return DecodeWAV(bytes.NewReader(data), int64(len(data)))
	}
	return DecodeMP3(bytes.NewReader(data))
}

func downmix(data []float64, channels int) []float64 {
	if channels <= 1 {
		return data
	}
	out := make([]float64, len(data)/channels)
	for i := range out {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}
