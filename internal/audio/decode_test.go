package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildWAVRaw assembles a minimal WAV file with an arbitrary fmt-chunk
// format code and bit depth, for tests that need to exercise something
// other than canonical 16-bit PCM.
func buildWAVRaw(t *testing.T, sampleRate, channels, bitDepth int, formatCode uint16, dataBytes []byte) []byte {
	t.Helper()
	byteRate := sampleRate * channels * (bitDepth / 8)
	blockAlign := channels * (bitDepth / 8)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(dataBytes)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, formatCode)
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitDepth))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(dataBytes)))
	buf.Write(dataBytes)
	return buf.Bytes()
}

// buildWAV assembles a minimal canonical PCM16 mono/stereo WAV file for
// tests, without depending on an encoder round-trip.
func buildWAV(t *testing.T, sampleRate, channels int, samples []int16) []byte {
	t.Helper()
	var data bytes.Buffer
	for _, s := range samples {
		binary.Write(&data, binary.LittleEndian, s)
	}
	return buildWAVRaw(t, sampleRate, channels, 16, wavFormatPCM, data.Bytes())
}

// buildWAV8 assembles a canonical 8-bit PCM WAV file. 8-bit WAV samples are
// unsigned and centered at 128, unlike every other bit depth (spec §4.E).
func buildWAV8(t *testing.T, sampleRate, channels int, samples []uint8) []byte {
	t.Helper()
	return buildWAVRaw(t, sampleRate, channels, 8, wavFormatPCM, samples)
}

func TestDetectAndDecodeWAVMono(t *testing.T) {
	raw := buildWAV(t, 44100, 1, []int16{0, 16384, -16384, 0})
	pcm, err := DetectAndDecode(raw, "clip.wav")
	if err != nil {
		t.Fatalf("DetectAndDecode: %v", err)
	}
	if pcm.SampleRate != 44100 {
		t.Fatalf("expected sample rate 44100, got %d", pcm.SampleRate)
	}
	if len(pcm.Samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(pcm.Samples))
	}
}

func TestDetectAndDecodeWAVStereoDownmixes(t *testing.T) {
	raw := buildWAV(t, 48000, 2, []int16{0, 0, 32767, -32768})
	pcm, err := DetectAndDecode(raw, "clip.WAV")
	if err != nil {
		t.Fatalf("DetectAndDecode: %v", err)
	}
	if len(pcm.Samples) != 2 {
		t.Fatalf("expected downmix to 2 mono samples, got %d", len(pcm.Samples))
	}
}

func TestDetectAndDecodeWAV8BitCenteredAt128(t *testing.T) {
	// 128 is silence, 255 is full-scale positive, 0 is full-scale negative.
	raw := buildWAV8(t, 22050, 1, []uint8{128, 255, 0, 128})
	pcm, err := DetectAndDecode(raw, "clip.wav")
	if err != nil {
		t.Fatalf("DetectAndDecode: %v", err)
	}
	if pcm.SampleRate != 22050 {
		t.Fatalf("expected sample rate 22050, got %d", pcm.SampleRate)
	}
	if len(pcm.Samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(pcm.Samples))
	}
	if pcm.Samples[0] < -0.01 || pcm.Samples[0] > 0.01 {
		t.Fatalf("expected sample 0 (byte 128) to decode near silence, got %f", pcm.Samples[0])
	}
	if pcm.Samples[1] <= 0 {
		t.Fatalf("expected sample 1 (byte 255) to decode positive, got %f", pcm.Samples[1])
	}
	if pcm.Samples[2] >= 0 {
		t.Fatalf("expected sample 2 (byte 0) to decode negative, got %f", pcm.Samples[2])
	}
}

func TestDetectAndDecodeWAVRejectsNonPCM(t *testing.T) {
	// Format code 3 is IEEE float, not linear PCM.
	data := make([]byte, 8)
	raw := buildWAVRaw(t, 44100, 1, 16, 3, data)
	if _, err := DetectAndDecode(raw, "clip.wav"); err == nil {
		t.Fatal("expected non-PCM WAV encoding to be rejected")
	}
}

func TestDetectAndDecodeAssumesMP3ByDefault(t *testing.T) {
	if _, err := DetectAndDecode([]byte("not an audio file"), "clip.mp3"); err == nil {
		t.Fatal("expected garbage MP3 data to fail decoding")
	}
	if _, err := DetectAndDecode([]byte("not an audio file"), ""); err == nil {
		t.Fatal("expected garbage data with no extension to be assumed MP3 and fail decoding")
	}
}
