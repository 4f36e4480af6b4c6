package audio

// TargetSampleRate is the fixed rate the Opus encoder requires (spec §4.E).
const TargetSampleRate = 48000

// MaxClipDuration caps any single clip at 30 seconds of audio (spec §4.E,
// §5 process-wide caps) — longer sources are truncated, not rejected.
const MaxClipDuration = 30 // seconds

// Resample linearly interpolates pcm from its source rate to
// TargetSampleRate and truncates the result to MaxClipDuration seconds.
// Linear interpolation is a deliberate simplification — see open-question
// decision 4 in SPEC_FULL.md — rather than a
// windowed-sinc resampler, since clips are short voice-line style sounds
// rather than music.
func Resample(pcm PCM) []float64 {
	samples := pcm.Samples
	if pcm.SampleRate != TargetSampleRate && len(samples) > 0 {
		samples = linearResample(samples, pcm.SampleRate, TargetSampleRate)
	}
	maxSamples := TargetSampleRate * MaxClipDuration
	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}
	return samples
}

func linearResample(in []float64, srcRate, dstRate int) []float64 {
	if srcRate <= 0 || dstRate <= 0 || len(in) == 0 {
		return in
	}
	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(in)) / ratio)
	out := make([]float64, outLen)
	for i := range out {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)
		if idx+1 < len(in) {
			out[i] = in[idx]*(1-frac) + in[idx+1]*frac
		} else {
			out[i] = in[len(in)-1]
		}
	}
	return out
}
