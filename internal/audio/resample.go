package audio

// Downmix averages interleaved channels into a single mono channel.
// A trailing partial frame is dropped. With one channel (or fewer) the
// samples are returned as a copy.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	frames := len(samples) / channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		frame := samples[f*channels : (f+1)*channels]
		for _, s := range frame {
			sum += s
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// Resample converts interleaved samples at srcRate into mono samples at dstRate
// using linear interpolation. Output sample i is read at source position
// i*srcRate/dstRate; a bracketing sample past the end of the input counts as silence.
func Resample(samples []float32, srcRate, dstRate, channels int) []float32 {
	if len(samples) == 0 {
		return []float32{}
	}

	mono := Downmix(samples, channels)
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return mono
	}

	outLen := int(int64(len(mono)) * int64(dstRate) / int64(srcRate))
	out := make([]float32, outLen)
	ratio := float64(srcRate) / float64(dstRate)

	at := func(idx int) float64 {
		if idx < len(mono) {
			return float64(mono[idx])
		}
		return 0
	}

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		a := at(idx)
		b := at(idx + 1)
		out[i] = float32(a + (b-a)*frac)
	}
	return out
}

// Resampled returns the clip as mono samples at the given rate.
func (c Clip) Resampled(rate int) []float32 {
	return Resample(c.Samples, c.SampleRate, rate, c.Channels)
}
