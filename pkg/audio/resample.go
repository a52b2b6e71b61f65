package audio

// Decimate reduces samples from srcRate to dstRate by nearest-neighbour
// picking: output[i] = samples[floor(i*srcRate/dstRate)]. No low-pass filter
// is applied, so content above dstRate/2 aliases.
//
// When srcRate <= dstRate (or either rate is non-positive) the input is
// returned unchanged; Decimate never upsamples.
func Decimate(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate <= dstRate {
		return samples
	}
	stride := float64(srcRate) / float64(dstRate)
	out := make([]float32, 0, int(float64(len(samples))/stride)+1)
	for i := 0; ; i++ {
		idx := int(float64(i) * stride)
		if idx >= len(samples) {
			break
		}
		out = append(out, samples[idx])
	}
	return out
}
