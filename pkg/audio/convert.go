package audio

// DownmixToMono averages interleaved multi-channel samples into a single
// channel. With channels <= 1 the input is returned unchanged. Any trailing
// partial frame is ignored.
func DownmixToMono(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// IntToFloat32 converts signed integer PCM of the given bit depth to float32
// normalised to [-1.0, 1.0]. A non-positive bit depth is treated as 16.
func IntToFloat32(pcm []int, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / scale
	}
	return out
}
