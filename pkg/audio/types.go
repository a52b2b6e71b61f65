package audio

import "time"

// AudioFrame is a contiguous block of mono float32 samples delivered by a
// [Capture] source. Samples are nominally in [-1.0, 1.0].
//
// Frames are transient: they flow from the capture callback into the
// recording loop and are never persisted directly.
type AudioFrame struct {
	// Samples holds single-channel PCM audio.
	Samples []float32

	// SampleRate in Hz as reported by the capture device (e.g., 48000).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame. It returns 0 when the
// sample rate is unknown.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
