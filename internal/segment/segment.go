// Package segment splits a live stream of audio frames into utterances.
//
// A [Segmenter] accumulates samples while recording and closes the current
// utterance once enough consecutive quiet frames follow at least
// MinUtteranceDuration of audio. Every closed utterance is reported as a
// [Boundary] together with whether any frame in it rose above the silence
// threshold; callers drop boundaries without speech.
//
// Elapsed time is derived from the number of accumulated samples and the
// capture sample rate, so results are identical for real-time and replayed
// audio.
//
// A Segmenter is not safe for concurrent use. It is owned by the single
// goroutine that consumes capture frames.
package segment

import (
	"fmt"
	"time"
)

// Defaults for [Config].
const (
	DefaultSilenceThreshold      = 0.005
	DefaultRequiredSilenceFrames = 10
	DefaultMinUtteranceDuration  = time.Second
)

// Config holds the silence policy.
type Config struct {
	// SilenceThreshold is the average amplitude at or below which a frame is
	// silent.
	SilenceThreshold float32

	// RequiredSilenceFrames is the number of consecutive silent frames that
	// close an utterance.
	RequiredSilenceFrames int

	// MinUtteranceDuration is the shortest utterance the silence rule may
	// close. ForceClose ignores it.
	MinUtteranceDuration time.Duration
}

// DefaultConfig returns the stock silence policy.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:      DefaultSilenceThreshold,
		RequiredSilenceFrames: DefaultRequiredSilenceFrames,
		MinUtteranceDuration:  DefaultMinUtteranceDuration,
	}
}

// Validate reports whether the policy is usable.
func (c Config) Validate() error {
	if c.SilenceThreshold < 0 {
		return fmt.Errorf("segment: silence threshold must be >= 0, got %v", c.SilenceThreshold)
	}
	if c.RequiredSilenceFrames < 1 {
		return fmt.Errorf("segment: required silence frames must be >= 1, got %d", c.RequiredSilenceFrames)
	}
	if c.MinUtteranceDuration < 0 {
		return fmt.Errorf("segment: min utterance duration must be >= 0, got %s", c.MinUtteranceDuration)
	}
	return nil
}

// Boundary is a closed utterance.
type Boundary struct {
	// Samples holds every sample accumulated since the previous boundary, at
	// the capture sample rate.
	Samples []float32

	// SampleRate is the rate of Samples in Hz.
	SampleRate int

	// Duration is the audio length of Samples.
	Duration time.Duration

	// HasSpeech is true when at least one frame was above the threshold.
	HasSpeech bool

	// Forced is true when the boundary came from ForceClose.
	Forced bool
}

// Segmenter is the utterance state machine.
type Segmenter struct {
	cfg        Config
	sampleRate int
	recording  bool

	buf       []float32
	hasSpeech bool
	silentRun int
}

// New returns an idle Segmenter with cfg.
func New(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// SetConfig replaces the policy. It takes effect on the next frame.
func (s *Segmenter) SetConfig(cfg Config) { s.cfg = cfg }

// Config returns the active policy.
func (s *Segmenter) Config() Config { return s.cfg }

// Start enters the accumulating state with an empty buffer. sampleRate is
// the rate of the frames that follow.
func (s *Segmenter) Start(sampleRate int) {
	s.sampleRate = sampleRate
	s.recording = true
	s.reset()
}

// Stop returns to idle, discarding anything buffered. Call ForceClose first
// to keep it.
func (s *Segmenter) Stop() {
	s.recording = false
	s.reset()
}

// Recording reports whether the Segmenter is accumulating.
func (s *Segmenter) Recording() bool { return s.recording }

// Buffered returns the audio length of the open utterance.
func (s *Segmenter) Buffered() time.Duration {
	return s.elapsed()
}

// OnFrame appends samples to the open utterance. avg is the frame's average
// absolute amplitude. It returns a boundary when the frame closes the
// utterance. Frames received while idle are ignored.
func (s *Segmenter) OnFrame(samples []float32, avg float32) (Boundary, bool) {
	if !s.recording {
		return Boundary{}, false
	}

	s.buf = append(s.buf, samples...)
	if avg > s.cfg.SilenceThreshold {
		s.hasSpeech = true
		s.silentRun = 0
	} else {
		s.silentRun++
	}

	if s.silentRun >= s.cfg.RequiredSilenceFrames && s.elapsed() >= s.cfg.MinUtteranceDuration {
		return s.emit(false), true
	}
	return Boundary{}, false
}

// ForceClose closes the open utterance regardless of the silence policy. It
// returns false when nothing is buffered.
func (s *Segmenter) ForceClose() (Boundary, bool) {
	if len(s.buf) == 0 {
		return Boundary{}, false
	}
	return s.emit(true), true
}

func (s *Segmenter) emit(forced bool) Boundary {
	b := Boundary{
		Samples:    s.buf,
		SampleRate: s.sampleRate,
		Duration:   s.elapsed(),
		HasSpeech:  s.hasSpeech,
		Forced:     forced,
	}
	s.buf = nil
	s.reset()
	return b
}

func (s *Segmenter) reset() {
	s.buf = s.buf[:0]
	s.hasSpeech = false
	s.silentRun = 0
}

func (s *Segmenter) elapsed() time.Duration {
	if s.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.buf)) * time.Second / time.Duration(s.sampleRate)
}
