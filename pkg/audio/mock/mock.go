// Package mock provides an in-memory implementation of [audio.Capture] for
// use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and it exposes exported fields that the
// test can set to control return values. Frames are injected with
// [Capture.Push]; they are delivered only while the capture is started,
// mirroring a real device.
//
// Typical usage:
//
//	c := mock.NewCapture(16000)
//	_ = c.Start(ctx)
//	c.Push(make([]float32, 1024))
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxnote/pkg/audio"
)

// Capture is a mock implementation of [audio.Capture].
type Capture struct {
	mu sync.Mutex

	// Rate is returned by SampleRate.
	Rate int

	// StartErr, if non-nil, is returned by Start and the capture stays stopped.
	StartErr error

	// StopErr is returned by Stop.
	StopErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	startCtx context.Context
	frames   chan audio.AudioFrame
	running  bool
	closed   bool
	elapsed  time.Duration
}

// NewCapture returns a stopped Capture reporting the given sample rate. The
// frame channel is buffered generously so Push never blocks in tests.
func NewCapture(rate int) *Capture {
	return &Capture{
		Rate:   rate,
		frames: make(chan audio.AudioFrame, 4096),
	}
}

// Start implements [audio.Capture].
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	c.startCtx = ctx
	if c.StartErr != nil {
		return c.StartErr
	}
	if c.running {
		return audio.ErrAlreadyStarted
	}
	c.running = true
	return nil
}

// Stop implements [audio.Capture].
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	c.running = false
	return c.StopErr
}

// SampleRate implements [audio.Capture]. Returns Rate.
func (c *Capture) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Rate
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.AudioFrame {
	return c.frames
}

// Close implements [audio.Capture]. It closes the frame channel once.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.running = false
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

// Push delivers samples as one frame. It reports false, and drops the frame,
// when the capture is not running.
func (c *Capture) Push(samples []float32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.closed {
		return false
	}
	f := audio.AudioFrame{Samples: samples, SampleRate: c.Rate, Timestamp: c.elapsed}
	c.elapsed += f.Duration()
	c.frames <- f
	return true
}

// Running reports whether Start has succeeded without a subsequent Stop.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// StartContext returns the context passed to the most recent Start call.
func (c *Capture) StartContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startCtx
}

// Ensure Capture implements audio.Capture at compile time.
var _ audio.Capture = (*Capture)(nil)
