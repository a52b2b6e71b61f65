// Package audio defines the audio primitives shared by the voxnote pipeline:
// the [AudioFrame] unit of transport, the [Capture] contract implemented by
// microphone and file sources, amplitude classification ([Classify]) and
// sample-rate reduction ([Decimate]).
//
// Capture backends live in sub-packages (audio/mic, audio/wavfile) so that
// the core pipeline can be built and tested without native audio libraries.
package audio

import (
	"context"
	"errors"
)

// ErrAlreadyStarted is returned by [Capture.Start] when the source is running.
var ErrAlreadyStarted = errors.New("audio: capture already started")

// Capture is a source of mono audio frames at a fixed buffer size.
//
// Implementations must be safe for concurrent use. Frames are delivered on the
// channel returned by [Capture.Frames]; the channel stays open across
// Start/Stop cycles and is closed only by Close.
type Capture interface {
	// Start begins frame delivery. Returns an error when the device cannot be
	// opened; in that case no frames are delivered.
	Start(ctx context.Context) error

	// Stop halts frame delivery. Frames already queued remain readable.
	// Calling Stop on a stopped source is a no-op.
	Stop() error

	// SampleRate reports the rate of delivered frames in Hz. Callers read it
	// once per recording start.
	SampleRate() int

	// Frames returns the read-only delivery channel.
	Frames() <-chan AudioFrame

	// Close releases all device resources and closes the Frames channel.
	Close() error
}
