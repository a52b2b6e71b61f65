// Package wavfile implements [audio.Capture] by replaying a PCM WAV file.
//
// It lets the full recording pipeline run against recorded audio: the CLI
// uses it for offline transcription and tests use it for end-to-end runs.
// Multi-channel files are down-mixed to mono. By default frames are emitted
// as fast as the consumer accepts them; [WithRealtime] paces delivery at the
// file's natural rate.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/voxnote/pkg/audio"
)

const defaultFrameSize = 1024

// ErrInvalidFile is returned by [Open] when the file is not a readable PCM WAV.
var ErrInvalidFile = errors.New("wavfile: not a valid PCM wav file")

// Option configures a [Capture].
type Option func(*Capture)

// WithFrameSize sets the number of mono samples per delivered frame.
func WithFrameSize(n int) Option {
	return func(c *Capture) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithRealtime paces frame delivery to the audio's playback duration.
func WithRealtime() Option {
	return func(c *Capture) { c.realtime = true }
}

// Capture replays a WAV file as a stream of mono frames.
type Capture struct {
	frameSize int
	realtime  bool

	file     *os.File
	dec      *wav.Decoder
	rate     int
	channels int
	bitDepth int

	frames chan audio.AudioFrame
	done   chan struct{}

	mu       sync.Mutex
	stop     chan struct{}
	wg       sync.WaitGroup
	elapsed  time.Duration
	finished bool
	closed   bool
}

// Open validates the WAV header of path and prepares it for replay.
func Open(path string, opts ...Option) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("wavfile: %q: %w", path, ErrInvalidFile)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("wavfile: %q: seek to pcm: %w", path, err)
	}

	c := &Capture{
		frameSize: defaultFrameSize,
		file:      f,
		dec:       dec,
		rate:      int(dec.SampleRate),
		channels:  max(int(dec.NumChans), 1),
		bitDepth:  int(dec.BitDepth),
		frames:    make(chan audio.AudioFrame, 64),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Start begins replay from the current file position.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("wavfile: capture is closed")
	}
	if c.stop != nil {
		return audio.ErrAlreadyStarted
	}
	if c.finished {
		return io.EOF
	}
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.replay(ctx, c.stop)
	return nil
}

// replay decodes the file chunk by chunk until EOF, stop, or ctx is done.
func (c *Capture) replay(ctx context.Context, stop <-chan struct{}) {
	defer c.wg.Done()

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: c.channels, SampleRate: c.rate},
		Data:   make([]int, c.frameSize*c.channels),
	}
	frameDur := time.Duration(c.frameSize) * time.Second / time.Duration(max(c.rate, 1))
	var ticker *time.Ticker
	if c.realtime {
		ticker = time.NewTicker(frameDur)
		defer ticker.Stop()
	}

	for {
		n, err := c.dec.PCMBuffer(buf)
		if n > 0 {
			samples := audio.DownmixToMono(audio.IntToFloat32(buf.Data[:n], c.bitDepth), c.channels)
			c.mu.Lock()
			f := audio.AudioFrame{Samples: samples, SampleRate: c.rate, Timestamp: c.elapsed}
			c.elapsed += f.Duration()
			c.mu.Unlock()

			select {
			case c.frames <- f:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			slog.Warn("wavfile: decode failed, ending replay", "err", err)
		}
		if n == 0 || err != nil {
			c.finish()
			return
		}
	}
}

func (c *Capture) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finished {
		c.finished = true
		close(c.done)
	}
}

// Done is closed once the whole file has been delivered.
func (c *Capture) Done() <-chan struct{} { return c.done }

// Stop halts replay; a later Start resumes where it left off.
func (c *Capture) Stop() error {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	c.wg.Wait()
	return nil
}

// SampleRate implements [audio.Capture].
func (c *Capture) SampleRate() int { return c.rate }

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

// Close stops replay, closes the file and the Frames channel.
func (c *Capture) Close() error {
	_ = c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.frames)
	return c.file.Close()
}

// Compile-time assertion that Capture satisfies audio.Capture.
var _ audio.Capture = (*Capture)(nil)
