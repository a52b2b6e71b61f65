// Package mic implements [audio.Capture] on top of miniaudio (via malgo),
// delivering mono float32 frames from the default or a named input device.
//
// The miniaudio data callback runs on a real-time audio thread. It decodes the
// raw little-endian float32 buffer, down-mixes to mono and hands the frame to
// a buffered channel without blocking; frames are dropped (and counted) if the
// consumer falls behind.
package mic

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/pkg/audio"
)

const (
	defaultSampleRate = 48000
	defaultFrameSize  = 1024
	frameBuffer       = 512
)

// Option configures a [Capture].
type Option func(*Capture)

// WithDevice selects an input device by case-insensitive name substring.
// An empty name selects the system default.
func WithDevice(name string) Option {
	return func(c *Capture) { c.deviceName = name }
}

// WithSampleRate requests a capture sample rate in Hz. The device may choose
// a different rate; [Capture.SampleRate] reports the negotiated value.
func WithSampleRate(rate int) Option {
	return func(c *Capture) {
		if rate > 0 {
			c.requestedRate = rate
		}
	}
}

// WithFrameSize sets the number of samples per delivered frame.
func WithFrameSize(n int) Option {
	return func(c *Capture) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithMetrics records dropped frames on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Capture) { c.metrics = m }
}

// Capture is a microphone source backed by a miniaudio capture device.
type Capture struct {
	deviceName    string
	requestedRate int
	frameSize     int
	metrics       *observe.Metrics

	mctx   *malgo.AllocatedContext
	frames chan audio.AudioFrame

	mu      sync.Mutex
	device  *malgo.Device
	rate    int
	started time.Time
	closed  bool

	dropped  atomic.Int64
	warnDrop sync.Once
}

// New initialises the miniaudio context. No device is opened until Start.
func New(opts ...Option) (*Capture, error) {
	c := &Capture{
		requestedRate: defaultSampleRate,
		frameSize:     defaultFrameSize,
		frames:        make(chan audio.AudioFrame, frameBuffer),
	}
	for _, o := range opts {
		o(c)
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("mic: init context: %w", err)
	}
	c.mctx = mctx
	c.rate = c.requestedRate
	return c, nil
}

// Devices lists the names of available capture devices.
func (c *Capture) Devices() ([]string, error) {
	infos, err := c.mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("mic: enumerate devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// Start opens the capture device and begins delivering frames.
func (c *Capture) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("mic: capture is closed")
	}
	if c.device != nil {
		return audio.ErrAlreadyStarted
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(c.requestedRate)
	cfg.PeriodSizeInFrames = uint32(c.frameSize)
	cfg.Alsa.NoMMap = 1

	if c.deviceName != "" {
		id, err := c.findDevice(c.deviceName)
		if err != nil {
			return err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	channels := int(cfg.Capture.Channels)
	pending := make([]float32, 0, c.frameSize)
	onData := func(_, input []byte, frameCount uint32) {
		n := int(frameCount) * channels
		if len(input) < n*4 {
			return
		}
		samples := make([]float32, n)
		for i := range n {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
		}
		pending = append(pending, audio.DownmixToMono(samples, channels)...)
		for len(pending) >= c.frameSize {
			frame := make([]float32, c.frameSize)
			copy(frame, pending)
			pending = append(pending[:0], pending[c.frameSize:]...)
			c.deliver(frame)
		}
	}

	dev, err := malgo.InitDevice(c.mctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return fmt.Errorf("mic: init device: %w", err)
	}
	c.rate = int(dev.SampleRate())
	c.started = time.Now()
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("mic: start device: %w", err)
	}
	c.device = dev
	slog.Info("microphone capture started", "device", c.deviceName, "sample_rate", c.rate, "frame_size", c.frameSize)
	return nil
}

// deliver hands a frame to the consumer without blocking the audio thread.
func (c *Capture) deliver(samples []float32) {
	c.mu.Lock()
	rate, started, closed := c.rate, c.started, c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	f := audio.AudioFrame{Samples: samples, SampleRate: rate, Timestamp: time.Since(started)}
	select {
	case c.frames <- f:
	default:
		n := c.dropped.Add(1)
		if c.metrics != nil {
			c.metrics.DroppedFrames.Add(context.Background(), 1)
		}
		c.warnDrop.Do(func() {
			slog.Warn("microphone frames dropped: consumer is falling behind", "dropped", n)
		})
	}
}

// Stop halts the capture device. Queued frames remain readable.
func (c *Capture) Stop() error {
	// The data callback takes c.mu, and miniaudio waits for it on Stop.
	c.mu.Lock()
	dev := c.device
	c.device = nil
	c.mu.Unlock()
	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	slog.Info("microphone capture stopped", "dropped_frames", c.dropped.Load())
	if err != nil {
		return fmt.Errorf("mic: stop device: %w", err)
	}
	return nil
}

// SampleRate implements [audio.Capture].
func (c *Capture) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

// Close stops the device, frees the miniaudio context and closes Frames.
func (c *Capture) Close() error {
	stopErr := c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return stopErr
	}
	c.closed = true
	close(c.frames)

	var errs []error
	if stopErr != nil {
		errs = append(errs, stopErr)
	}
	if err := c.mctx.Uninit(); err != nil {
		errs = append(errs, fmt.Errorf("mic: uninit context: %w", err))
	}
	c.mctx.Free()
	return errors.Join(errs...)
}

func (c *Capture) findDevice(name string) (*malgo.DeviceID, error) {
	infos, err := c.mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("mic: enumerate devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			id := info.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("mic: device %q not found", name)
}

// Compile-time assertion that Capture satisfies audio.Capture.
var _ audio.Capture = (*Capture)(nil)
