// Package recording runs a voice-note recording session end to end.
//
// A [Session] owns the current stored session and wires capture frames
// through amplitude classification and utterance segmentation into an
// asynchronous transcription pipeline:
//
//	capture ─▶ consumer goroutine (classify, segment) ─▶ FIFO ─▶ worker
//	                                                              │
//	                        resample ─▶ transcribe ─▶ filter ─▶ commit ─▶ save
//
// The consumer goroutine is the only owner of segmentation state, so frame
// delivery never waits on transcription. A single worker drains the FIFO in
// boundary order and is the only place where utterance indices are assigned.
//
// All exported methods are safe for concurrent use.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/segment"
	"github.com/MrWong99/voxnote/internal/store"
	"github.com/MrWong99/voxnote/internal/transcript"
	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

var (
	// ErrUnavailable is returned by Start when the speech model could not
	// be loaded. It is permanent for the lifetime of the Session.
	ErrUnavailable = errors.New("recording: transcription unavailable")

	// ErrCaptureStart is returned by Start when the capture source failed
	// to start. Recording stays off.
	ErrCaptureStart = errors.New("recording: capture failed to start")

	// ErrNotRecording is returned by Stop when no recording is active.
	ErrNotRecording = errors.New("recording: not recording")

	// ErrNotInitialized is returned by commands issued before Initialize.
	ErrNotInitialized = errors.New("recording: session not initialized")
)

// ModelLoader loads the speech model. It is called once by Initialize.
type ModelLoader func(ctx context.Context) (stt.Recognizer, error)

// Utterance is one accepted, transcribed utterance.
type Utterance struct {
	Index    int           `json:"index"`
	Duration time.Duration `json:"duration"`
	Text     string        `json:"text"`
}

// State is a point-in-time snapshot of everything a UI displays.
type State struct {
	IsRecording   bool        `json:"isRecording"`
	IsProcessing  bool        `json:"isProcessing"`
	Transcript    string      `json:"transcribedText"`
	Utterances    []Utterance `json:"utterances"`
	LiveAmplitude float32     `json:"liveAmplitude"`
	LiveBuckets   []float32   `json:"liveBuckets"`
	SessionID     string      `json:"sessionId"`
	Unavailable   bool        `json:"unavailable"`
}

// Option is a functional option for [New].
type Option func(*Session)

// WithSegmenterConfig sets the silence policy used from the next Start.
func WithSegmenterConfig(cfg segment.Config) Option {
	return func(s *Session) { s.segCfg = cfg }
}

// WithBuckets sets the number of live metering buckets.
func WithBuckets(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.buckets = n
		}
	}
}

// WithTranscriberOptions passes options to the Transcriber built around the
// loaded model.
func WithTranscriberOptions(opts ...stt.Option) Option {
	return func(s *Session) { s.trOpts = append(s.trOpts, opts...) }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is the recording orchestrator.
type Session struct {
	capture audio.Capture
	store   store.Store
	load    ModelLoader
	trOpts  []stt.Option
	metrics *observe.Metrics
	buckets int

	// tr is set once by Initialize and nil when the model is unavailable.
	tr *stt.Transcriber

	// cmdMu serialises Start, Stop, EndSession and Close.
	cmdMu sync.Mutex

	// saveMu serialises persistence so a stale snapshot never overwrites a
	// newer one. Always taken before mu.
	saveMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	closed      bool
	unavailable bool
	recording   bool
	segCfg      segment.Config
	current     *store.Session
	utterances  []Utterance
	live        audio.Classification
	queue       []job
	pending     int
	drained     chan struct{}
	watchers    map[int]chan struct{}
	nextWatch   int

	cs       *consumerState
	wake     chan struct{}
	ctrl     chan func(*consumerState)
	done     chan struct{}
	consumer chan struct{}
	worker   chan struct{}
}

// New creates a Session. Nothing runs until Initialize.
func New(capture audio.Capture, st store.Store, load ModelLoader, opts ...Option) *Session {
	s := &Session{
		capture:  capture,
		store:    st,
		load:     load,
		buckets:  audio.DefaultBucketCount,
		segCfg:   segment.DefaultConfig(),
		drained:  closedChan(),
		watchers: make(map[int]chan struct{}),
		wake:     make(chan struct{}, 1),
		ctrl:     make(chan func(*consumerState)),
		done:     make(chan struct{}),
		consumer: make(chan struct{}),
		worker:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.live = audio.Classification{Buckets: make([]float32, s.buckets)}
	s.cs = &consumerState{seg: segment.New(s.segCfg)}
	return s
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Initialize loads the speech model and creates a fresh stored session.
//
// A model failure is not fatal: the Session is marked unavailable, Start
// refuses to record, and Initialize returns an error wrapping
// [ErrUnavailable] after the rest of the setup succeeded. Failure to create
// the stored session is fatal.
func (s *Session) Initialize(ctx context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return errors.New("recording: already initialized")
	}
	s.mu.Unlock()

	var modelErr error
	rec, err := s.load(ctx)
	if err != nil {
		modelErr = fmt.Errorf("%w: %w", ErrUnavailable, err)
		slog.Error("speech model unavailable, recording disabled", "err", err)
	}

	sess, err := s.store.Create(ctx)
	if err != nil {
		if rec != nil {
			_ = rec.Close()
		}
		return fmt.Errorf("recording: create session: %w", err)
	}

	s.mu.Lock()
	s.initialized = true
	s.current = sess
	if rec != nil {
		s.tr = stt.NewTranscriber(rec, s.trOpts...)
	} else {
		s.unavailable = true
	}
	s.mu.Unlock()

	go s.consume()
	go s.work()

	slog.Info("recording session ready", "session_id", sess.ID, "unavailable", modelErr != nil)
	s.notify()
	return modelErr
}

// Start begins recording into the current session. It is a no-op when
// already recording.
func (s *Session) Start(ctx context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	switch {
	case !s.initialized || s.closed:
		s.mu.Unlock()
		return ErrNotInitialized
	case s.unavailable:
		s.mu.Unlock()
		return ErrUnavailable
	case s.recording:
		s.mu.Unlock()
		return nil
	}
	cfg := s.segCfg
	s.mu.Unlock()

	// Capture outlives the command that started it.
	if err := s.capture.Start(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("capture failed to start", "err", err)
		return fmt.Errorf("%w: %w", ErrCaptureStart, err)
	}
	rate := s.capture.SampleRate()

	s.do(func(c *consumerState) {
		c.seg.SetConfig(cfg)
		c.seg.Start(rate)
	})

	s.mu.Lock()
	s.recording = true
	id := s.current.ID
	s.mu.Unlock()

	s.metrics.ActiveRecordings.Add(ctx, 1)
	slog.Info("recording started", "session_id", id, "sample_rate", rate)
	s.notify()
	return nil
}

// Stop ends recording. The open utterance is flushed through the pipeline
// and Stop waits, bounded by ctx, until every queued utterance has been
// processed before persisting the session.
func (s *Session) Stop(ctx context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.stop(ctx)
}

func (s *Session) stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return ErrNotRecording
	}
	s.recording = false
	s.mu.Unlock()

	if err := s.capture.Stop(); err != nil {
		slog.Warn("capture failed to stop cleanly", "err", err)
	}

	frames := s.capture.Frames()
	s.do(func(c *consumerState) {
		// Frames delivered before the device stopped belong to this
		// recording.
		for drained := false; !drained; {
			select {
			case f, ok := <-frames:
				if !ok {
					drained = true
					continue
				}
				s.onFrame(c, f)
			default:
				drained = true
			}
		}
		if b, ok := c.seg.ForceClose(); ok {
			s.onBoundary(b)
		}
		c.seg.Stop()
	})

	s.metrics.ActiveRecordings.Add(ctx, -1)
	s.notify()

	flushErr := s.Flush(ctx)
	saveErr := s.persist(ctx)

	s.mu.Lock()
	id, n := s.current.ID, len(s.utterances)
	s.mu.Unlock()
	slog.Info("recording stopped", "session_id", id, "utterances", n)

	return errors.Join(flushErr, saveErr)
}

// Flush waits until every queued utterance has been processed or ctx ends.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	ch := s.drained
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("recording: flush: %w", ctx.Err())
	}
}

// EndSession stops any active recording, persists the finished session and
// switches to a newly created one with an empty transcript.
func (s *Session) EndSession(ctx context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	if !s.initialized || s.closed {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	s.mu.Unlock()

	if err := s.stop(ctx); err != nil && !errors.Is(err, ErrNotRecording) {
		slog.Warn("stopping before end of session", "err", err)
	}
	if err := s.persist(ctx); err != nil {
		slog.Warn("final save failed", "err", err)
	}

	next, err := s.store.Create(ctx)
	if err != nil {
		return fmt.Errorf("recording: create session: %w", err)
	}

	s.mu.Lock()
	prev := s.current.ID
	s.current = next
	s.utterances = nil
	s.mu.Unlock()

	slog.Info("session ended", "session_id", prev, "next_session_id", next.ID)
	s.notify()
	return nil
}

// ClearTranscript empties the running transcript. The utterance list is
// left untouched.
func (s *Session) ClearTranscript(ctx context.Context) error {
	return s.editTranscript(ctx, func(string) string { return "" })
}

// RemoveLastWord drops the final word of the running transcript. The
// utterance list is left untouched.
func (s *Session) RemoveLastWord(ctx context.Context) error {
	return s.editTranscript(ctx, transcript.RemoveLastWord)
}

func (s *Session) editTranscript(ctx context.Context, edit func(string) string) error {
	s.mu.Lock()
	if !s.initialized || s.closed {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	s.current.TranscribedText = edit(s.current.TranscribedText)
	s.mu.Unlock()

	s.notify()
	return s.persist(ctx)
}

// SetSegmenterConfig replaces the silence policy. It applies from the next
// Start.
func (s *Session) SetSegmenterConfig(cfg segment.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segCfg = cfg
}

// State returns a snapshot of the observable state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		IsRecording:   s.recording,
		IsProcessing:  s.pending > 0,
		Utterances:    append([]Utterance{}, s.utterances...),
		LiveAmplitude: s.live.Average,
		LiveBuckets:   append([]float32(nil), s.live.Buckets...),
		Unavailable:   s.unavailable,
	}
	if s.current != nil {
		st.Transcript = s.current.TranscribedText
		st.SessionID = s.current.ID
	}
	return st
}

// Updates returns a channel that receives a value whenever State may have
// changed, and a function that cancels the subscription. Signals coalesce:
// a slow reader sees one pending signal, never a backlog.
func (s *Session) Updates() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatch
	s.nextWatch++
	ch := make(chan struct{}, 1)
	s.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers, id)
		})
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyLocked()
}

func (s *Session) notifyLocked() {
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// persist saves a snapshot of the current session.
func (s *Session) persist(ctx context.Context) error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return nil
	}
	return s.persistSession(ctx, cur)
}

// persistSession saves a snapshot of sess, which may be a session that has
// already been ended.
func (s *Session) persistSession(ctx context.Context, sess *store.Session) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	snap := &store.Session{Metadata: sess.Metadata.Clone(), Dir: sess.Dir}
	s.mu.Unlock()

	if err := s.store.Save(ctx, snap); err != nil {
		slog.Warn("saving session failed", "session_id", snap.ID, "err", err)
		return err
	}
	return nil
}

// Close stops recording, waits for queued utterances, and releases the
// speech model. The capture source is not closed.
func (s *Session) Close(ctx context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if err := s.stop(ctx); err != nil && !errors.Is(err, ErrNotRecording) {
		slog.Warn("stopping during close", "err", err)
	}

	s.mu.Lock()
	if !s.initialized || s.closed {
		s.closed = true
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	<-s.consumer
	<-s.worker

	if s.tr != nil {
		return s.tr.Close()
	}
	return nil
}
