package recording

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/segment"
	"github.com/MrWong99/voxnote/internal/store"
	"github.com/MrWong99/voxnote/internal/transcript"
	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

// consumerState is owned by the consumer goroutine. Other goroutines reach
// it only through Session.do.
type consumerState struct {
	seg *segment.Segmenter
}

// job is one speech boundary waiting for the worker. sess is the stored
// session that was current when the boundary closed.
type job struct {
	b    segment.Boundary
	sess *store.Session
}

// do runs fn on the consumer goroutine and waits for it. Once the consumer
// has exited, fn runs on the caller.
func (s *Session) do(fn func(c *consumerState)) {
	done := make(chan struct{})
	req := func(c *consumerState) {
		defer close(done)
		fn(c)
	}
	select {
	case s.ctrl <- req:
		<-done
	case <-s.consumer:
		fn(s.cs)
	}
}

// consume reads capture frames until the source closes or the Session is
// closed.
func (s *Session) consume() {
	defer close(s.consumer)
	frames := s.capture.Frames()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				slog.Debug("capture frames closed, consumer exiting")
				return
			}
			s.onFrame(s.cs, f)
		case req := <-s.ctrl:
			req(s.cs)
		case <-s.done:
			return
		}
	}
}

// onFrame meters the frame and feeds it to the segmenter. It runs on every
// delivered frame, recording or not.
func (s *Session) onFrame(c *consumerState, f audio.AudioFrame) {
	cls := audio.Classify(f.Samples, s.buckets)

	s.mu.Lock()
	s.live = cls
	s.notifyLocked()
	s.mu.Unlock()

	if b, ok := c.seg.OnFrame(f.Samples, cls.Average); ok {
		s.onBoundary(b)
	}
}

// onBoundary queues a speech boundary for the worker. Boundaries without
// speech are dropped here, before any index is consumed.
func (s *Session) onBoundary(b segment.Boundary) {
	ctx := context.Background()
	if !b.HasSpeech {
		s.metrics.RecordUtterance(ctx, observe.OutcomeSilent, b.Duration)
		slog.Debug("dropping silent utterance", "duration", b.Duration)
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, job{b: b, sess: s.current})
	if s.pending == 0 {
		s.drained = make(chan struct{})
	}
	s.pending++
	s.notifyLocked()
	s.mu.Unlock()

	s.metrics.PendingUtterances.Add(ctx, 1)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) next() (job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return job{}, false
	}
	j := s.queue[0]
	s.queue[0] = job{}
	s.queue = s.queue[1:]
	return j, true
}

// work is the single pipeline worker. On shutdown it finishes whatever is
// still queued.
func (s *Session) work() {
	defer close(s.worker)
	for {
		if j, ok := s.next(); ok {
			s.process(j)
			continue
		}
		select {
		case <-s.wake:
		case <-s.done:
			for {
				j, ok := s.next()
				if !ok {
					return
				}
				s.process(j)
			}
		}
	}
}

// process runs resample, transcribe, filter, commit and save for one
// utterance. Every failure degrades to discarding the utterance.
func (s *Session) process(j job) {
	ctx, span := observe.StartUtteranceSpan(context.Background(), j.sess.ID, j.b.Duration)
	defer span.End()
	defer s.finish(ctx)
	log := observe.Logger(ctx)

	samples := audio.Decimate(j.b.Samples, j.b.SampleRate, stt.SampleRate)

	start := time.Now()
	text, err := s.tr.Transcribe(ctx, samples)
	s.metrics.RecordTranscription(ctx, time.Since(start))
	if err != nil {
		s.metrics.RecordUtterance(ctx, observe.OutcomeFailed, j.b.Duration)
		log.Warn("transcription failed, discarding utterance", "session_id", j.sess.ID, "err", err)
		return
	}
	if !transcript.IsAcceptable(text) {
		s.metrics.RecordUtterance(ctx, observe.OutcomeRejected, j.b.Duration)
		log.Debug("discarding non-speech transcription", "session_id", j.sess.ID, "text", text)
		return
	}
	text = strings.TrimSpace(text)

	s.mu.Lock()
	chunk := j.sess.AppendChunk(text, j.b.Duration)
	if j.sess == s.current {
		s.utterances = append(s.utterances, Utterance{
			Index:    chunk.Index,
			Duration: j.b.Duration,
			Text:     text,
		})
	}
	s.mu.Unlock()

	s.metrics.RecordUtterance(ctx, observe.OutcomeAccepted, j.b.Duration)
	log.Info("utterance transcribed",
		"session_id", j.sess.ID,
		"index", chunk.Index,
		"duration", j.b.Duration,
		"text", text,
	)
	_ = s.persistSession(ctx, j.sess)
}

// finish marks one queued utterance as done.
func (s *Session) finish(ctx context.Context) {
	s.mu.Lock()
	s.pending--
	if s.pending == 0 {
		close(s.drained)
	}
	s.notifyLocked()
	s.mu.Unlock()
	s.metrics.PendingUtterances.Add(ctx, -1)
}
