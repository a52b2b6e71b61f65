package stt

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/semaphore"
)

const (
	defaultLanguage = "en"
	minThreads      = 1
	maxThreads      = 8
)

// DefaultThreads returns the thread count used when none is configured:
// the number of CPUs minus two, clamped to [1, 8].
func DefaultThreads() int {
	return clampThreads(runtime.NumCPU() - 2)
}

func clampThreads(n int) int {
	return min(max(n, minThreads), maxThreads)
}

// Option is a functional option for [NewTranscriber].
type Option func(*Transcriber)

// WithLanguage sets the recognition language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) {
		if lang != "" {
			t.params.Language = lang
		}
	}
}

// WithThreads overrides the inference thread count. Values outside [1, 8]
// are clamped; zero keeps [DefaultThreads].
func WithThreads(n int) Option {
	return func(t *Transcriber) {
		if n != 0 {
			t.params.Threads = clampThreads(n)
		}
	}
}

// Transcriber converts utterances to text through a shared Recognizer.
//
// At most one Recognize call is in flight per Transcriber; further callers
// wait in FIFO order. A single Transcriber must be shared by everything
// that uses the same model.
type Transcriber struct {
	rec    Recognizer
	sem    *semaphore.Weighted
	params DecodeParams
}

// NewTranscriber wraps rec with exclusive access and the fixed decode
// parameters: greedy, no timestamps, no carried context, no translation.
func NewTranscriber(rec Recognizer, opts ...Option) *Transcriber {
	t := &Transcriber{
		rec: rec,
		sem: semaphore.NewWeighted(1),
		params: DecodeParams{
			Language: defaultLanguage,
			Threads:  DefaultThreads(),
		},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Params returns the decode parameters passed to the Recognizer.
func (t *Transcriber) Params() DecodeParams { return t.params }

// Transcribe runs inference over 16 kHz mono samples and returns the
// segments concatenated in order with no separator.
//
// ctx only bounds the wait for the engine; a call that has started
// inference runs to completion. On engine failure Transcribe returns an
// empty string and an error wrapping [ErrTranscription]. Callers treat that
// the same as no recognised speech.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("stt: wait for engine: %w", err)
	}
	defer t.sem.Release(1)

	segments, err := t.rec.Recognize(samples, t.params)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s)
	}
	return b.String(), nil
}

// Close releases the underlying Recognizer once no call is in flight.
func (t *Transcriber) Close() error {
	if err := t.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer t.sem.Release(1)
	return t.rec.Close()
}
