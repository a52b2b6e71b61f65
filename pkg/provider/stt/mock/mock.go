// Package mock provides test doubles for the stt package interfaces.
//
// Recognizer returns scripted segments and records every call. It also tracks
// how many Recognize calls overlap, so tests can assert that the engine is
// never entered concurrently.
//
// Example:
//
//	rec := &mock.Recognizer{Segments: []string{" hello", " world"}}
//	tr := stt.NewTranscriber(rec)
//	text, _ := tr.Transcribe(ctx, samples) // " hello world"
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// Samples is the number of samples passed to Recognize.
	Samples int
	// Params is the DecodeParams passed to Recognize.
	Params stt.DecodeParams
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Segments is returned by every Recognize call unless Fn is set.
	Segments []string

	// Err, if non-nil, is returned by every Recognize call unless Fn is set.
	Err error

	// Fn, if set, computes the result of each call. call is the zero-based
	// call number.
	Fn func(call int, samples []float32) ([]string, error)

	// Delay is slept inside every Recognize call.
	Delay time.Duration

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// RecognizeCalls records every call to Recognize in order.
	RecognizeCalls []RecognizeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	inFlight    int
	maxInFlight int
}

// Recognize records the call and returns the scripted result.
func (r *Recognizer) Recognize(samples []float32, params stt.DecodeParams) ([]string, error) {
	r.mu.Lock()
	call := len(r.RecognizeCalls)
	r.RecognizeCalls = append(r.RecognizeCalls, RecognizeCall{Samples: len(samples), Params: params})
	r.inFlight++
	r.maxInFlight = max(r.maxInFlight, r.inFlight)
	fn, segs, err, delay := r.Fn, r.Segments, r.Err, r.Delay
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fn != nil {
		return fn(call, samples)
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, len(segs))
	copy(out, segs)
	return out, nil
}

// Close records the call and returns CloseErr.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCallCount++
	return r.CloseErr
}

// CallCount returns the number of Recognize calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.RecognizeCalls)
}

// MaxConcurrent returns the largest number of Recognize calls that were in
// flight at the same time. Thread-safe.
func (r *Recognizer) MaxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RecognizeCalls = nil
	r.CloseCallCount = 0
	r.maxInFlight = 0
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)
