// Package stt defines the speech-to-text engine contract and the Transcriber
// that serialises access to it.
//
// A Recognizer wraps a loaded acoustic model (see the whisper subpackage) and
// turns one utterance of 16 kHz mono float32 samples into text segments. The
// underlying engines are not safe for concurrent inference, so callers never
// use a Recognizer directly: they go through a [Transcriber], which admits at
// most one Recognize call at a time and applies the fixed decode parameters.
package stt

import "errors"

// SampleRate is the input rate every Recognizer expects, in Hz.
const SampleRate = 16000

// ErrTranscription wraps any failure reported by the engine during inference.
var ErrTranscription = errors.New("stt: transcription failed")

// DecodeParams are the per-call inference settings passed to a Recognizer.
type DecodeParams struct {
	// Language is the fixed recognition language, e.g. "en".
	Language string

	// Threads is the number of CPU threads the engine may use.
	Threads int

	// Translate asks the engine to translate into English. Always false for
	// transcription.
	Translate bool

	// Timestamps enables token timestamps. voxnote never needs them.
	Timestamps bool

	// MaxContext is the number of previous-text tokens carried between calls.
	// Zero means each utterance is decoded independently.
	MaxContext int
}

// Recognizer is the abstraction over a local inference engine.
//
// Implementations need not be safe for concurrent Recognize calls.
type Recognizer interface {
	// Recognize runs greedy decoding over samples and returns the recognised
	// text segments in order. Segments may carry leading whitespace.
	Recognize(samples []float32, params DecodeParams) ([]string, error)

	// Close releases the model. Calling Close more than once is safe.
	Close() error
}
