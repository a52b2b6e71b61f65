// Package whisper implements [stt.Recognizer] on top of the whisper.cpp CGO
// bindings.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// A Model is loaded once and reused for every utterance. Each Recognize call
// creates a fresh decoding context, so no text is carried between calls.
package whisper

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

var (
	// ErrModelNotFound is returned by [Load] when the model file is missing
	// or unreadable.
	ErrModelNotFound = errors.New("whisper: model file not found")

	// ErrModelLoad is returned by [Load] when the engine rejects the model.
	ErrModelLoad = errors.New("whisper: model could not be loaded")
)

// Model is a loaded whisper.cpp model.
type Model struct {
	path string

	mu    sync.Mutex
	model whisperlib.Model
}

// Load reads the ggml model at path.
func Load(path string) (*Model, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrModelNotFound)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrModelNotFound, path, err)
	}
	info, err := f.Stat()
	f.Close()
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a regular file", ErrModelNotFound, path)
	}

	model, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrModelLoad, path, err)
	}
	slog.Info("whisper model loaded", "path", path, "multilingual", model.IsMultilingual())
	return &Model{path: path, model: model}, nil
}

// Path returns the file the model was loaded from.
func (m *Model) Path() string { return m.path }

// Recognize decodes samples (16 kHz mono) and returns the raw segment texts.
func (m *Model) Recognize(samples []float32, params stt.DecodeParams) ([]string, error) {
	m.mu.Lock()
	model := m.model
	m.mu.Unlock()
	if model == nil {
		return nil, errors.New("whisper: model is closed")
	}

	wctx, err := model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if params.Language != "" {
		if err := wctx.SetLanguage(params.Language); err != nil {
			return nil, fmt.Errorf("whisper: set language %q: %w", params.Language, err)
		}
	}
	if params.Threads > 0 {
		wctx.SetThreads(uint(params.Threads))
	}
	wctx.SetTranslate(params.Translate)
	wctx.SetTokenTimestamps(params.Timestamps)
	wctx.SetMaxContext(params.MaxContext)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		segments = append(segments, seg.Text)
	}
	return segments, nil
}

// Close releases the model. Safe to call more than once.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return nil
	}
	err := m.model.Close()
	m.model = nil
	return err
}

// Compile-time assertion that Model satisfies stt.Recognizer.
var _ stt.Recognizer = (*Model)(nil)
