// Package store persists recording sessions.
//
// Each session lives in its own directory under a storage root, named after
// the session ID, holding a single meta.json file:
//
//	<root>/<id>/meta.json
//
// meta.json is replaced atomically on every save, so a failed write leaves
// the previous version intact. Audio is never written by this package.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/voxnote/internal/transcript"
)

var (
	// ErrStorage wraps every file system failure reported by a Store.
	ErrStorage = errors.New("store: storage error")

	// ErrSessionNotFound is returned when no session directory exists for an
	// ID. Errors carrying it also match [ErrStorage].
	ErrSessionNotFound = errors.New("store: session not found")
)

// Chunk is the persisted record of one accepted utterance.
type Chunk struct {
	// Index is the 1-based position of the utterance within its session.
	Index int `json:"index"`

	// Duration is the audio length in seconds.
	Duration float64 `json:"duration"`

	// Text is the recognised text.
	Text string `json:"text"`
}

// Metadata is the persisted form of a session.
type Metadata struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"startTime"`
	Chunks    []Chunk   `json:"chunks"`

	// TranscribedText is the running transcript. It starts as the chunk
	// texts joined by single spaces and may diverge after manual edits.
	TranscribedText string `json:"transcribedText,omitempty"`
}

// AppendChunk records an accepted utterance, assigning the next index and
// extending the transcript.
func (m *Metadata) AppendChunk(text string, d time.Duration) Chunk {
	c := Chunk{Index: len(m.Chunks) + 1, Duration: d.Seconds(), Text: text}
	m.Chunks = append(m.Chunks, c)
	m.TranscribedText = transcript.Append(m.TranscribedText, text)
	return c
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	if m.Chunks != nil {
		m.Chunks = append([]Chunk(nil), m.Chunks...)
	}
	return m
}

// Session is a live session: its metadata plus the directory that holds it.
type Session struct {
	Metadata
	Dir string
}

// EventKind describes what happened to a session.
type EventKind int

const (
	// EventCreated fires after a new session directory is created.
	EventCreated EventKind = iota + 1
	// EventSaved fires after meta.json was replaced.
	EventSaved
	// EventDeleted fires after a session directory was removed.
	EventDeleted
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventSaved:
		return "saved"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a change notification delivered to subscribers.
type Event struct {
	Kind EventKind
	ID   string
}

// Store is the session persistence contract used by the recorder and the
// outer surfaces.
type Store interface {
	// Create makes a new, empty session.
	Create(ctx context.Context) (*Session, error)

	// LoadAll returns every readable session, newest first. Unreadable
	// entries are logged and skipped.
	LoadAll(ctx context.Context) ([]Metadata, error)

	// Load returns a single session.
	Load(ctx context.Context, id string) (*Session, error)

	// Save persists s, replacing any previous version.
	Save(ctx context.Context, s *Session) error

	// Delete removes the session and everything in its directory.
	Delete(ctx context.Context, id string) error

	// Subscribe returns a channel of change events and a function that
	// cancels the subscription.
	Subscribe() (<-chan Event, func())
}
