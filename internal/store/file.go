package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxnote/internal/observe"
)

const (
	metaFile           = "meta.json"
	defaultLoadWorkers = 8
	subscriberBuffer   = 16
)

// Option is a functional option for [NewFileStore].
type Option func(*FileStore)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *FileStore) { s.metrics = m }
}

// WithLoadWorkers bounds the number of meta.json files read in parallel by
// LoadAll.
func WithLoadWorkers(n int) Option {
	return func(s *FileStore) {
		if n > 0 {
			s.loadWorkers = n
		}
	}
}

// WithClock overrides the time source used for session start times.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

// FileStore is a [Store] on the local file system. All methods are safe for
// concurrent use.
type FileStore struct {
	root        string
	loadWorkers int
	metrics     *observe.Metrics
	now         func() time.Time

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewFileStore creates the storage root if needed and returns a store on it.
func NewFileStore(root string, opts ...Option) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty storage root", ErrStorage)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root %q: %w", ErrStorage, root, err)
	}
	s := &FileStore{
		root:        root,
		loadWorkers: defaultLoadWorkers,
		now:         time.Now,
		subs:        make(map[int]chan Event),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Root returns the storage root directory.
func (s *FileStore) Root() string { return s.root }

// Create makes <root>/<id> with a time-sortable xid and writes an empty
// meta.json into it.
func (s *FileStore) Create(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := xid.New().String()
	dir := filepath.Join(s.root, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		s.metrics.RecordStorageError(ctx, "create")
		return nil, fmt.Errorf("%w: create session dir: %w", ErrStorage, err)
	}

	sess := &Session{
		Metadata: Metadata{ID: id, StartTime: s.now().UTC().Round(0), Chunks: []Chunk{}},
		Dir:      dir,
	}
	if err := s.write(sess); err != nil {
		s.metrics.RecordStorageError(ctx, "create")
		_ = os.RemoveAll(dir)
		return nil, err
	}

	slog.Debug("session created", "session_id", id, "dir", dir)
	s.publish(Event{Kind: EventCreated, ID: id})
	return sess, nil
}

// Save atomically replaces meta.json for sess.
func (s *FileStore) Save(ctx context.Context, sess *Session) error {
	if err := s.write(sess); err != nil {
		s.metrics.RecordStorageError(ctx, "save")
		return err
	}
	s.publish(Event{Kind: EventSaved, ID: sess.ID})
	return nil
}

// write encodes the metadata into a temp file next to meta.json, syncs it
// and renames it into place.
func (s *FileStore) write(sess *Session) error {
	data, err := json.MarshalIndent(sess.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrStorage, sess.ID, err)
	}

	tmp, err := os.CreateTemp(sess.Dir, metaFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrStorage, sess.ID, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: save %s: %w", ErrStorage, sess.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %w", ErrStorage, sess.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrStorage, sess.ID, err)
	}
	if err := os.Rename(tmpName, filepath.Join(sess.Dir, metaFile)); err != nil {
		return fmt.Errorf("%w: replace %s: %w", ErrStorage, sess.ID, err)
	}
	committed = true
	return nil
}

// Load reads one session by ID.
func (s *FileStore) Load(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.dirFor(id)
	if err != nil {
		return nil, err
	}
	meta, err := readMeta(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %w: %s", ErrStorage, ErrSessionNotFound, id)
	}
	if err != nil {
		s.metrics.RecordStorageError(ctx, "load")
		return nil, err
	}
	return &Session{Metadata: meta, Dir: dir}, nil
}

// LoadAll reads every <root>/*/meta.json with bounded parallelism. Entries
// that are missing or corrupt are logged and skipped. The result is sorted
// newest first.
func (s *FileStore) LoadAll(ctx context.Context) ([]Metadata, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.metrics.RecordStorageError(ctx, "list")
		return nil, fmt.Errorf("%w: list %q: %w", ErrStorage, s.root, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e.Name())
		}
	}

	results := make([]*Metadata, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.loadWorkers)
	for i, name := range dirs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			meta, err := readMeta(filepath.Join(s.root, name))
			if err != nil {
				slog.Warn("skipping unreadable session", "dir", name, "err", err)
				return nil
			}
			results[i] = &meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Metadata, 0, len(results))
	for _, m := range results {
		if m != nil {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b Metadata) int {
		if c := b.StartTime.Compare(a.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// Delete removes <root>/<id> recursively. A missing directory yields an
// error matching both [ErrStorage] and [ErrSessionNotFound].
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.dirFor(id)
	if err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		s.metrics.RecordStorageError(ctx, "delete")
		return fmt.Errorf("%w: %w: %s", ErrStorage, ErrSessionNotFound, id)
	}
	if err != nil {
		s.metrics.RecordStorageError(ctx, "delete")
		return fmt.Errorf("%w: stat %s: %w", ErrStorage, id, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		s.metrics.RecordStorageError(ctx, "delete")
		return fmt.Errorf("%w: delete %s: %w", ErrStorage, id, err)
	}

	slog.Info("session deleted", "session_id", id)
	s.publish(Event{Kind: EventDeleted, ID: id})
	return nil
}

// Subscribe registers for change events. Slow subscribers miss events
// rather than block writers. The returned function unsubscribes and closes
// the channel.
func (s *FileStore) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *FileStore) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("store subscriber is full, dropping event", "event", ev.Kind.String(), "session_id", ev.ID)
		}
	}
}

// dirFor maps an ID to its directory, rejecting anything that is not a
// plain directory name.
func (s *FileStore) dirFor(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: invalid session id %q", ErrStorage, id)
	}
	return filepath.Join(s.root, id), nil
}

func readMeta(dir string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: read %s: %w", ErrStorage, dir, err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: decode %s: %w", ErrStorage, dir, err)
	}
	if m.ID == "" {
		return Metadata{}, fmt.Errorf("%w: %s: metadata has no id", ErrStorage, dir)
	}
	return m, nil
}

// Compile-time assertion that FileStore satisfies Store.
var _ Store = (*FileStore)(nil)
