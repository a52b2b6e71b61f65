package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/transcript"
)

// stepClock returns a clock that advances one minute per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

func newTestStore(t *testing.T, opts ...Option) *FileStore {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithMetrics(m), WithClock(stepClock())}, opts...)
	s, err := NewFileStore(filepath.Join(t.TempDir(), "sessions"), opts...)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func metadataWithChunks(id string, n int) Metadata {
	m := Metadata{
		ID:        id,
		StartTime: time.Date(2026, 3, 1, 10, 30, 15, 123456789, time.UTC),
		Chunks:    []Chunk{},
	}
	for i := range n {
		m.AppendChunk(fmt.Sprintf("utterance number %d", i+1), time.Duration(i+1)*350*time.Millisecond)
	}
	return m
}

func TestCreate(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("empty session id")
	}
	if sess.Dir != filepath.Join(s.Root(), sess.ID) {
		t.Errorf("Dir = %q, want under root", sess.Dir)
	}
	if _, err := os.Stat(filepath.Join(sess.Dir, "meta.json")); err != nil {
		t.Errorf("meta.json missing: %v", err)
	}
	if len(sess.Chunks) != 0 || sess.TranscribedText != "" {
		t.Errorf("new session not empty: %+v", sess.Metadata)
	}
	if want := time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC); !sess.StartTime.Equal(want) {
		t.Errorf("StartTime = %s, want %s", sess.StartTime, want)
	}

	other, err := s.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == sess.ID {
		t.Error("two sessions share an id")
	}
}

func TestCreate_RootRemoved(t *testing.T) {
	s := newTestStore(t)
	if err := os.RemoveAll(s.Root()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(context.Background()); !errors.Is(err, ErrStorage) {
		t.Errorf("err = %v, want ErrStorage", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 50} {
		t.Run(fmt.Sprintf("chunks=%d", n), func(t *testing.T) {
			s := newTestStore(t)
			sess, err := s.Create(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			sess.Metadata = metadataWithChunks(sess.ID, n)

			if err := s.Save(context.Background(), sess); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := s.Load(context.Background(), sess.ID)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !reflect.DeepEqual(got.Metadata, sess.Metadata) {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got.Metadata, sess.Metadata)
			}
		})
	}
}

func TestMetadataJSONLayout(t *testing.T) {
	m := metadataWithChunks("cv3abc", 1)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id":"cv3abc","startTime":"2026-03-01T10:30:15.123456789Z","chunks":[{"index":1,"duration":0.35,"text":"utterance number 1"}],"transcribedText":"utterance number 1"}`
	if string(data) != want {
		t.Errorf("json =\n%s\nwant\n%s", data, want)
	}

	empty, _ := json.Marshal(Metadata{ID: "x", Chunks: []Chunk{}})
	if strings.Contains(string(empty), "transcribedText") {
		t.Errorf("empty transcript should be omitted: %s", empty)
	}
}

func TestAppendChunk(t *testing.T) {
	var m Metadata
	texts := []string{"hello", "world", "again"}
	for i, tx := range texts {
		c := m.AppendChunk(tx, time.Second)
		if c.Index != i+1 {
			t.Errorf("chunk %d index = %d", i, c.Index)
		}
	}
	if m.TranscribedText != transcript.Join(texts) {
		t.Errorf("TranscribedText = %q, want %q", m.TranscribedText, "hello world again")
	}

	clone := m.Clone()
	clone.Chunks[0].Text = "changed"
	if m.Chunks[0].Text != "hello" {
		t.Error("Clone shares the chunk slice")
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.Create(context.Background())
	for i := range 5 {
		sess.AppendChunk(fmt.Sprint(i), time.Second)
		if err := s.Save(context.Background(), sess); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(sess.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "meta.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("session dir contains %v, want only meta.json", names)
	}
}

func TestSave_MissingDirFails(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.Create(context.Background())
	if err := os.RemoveAll(sess.Dir); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background(), sess); !errors.Is(err, ErrStorage) {
		t.Errorf("err = %v, want ErrStorage", err)
	}
}

func TestLoadAll(t *testing.T) {
	s := newTestStore(t, WithLoadWorkers(2))
	ctx := context.Background()

	var ids []string
	for range 4 {
		sess, err := s.Create(ctx)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, sess.ID)
	}

	// A corrupt entry, a directory without metadata and a stray file.
	corrupt := filepath.Join(s.Root(), "corrupt")
	if err := os.Mkdir(corrupt, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corrupt, "meta.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(s.Root(), "empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Root(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	all, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("LoadAll returned %d sessions, want 4", len(all))
	}
	for i, m := range all {
		if want := ids[len(ids)-1-i]; m.ID != want {
			t.Errorf("all[%d] = %s, want %s (newest first)", i, m.ID, want)
		}
	}
}

func TestLoadAll_EmptyRoot(t *testing.T) {
	s := newTestStore(t)
	all, err := s.LoadAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("LoadAll = %v, want empty", all)
	}
}

func TestLoad_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "doesnotexist")
	if !errors.Is(err, ErrSessionNotFound) || !errors.Is(err, ErrStorage) {
		t.Errorf("err = %v, want ErrSessionNotFound and ErrStorage", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	keep, _ := s.Create(ctx)
	gone, _ := s.Create(ctx)

	if err := s.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(gone.Dir); !os.IsNotExist(err) {
		t.Errorf("session dir still exists: %v", err)
	}
	if _, err := s.Load(ctx, keep.ID); err != nil {
		t.Errorf("other session affected: %v", err)
	}
}

func TestDelete_MissingSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	keep, _ := s.Create(ctx)

	err := s.Delete(ctx, "cv0000000000000000000")
	if !errors.Is(err, ErrStorage) || !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrStorage and ErrSessionNotFound", err)
	}

	all, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != keep.ID {
		t.Errorf("sessions after failed delete = %+v", all)
	}
}

func TestDelete_RejectsPathTraversal(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", ".", "..", "../x", `a\b`} {
		if err := s.Delete(context.Background(), id); !errors.Is(err, ErrStorage) {
			t.Errorf("Delete(%q) = %v, want ErrStorage", id, err)
		}
	}
	if _, err := os.Stat(s.Root()); err != nil {
		t.Errorf("root damaged: %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	events, cancel := s.Subscribe()

	sess, _ := s.Create(ctx)
	_ = s.Save(ctx, sess)
	_ = s.Delete(ctx, sess.ID)

	want := []Event{
		{Kind: EventCreated, ID: sess.ID},
		{Kind: EventSaved, ID: sess.ID},
		{Kind: EventDeleted, ID: sess.ID},
	}
	for i, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Errorf("event %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}

	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Error("channel still open after cancel")
	}
	// Publishing after unsubscribe must not panic.
	if _, err := s.Create(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestEventKindString(t *testing.T) {
	tests := map[EventKind]string{
		EventCreated: "created",
		EventSaved:   "saved",
		EventDeleted: "deleted",
		EventKind(0): "unknown",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
}
