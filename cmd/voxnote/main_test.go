package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/voxnote/internal/config"
	"github.com/MrWong99/voxnote/internal/store"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is longer", 5, "this…"},
		{"äöüäöü", 4, "äöü…"},
	}
	for _, tt := range tests {
		if got := preview(tt.in, tt.n); got != tt.want {
			t.Errorf("preview(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestSessionsAndDelete(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Root = filepath.Join(t.TempDir(), "sessions")
	ctx := context.Background()

	st, err := store.NewFileStore(cfg.Storage.Root)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := st.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sess.AppendChunk("hello", 0)
	if err := st.Save(ctx, sess); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := cmdSessions(ctx, cfg, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), sess.ID) || !strings.Contains(out.String(), "hello") {
		t.Errorf("listing missing session:\n%s", out.String())
	}

	if err := cmdDelete(ctx, cfg, []string{sess.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Storage.Root, sess.ID)); !os.IsNotExist(err) {
		t.Errorf("session dir still present: %v", err)
	}
	if err := cmdDelete(ctx, cfg, []string{sess.ID}); err == nil {
		t.Error("deleting a missing session should fail")
	}
}

func TestPrintDevices(t *testing.T) {
	names := []string{"Built-in Microphone", "USB Audio Device", "USB Headset"}
	tests := []struct {
		name     string
		names    []string
		selected string
		want     string
	}{
		{"no selection", names, "", "  Built-in Microphone\n  USB Audio Device\n  USB Headset\n"},
		{"first substring match", names, "usb", "  Built-in Microphone\n* USB Audio Device\n  USB Headset\n"},
		{"missing device", names[:1], "webcam", "  Built-in Microphone\nconfigured device \"webcam\" not found\n"},
		{"no devices", nil, "", "no capture devices found\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printDevices(&buf, tt.names, tt.selected)
			if got := buf.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunUsage(t *testing.T) {
	if code := run(nil); code != 2 {
		t.Errorf("run() = %d, want 2", code)
	}
	if code := run([]string{"frobnicate"}); code != 2 {
		t.Errorf("run(frobnicate) = %d, want 2", code)
	}
	if code := run([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml"), "sessions"}); code != 1 {
		t.Errorf("run with missing config = %d, want 1", code)
	}
}
