package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxnote/pkg/audio"
)

func approxEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func constFrame(n int, v float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

// ---- Classify ---------------------------------------------------------------

func TestClassify_EmptyFrame(t *testing.T) {
	c := audio.Classify(nil, 8)
	if c.Average != 0 {
		t.Errorf("Average = %v, want 0", c.Average)
	}
	if len(c.Buckets) != 8 {
		t.Fatalf("len(Buckets) = %d, want 8", len(c.Buckets))
	}
	for i, b := range c.Buckets {
		if b != 0 {
			t.Errorf("Buckets[%d] = %v, want 0", i, b)
		}
	}
}

func TestClassify_AverageUsesAbsoluteValues(t *testing.T) {
	c := audio.Classify([]float32{0.5, -0.5, 0.25, -0.25}, 2)
	if !approxEqual(c.Average, 0.375) {
		t.Errorf("Average = %v, want 0.375", c.Average)
	}
	if !approxEqual(c.Buckets[0], 0.5) || !approxEqual(c.Buckets[1], 0.25) {
		t.Errorf("Buckets = %v, want [0.5 0.25]", c.Buckets)
	}
}

func TestClassify_LastBucketAbsorbsRemainder(t *testing.T) {
	// 7 samples, 3 buckets: widths 2, 2, 3.
	frame := []float32{1, 1, 0, 0, 0.3, 0.3, 0.3}
	c := audio.Classify(frame, 3)
	want := []float32{1, 0, 0.3}
	for i := range want {
		if !approxEqual(c.Buckets[i], want[i]) {
			t.Errorf("Buckets[%d] = %v, want %v", i, c.Buckets[i], want[i])
		}
	}
}

func TestClassify_MoreBucketsThanSamples(t *testing.T) {
	c := audio.Classify([]float32{0.4, 0.4}, 4)
	for i := 0; i < 3; i++ {
		if c.Buckets[i] != 0 {
			t.Errorf("Buckets[%d] = %v, want 0 for empty range", i, c.Buckets[i])
		}
	}
	if !approxEqual(c.Buckets[3], 0.4) {
		t.Errorf("Buckets[3] = %v, want 0.4", c.Buckets[3])
	}
}

func TestClassify_DefaultBucketCount(t *testing.T) {
	c := audio.Classify(constFrame(100, 0.1), 0)
	if len(c.Buckets) != audio.DefaultBucketCount {
		t.Errorf("len(Buckets) = %d, want %d", len(c.Buckets), audio.DefaultBucketCount)
	}
}

// ---- Decimate ---------------------------------------------------------------

func TestDecimate_Identity(t *testing.T) {
	s := []float32{0.1, 0.2, 0.3}
	tests := []struct {
		name     string
		src, dst int
	}{
		{"same rate", 16000, 16000},
		{"upsample request", 16000, 48000},
		{"zero source", 0, 16000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := audio.Decimate(s, tc.src, tc.dst)
			if len(got) != len(s) {
				t.Fatalf("len = %d, want %d", len(got), len(s))
			}
			for i := range s {
				if got[i] != s[i] {
					t.Errorf("got[%d] = %v, want %v", i, got[i], s[i])
				}
			}
		})
	}
}

func TestDecimate_HalvesRate(t *testing.T) {
	s := make([]float32, 101)
	for i := range s {
		s[i] = float32(i)
	}
	got := audio.Decimate(s, 32000, 16000)
	if want := (len(s) + 1) / 2; len(got) != want {
		t.Fatalf("len = %d, want %d", len(got), want)
	}
	for i := range got {
		if got[i] != s[2*i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], s[2*i])
		}
	}
}

func TestDecimate_NonIntegerStride(t *testing.T) {
	s := make([]float32, 48000)
	for i := range s {
		s[i] = float32(i)
	}
	got := audio.Decimate(s, 48000, 16000)
	if len(got) != 16000 {
		t.Fatalf("len = %d, want 16000", len(got))
	}
	if got[1] != 3 || got[15999] != 47997 {
		t.Errorf("got[1]=%v got[15999]=%v, want 3 and 47997", got[1], got[15999])
	}

	got = audio.Decimate(s[:441], 44100, 16000)
	if got[1] != s[2] { // floor(1 * 2.75625) = 2
		t.Errorf("got[1] = %v, want %v", got[1], s[2])
	}
}

// ---- conversion helpers -----------------------------------------------------

func TestDownmixToMono(t *testing.T) {
	got := audio.DownmixToMono([]float32{0.2, 0.4, -0.2, -0.4, 1}, 2)
	want := []float32{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !approxEqual(got[i], want[i]) {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestIntToFloat32(t *testing.T) {
	got := audio.IntToFloat32([]int{16384, -32768, 0}, 16)
	want := []float32{0.5, -1, 0}
	for i := range want {
		if !approxEqual(got[i], want[i]) {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAudioFrame_Duration(t *testing.T) {
	f := audio.AudioFrame{Samples: make([]float32, 1600), SampleRate: 16000}
	if got := f.Duration(); got != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", got)
	}
	if got := (audio.AudioFrame{Samples: make([]float32, 10)}).Duration(); got != 0 {
		t.Errorf("Duration without rate = %v, want 0", got)
	}
}
