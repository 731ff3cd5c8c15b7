package dashboard_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/mindscope/internal/dashboard"
	"github.com/MrWong99/mindscope/internal/pipeline"
)

func frame(seq uint64) pipeline.Frame {
	return pipeline.Frame{Seq: seq, Status: pipeline.Status{State: pipeline.StateConnected}}
}

func TestHub_LatestAndSubscribe(t *testing.T) {
	t.Parallel()

	h := dashboard.NewHub(2)
	if _, ok := h.Latest(); ok {
		t.Fatal("Latest() ok before any frame")
	}
	h.Present(frame(1))

	ch, cancel := h.Subscribe()
	defer cancel()
	if h.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", h.Subscribers())
	}

	// The latest frame is delivered on subscribe.
	select {
	case f := <-ch:
		if f.Seq != 1 {
			t.Errorf("first frame seq = %d, want 1", f.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("latest frame not delivered on subscribe")
	}

	h.Present(frame(2))
	if f := <-ch; f.Seq != 2 {
		t.Errorf("frame seq = %d, want 2", f.Seq)
	}
	if f, _ := h.Latest(); f.Seq != 2 {
		t.Errorf("Latest().Seq = %d, want 2", f.Seq)
	}
}

func TestHub_SlowSubscriberSkipsOldest(t *testing.T) {
	t.Parallel()

	h := dashboard.NewHub(2)
	ch, cancel := h.Subscribe()
	defer cancel()

	for seq := uint64(1); seq <= 5; seq++ {
		h.Present(frame(seq)) // never blocks
	}

	got := []uint64{(<-ch).Seq, (<-ch).Seq}
	if !slices.Equal(got, []uint64{4, 5}) {
		t.Errorf("buffered frames = %v, want [4 5]", got)
	}
	if h.Skipped() != 3 {
		t.Errorf("Skipped() = %d, want 3", h.Skipped())
	}
}

func TestHub_CancelUnsubscribes(t *testing.T) {
	t.Parallel()

	h := dashboard.NewHub(0)
	_, cancel := h.Subscribe()
	cancel()
	if h.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after cancel, want 0", h.Subscribers())
	}
	h.Present(frame(1))
}

func TestDecimate(t *testing.T) {
	t.Parallel()

	f := pipeline.Frame{
		Time:     []float64{0, 1, 2, 3, 4, 5, 6},
		Channels: [][]float64{{10, 11, 12, 13, 14, 15, 16}, {20, 21, 22, 23, 24, 25, 26}},
	}

	tests := []struct {
		name string
		n    int
		want []float64
	}{
		{"identity", 1, []float64{0, 1, 2, 3, 4, 5, 6}},
		{"every third keeps newest", 3, []float64{0, 3, 6}},
		{"every second keeps newest", 2, []float64{0, 2, 4, 6}},
		{"coarser than series", 10, []float64{6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := dashboard.Decimate(f, tt.n)
			if !slices.Equal(got.Time, tt.want) {
				t.Errorf("Time = %v, want %v", got.Time, tt.want)
			}
			for ch := range got.Channels {
				if len(got.Channels[ch]) != len(got.Time) {
					t.Errorf("channel %d has %d points, time has %d", ch, len(got.Channels[ch]), len(got.Time))
				}
				if last := got.Channels[ch][len(got.Channels[ch])-1]; last != f.Channels[ch][6] {
					t.Errorf("channel %d newest = %v, want %v", ch, last, f.Channels[ch][6])
				}
			}
		})
	}

	if f.Time[1] != 1 || len(f.Time) != 7 {
		t.Error("Decimate modified its input")
	}
}
