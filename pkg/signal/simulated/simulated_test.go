package simulated_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mindscope/pkg/signal"
	"github.com/MrWong99/mindscope/pkg/signal/simulated"
)

func TestGenerate_Layout(t *testing.T) {
	t.Parallel()

	b := simulated.Generate(8, 10, 250, 0)
	if err := b.Validate(8); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if b.Len() != 10 {
		t.Errorf("Len() = %d, want 10", b.Len())
	}
	if b.SampleRate != 250 {
		t.Errorf("SampleRate = %v, want 250", b.SampleRate)
	}
}

func TestStreamSamples_OrderedUntilCancel(t *testing.T) {
	t.Parallel()

	drv := simulated.New(simulated.WithSampleRate(1000), simulated.WithBatchSize(10))
	dev, err := drv.Open(context.Background(), signal.Endpoint{Address: "sim", Port: 1})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer dev.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var seqs []uint64
	errc := make(chan error, 1)
	go func() {
		errc <- dev.StreamSamples(ctx, func(b signal.Batch) error {
			mu.Lock()
			seqs = append(seqs, b.Seq)
			n := len(seqs)
			mu.Unlock()
			if n == 5 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("StreamSamples() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StreamSamples did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Fatalf("seqs[%d] = %d, want %d", i, s, i+1)
		}
	}
}

func TestStreamInference_StopsOnEmitError(t *testing.T) {
	t.Parallel()

	drv := simulated.New(simulated.WithInferenceInterval(time.Millisecond))
	dev, _ := drv.Open(context.Background(), signal.Endpoint{})
	defer dev.Close()

	stop := errors.New("stop")
	err := dev.StreamInference(context.Background(), func(p signal.Probabilities) error {
		if len(p) != 2 {
			t.Errorf("len(p) = %d, want 2", len(p))
		}
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("StreamInference() = %v, want %v", err, stop)
	}
}

func TestClose_UnblocksStreams(t *testing.T) {
	t.Parallel()

	drv := simulated.New(simulated.WithInferenceInterval(time.Hour))
	dev, _ := drv.Open(context.Background(), signal.Endpoint{})

	errc := make(chan error, 1)
	go func() {
		errc <- dev.StreamInference(context.Background(), func(signal.Probabilities) error { return nil })
	}()
	_ = dev.Close()
	_ = dev.Close()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("StreamInference() after Close = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not unblock StreamInference")
	}
}

func TestWithClasses_SwitchesDominantClass(t *testing.T) {
	t.Parallel()

	drv := simulated.New(
		simulated.WithClasses(3),
		simulated.WithSwitchEvery(1),
		simulated.WithInferenceInterval(time.Millisecond),
	)
	dev, _ := drv.Open(context.Background(), signal.Endpoint{})
	defer dev.Close()

	if got := dev.Info().Classes; got != 3 {
		t.Fatalf("Info().Classes = %d, want 3", got)
	}

	stop := errors.New("stop")
	var n int
	err := dev.StreamInference(context.Background(), func(p signal.Probabilities) error {
		if len(p) != 3 {
			t.Errorf("len(p) = %d, want 3", len(p))
		}
		n++
		if n == 4 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("StreamInference() = %v, want %v", err, stop)
	}
}

func TestVector_Length(t *testing.T) {
	t.Parallel()

	for _, classes := range []int{2, 4} {
		if got := len(simulated.Vector(1, classes)); got != classes {
			t.Errorf("len(Vector(1, %d)) = %d", classes, got)
		}
	}
}
