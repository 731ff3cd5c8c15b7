// Package dashboard is the presentation and control transport of mindscope:
// a [Hub] that fans rendered frames out to WebSocket viewers and the HTTP
// API used to connect and disconnect the acquisition device.
//
// Viewers never influence the pipeline. Each subscriber has a small
// buffered channel; a subscriber that falls behind skips frames.
package dashboard

import (
	"sync"

	"github.com/MrWong99/mindscope/internal/pipeline"
)

// DefaultClientBuffer is the number of frames buffered per subscriber.
const DefaultClientBuffer = 4

// Hub implements pipeline.Presenter. It keeps the latest frame and hands
// every frame to all subscribers without blocking the render goroutine.
// It is safe for concurrent use.
type Hub struct {
	buffer int

	mu      sync.RWMutex
	latest  pipeline.Frame
	has     bool
	clients map[chan pipeline.Frame]struct{}
	skipped uint64
}

var _ pipeline.Presenter = (*Hub)(nil)

// NewHub returns a hub buffering buffer frames per subscriber
// (DefaultClientBuffer when buffer <= 0).
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Hub{
		buffer:  buffer,
		clients: make(map[chan pipeline.Frame]struct{}),
	}
}

// Present implements pipeline.Presenter. A subscriber whose buffer is full
// loses its oldest pending frame.
func (h *Hub) Present(f pipeline.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest, h.has = f, true
	for ch := range h.clients {
		select {
		case ch <- f:
			continue
		default:
		}
		select {
		case <-ch:
			h.skipped++
		default:
		}
		select {
		case ch <- f:
		default:
		}
	}
}

// Latest returns the most recently presented frame. ok is false before the
// first frame.
func (h *Hub) Latest() (f pipeline.Frame, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.has
}

// Subscribe registers a new subscriber. The latest frame, if any, is
// queued immediately. The returned cancel func unregisters it and must be
// called exactly once.
func (h *Hub) Subscribe() (<-chan pipeline.Frame, func()) {
	ch := make(chan pipeline.Frame, h.buffer)
	h.mu.Lock()
	if h.has {
		ch <- h.latest
	}
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Skipped returns the number of frames dropped for slow subscribers.
func (h *Hub) Skipped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.skipped
}

// Decimate returns a copy of f keeping every n-th time-series point,
// counted back from the newest so the latest sample is always present.
// n <= 1 returns f unchanged. The spectrum and classification are shared.
func Decimate(f pipeline.Frame, n int) pipeline.Frame {
	if n <= 1 || len(f.Time) == 0 {
		return f
	}
	keep := make([]int, 0, len(f.Time)/n+1)
	for i := (len(f.Time) - 1) % n; i < len(f.Time); i += n {
		keep = append(keep, i)
	}

	out := f
	out.Time = pick(f.Time, keep)
	out.Channels = make([][]float64, len(f.Channels))
	for ch, vals := range f.Channels {
		out.Channels[ch] = pick(vals, keep)
	}
	return out
}

func pick(src []float64, idx []int) []float64 {
	dst := make([]float64, len(idx))
	for j, i := range idx {
		dst[j] = src[i]
	}
	return dst
}
