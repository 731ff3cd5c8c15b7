package pipeline

import "time"

// rateMeter estimates the producer sample rate from (time, cumulative
// samples) observations taken once per render tick. It keeps a bounded ring
// of observations and reports the slope across those inside the window.
//
// Not safe for concurrent use; the session lock serialises it.
type rateMeter struct {
	window time.Duration
	obs    []rateObs
	pos    int
	full   bool
}

type rateObs struct {
	at    time.Time
	total int64
}

func newRateMeter(window time.Duration, slots int) *rateMeter {
	if slots < 2 {
		slots = 2
	}
	return &rateMeter{window: window, obs: make([]rateObs, slots)}
}

// observe records the cumulative sample count at now.
func (m *rateMeter) observe(now time.Time, total int64) {
	m.obs[m.pos] = rateObs{at: now, total: total}
	m.pos = (m.pos + 1) % len(m.obs)
	if m.pos == 0 {
		m.full = true
	}
}

// rate returns samples per second over the observations no older than the
// window relative to the newest one. It returns 0 until two usable
// observations exist.
func (m *rateMeter) rate() float64 {
	n := m.pos
	if m.full {
		n = len(m.obs)
	}
	if n < 2 {
		return 0
	}
	newest := m.obs[(m.pos-1+len(m.obs))%len(m.obs)]
	oldest := newest
	for i := 2; i <= n; i++ {
		o := m.obs[(m.pos-i+len(m.obs))%len(m.obs)]
		if newest.at.Sub(o.at) > m.window {
			break
		}
		oldest = o
	}
	dt := newest.at.Sub(oldest.at).Seconds()
	if dt <= 0 {
		return 0
	}
	return float64(newest.total-oldest.total) / dt
}

func (m *rateMeter) reset() {
	m.pos = 0
	m.full = false
}
