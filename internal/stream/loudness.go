package stream

import "sync"

// meterDecay is the smoothing factor applied when a new observation is
// quieter than the current level. Rising loudness is tracked instantly;
// falling loudness glides down so short blocks of silence between words do
// not make a UI meter flicker.
const meterDecay = 0.6

// Meter tracks a decaying loudness average for one audio direction. The
// capture pipeline feeds it one observation per block; the UI polls Level
// on its own animation cadence. Safe for concurrent use.
type Meter struct {
	mu    sync.Mutex
	level float64
}

// Observe records the loudness of one block, a scalar in [0, 1].
func (m *Meter) Observe(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v >= m.level {
		m.level = v
		return
	}
	m.level = m.level*meterDecay + v*(1-meterDecay)
}

// Level returns the current decayed loudness in [0, 1].
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Reset drops the level to zero. Called when the owning session disconnects
// so a stale reading does not linger between conversations.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = 0
}
