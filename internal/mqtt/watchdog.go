package mqtt

import "sync"

// DefaultMaxAckDebt is how many publishes may go unacknowledged before
// the client is rebuilt.
const DefaultMaxAckDebt = 10

// Watchdog counts publish attempts against broker acknowledgements. The
// two counters only move forward between resets, and a reset clears both.
type Watchdog struct {
	mu        sync.Mutex
	attempted int64
	acked     int64
	limit     int64
}

// NewWatchdog returns a watchdog that trips when attempts exceed acks by
// more than limit. A limit below 1 uses [DefaultMaxAckDebt].
func NewWatchdog(limit int64) *Watchdog {
	if limit < 1 {
		limit = DefaultMaxAckDebt
	}
	return &Watchdog{limit: limit}
}

// Attempt records a publish attempt. It reports true when the debt has
// passed the limit, in which case both counters have been reset and the
// caller must rebuild the client.
func (w *Watchdog) Attempt() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempted++
	if w.attempted-w.acked > w.limit {
		w.attempted, w.acked = 0, 0
		return true
	}
	return false
}

// Ack records a broker acknowledgement.
func (w *Watchdog) Ack() {
	w.mu.Lock()
	w.acked++
	w.mu.Unlock()
}

// Counts returns the attempt and acknowledgement counters.
func (w *Watchdog) Counts() (attempted, acked int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempted, w.acked
}

// Debt returns attempts minus acknowledgements.
func (w *Watchdog) Debt() int64 {
	a, k := w.Counts()
	return a - k
}
