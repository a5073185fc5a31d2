package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// monitor is the cooperative periodic process that ticks the session
// countdown and drives expiry, refresh, and integrity checks. It never
// mutates machine state directly: every check is a call into the machine's
// serialized context, awaited before the next tick is serviced.
type monitor struct {
	machine   *Machine
	gen       uint64
	interval  time.Duration
	suspended atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

func newMonitor(m *Machine, gen uint64, interval time.Duration) *monitor {
	return &monitor{
		machine:  m,
		gen:      gen,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (mo *monitor) run() {
	defer close(mo.done)

	ticker := time.NewTicker(mo.interval)
	defer ticker.Stop()

	for {
		select {
		case <-mo.stopCh:
			return
		case <-ticker.C:
			// While the host is suspended ticks are best-effort and must
			// not be trusted; resume() re-validates before ticks restart.
			if mo.suspended.Load() {
				continue
			}
			remaining, ok := mo.machine.healthCheck(mo.gen)
			if !ok {
				return
			}
			mo.machine.observeTick(remaining)
		}
	}
}

// stop is idempotent and safe to call from within the machine's lock: it
// only signals, never joins.
func (mo *monitor) stop() {
	mo.stopOnce.Do(func() {
		close(mo.stopCh)
	})
}

func (mo *monitor) suspend() {
	mo.suspended.Store(true)
}

// resume runs one full re-validation before ticks are trusted again.
func (mo *monitor) resume() {
	if !mo.suspended.Load() {
		return
	}
	mo.machine.forceValidation(mo.gen)
	mo.suspended.Store(false)
}
