package scheduler

import (
	"sync"
	"time"
)

// Manual is a Scheduler driven by explicit Advance calls. Tasks run on the
// caller's goroutine.
type Manual struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	interval time.Duration
	elapsed  time.Duration
	fn       func()
	stopped  bool
	owner    *Manual
}

func (t *manualTask) Stop() {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	t.stopped = true
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Every(interval time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTask{interval: interval, fn: fn, owner: m}
	m.tasks = append(m.tasks, t)
	return t
}

// Advance moves the clock forward by d and fires every tick that became due.
func (m *Manual) Advance(d time.Duration) {
	for step := time.Duration(0); step < d; {
		next := d - step
		m.mu.Lock()
		for _, t := range m.tasks {
			if t.stopped {
				continue
			}
			if rem := t.interval - t.elapsed; rem < next {
				next = rem
			}
		}
		m.mu.Unlock()

		step += next
		var due []*manualTask
		m.mu.Lock()
		for _, t := range m.tasks {
			if t.stopped {
				continue
			}
			t.elapsed += next
			if t.elapsed >= t.interval {
				t.elapsed = 0
				due = append(due, t)
			}
		}
		m.mu.Unlock()

		for _, t := range due {
			m.mu.Lock()
			stopped := t.stopped
			m.mu.Unlock()
			if !stopped {
				t.fn()
			}
		}
	}
}

// Active reports how many tasks are still scheduled.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}
