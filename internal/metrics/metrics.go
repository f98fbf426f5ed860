package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

type Counter struct {
	value uint64
}

func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *Counter) Add(n uint64) {
	atomic.AddUint64(&c.value, n)
}

func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Operation aggregates one kind of payment request.
type Operation struct {
	Calls   Counter
	Errors  Counter
	totalNs Counter
}

func (o *Operation) Observe(d time.Duration, failed bool) {
	o.Calls.Inc()
	if failed {
		o.Errors.Inc()
	}
	if d > 0 {
		o.totalNs.Add(uint64(d))
	}
}

type OperationStats struct {
	Calls        uint64  `json:"calls"`
	Errors       uint64  `json:"errors"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

func (o *Operation) Stats() OperationStats {
	s := OperationStats{Calls: o.Calls.Load(), Errors: o.Errors.Load()}
	if s.Calls > 0 {
		s.AvgLatencyMs = float64(o.totalNs.Load()) / float64(s.Calls) / float64(time.Millisecond)
	}
	return s
}

// Payments holds the counters of the payment API.
type Payments struct {
	Settled Counter

	mu  sync.Mutex
	ops map[string]*Operation
}

func NewPayments() *Payments {
	return &Payments{ops: make(map[string]*Operation)}
}

func (p *Payments) Op(name string) *Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.ops[name]
	if !ok {
		o = &Operation{}
		p.ops[name] = o
	}
	return o
}

type Snapshot struct {
	Settled    uint64                    `json:"settled"`
	Operations map[string]OperationStats `json:"operations"`
}

func (p *Payments) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{Settled: p.Settled.Load(), Operations: make(map[string]OperationStats, len(p.ops))}
	for name, o := range p.ops {
		s.Operations[name] = o.Stats()
	}
	return s
}
