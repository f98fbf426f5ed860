package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounter_Concurrent(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc()
		}()
	}
	wg.Wait()
	c.Add(10)

	assert.Equal(t, uint64(60), c.Load())
}

func TestTimer(t *testing.T) {
	timer := StartTimer()
	time.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, timer.Duration(), time.Millisecond)
}

func TestPayments_Snapshot(t *testing.T) {
	p := NewPayments()
	p.Op("verify").Observe(10*time.Millisecond, false)
	p.Op("verify").Observe(30*time.Millisecond, true)
	p.Op("otp").Observe(0, false)
	p.Settled.Inc()

	s := p.Snapshot()

	assert.Equal(t, uint64(1), s.Settled)
	assert.Equal(t, OperationStats{Calls: 2, Errors: 1, AvgLatencyMs: 20}, s.Operations["verify"])
	assert.Equal(t, uint64(1), s.Operations["otp"].Calls)
	assert.Zero(t, s.Operations["otp"].AvgLatencyMs)
}
