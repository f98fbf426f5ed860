package scheduler

import (
	"sync"
	"time"
)

// Handle cancels a scheduled task. Stop is safe to call more than once.
type Handle interface {
	Stop()
}

// Scheduler runs fn every interval until the returned handle is stopped.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Handle
}

type tickerScheduler struct{}

// NewTicker returns a Scheduler backed by time.Ticker. Each task runs on its
// own goroutine.
func NewTicker() Scheduler {
	return tickerScheduler{}
}

type tickerHandle struct {
	once sync.Once
	done chan struct{}
}

func (h *tickerHandle) Stop() {
	h.once.Do(func() { close(h.done) })
}

func (tickerScheduler) Every(interval time.Duration, fn func()) Handle {
	h := &tickerHandle{done: make(chan struct{})}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
				select {
				case <-h.done:
					return
				default:
				}
				fn()
			}
		}
	}()

	return h
}
