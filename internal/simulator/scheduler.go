package simulator

import (
	"sync"
	"time"
)

// Scheduler invokes a tick function periodically. Ticks must not overlap.
type Scheduler interface {
	Start(interval time.Duration, tick func(now time.Time))
	Stop()
}

// TickerScheduler drives ticks from a time.Ticker on one goroutine, so a slow
// tick delays the next one instead of overlapping it.
type TickerScheduler struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{}
}

// Start is a no-op while already running.
func (s *TickerScheduler) Start(interval time.Duration, tick func(now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}

	stop, done := make(chan struct{}), make(chan struct{})
	s.stop, s.done = stop, done
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				tick(now)
			}
		}
	}()
}

// Stop blocks until the running tick, if any, has returned.
func (s *TickerScheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
