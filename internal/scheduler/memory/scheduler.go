// Package memory implements the scheduler port with in-process timers.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"chrona-engine/internal/scheduler"
)

// Sink receives fired trigger requests.
type Sink func(ctx context.Context, req scheduler.Request)

// Scheduler delivers scheduled requests via time.AfterFunc. It makes no
// dedup promises: scheduling the same alarm and kind twice produces two
// deliveries, exactly like the platform scheduler it stands in for.
type Scheduler struct {
	mu     sync.Mutex
	sink   Sink
	timers map[string][]*time.Timer
	now    func() time.Time
}

// NewScheduler constructs a scheduler delivering into sink.
func NewScheduler(sink Sink) *Scheduler {
	return &Scheduler{
		sink:   sink,
		timers: make(map[string][]*time.Timer),
		now:    time.Now,
	}
}

func timerKey(alarmID int, kind string) string {
	return strconv.Itoa(alarmID) + "|" + kind
}

// Schedule arms a timer for the request.
func (s *Scheduler) Schedule(_ context.Context, req scheduler.Request) error {
	if s == nil || s.sink == nil {
		return nil
	}
	delay := req.At.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := timerKey(req.AlarmID, req.Kind)
	timer := time.AfterFunc(delay, func() {
		s.sink(context.Background(), req)
	})
	s.timers[key] = append(s.timers[key], timer)
	return nil
}

// Cancel stops every pending timer for the alarm and kind.
func (s *Scheduler) Cancel(_ context.Context, alarmID int, kind string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := timerKey(alarmID, kind)
	for _, timer := range s.timers[key] {
		timer.Stop()
	}
	delete(s.timers, key)
	return nil
}

// Stop cancels all pending timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, timers := range s.timers {
		for _, timer := range timers {
			timer.Stop()
		}
		delete(s.timers, key)
	}
}
