// Package schedule runs the recurring pushes: a full listing once a day at a
// configured time, and optional incremental polling at a fixed period.
package schedule

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/gsa-connectors/adaptor/go/cleanup"
	"github.com/gsa-connectors/adaptor/go/skerr"
	"github.com/gsa-connectors/adaptor/go/sklog"
)

// TimeOfDay is a wall-clock trigger time, local to the process's timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

var timeOfDayRe = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})$`)

// ParseTimeOfDay parses "HH:MM:SS" (the adaptor.fullListingSchedule format).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	m := timeOfDayRe.FindStringSubmatch(s)
	if m == nil {
		return TimeOfDay{}, skerr.Fmt("invalid schedule %q; want HH:MM:SS", s)
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	if h > 23 || min > 59 || sec > 59 {
		return TimeOfDay{}, skerr.Fmt("invalid schedule %q; fields out of range", s)
	}
	return TimeOfDay{Hour: h, Minute: min, Second: sec}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Next returns the first instant strictly after now at which the trigger
// fires.
func (t TimeOfDay) Next(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour, t.Minute, t.Second, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Scheduler owns the recurring tasks. Stop waits for a started task
// invocation to return; the periodic goroutines themselves are registered
// with go/cleanup and reaped by cleanup.Cleanup at process shutdown.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	tickMu sync.Mutex
	now    func() time.Time
}

// New returns a running Scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Daily runs task once a day at the given time. The first run waits for the
// next occurrence; task panics are contained.
func (s *Scheduler) Daily(name string, tod TimeOfDay, task func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			next := tod.Next(s.now())
			sklog.Infof("Next %s run at %s", name, next)
			select {
			case <-time.After(next.Sub(s.now())):
				s.run(name, task)
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Every runs task immediately and then at the given period. Ticks after Stop
// are no-ops.
func (s *Scheduler) Every(name string, period time.Duration, task func(ctx context.Context)) {
	cleanup.Repeat(period, func() {
		s.tickMu.Lock()
		defer s.tickMu.Unlock()
		if s.ctx.Err() != nil {
			return
		}
		s.run(name, task)
	}, nil)
}

func (s *Scheduler) run(name string, task func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			sklog.Errorf("Scheduled task %s panicked: %v", name, r)
		}
	}()
	task(s.ctx)
}

// Stop cancels the schedule and waits for running tasks.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	// Taking the tick mutex waits out any in-flight periodic tick; later
	// ticks see the cancelled context and return immediately.
	s.tickMu.Lock()
	s.tickMu.Unlock()
}
