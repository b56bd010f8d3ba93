// Package scheduler owns the live timer table: one one-shot timer per
// scheduled item, addressed by a generated job id. Firing is dispatched off
// the timer callback onto a supervised goroutine; repeating jobs are
// re-armed under the same id after the firing callback returns.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

var ErrNotFound = errors.New("job not found")

// FireFunc is invoked once per due job, off the timer path. The scheduler
// decides WHEN, the callback decides WHAT (deliver, skip, clean up).
type FireFunc func(partition string, item store.Item)

// Job is a read-only snapshot of one scheduled job.
type Job struct {
	ID        string
	Partition string
	Item      store.Item
	NextRun   time.Time
}

type Config struct {
	// Timezone is an IANA TZ name; empty means Local.
	Timezone string
}

type jobEntry struct {
	id        string
	partition string
	item      store.Item
	nextRun   time.Time
}

type Service struct {
	log  logx.Logger
	loc  *time.Location
	fire FireFunc

	mu      sync.Mutex
	started bool
	sup     *supervisor.Supervisor
	jobs    map[string]*jobEntry
	timers  map[string]*time.Timer
	// ver invalidates callbacks of timers that were stopped or replaced;
	// a fired timer whose version no longer matches is stale and ignored.
	ver map[string]uint64
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		loc:    loadLocation(cfg.Timezone, log),
		jobs:   map[string]*jobEntry{},
		timers: map[string]*time.Timer{},
		ver:    map[string]uint64{},
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// SetFireFunc registers the firing callback. Must be called before Start.
func (s *Service) SetFireFunc(fn FireFunc) {
	s.mu.Lock()
	s.fire = fn
	s.mu.Unlock()
}

// Start arms timers for every job added so far. Jobs may be added both
// before and after Start.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	for _, e := range s.jobs {
		s.armLocked(e)
	}
	s.log.Info("scheduler started", logx.Int("jobs", len(s.jobs)), logx.String("tz", s.loc.String()))
}

// Stop halts all timers and waits for in-flight firings, bounded by ctx.
// Job definitions are kept, so a later Start re-arms them.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
		s.ver[id]++
	}
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	if sup != nil {
		_ = sup.Stop(ctx)
	}
	s.log.Info("scheduler stopped")
}

// Add schedules an item and returns the new job id. The stored copy gets
// the generated id stamped in, so the firing callback always sees the live
// job id even when the caller's copy carried a stale one.
func (s *Service) Add(partition string, item store.Item, fireAt time.Time) (string, error) {
	if fireAt.IsZero() {
		return "", errors.New("fire time required")
	}
	e := &jobEntry{
		id:        uuid.NewString(),
		partition: partition,
		item:      item,
		nextRun:   fireAt.In(s.loc),
	}
	e.item.JobID = e.id
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[e.id] = e
	if s.started {
		s.armLocked(e)
	}
	s.log.Debug("job scheduled",
		logx.String("job", e.id),
		logx.String("partition", partition),
		logx.Time("at", e.nextRun),
		logx.String("repeat", item.Repeat))
	return e.id, nil
}

// Remove unschedules a job. Removing a job whose firing is already in
// flight only prevents future recurrences.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	s.dropLocked(id)
	s.log.Debug("job removed", logx.String("job", id))
	return nil
}

// RemoveMatching is the content-match fallback for items whose stored job
// id is missing or stale: it removes the first job in the partition with
// the same text and trigger time.
func (s *Service) RemoveMatching(partition, text, at string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.jobs {
		if e.partition == partition && e.item.Text == text && e.item.At == at {
			s.dropLocked(id)
			s.log.Debug("job removed by content match", logx.String("job", id), logx.String("partition", partition))
			return id, true
		}
	}
	return "", false
}

// Jobs returns a snapshot of all scheduled jobs ordered by next run time.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, Job{ID: e.id, Partition: e.partition, Item: e.item, NextRun: e.nextRun})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRun.Equal(out[j].NextRun) {
			return out[i].NextRun.Before(out[j].NextRun)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Service) dropLocked(id string) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	delete(s.jobs, id)
	s.ver[id]++
}

// armLocked (re)starts the timer for an entry. Call with s.mu held.
func (s *Service) armLocked(e *jobEntry) {
	if t, ok := s.timers[e.id]; ok {
		t.Stop()
	}
	s.ver[e.id]++
	localID, localVer := e.id, s.ver[e.id]

	delay := time.Until(e.nextRun)
	if delay < 0 {
		delay = 0
	}
	s.timers[localID] = time.AfterFunc(delay, func() {
		s.onTimer(localID, localVer)
	})
}

func (s *Service) onTimer(id string, ver uint64) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok || !s.started || s.ver[id] != ver || s.fire == nil {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	partition, item := e.partition, e.item
	sup := s.sup
	s.mu.Unlock()

	// Dispatch off the timer goroutine; the supervisor contains panics.
	sup.Go0("scheduler.fire", func(context.Context) {
		s.fire(partition, item)
		s.afterFire(id, ver)
	})
}

// afterFire retires one-shot jobs and re-arms repeating ones under the same
// id, one day later at the same time of day. Runs after the firing callback
// finished, so a firing never overlaps its own reschedule.
func (s *Service) afterFire(id string, ver uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok || s.ver[id] != ver {
		// Removed or replaced while the firing was in flight.
		return
	}
	if !e.item.Repeating() {
		delete(s.jobs, id)
		delete(s.ver, id)
		return
	}
	next := e.nextRun.AddDate(0, 0, 1)
	now := time.Now().In(s.loc)
	for !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	e.nextRun = next
	if s.started {
		s.armLocked(e)
	}
}
