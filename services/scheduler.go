package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrStopJob is the termination signal a job action returns to have the
// scheduler remove the job immediately, independent of tag-based
// cancellation.
var ErrStopJob = errors.New("scheduler: stop job")

// JobTag labels a scheduled job for bulk cancellation.
type JobTag string

// Job tags used by the day orchestrator. STANDARD jobs are cleared at market
// close; the HEARTBEAT job survives everything short of CancelAll.
const (
	TagStandard  JobTag = "STANDARD"
	TagHeartbeat JobTag = "HEARTBEAT"
	TagRunNow    JobTag = "RUN_NOW"
)

// JobFunc is a scheduled action. Returning ErrStopJob removes the job; any
// other error is logged and the job keeps its schedule.
type JobFunc func(ctx context.Context) error

// TriggerKind discriminates the trigger variants.
type TriggerKind int

const (
	// TriggerDaily fires once per day at a fixed time of day.
	TriggerDaily TriggerKind = iota
	// TriggerInterval fires on a fixed period, optionally until a time of day.
	TriggerInterval
	// TriggerOneShot fires once at a fixed time of day, then removes itself.
	TriggerOneShot
)

// Trigger describes when a job fires.
type Trigger struct {
	Kind  TriggerKind
	At    TimeOfDay     // Daily, OneShot
	Every time.Duration // Interval
	Until *TimeOfDay    // Interval bound; nil means unbounded
}

// Daily returns a trigger that fires every day at the given time of day.
func Daily(at TimeOfDay) Trigger {
	return Trigger{Kind: TriggerDaily, At: at}
}

// Every returns a trigger that fires each period.
func Every(period time.Duration) Trigger {
	return Trigger{Kind: TriggerInterval, Every: period}
}

// EveryUntil returns an interval trigger that self-terminates once the next
// run would land past the given time of day.
func EveryUntil(period time.Duration, until TimeOfDay) Trigger {
	return Trigger{Kind: TriggerInterval, Every: period, Until: &until}
}

// OneShot returns a trigger that fires once at the given time of day.
func OneShot(at TimeOfDay) Trigger {
	return Trigger{Kind: TriggerOneShot, At: at}
}

// Job is a registered unit of scheduled work. All fields are owned by the
// scheduler and guarded by its mutex.
type Job struct {
	ID      uuid.UUID
	Tags    []JobTag
	Trigger Trigger
	LastRun time.Time // zero until the first firing
	NextRun time.Time

	action JobFunc
	seq    int // registration order, tie-breaker for equal NextRun
}

// HasTag reports whether the job carries the given tag.
func (j *Job) HasTag(tag JobTag) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// advance recomputes NextRun after a run attempt at now. It returns false
// when the job is exhausted and must be removed.
func (j *Job) advance(now time.Time) bool {
	switch j.Trigger.Kind {
	case TriggerDaily:
		next := j.Trigger.At.On(now)
		if !next.After(now) {
			next = j.Trigger.At.On(now.AddDate(0, 0, 1))
		}
		j.NextRun = next
		return true
	case TriggerInterval:
		next := now.Add(j.Trigger.Every)
		if j.Trigger.Until != nil && next.After(j.Trigger.Until.On(now)) {
			return false
		}
		j.NextRun = next
		return true
	default: // TriggerOneShot
		return false
	}
}

// JobHandle identifies a scheduled job and allows targeted cancellation.
type JobHandle struct {
	ID        uuid.UUID
	scheduler *SafeScheduler
}

// Cancel removes the job from the scheduler.
func (h JobHandle) Cancel() {
	h.scheduler.removeByID(h.ID)
}

// SafeScheduler runs tagged, time-triggered jobs and isolates their
// failures: a panicking or erroring action is logged, its job's NextRun is
// advanced as though it had succeeded, and every other job keeps running.
// The job set is mutated both by the tick loop and by cancel calls arriving
// from HTTP handlers, so all access goes through the mutex.
type SafeScheduler struct {
	mu   sync.Mutex
	jobs []*Job
	seq  int

	rescheduleOnFailure bool
	tickEvery           time.Duration
	nowFn               func() time.Time
	dispatch            func(func())

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logrus.Logger
}

// NewSafeScheduler creates a scheduler ticking at tickEvery. With
// rescheduleOnFailure true (the default policy), a failing job is
// rescheduled for its regular next run; with false it retries on the very
// next tick.
func NewSafeScheduler(tickEvery time.Duration, rescheduleOnFailure bool) *SafeScheduler {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &SafeScheduler{
		rescheduleOnFailure: rescheduleOnFailure,
		tickEvery:           tickEvery,
		nowFn:               time.Now,
		dispatch:            func(f func()) { go f() },
		ctx:                 ctx,
		cancel:              cancel,
		logger:              logger,
	}
}

// Schedule registers an action under the given trigger and tags and returns
// a handle for targeted cancellation. A Daily or OneShot time of day that
// has already passed today lands on the same time tomorrow.
func (s *SafeScheduler) Schedule(trigger Trigger, action JobFunc, tags ...JobTag) (JobHandle, error) {
	if action == nil {
		return JobHandle{}, errors.New("scheduler: nil action")
	}
	if trigger.Kind == TriggerInterval && trigger.Every <= 0 {
		return JobHandle{}, fmt.Errorf("scheduler: invalid interval %s", trigger.Every)
	}

	now := s.nowFn()
	job := &Job{
		ID:      uuid.New(),
		Tags:    tags,
		Trigger: trigger,
		action:  action,
	}

	switch trigger.Kind {
	case TriggerInterval:
		next := now.Add(trigger.Every)
		if trigger.Until != nil && next.After(trigger.Until.On(now)) {
			return JobHandle{}, fmt.Errorf("scheduler: bound %s already passed", trigger.Until)
		}
		job.NextRun = next
	default: // TriggerDaily, TriggerOneShot
		next := trigger.At.On(now)
		if !next.After(now) {
			next = trigger.At.On(now.AddDate(0, 0, 1))
		}
		job.NextRun = next
	}

	s.mu.Lock()
	job.seq = s.seq
	s.seq++
	s.jobs = append(s.jobs, job)
	s.resortLocked()
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"job":     job.ID,
		"tags":    tags,
		"nextRun": job.NextRun,
	}).Info("Scheduled job")

	return JobHandle{ID: job.ID, scheduler: s}, nil
}

// RunAdhoc registers a short-lived interval job that self-removes once
// until (a time of day) is reached. Used for intraday polling windows
// bounded to market hours.
func (s *SafeScheduler) RunAdhoc(action JobFunc, every time.Duration, until TimeOfDay, tag JobTag) (JobHandle, error) {
	return s.Schedule(EveryUntil(every, until), action, tag)
}

// Tick executes every job whose NextRun is due. Each due action runs on its
// own goroutine so a slow broker call cannot delay other due jobs; NextRun
// is advanced at dispatch so a failing or slow job can never stall the
// schedule.
func (s *SafeScheduler) Tick() {
	now := s.nowFn()

	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if job.NextRun.After(now) {
			break // jobs are sorted by NextRun
		}
		due = append(due, job)
	}
	for _, job := range due {
		job.LastRun = now
		if !job.advance(now) {
			s.removeLocked(job.ID)
		}
	}
	s.resortLocked()
	s.mu.Unlock()

	for _, job := range due {
		job := job
		s.wg.Add(1)
		s.dispatch(func() {
			defer s.wg.Done()
			s.runJob(job)
		})
	}
}

// runJob executes a single action, translating every failure mode into a log
// line so nothing propagates past the tick boundary.
func (s *SafeScheduler) runJob(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"job":   job.ID,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Job panicked")
		}
	}()

	err := job.action(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrStopJob):
		s.removeByID(job.ID)
	default:
		s.logger.WithError(err).WithField("job", job.ID).Error("Job failed")
		if !s.rescheduleOnFailure {
			s.mu.Lock()
			job.NextRun = s.nowFn()
			s.resortLocked()
			s.mu.Unlock()
		}
	}
}

// Cancel removes all jobs carrying the given tag and no others.
func (s *SafeScheduler) Cancel(tag JobTag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.jobs[:0]
	for _, job := range s.jobs {
		if job.HasTag(tag) {
			s.logger.WithFields(logrus.Fields{"job": job.ID, "tag": tag}).Info("Cancelling job")
			continue
		}
		kept = append(kept, job)
	}
	s.jobs = kept
}

// CancelAll clears every job, including the heartbeat.
func (s *SafeScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.WithField("count", len(s.jobs)).Info("Cancelling all jobs")
	s.jobs = nil
}

// Jobs returns a snapshot of the pending jobs in firing order.
func (s *SafeScheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// Start runs the tick loop on its own goroutine until Stop is called.
func (s *SafeScheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
	s.logger.WithField("tickEvery", s.tickEvery).Info("Scheduler started")
}

// Stop terminates the tick loop. Already-dispatched jobs run to completion;
// cancellation only prevents future firings.
func (s *SafeScheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *SafeScheduler) removeByID(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *SafeScheduler) removeLocked(id uuid.UUID) {
	for i, job := range s.jobs {
		if job.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return
		}
	}
}

// resortLocked keeps jobs ordered by NextRun, registration order breaking
// ties.
func (s *SafeScheduler) resortLocked() {
	sort.SliceStable(s.jobs, func(i, k int) bool {
		if s.jobs[i].NextRun.Equal(s.jobs[k].NextRun) {
			return s.jobs[i].seq < s.jobs[k].seq
		}
		return s.jobs[i].NextRun.Before(s.jobs[k].NextRun)
	})
}
