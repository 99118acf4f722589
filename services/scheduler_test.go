package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestScheduler returns a scheduler with a controllable clock and
// synchronous job dispatch so tests can step time deterministically.
func newTestScheduler(t *testing.T, rescheduleOnFailure bool, start time.Time) (*SafeScheduler, *time.Time) {
	t.Helper()
	now := start
	s := NewSafeScheduler(10*time.Second, rescheduleOnFailure)
	s.nowFn = func() time.Time { return now }
	s.dispatch = func(f func()) { f() }
	return s, &now
}

// Monday morning, before market open.
var mondayMorning = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func TestScheduleDailyPassedTimeRollsToTomorrow(t *testing.T) {
	start := time.Date(2026, 3, 2, 6, 31, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, true, start)

	_, err := s.Schedule(Daily(TimeOfDay{Hour: 6, Minute: 30}), func(ctx context.Context) error { return nil }, TagStandard)
	require.NoError(t, err)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, time.Date(2026, 3, 3, 6, 30, 0, 0, time.UTC), jobs[0].NextRun)
}

func TestScheduleDailyFutureTimeLandsToday(t *testing.T) {
	s, _ := newTestScheduler(t, true, mondayMorning)

	_, err := s.Schedule(Daily(TimeOfDay{Hour: 6, Minute: 50}), func(ctx context.Context) error { return nil }, TagStandard)
	require.NoError(t, err)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, time.Date(2026, 3, 2, 6, 50, 0, 0, time.UTC), jobs[0].NextRun)
}

func TestTickAdvancesNextRunEvenWhenActionFails(t *testing.T) {
	s, now := newTestScheduler(t, true, mondayMorning)

	calls := 0
	_, err := s.Schedule(Every(time.Minute), func(ctx context.Context) error {
		calls++
		return errors.New("broker unavailable")
	}, TagStandard)
	require.NoError(t, err)

	prev := s.Jobs()[0].NextRun
	for i := 0; i < 5; i++ {
		*now = prev
		s.Tick()

		jobs := s.Jobs()
		require.Len(t, jobs, 1)
		assert.True(t, jobs[0].NextRun.After(prev), "next run must keep advancing past %s", prev)
		prev = jobs[0].NextRun
	}
	assert.Equal(t, 5, calls)
}

func TestFailedJobRetriesNextTickWhenNotRescheduling(t *testing.T) {
	s, now := newTestScheduler(t, false, mondayMorning)

	_, err := s.Schedule(Every(time.Minute), func(ctx context.Context) error {
		return errors.New("transient")
	}, TagStandard)
	require.NoError(t, err)

	*now = mondayMorning.Add(time.Minute)
	s.Tick()

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].NextRun.Equal(*now), "failed job should be due again immediately")
}

func TestTickSkipsJobsNotYetDue(t *testing.T) {
	s, now := newTestScheduler(t, true, mondayMorning)

	calls := 0
	_, err := s.Schedule(Every(time.Hour), func(ctx context.Context) error {
		calls++
		return nil
	}, TagStandard)
	require.NoError(t, err)

	*now = mondayMorning.Add(30 * time.Minute)
	s.Tick()
	assert.Equal(t, 0, calls)

	*now = mondayMorning.Add(time.Hour)
	s.Tick()
	assert.Equal(t, 1, calls)
}

func TestCancelTagSparesOtherTags(t *testing.T) {
	s, _ := newTestScheduler(t, true, mondayMorning)

	noop := func(ctx context.Context) error { return nil }
	_, err := s.Schedule(Daily(TimeOfDay{Hour: 6, Minute: 50}), noop, TagStandard)
	require.NoError(t, err)
	_, err = s.Schedule(Daily(TimeOfDay{Hour: 12, Minute: 0}), noop, TagStandard)
	require.NoError(t, err)
	_, err = s.Schedule(Every(10*time.Second), noop, TagHeartbeat)
	require.NoError(t, err)

	s.Cancel(TagStandard)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].HasTag(TagHeartbeat))
}

func TestCancelAllClearsHeartbeatToo(t *testing.T) {
	s, _ := newTestScheduler(t, true, mondayMorning)

	noop := func(ctx context.Context) error { return nil }
	_, err := s.Schedule(Every(10*time.Second), noop, TagHeartbeat)
	require.NoError(t, err)

	s.CancelAll()
	assert.Empty(t, s.Jobs())
}

func TestErrStopJobRemovesTheJob(t *testing.T) {
	s, now := newTestScheduler(t, true, mondayMorning)

	calls := 0
	_, err := s.Schedule(Every(time.Minute), func(ctx context.Context) error {
		calls++
		return ErrStopJob
	}, TagStandard)
	require.NoError(t, err)

	*now = mondayMorning.Add(time.Minute)
	s.Tick()
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.Jobs())
}

func TestPanickingJobDoesNotStopOthers(t *testing.T) {
	s, now := newTestScheduler(t, true, mondayMorning)

	var survived bool
	_, err := s.Schedule(Every(time.Minute), func(ctx context.Context) error {
		panic("boom")
	}, TagStandard)
	require.NoError(t, err)
	_, err = s.Schedule(Every(time.Minute), func(ctx context.Context) error {
		survived = true
		return nil
	}, TagStandard)
	require.NoError(t, err)

	*now = mondayMorning.Add(time.Minute)
	s.Tick()

	assert.True(t, survived)
	assert.Len(t, s.Jobs(), 2)
}

func TestAdhocJobSelfRemovesAtBound(t *testing.T) {
	s, now := newTestScheduler(t, true, mondayMorning)

	calls := 0
	_, err := s.RunAdhoc(func(ctx context.Context) error {
		calls++
		return nil
	}, 30*time.Minute, TimeOfDay{Hour: 7, Minute: 0}, TagStandard)
	require.NoError(t, err)

	// 06:30 fires; the 07:00 follow-up would land on the bound, so the
	// 06:30 run is not the last. 07:00 fires and the next would pass it.
	*now = mondayMorning.Add(30 * time.Minute)
	s.Tick()
	require.Len(t, s.Jobs(), 1)

	*now = mondayMorning.Add(time.Hour)
	s.Tick()
	assert.Equal(t, 2, calls)
	assert.Empty(t, s.Jobs(), "job must remove itself once the bound is reached")
}

func TestAdhocJobPastBoundIsRefused(t *testing.T) {
	afterClose := time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)
	s, now := newTestScheduler(t, true, afterClose)

	calls := 0
	_, err := s.RunAdhoc(func(ctx context.Context) error {
		calls++
		return nil
	}, time.Minute, TimeOfDay{Hour: 12, Minute: 0}, TagStandard)
	require.Error(t, err)
	assert.Empty(t, s.Jobs())

	*now = afterClose.Add(time.Minute)
	s.Tick()
	assert.Equal(t, 0, calls, "a job past its bound must never fire")
}

func TestOneShotFiresOnceAndRemoves(t *testing.T) {
	s, now := newTestScheduler(t, true, mondayMorning)

	calls := 0
	_, err := s.Schedule(OneShot(TimeOfDay{Hour: 6, Minute: 30}), func(ctx context.Context) error {
		calls++
		return nil
	}, TagRunNow)
	require.NoError(t, err)

	*now = mondayMorning.Add(30 * time.Minute)
	s.Tick()
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.Jobs())
}

func TestJobsOrderedByNextRunWithRegistrationTieBreak(t *testing.T) {
	s, _ := newTestScheduler(t, true, mondayMorning)

	noop := func(ctx context.Context) error { return nil }
	first, err := s.Schedule(Daily(TimeOfDay{Hour: 12, Minute: 0}), noop, TagStandard)
	require.NoError(t, err)
	second, err := s.Schedule(Daily(TimeOfDay{Hour: 12, Minute: 0}), noop, TagStandard)
	require.NoError(t, err)
	earliest, err := s.Schedule(Daily(TimeOfDay{Hour: 6, Minute: 50}), noop, TagStandard)
	require.NoError(t, err)

	jobs := s.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, earliest.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
	assert.Equal(t, second.ID, jobs[2].ID)
}

func TestHandleCancelRemovesSingleJob(t *testing.T) {
	s, _ := newTestScheduler(t, true, mondayMorning)

	noop := func(ctx context.Context) error { return nil }
	keep, err := s.Schedule(Daily(TimeOfDay{Hour: 6, Minute: 50}), noop, TagStandard)
	require.NoError(t, err)
	drop, err := s.Schedule(Daily(TimeOfDay{Hour: 12, Minute: 0}), noop, TagStandard)
	require.NoError(t, err)

	drop.Cancel()

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, keep.ID, jobs[0].ID)
}
