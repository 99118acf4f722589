package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"daytrader/interfaces"
)

type fakeStrategy struct {
	initCalls int
	runCalls  int
}

func (f *fakeStrategy) Name() string                       { return "fake" }
func (f *fakeStrategy) InitData(ctx context.Context) error { f.initCalls++; return nil }
func (f *fakeStrategy) Run(ctx context.Context) error      { f.runCalls++; return nil }

func newTestOrchestrator(t *testing.T, now time.Time) (*DayOrchestrator, *SafeScheduler, *MockOrderGateway, *MockNotificationSink, *fakeStrategy) {
	t.Helper()
	cal, err := NewMarketCalendar("06:30", "13:00", time.UTC)
	require.NoError(t, err)

	gateway := new(MockOrderGateway)
	ledger := new(MockOrderLedger)
	ledger.On("GetOpenOrders").Return([]*interfaces.Order{}, nil).Maybe()
	ledger.On("UpsertPosition", mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier := new(MockNotificationSink)
	strategy := &fakeStrategy{}

	recon := NewOrderReconciliationService(gateway, ledger, cal, notifier)
	recon.nowFn = func() time.Time { return now }
	recon.sleepFn = func(time.Duration) {}
	positions := NewPositionService(gateway, ledger)

	scheduler := NewSafeScheduler(10*time.Second, true)
	scheduler.nowFn = func() time.Time { return now }
	scheduler.dispatch = func(f func()) { f() }

	o := NewDayOrchestrator(
		scheduler, cal, recon, positions, gateway, strategy, notifier,
		TimeOfDay{Hour: 6, Minute: 50}, TimeOfDay{Hour: 12, Minute: 0}, TimeOfDay{Hour: 13, Minute: 0},
		time.Minute, 10*time.Minute,
	)
	o.nowFn = func() time.Time { return now }
	return o, scheduler, gateway, notifier, strategy
}

func jobsWithTag(jobs []Job, tag JobTag) []Job {
	var out []Job
	for _, j := range jobs {
		if j.HasTag(tag) {
			out = append(out, j)
		}
	}
	return out
}

func TestRestartBeforeOpenRegistersDailyJobsOnly(t *testing.T) {
	earlyMonday := time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)
	o, scheduler, _, _, _ := newTestOrchestrator(t, earlyMonday)

	o.Restart()

	jobs := scheduler.Jobs()
	require.Len(t, jobs, 3)
	assert.Empty(t, jobsWithTag(jobs, TagRunNow), "no catch-up outside the trading window")

	assert.Equal(t, time.Date(2026, 3, 2, 6, 50, 0, 0, time.UTC), jobs[0].NextRun)
	assert.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), jobs[1].NextRun)
	assert.Equal(t, time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC), jobs[2].NextRun)
}

func TestRestartInsideWindowSchedulesCatchUpRun(t *testing.T) {
	midMorning := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	o, scheduler, _, _, _ := newTestOrchestrator(t, midMorning)

	o.Restart()

	catchUp := jobsWithTag(scheduler.Jobs(), TagRunNow)
	require.Len(t, catchUp, 1, "a restart inside the window must schedule a run-once job")
	assert.True(t, catchUp[0].NextRun.After(midMorning))
	assert.True(t, catchUp[0].NextRun.Before(midMorning.Add(2*time.Minute)),
		"catch-up fires about a minute out, not tomorrow")
}

func TestBeforeOpenTransitionsToTrading(t *testing.T) {
	tradingTime := time.Date(2026, 3, 2, 6, 50, 0, 0, time.UTC)
	o, scheduler, gateway, notifier, strategy := newTestOrchestrator(t, tradingTime)

	gateway.On("GetAccount", mock.Anything).Return(&interfaces.Account{PortfolioValue: 25000}, nil).Once()
	notifier.On("Notify", "Initial portfolio value: $25000.00").Once()

	err := o.runBeforeOpen(context.Background())
	require.NoError(t, err)

	state := o.State()
	assert.Equal(t, PhaseTrading, state.Phase)
	assert.Equal(t, time.Date(2026, 3, 2, 6, 30, 0, 0, time.UTC), state.Window.OpenAt)
	assert.Equal(t, 1, strategy.initCalls)

	adhoc := jobsWithTag(scheduler.Jobs(), TagStandard)
	assert.Len(t, adhoc, 2, "strategy tick and holdings refresh")
	notifier.AssertExpectations(t)
}

func TestBeforeOpenOnClosedDayDoesNothing(t *testing.T) {
	saturday := time.Date(2026, 3, 7, 6, 50, 0, 0, time.UTC)
	o, scheduler, _, _, strategy := newTestOrchestrator(t, saturday)

	err := o.runBeforeOpen(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhasePreOpen, o.State().Phase)
	assert.Equal(t, 0, strategy.initCalls)
	assert.Empty(t, scheduler.Jobs())
}

func TestBeforeOpenReEntersPreOpenAfterClosedDay(t *testing.T) {
	saturday := time.Date(2026, 3, 7, 6, 50, 0, 0, time.UTC)
	o, _, _, _, _ := newTestOrchestrator(t, saturday)

	o.mu.Lock()
	o.state = DayState{Phase: PhaseClosed}
	o.mu.Unlock()

	err := o.runBeforeOpen(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhasePreOpen, o.State().Phase, "each morning starts from PRE_OPEN, not yesterday's CLOSED")
}

func TestMarketCloseKeepsHeartbeatAndReRegisters(t *testing.T) {
	closeTime := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	o, scheduler, gateway, notifier, _ := newTestOrchestrator(t, closeTime)

	_, err := scheduler.Schedule(Every(10*time.Second), func(ctx context.Context) error { return nil }, TagHeartbeat)
	require.NoError(t, err)

	gateway.On("GetAccount", mock.Anything).Return(&interfaces.Account{PortfolioValue: 26000}, nil).Once()
	notifier.On("Notify", "Final portfolio value: $26000.00").Once()
	gateway.On("GetPositions", mock.Anything).Return([]*interfaces.Position{}, nil)

	err = o.runAfterMarketClose(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseClosed, o.State().Phase)

	jobs := scheduler.Jobs()
	assert.Len(t, jobsWithTag(jobs, TagHeartbeat), 1, "heartbeat survives the end of day")
	assert.Len(t, jobsWithTag(jobs, TagStandard), 3, "tomorrow's daily jobs are registered")
	notifier.AssertExpectations(t)
}

func TestForceSellOutsideWindowIsANoop(t *testing.T) {
	earlyMonday := time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)
	o, _, gateway, _, _ := newTestOrchestrator(t, earlyMonday)

	err := o.ForceSell(context.Background())
	require.NoError(t, err)

	gateway.AssertNotCalled(t, "CancelAllOrders", mock.Anything)
	gateway.AssertNotCalled(t, "GetPositions", mock.Anything)
}

func TestForceSellInsideWindowFlattens(t *testing.T) {
	midMorning := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	o, _, gateway, _, _ := newTestOrchestrator(t, midMorning)

	gateway.On("CancelAllOrders", mock.Anything).Return(nil)
	gateway.On("GetPositions", mock.Anything).Return([]*interfaces.Position{}, nil)

	err := o.ForceSell(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseCooldown, o.State().Phase)
	gateway.AssertCalled(t, "CancelAllOrders", mock.Anything)
}
