package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"daytrader/interfaces"
)

// DayPhase is the orchestrator's position in the trading day.
type DayPhase string

const (
	PhasePreOpen  DayPhase = "PRE_OPEN"
	PhaseTrading  DayPhase = "TRADING"
	PhaseCooldown DayPhase = "COOLDOWN"
	PhaseClosed   DayPhase = "CLOSED"
)

// DayState is ephemeral: derived each morning from the market calendar,
// owned by the orchestrator, discarded at day end. Never persisted.
type DayState struct {
	Phase  DayPhase
	Window TradingWindow
}

// catchUpDelay is how far in the future the run-once job lands when the
// process restarts inside an already-open trading window.
const catchUpDelay = 61 * time.Second

// DayOrchestrator drives the daily sequence: pre-open initialization,
// intraday strategy ticks, close-out liquidation and post-close reporting.
// All transitions are fired by scheduled jobs, not by polling a clock.
type DayOrchestrator struct {
	scheduler *SafeScheduler
	calendar  *MarketCalendar
	recon     *OrderReconciliationService
	positions *PositionService
	gateway   interfaces.OrderGateway
	strategy  interfaces.Strategy
	notifier  interfaces.NotificationSink
	logger    *logrus.Logger

	startTrading TimeOfDay
	stopTrading  TimeOfDay
	marketClose  TimeOfDay

	heartbeatEvery time.Duration
	strategyEvery  time.Duration
	holdingsEvery  time.Duration

	mu    sync.Mutex
	state DayState
	nowFn func() time.Time
}

// NewDayOrchestrator wires the orchestrator. startTrading/stopTrading bound
// the strategy's activity inside the calendar's market window; marketClose
// is when the day is wrapped up.
func NewDayOrchestrator(
	scheduler *SafeScheduler,
	calendar *MarketCalendar,
	recon *OrderReconciliationService,
	positions *PositionService,
	gateway interfaces.OrderGateway,
	strategy interfaces.Strategy,
	notifier interfaces.NotificationSink,
	startTrading, stopTrading, marketClose TimeOfDay,
	strategyEvery, holdingsEvery time.Duration,
) *DayOrchestrator {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &DayOrchestrator{
		scheduler:      scheduler,
		calendar:       calendar,
		recon:          recon,
		positions:      positions,
		gateway:        gateway,
		strategy:       strategy,
		notifier:       notifier,
		logger:         logger,
		startTrading:   startTrading,
		stopTrading:    stopTrading,
		marketClose:    marketClose,
		heartbeatEvery: 10 * time.Second,
		strategyEvery:  strategyEvery,
		holdingsEvery:  holdingsEvery,
		state:          DayState{Phase: PhasePreOpen},
		nowFn:          time.Now,
	}
}

// Start registers the heartbeat and the daily jobs, applies the mid-window
// catch-up rule, and starts the scheduler's tick loop.
func (o *DayOrchestrator) Start() {
	o.logger.Info("Scheduling jobs ...")

	if _, err := o.scheduler.Schedule(Every(o.heartbeatEvery), o.heartbeat, TagHeartbeat); err != nil {
		o.logger.WithError(err).Error("Failed to schedule heartbeat")
	}

	o.catchUpIfOpen()
	o.registerDailyJobs()
	o.scheduler.Start()
}

// Stop halts the scheduler; dispatched jobs run to completion.
func (o *DayOrchestrator) Stop() {
	o.scheduler.Stop()
}

// State returns a snapshot of the current day state.
func (o *DayOrchestrator) State() DayState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Cancel removes the STANDARD-tagged jobs; the heartbeat keeps running.
func (o *DayOrchestrator) Cancel() {
	o.logger.Info("Cancelling scheduled trading jobs ...")
	o.scheduler.Cancel(TagStandard)
	o.scheduler.Cancel(TagRunNow)
}

// CancelAll clears every job including the heartbeat.
func (o *DayOrchestrator) CancelAll() {
	o.Cancel()
	o.scheduler.CancelAll()
}

// Restart re-registers the daily jobs from scratch, re-applying the
// mid-window catch-up rule.
func (o *DayOrchestrator) Restart() {
	o.logger.Info("Restarting scheduler jobs ...")
	o.Cancel()
	o.catchUpIfOpen()
	o.registerDailyJobs()
}

// ForceSell liquidates everything now, if inside the trading window.
func (o *DayOrchestrator) ForceSell(ctx context.Context) error {
	now := o.nowFn().In(o.calendar.Location())
	start := o.startTrading.On(now)
	stop := o.stopTrading.On(now)
	if now.Before(start) || !now.Before(stop) {
		o.logger.Info("Force sell skipped ... outside trading window")
		return nil
	}
	return o.runBeforeMarketClose(ctx)
}

// Jobs exposes the scheduler's pending jobs for the operator surface.
func (o *DayOrchestrator) Jobs() []Job {
	return o.scheduler.Jobs()
}

// catchUpIfOpen applies the restart-resilience rule: when the process comes
// up inside an already-open trading window, schedule a one-shot run ~60s out
// instead of waiting for tomorrow's pre-open trigger.
func (o *DayOrchestrator) catchUpIfOpen() {
	now := o.nowFn().In(o.calendar.Location())
	if !o.calendar.IsOpen(now) {
		return
	}

	at := TimeOfDay{Hour: now.Add(catchUpDelay).Hour(), Minute: now.Add(catchUpDelay).Minute()}
	o.logger.WithField("at", at.String()).Info("Market already open, scheduling run-once jobs")
	if _, err := o.scheduler.Schedule(OneShot(at), o.runBeforeOpen, TagRunNow); err != nil {
		o.logger.WithError(err).Error("Failed to schedule run-once job")
	}
}

func (o *DayOrchestrator) registerDailyJobs() {
	jobs := []struct {
		name   string
		at     TimeOfDay
		action JobFunc
	}{
		{"before-open", o.startTrading, o.runBeforeOpen},
		{"stop-trading", o.stopTrading, o.runBeforeMarketClose},
		{"market-close", o.marketClose, o.runAfterMarketClose},
	}
	for _, j := range jobs {
		if _, err := o.scheduler.Schedule(Daily(j.at), j.action, TagStandard); err != nil {
			o.logger.WithError(err).WithField("job", j.name).Error("Failed to schedule daily job")
		}
	}
}

// runBeforeOpen starts a new day: re-enter PRE_OPEN, then the PRE_OPEN ->
// TRADING transition with one-time initialization and the intraday adhoc
// jobs bounded to market hours.
func (o *DayOrchestrator) runBeforeOpen(ctx context.Context) error {
	o.mu.Lock()
	o.state = DayState{Phase: PhasePreOpen}
	o.mu.Unlock()

	now := o.nowFn()
	if !o.calendar.IsOpen(now) {
		o.logger.Info("Market is closed today!")
		return nil
	}

	o.mu.Lock()
	o.state = DayState{
		Phase:  PhaseTrading,
		Window: o.calendar.TradingWindowFor(now),
	}
	o.mu.Unlock()

	o.logger.Info("Initializing trader ...")
	o.showPortfolioDetails(ctx, "Initial")
	if err := o.strategy.InitData(ctx); err != nil {
		o.logger.WithError(err).WithField("strategy", o.strategy.Name()).Error("Strategy warm-up failed")
	}

	if _, err := o.scheduler.RunAdhoc(o.strategyTick, o.strategyEvery, o.stopTrading, TagStandard); err != nil {
		o.logger.WithError(err).Error("Failed to schedule strategy tick")
	}
	if _, err := o.scheduler.RunAdhoc(o.refreshHoldings, o.holdingsEvery, o.marketClose, TagStandard); err != nil {
		o.logger.WithError(err).Error("Failed to schedule holdings refresh")
	}
	return nil
}

// runBeforeMarketClose is the TRADING -> COOLDOWN transition: flatten the
// book.
func (o *DayOrchestrator) runBeforeMarketClose(ctx context.Context) error {
	o.mu.Lock()
	o.state.Phase = PhaseCooldown
	o.mu.Unlock()

	return o.recon.CloseAllPositions(ctx)
}

// runAfterMarketClose is the COOLDOWN -> CLOSED transition: end-of-day
// reporting, clear the STANDARD jobs and re-register tomorrow's.
func (o *DayOrchestrator) runAfterMarketClose(ctx context.Context) error {
	o.showPortfolioDetails(ctx, "Final")
	if err := o.positions.UpdateCurrentPositions(ctx); err != nil {
		o.logger.WithError(err).Warn("Final position snapshot failed")
	}

	o.mu.Lock()
	o.state = DayState{Phase: PhaseClosed}
	o.mu.Unlock()

	o.scheduler.Cancel(TagStandard)
	o.registerDailyJobs()
	o.logger.Info("Completed: final steps for the day")
	return nil
}

// strategyTick runs the strategy inside the trading window.
func (o *DayOrchestrator) strategyTick(ctx context.Context) error {
	if !o.calendar.IsOpen(o.nowFn()) {
		return nil
	}
	return o.strategy.Run(ctx)
}

// refreshHoldings updates today's position snapshot and pulls open-order
// state into the ledger.
func (o *DayOrchestrator) refreshHoldings(ctx context.Context) error {
	if err := o.positions.UpdateCurrentPositions(ctx); err != nil {
		return err
	}
	_, err := o.recon.ReconcileOpenOrders(ctx)
	return err
}

func (o *DayOrchestrator) heartbeat(ctx context.Context) error {
	o.logger.Info("Registering heartbeat ...")
	return nil
}

func (o *DayOrchestrator) showPortfolioDetails(ctx context.Context, prefix string) {
	account, err := o.gateway.GetAccount(ctx)
	if err != nil {
		o.logger.WithError(err).Error("Failed to fetch portfolio details")
		return
	}
	o.notifier.Notify(fmt.Sprintf("%s portfolio value: $%.2f", prefix, account.PortfolioValue))
}
