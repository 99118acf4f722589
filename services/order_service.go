package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"daytrader/interfaces"
)

// ErrManualInterventionRequired reports that offsetting orders did not
// flatten all positions within the retry bound. Fatal to the operator, not
// to the process.
var ErrManualInterventionRequired = errors.New("positions not flat after bounded retries")

const (
	maxCloseAttempts = 5
	closeJitterMaxS  = 7
)

// OrderReconciliationService places orders through the gateway, persists
// them before acknowledging success, and pulls remote order state back into
// the ledger. Every order-placing operation consults the market-calendar
// gate first and no-ops when the market is closed.
type OrderReconciliationService struct {
	gateway  interfaces.OrderGateway
	ledger   interfaces.OrderLedger
	calendar *MarketCalendar
	notifier interfaces.NotificationSink
	logger   *logrus.Logger

	nowFn   func() time.Time
	sleepFn func(time.Duration)
	randFn  func(int) int
}

// NewOrderReconciliationService creates the reconciliation service.
func NewOrderReconciliationService(
	gateway interfaces.OrderGateway,
	ledger interfaces.OrderLedger,
	calendar *MarketCalendar,
	notifier interfaces.NotificationSink,
) *OrderReconciliationService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &OrderReconciliationService{
		gateway:  gateway,
		ledger:   ledger,
		calendar: calendar,
		notifier: notifier,
		logger:   logger,
		nowFn:    time.Now,
		sleepFn:  time.Sleep,
		randFn:   rand.Intn,
	}
}

// PlaceMarket submits a market order. When the market is closed the call is
// a logged skip and returns an empty order id with no error.
func (s *OrderReconciliationService) PlaceMarket(ctx context.Context, symbol, side string, qty float64) (string, error) {
	if !s.marketOpen(side, symbol) {
		return "", nil
	}
	s.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"side":   side,
		"qty":    qty,
	}).Info("Placing market order")

	return s.submit(ctx, &interfaces.OrderRequest{
		Symbol: symbol,
		Side:   side,
		Qty:    qty,
		Type:   interfaces.OrderTypeMarket,
	})
}

// PlaceBracket submits a market entry with attached stop-loss and
// take-profit legs. The legs are persisted with ParentID pointing at the
// entry order.
func (s *OrderReconciliationService) PlaceBracket(ctx context.Context, symbol, side string, qty, stopLoss, takeProfit float64) (string, error) {
	if !s.marketOpen(side, symbol) {
		return "", nil
	}
	s.logger.WithFields(logrus.Fields{
		"symbol":     symbol,
		"side":       side,
		"qty":        qty,
		"stopLoss":   stopLoss,
		"takeProfit": takeProfit,
	}).Info("Placing bracket order")

	orderID, err := s.submit(ctx, &interfaces.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Qty:        qty,
		Type:       interfaces.OrderTypeMarket,
		StopLoss:   &stopLoss,
		TakeProfit: &takeProfit,
	})
	if err == nil && orderID != "" {
		s.notifier.Notify(fmt.Sprintf("Bracket order to %s: %v shares of %s placed", side, qty, symbol))
	}
	return orderID, err
}

// PlaceTrailing submits a trailing-stop order with the given trail distance
// in percent.
func (s *OrderReconciliationService) PlaceTrailing(ctx context.Context, symbol, side string, qty, trailPercent float64) (string, error) {
	if !s.marketOpen(side, symbol) {
		return "", nil
	}
	s.logger.WithFields(logrus.Fields{
		"symbol":       symbol,
		"side":         side,
		"qty":          qty,
		"trailPercent": trailPercent,
	}).Info("Placing trailing stop order")

	return s.submit(ctx, &interfaces.OrderRequest{
		Symbol:       symbol,
		Side:         side,
		Qty:          qty,
		Type:         interfaces.OrderTypeTrailingStop,
		TrailPercent: &trailPercent,
	})
}

// Cancel requests cancellation at the broker and pulls the order's new state
// back into the ledger.
func (s *OrderReconciliationService) Cancel(ctx context.Context, orderID string) error {
	if err := s.gateway.CancelOrder(ctx, orderID); err != nil {
		s.notifier.ErrNotify(fmt.Sprintf("Order %s could not be canceled: %v", orderID, err))
		return err
	}
	return s.reconcileOne(ctx, orderID)
}

// ReconcileOpenOrders re-fetches every ledger row not in a terminal status
// and writes back the fields that changed remotely. Rows whose remote state
// is unchanged are left untouched, so a second call with no broker-side
// change is a no-op.
func (s *OrderReconciliationService) ReconcileOpenOrders(ctx context.Context) ([]*interfaces.Order, error) {
	open, err := s.ledger.GetOpenOrders()
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	result := make([]*interfaces.Order, 0, len(open))
	for _, local := range open {
		remote, err := s.gateway.GetOrder(ctx, local.ID)
		if err != nil {
			s.logger.WithError(err).WithField("orderID", local.ID).Warn("Skipping order during reconciliation")
			continue
		}
		// The gateway defaults ParentID to the order's own id; keep the
		// ledger's leg linkage.
		remote.ParentID = local.ParentID

		if orderChanged(local, remote) {
			if err := s.ledger.UpdateOrder(remote); err != nil {
				s.logger.WithError(err).WithField("orderID", local.ID).Error("Failed to update order")
				continue
			}
		}
		result = append(result, remote)
	}
	return result, nil
}

// CloseAllPositions flattens the account: cancel open orders, fetch live
// positions from the gateway (the ledger may be stale), issue an offsetting
// market order for each, then verify. Not atomic — bounded retry with
// jittered backoff, escalating to a manual-intervention notification when
// positions remain.
func (s *OrderReconciliationService) CloseAllPositions(ctx context.Context) error {
	if !s.calendar.IsOpen(s.nowFn()) {
		s.logger.Info("Positions cannot be closed ... market is NOT open")
		return nil
	}

	for attempt := 1; attempt <= maxCloseAttempts; attempt++ {
		if attempt > 1 {
			s.logger.WithField("attempt", attempt).Info("Closing all open positions ... retrying")
		}

		if err := s.gateway.CancelAllOrders(ctx); err != nil {
			s.logger.WithError(err).Warn("Failed to cancel open orders")
		}

		positions, err := s.gateway.GetPositions(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to fetch live positions")
			s.sleepFn(s.closeJitter())
			continue
		}
		if len(positions) == 0 {
			s.logger.Info("Closed all open positions")
			if _, err := s.ReconcileOpenOrders(ctx); err != nil {
				s.logger.WithError(err).Warn("Post-close reconciliation failed")
			}
			return nil
		}

		for _, pos := range positions {
			s.offsetPosition(ctx, pos)
		}

		s.sleepFn(s.closeJitter())

		remaining, err := s.gateway.GetPositions(ctx)
		if err == nil && len(remaining) == 0 {
			s.logger.Info("Closed all open positions")
			if _, err := s.ReconcileOpenOrders(ctx); err != nil {
				s.logger.WithError(err).Warn("Post-close reconciliation failed")
			}
			return nil
		}
	}

	s.notifier.ErrNotify("Could not close all positions ... manual intervention required")
	return ErrManualInterventionRequired
}

// offsetPosition issues the market order that flattens a single position.
func (s *OrderReconciliationService) offsetPosition(ctx context.Context, pos *interfaces.Position) {
	side := interfaces.SideSell
	if pos.Side == "short" {
		side = interfaces.SideBuy
	}
	qty := pos.Qty
	if qty < 0 {
		qty = -qty
	}

	s.logger.WithFields(logrus.Fields{
		"symbol": pos.Symbol,
		"side":   side,
		"qty":    qty,
	}).Info("Offsetting position")

	if _, err := s.submit(ctx, &interfaces.OrderRequest{
		Symbol: pos.Symbol,
		Side:   side,
		Qty:    qty,
		Type:   interfaces.OrderTypeMarket,
	}); err != nil {
		s.logger.WithError(err).WithField("symbol", pos.Symbol).Error("Failed to offset position")
	}
}

// submit sends the order and persists it (entry first, then legs with
// ParentID pointing at the entry) before reporting success.
func (s *OrderReconciliationService) submit(ctx context.Context, req *interfaces.OrderRequest) (string, error) {
	order, err := s.gateway.SubmitOrder(ctx, req)
	if err != nil {
		s.notifier.ErrNotify(fmt.Sprintf("Order to %s: %v shares of %s could not be placed: %v",
			req.Side, req.Qty, req.Symbol, err))
		return "", err
	}

	if err := s.saveOrder(order); err != nil {
		return "", err
	}
	return order.ID, nil
}

// saveOrder persists an acknowledged order and all of its legs.
func (s *OrderReconciliationService) saveOrder(order *interfaces.Order) error {
	if err := s.ledger.CreateOrder(order); err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	for i := range order.Legs {
		leg := order.Legs[i]
		leg.ParentID = order.ID
		if err := s.ledger.CreateOrder(&leg); err != nil {
			return fmt.Errorf("save leg %s of %s: %w", leg.ID, order.ID, err)
		}
	}
	return nil
}

// reconcileOne refreshes a single ledger row from the gateway.
func (s *OrderReconciliationService) reconcileOne(ctx context.Context, orderID string) error {
	local, err := s.ledger.GetOrder(orderID)
	if err != nil {
		return err
	}
	remote, err := s.gateway.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	remote.ParentID = local.ParentID
	if orderChanged(local, remote) {
		return s.ledger.UpdateOrder(remote)
	}
	return nil
}

// marketOpen consults the trading-window gate, logging the skip when closed.
func (s *OrderReconciliationService) marketOpen(side, symbol string) bool {
	if s.calendar.IsOpen(s.nowFn()) {
		return true
	}
	s.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"side":   side,
	}).Info("Order could not be placed ... market is NOT open")
	return false
}

func (s *OrderReconciliationService) closeJitter() time.Duration {
	return time.Duration(1+s.randFn(closeJitterMaxS)) * time.Second
}

// orderChanged reports whether any reconciled field differs between the
// ledger's row and the broker's view.
func orderChanged(local, remote *interfaces.Order) bool {
	return local.Status != remote.Status ||
		local.FilledQty != remote.FilledQty ||
		local.FilledAvgPrice != remote.FilledAvgPrice ||
		local.StopPrice != remote.StopPrice ||
		local.TrailPrice != remote.TrailPrice ||
		local.HWM != remote.HWM ||
		local.ReplacedBy != remote.ReplacedBy ||
		!timePtrEqual(local.FilledAt, remote.FilledAt) ||
		!timePtrEqual(local.CanceledAt, remote.CanceledAt) ||
		!timePtrEqual(local.ExpiredAt, remote.ExpiredAt) ||
		!timePtrEqual(local.ReplacedAt, remote.ReplacedAt) ||
		!timePtrEqual(local.FailedAt, remote.FailedAt)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
