package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"daytrader/interfaces"
)

// ManualTradingStrategy is the strategy variant for accounts traded through
// the operator surface: it places no orders of its own, and each tick keeps
// the ledger synchronized with whatever the operator (or attached bracket
// legs) did at the broker. Symbol selection belongs to richer variants.
type ManualTradingStrategy struct {
	recon     *OrderReconciliationService
	positions *PositionService
	logger    *logrus.Logger
}

// Compile-time interface check.
var _ interfaces.Strategy = (*ManualTradingStrategy)(nil)

// NewManualTradingStrategy creates the manual-trading strategy variant.
func NewManualTradingStrategy(recon *OrderReconciliationService, positions *PositionService) *ManualTradingStrategy {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &ManualTradingStrategy{
		recon:     recon,
		positions: positions,
		logger:    logger,
	}
}

// Name returns the strategy identifier.
func (s *ManualTradingStrategy) Name() string {
	return "manual-trading"
}

// InitData warms up the day: reconcile whatever survived overnight and take
// the opening position snapshot.
func (s *ManualTradingStrategy) InitData(ctx context.Context) error {
	if _, err := s.recon.ReconcileOpenOrders(ctx); err != nil {
		return err
	}
	return s.positions.UpdateCurrentPositions(ctx)
}

// Run is the intraday tick: pull remote order state into the ledger.
func (s *ManualTradingStrategy) Run(ctx context.Context) error {
	orders, err := s.recon.ReconcileOpenOrders(ctx)
	if err != nil {
		return err
	}
	s.logger.WithField("openOrders", len(orders)).Info("Strategy tick complete")
	return nil
}
