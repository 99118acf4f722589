package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"daytrader/interfaces"
)

// PositionService refreshes the daily position snapshot from the broker and
// reads it back for reporting. Snapshot rows are keyed by
// (run_date, symbol, side) and refreshed via upsert.
type PositionService struct {
	gateway interfaces.OrderGateway
	ledger  interfaces.OrderLedger
	logger  *logrus.Logger
	nowFn   func() time.Time
}

// NewPositionService creates a position service.
func NewPositionService(gateway interfaces.OrderGateway, ledger interfaces.OrderLedger) *PositionService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &PositionService{
		gateway: gateway,
		ledger:  ledger,
		logger:  logger,
		nowFn:   time.Now,
	}
}

// UpdateCurrentPositions pulls live positions from the gateway and upserts
// today's snapshot rows.
func (s *PositionService) UpdateCurrentPositions(ctx context.Context) error {
	positions, err := s.gateway.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("update positions: %w", err)
	}

	today := s.nowFn()
	for _, pos := range positions {
		if err := s.ledger.UpsertPosition(today, pos); err != nil {
			return err
		}
	}
	s.logStats(positions)
	return nil
}

// UpdateAndGetCurrentPositions refreshes the snapshot and returns today's
// rows from the ledger.
func (s *PositionService) UpdateAndGetCurrentPositions(ctx context.Context) ([]*interfaces.Position, error) {
	if err := s.UpdateCurrentPositions(ctx); err != nil {
		return nil, err
	}
	return s.ledger.ListPositionsByDate(s.nowFn())
}

// ListTodaysPositions returns today's snapshot without refreshing it.
func (s *PositionService) ListTodaysPositions() ([]*interfaces.Position, error) {
	return s.ledger.ListPositionsByDate(s.nowFn())
}

// GetAllPositions returns the live positions straight from the broker.
func (s *PositionService) GetAllPositions(ctx context.Context) ([]*interfaces.Position, error) {
	return s.gateway.GetPositions(ctx)
}

func (s *PositionService) logStats(positions []*interfaces.Position) {
	var totalUnrealizedPL float64
	for _, pos := range positions {
		totalUnrealizedPL += pos.UnrealizedPL
		s.logger.WithFields(logrus.Fields{
			"symbol":       pos.Symbol,
			"currentPrice": pos.CurrentPrice,
			"unrealizedPL": pos.UnrealizedPL,
			"gainPercent":  fmt.Sprintf("%.2f%%", pos.UnrealizedPLPC*100),
		}).Info("Holding")
	}
	s.logger.WithField("totalUnrealizedPL", fmt.Sprintf("$%.2f", totalUnrealizedPL)).Info("Current holdings")
}
