package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"daytrader/interfaces"
	"daytrader/models"
)

// ErrOrderNotFound is returned when no ledger row exists for an order id.
var ErrOrderNotFound = errors.New("order not found")

// LocalStorage implements the OrderLedger interface using SQLite.
type LocalStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// Compile-time interface check.
var _ interfaces.OrderLedger = (*LocalStorage)(nil)

// NewLocalStorage creates a new local order ledger.
func NewLocalStorage(dbPath string) (*LocalStorage, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open SQLite database
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Auto-migrate schemas
	if err := db.AutoMigrate(
		&models.DBOrder{},
		&models.DBPosition{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &LocalStorage{
		db:     db,
		logger: log,
	}, nil
}

// CreateOrder inserts a new order row. The row's identity is the
// broker-assigned OrderID and is never reassigned.
func (s *LocalStorage) CreateOrder(order *interfaces.Order) error {
	dbOrder := toDBOrder(order)
	if result := s.db.Create(dbOrder); result.Error != nil {
		return fmt.Errorf("failed to create order %s: %w", order.ID, result.Error)
	}
	s.logger.WithField("orderID", order.ID).Info("Saved order")
	return nil
}

// UpdateOrder overwrites the mutable status/fill fields of an existing row,
// keyed by OrderID.
func (s *LocalStorage) UpdateOrder(order *interfaces.Order) error {
	updates := map[string]interface{}{
		"status":           order.Status,
		"stop_price":       order.StopPrice,
		"trail_price":      order.TrailPrice,
		"filled_qty":       order.FilledQty,
		"filled_avg_price": order.FilledAvgPrice,
		"hwm":              order.HWM,
		"replaced_by":      order.ReplacedBy,
		"extended_hours":   order.ExtendedHours,
		"filled_at":        order.FilledAt,
		"canceled_at":      order.CanceledAt,
		"expired_at":       order.ExpiredAt,
		"replaced_at":      order.ReplacedAt,
		"failed_at":        order.FailedAt,
	}

	result := s.db.Model(&models.DBOrder{}).Where("order_id = ?", order.ID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update order %s: %w", order.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update order %s: %w", order.ID, ErrOrderNotFound)
	}
	s.logger.WithField("orderID", order.ID).Info("Updated order")
	return nil
}

// GetOrder retrieves a single order by its broker-assigned ID.
func (s *LocalStorage) GetOrder(orderID string) (*interfaces.Order, error) {
	var dbOrder models.DBOrder
	result := s.db.Where("order_id = ?", orderID).First(&dbOrder)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("get order %s: %w", orderID, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, result.Error)
	}
	return fromDBOrder(&dbOrder), nil
}

// GetOpenOrders returns every order not yet in a terminal status.
func (s *LocalStorage) GetOpenOrders() ([]*interfaces.Order, error) {
	var dbOrders []models.DBOrder
	result := s.db.Where("status NOT IN ?", interfaces.TerminalStatuses).
		Order("submitted_at ASC").
		Find(&dbOrders)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", result.Error)
	}
	return fromDBOrders(dbOrders), nil
}

// GetByParentID returns all legs linked to the given entry order, the entry
// row included since a standalone order is its own parent.
func (s *LocalStorage) GetByParentID(parentID string) ([]*interfaces.Order, error) {
	var dbOrders []models.DBOrder
	result := s.db.Where("parent_id = ?", parentID).
		Order("submitted_at ASC").
		Find(&dbOrders)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get orders by parent %s: %w", parentID, result.Error)
	}
	return fromDBOrders(dbOrders), nil
}

// ListOrdersByDate returns the orders submitted on the given day.
func (s *LocalStorage) ListOrdersByDate(day time.Time) ([]*interfaces.Order, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	var dbOrders []models.DBOrder
	result := s.db.Where("submitted_at >= ? AND submitted_at < ?", start, end).
		Order("submitted_at ASC").
		Find(&dbOrders)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list orders for %s: %w", start.Format("2006-01-02"), result.Error)
	}
	return fromDBOrders(dbOrders), nil
}

// UpsertPosition inserts the daily snapshot row for (run_date, symbol, side)
// or refreshes its quantity and prices on conflict, never duplicating the
// key within a day.
func (s *LocalStorage) UpsertPosition(runDate time.Time, pos *interfaces.Position) error {
	row := models.DBPosition{
		RunDate:        truncateToDay(runDate),
		Symbol:         pos.Symbol,
		Side:           pos.Side,
		Qty:            pos.Qty,
		EntryPrice:     pos.AvgEntryPrice,
		MarketPrice:    pos.CurrentPrice,
		LastdayPrice:   pos.LastdayPrice,
		MarketValue:    pos.MarketValue,
		UnrealizedPL:   pos.UnrealizedPL,
		UnrealizedPLPC: pos.UnrealizedPLPC,
	}

	result := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "run_date"}, {Name: "symbol"}, {Name: "side"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"qty", "entry_price", "market_price", "lastday_price",
			"market_value", "unrealized_pl", "unrealized_plpc", "updated_at",
		}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert position %s/%s: %w", pos.Symbol, pos.Side, result.Error)
	}
	return nil
}

// ListPositionsByDate returns the position snapshot taken on the given day.
func (s *LocalStorage) ListPositionsByDate(runDate time.Time) ([]*interfaces.Position, error) {
	var dbPositions []models.DBPosition
	result := s.db.Where("run_date = ?", truncateToDay(runDate)).
		Order("symbol ASC").
		Find(&dbPositions)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list positions: %w", result.Error)
	}

	positions := make([]*interfaces.Position, 0, len(dbPositions))
	for i := range dbPositions {
		p := &dbPositions[i]
		positions = append(positions, &interfaces.Position{
			Symbol:         p.Symbol,
			Side:           p.Side,
			Qty:            p.Qty,
			AvgEntryPrice:  p.EntryPrice,
			CurrentPrice:   p.MarketPrice,
			LastdayPrice:   p.LastdayPrice,
			MarketValue:    p.MarketValue,
			UnrealizedPL:   p.UnrealizedPL,
			UnrealizedPLPC: p.UnrealizedPLPC,
		})
	}
	return positions, nil
}

// UpdatedAtFor exposes a row's updated_at timestamp, used to verify that
// reconciliation passes without remote changes leave rows untouched.
func (s *LocalStorage) UpdatedAtFor(orderID string) (time.Time, error) {
	var dbOrder models.DBOrder
	result := s.db.Select("updated_at").Where("order_id = ?", orderID).First(&dbOrder)
	if result.Error != nil {
		return time.Time{}, fmt.Errorf("failed to read updated_at for %s: %w", orderID, result.Error)
	}
	return dbOrder.UpdatedAt, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func toDBOrder(order *interfaces.Order) *models.DBOrder {
	return &models.DBOrder{
		OrderID:        order.ID,
		ParentID:       order.ParentID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Qty:            order.Qty,
		Type:           order.Type,
		TimeInForce:    order.TimeInForce,
		OrderClass:     order.OrderClass,
		Status:         order.Status,
		LimitPrice:     order.LimitPrice,
		StopPrice:      order.StopPrice,
		TrailPercent:   order.TrailPercent,
		TrailPrice:     order.TrailPrice,
		FilledQty:      order.FilledQty,
		FilledAvgPrice: order.FilledAvgPrice,
		HWM:            order.HWM,
		ReplacedBy:     order.ReplacedBy,
		ExtendedHours:  order.ExtendedHours,
		SubmittedAt:    order.SubmittedAt,
		FilledAt:       order.FilledAt,
		CanceledAt:     order.CanceledAt,
		ExpiredAt:      order.ExpiredAt,
		ReplacedAt:     order.ReplacedAt,
		FailedAt:       order.FailedAt,
	}
}

func fromDBOrder(dbOrder *models.DBOrder) *interfaces.Order {
	return &interfaces.Order{
		ID:             dbOrder.OrderID,
		ParentID:       dbOrder.ParentID,
		Symbol:         dbOrder.Symbol,
		Side:           dbOrder.Side,
		Qty:            dbOrder.Qty,
		Type:           dbOrder.Type,
		TimeInForce:    dbOrder.TimeInForce,
		OrderClass:     dbOrder.OrderClass,
		Status:         dbOrder.Status,
		LimitPrice:     dbOrder.LimitPrice,
		StopPrice:      dbOrder.StopPrice,
		TrailPercent:   dbOrder.TrailPercent,
		TrailPrice:     dbOrder.TrailPrice,
		FilledQty:      dbOrder.FilledQty,
		FilledAvgPrice: dbOrder.FilledAvgPrice,
		HWM:            dbOrder.HWM,
		ReplacedBy:     dbOrder.ReplacedBy,
		ExtendedHours:  dbOrder.ExtendedHours,
		SubmittedAt:    dbOrder.SubmittedAt,
		FilledAt:       dbOrder.FilledAt,
		CanceledAt:     dbOrder.CanceledAt,
		ExpiredAt:      dbOrder.ExpiredAt,
		ReplacedAt:     dbOrder.ReplacedAt,
		FailedAt:       dbOrder.FailedAt,
	}
}

func fromDBOrders(dbOrders []models.DBOrder) []*interfaces.Order {
	orders := make([]*interfaces.Order, 0, len(dbOrders))
	for i := range dbOrders {
		orders = append(orders, fromDBOrder(&dbOrders[i]))
	}
	return orders
}
