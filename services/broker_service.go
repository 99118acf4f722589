package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"daytrader/interfaces"
)

// AlpacaGateway implements interfaces.OrderGateway against the Alpaca
// trading and market-data APIs. Transient failures (timeouts, rate limits,
// 5xx) are retried with a bounded attempt count and jittered sleep; domain
// rejections are returned to the caller untouched.
type AlpacaGateway struct {
	trading    *alpaca.Client
	data       *marketdata.Client
	notifier   interfaces.NotificationSink
	maxRetries int
	logger     *logrus.Logger
}

// Compile-time interface check.
var _ interfaces.OrderGateway = (*AlpacaGateway)(nil)

// NewAlpacaGateway creates a gateway configured with the given credentials
// and trading API endpoint.
func NewAlpacaGateway(apiKey, apiSecret, baseURL string, maxRetries int, notifier interfaces.NotificationSink) *AlpacaGateway {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &AlpacaGateway{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		notifier:   notifier,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// SubmitOrder sends an order to Alpaca. Bracket legs (take-profit and
// stop-loss both set) are submitted as a single bracket-class order.
func (g *AlpacaGateway) SubmitOrder(ctx context.Context, req *interfaces.OrderRequest) (*interfaces.Order, error) {
	qty := decimal.NewFromFloat(req.Qty)
	tif := req.TimeInForce
	if tif == "" {
		tif = "day"
	}
	orderType := req.Type
	if orderType == "" {
		orderType = interfaces.OrderTypeMarket
	}

	placeReq := alpaca.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Qty:         &qty,
		Side:        alpaca.Side(req.Side),
		Type:        alpaca.OrderType(orderType),
		TimeInForce: alpaca.TimeInForce(tif),
		LimitPrice:  toDecimal(req.LimitPrice),
		StopPrice:   toDecimal(req.StopPrice),
	}

	if req.TakeProfit != nil && req.StopLoss != nil {
		placeReq.OrderClass = alpaca.Bracket
		placeReq.TakeProfit = &alpaca.TakeProfit{LimitPrice: toDecimal(req.TakeProfit)}
		placeReq.StopLoss = &alpaca.StopLoss{StopPrice: toDecimal(req.StopLoss)}
	}
	if req.TrailPercent != nil {
		placeReq.Type = alpaca.TrailingStop
		placeReq.TrailPercent = toDecimal(req.TrailPercent)
	}

	var placed *alpaca.Order
	err := g.withRetry(ctx, "submit order", func() error {
		var err error
		placed, err = g.trading.PlaceOrder(placeReq)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toOrder(placed), nil
}

// GetOrder fetches a single order with its nested legs.
func (g *AlpacaGateway) GetOrder(ctx context.Context, orderID string) (*interfaces.Order, error) {
	var fetched *alpaca.Order
	err := g.withRetry(ctx, "get order", func() error {
		var err error
		fetched, err = g.trading.GetOrder(orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toOrder(fetched), nil
}

// CancelOrder requests cancellation of an open order by its ID.
func (g *AlpacaGateway) CancelOrder(ctx context.Context, orderID string) error {
	return g.withRetry(ctx, "cancel order", func() error {
		return g.trading.CancelOrder(orderID)
	})
}

// ListOrders lists orders by status filter ("open", "closed" or "all"), legs
// nested under their parents.
func (g *AlpacaGateway) ListOrders(ctx context.Context, status string) ([]*interfaces.Order, error) {
	var listed []alpaca.Order
	err := g.withRetry(ctx, "list orders", func() error {
		var err error
		listed, err = g.trading.GetOrders(alpaca.GetOrdersRequest{
			Status: status,
			Limit:  500,
			Nested: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	orders := make([]*interfaces.Order, 0, len(listed))
	for i := range listed {
		orders = append(orders, toOrder(&listed[i]))
	}
	return orders, nil
}

// CancelAllOrders cancels every open order at the broker.
func (g *AlpacaGateway) CancelAllOrders(ctx context.Context) error {
	return g.withRetry(ctx, "cancel all orders", func() error {
		return g.trading.CancelAllOrders()
	})
}

// GetPositions returns all current positions held at the brokerage.
func (g *AlpacaGateway) GetPositions(ctx context.Context) ([]*interfaces.Position, error) {
	var listed []alpaca.Position
	err := g.withRetry(ctx, "get positions", func() error {
		var err error
		listed, err = g.trading.GetPositions()
		return err
	})
	if err != nil {
		return nil, err
	}

	positions := make([]*interfaces.Position, 0, len(listed))
	for i := range listed {
		positions = append(positions, toPosition(&listed[i]))
	}
	return positions, nil
}

// CloseAllPositions asks the broker to liquidate every position.
func (g *AlpacaGateway) CloseAllPositions(ctx context.Context) error {
	return g.withRetry(ctx, "close all positions", func() error {
		_, err := g.trading.CloseAllPositions(alpaca.CloseAllPositionsRequest{
			CancelOrders: true,
		})
		return err
	})
}

// GetAccount returns a snapshot of the account's financial metrics.
func (g *AlpacaGateway) GetAccount(ctx context.Context) (*interfaces.Account, error) {
	var acct *alpaca.Account
	err := g.withRetry(ctx, "get account", func() error {
		var err error
		acct, err = g.trading.GetAccount()
		return err
	})
	if err != nil {
		return nil, err
	}

	return &interfaces.Account{
		ID:             acct.ID,
		Cash:           acct.Cash.InexactFloat64(),
		PortfolioValue: acct.PortfolioValue.InexactFloat64(),
		BuyingPower:    acct.BuyingPower.InexactFloat64(),
		Equity:         acct.Equity.InexactFloat64(),
	}, nil
}

// GetCurrentPrice returns the latest trade price for a symbol.
func (g *AlpacaGateway) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var trade *marketdata.Trade
	err := g.withRetry(ctx, "get latest trade", func() error {
		var err error
		trade, err = g.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
		return err
	})
	if err != nil {
		return 0, err
	}
	return trade.Price, nil
}

// IsMarketOpenRemote asks the broker's clock whether the market is open.
func (g *AlpacaGateway) IsMarketOpenRemote(ctx context.Context) (bool, error) {
	var clock *alpaca.Clock
	err := g.withRetry(ctx, "get clock", func() error {
		var err error
		clock, err = g.trading.GetClock()
		return err
	})
	if err != nil {
		return false, err
	}
	return clock.IsOpen, nil
}

// withRetry runs fn, retrying transient errors up to maxRetries times with a
// jittered sleep. An explicit bounded loop, never recursion. The final
// transient failure is surfaced through the notification sink.
func (g *AlpacaGateway) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1+rand.Intn(3)) * time.Second
			g.logger.WithFields(logrus.Fields{
				"op":      op,
				"attempt": attempt,
			}).Info("Retrying broker call")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		g.logger.WithError(err).WithField("op", op).Warn("Transient broker error")
	}

	g.notifier.ErrNotify(fmt.Sprintf("Failed to %s after %d attempts: %v", op, g.maxRetries, err))
	return err
}

// isTransient classifies read timeouts, rate limits and broker-side faults
// as retryable. Everything else is a domain rejection.
func isTransient(err error) bool {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// toDecimal converts an optional float into the SDK's decimal pointer.
func toDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

// decimalValue coerces a nullable broker numeric to 0.00 so nulls never
// reach the ledger schema.
func decimalValue(d *decimal.Decimal) float64 {
	if d == nil {
		return 0.00
	}
	return d.InexactFloat64()
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// toOrder maps an SDK order (and its nested legs) into the gateway-neutral
// representation. ParentID defaults to the order's own ID; legs carry the
// entry order's ID.
func toOrder(o *alpaca.Order) *interfaces.Order {
	order := &interfaces.Order{
		ID:             o.ID,
		ParentID:       o.ID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Qty:            decimalValue(o.Qty),
		Type:           string(o.Type),
		TimeInForce:    string(o.TimeInForce),
		OrderClass:     string(o.OrderClass),
		Status:         o.Status,
		LimitPrice:     decimalValue(o.LimitPrice),
		StopPrice:      decimalValue(o.StopPrice),
		TrailPercent:   decimalValue(o.TrailPercent),
		TrailPrice:     decimalValue(o.TrailPrice),
		FilledQty:      o.FilledQty.InexactFloat64(),
		FilledAvgPrice: decimalValue(o.FilledAvgPrice),
		HWM:            decimalValue(o.HWM),
		ReplacedBy:     strValue(o.ReplacedBy),
		ExtendedHours:  o.ExtendedHours,
		SubmittedAt:    o.SubmittedAt,
		FilledAt:       o.FilledAt,
		CanceledAt:     o.CanceledAt,
		ExpiredAt:      o.ExpiredAt,
		ReplacedAt:     o.ReplacedAt,
		FailedAt:       o.FailedAt,
	}

	for i := range o.Legs {
		leg := toOrder(&o.Legs[i])
		leg.ParentID = o.ID
		order.Legs = append(order.Legs, *leg)
	}
	return order
}

// toPosition maps an SDK position into the gateway-neutral representation.
func toPosition(p *alpaca.Position) *interfaces.Position {
	return &interfaces.Position{
		Symbol:         p.Symbol,
		Side:           string(p.Side),
		Qty:            p.Qty.InexactFloat64(),
		AvgEntryPrice:  p.AvgEntryPrice.InexactFloat64(),
		CurrentPrice:   decimalValue(p.CurrentPrice),
		LastdayPrice:   decimalValue(p.LastdayPrice),
		MarketValue:    decimalValue(p.MarketValue),
		UnrealizedPL:   decimalValue(p.UnrealizedPL),
		UnrealizedPLPC: decimalValue(p.UnrealizedPLPC),
	}
}
