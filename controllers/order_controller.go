package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"daytrader/interfaces"
	"daytrader/services"
)

// OrderController exposes order placement and the order history over HTTP.
type OrderController struct {
	orders *services.OrderReconciliationService
	ledger interfaces.OrderLedger
	logger *logrus.Logger
}

// NewOrderController creates a new order controller.
func NewOrderController(orders *services.OrderReconciliationService, ledger interfaces.OrderLedger) *OrderController {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &OrderController{
		orders: orders,
		ledger: ledger,
		logger: logger,
	}
}

// BracketRequest represents a bracket order request.
type BracketRequest struct {
	Symbol     string  `json:"symbol" binding:"required"`
	Qty        float64 `json:"qty" binding:"required,gt=0"`
	Side       string  `json:"side" binding:"required,oneof=buy sell"`
	TakeProfit float64 `json:"take_profit" binding:"required,gt=0"`
	StopLoss   float64 `json:"stop_loss" binding:"required,gt=0"`
}

// TrailingRequest represents a trailing-stop order request.
type TrailingRequest struct {
	Symbol       string  `json:"symbol" binding:"required"`
	Qty          float64 `json:"qty" binding:"required,gt=0"`
	Side         string  `json:"side" binding:"required,oneof=buy sell"`
	TrailPercent float64 `json:"trail_percent" binding:"required,gt=0"`
}

// HandlePlaceBracket handles POST /order/bracket.
func (oc *OrderController) HandlePlaceBracket(c *gin.Context) {
	var req BracketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	oc.logger.WithFields(logrus.Fields{
		"symbol": req.Symbol,
		"qty":    req.Qty,
		"side":   req.Side,
	}).Info("Processing bracket order")

	orderID, err := oc.orders.PlaceBracket(c.Request.Context(), req.Symbol, req.Side, req.Qty, req.StopLoss, req.TakeProfit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if orderID == "" {
		c.JSON(http.StatusOK, gin.H{"message": "market closed, order skipped"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID})
}

// HandlePlaceTrailing handles POST /order/trailing.
func (oc *OrderController) HandlePlaceTrailing(c *gin.Context) {
	var req TrailingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orderID, err := oc.orders.PlaceTrailing(c.Request.Context(), req.Symbol, req.Side, req.Qty, req.TrailPercent)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if orderID == "" {
		c.JSON(http.StatusOK, gin.H{"message": "market closed, order skipped"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID})
}

// HandleCancelOrder handles POST /order/cancel/:id.
func (oc *OrderController) HandleCancelOrder(c *gin.Context) {
	orderID := c.Param("id")
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order ID required"})
		return
	}

	if err := oc.orders.Cancel(c.Request.Context(), orderID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Order canceled successfully"})
}

// HandleGetOrdersByDate handles GET /order/:date/all.
// Date format is YYYY-MM-DD.
func (oc *OrderController) HandleGetOrdersByDate(c *gin.Context) {
	dateStr := c.Param("date")
	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, use YYYY-MM-DD"})
		return
	}

	orders, err := oc.ledger.ListOrdersByDate(day)
	if err != nil {
		oc.logger.WithError(err).Error("Failed to list orders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"date":   dateStr,
		"count":  len(orders),
		"orders": orders,
	})
}
