package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"daytrader/interfaces"
	"daytrader/services"
)

// MarketController exposes market-clock and price lookups.
type MarketController struct {
	gateway  interfaces.OrderGateway
	calendar *services.MarketCalendar
	logger   *logrus.Logger
}

// NewMarketController creates a new market controller.
func NewMarketController(gateway interfaces.OrderGateway, calendar *services.MarketCalendar) *MarketController {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &MarketController{
		gateway:  gateway,
		calendar: calendar,
		logger:   logger,
	}
}

// HandleGetClock handles GET /market/clock. It reports both the local
// trading-window gate and the broker's authoritative clock, which also
// knows about exchange holidays.
func (mc *MarketController) HandleGetClock(c *gin.Context) {
	localOpen := mc.calendar.IsOpen(time.Now())

	remoteOpen, err := mc.gateway.IsMarketOpenRemote(c.Request.Context())
	if err != nil {
		mc.logger.WithError(err).Error("Failed to fetch broker clock")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"local_open":  localOpen,
		"remote_open": remoteOpen,
	})
}

// HandleGetPrice handles GET /market/price/:symbol.
func (mc *MarketController) HandleGetPrice(c *gin.Context) {
	symbol := c.Param("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}

	price, err := mc.gateway.GetCurrentPrice(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"price":  price,
	})
}
