package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"daytrader/services"
)

// PositionController exposes today's position snapshot and the force-sell
// escape hatch.
type PositionController struct {
	positions    *services.PositionService
	orchestrator *services.DayOrchestrator
	logger       *logrus.Logger
}

// NewPositionController creates a new position controller.
func NewPositionController(positions *services.PositionService, orchestrator *services.DayOrchestrator) *PositionController {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &PositionController{
		positions:    positions,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// HandleGetTodaysPositions handles GET /position/today.
func (pc *PositionController) HandleGetTodaysPositions(c *gin.Context) {
	positions, err := pc.positions.UpdateAndGetCurrentPositions(c.Request.Context())
	if err != nil {
		pc.logger.WithError(err).Error("Failed to fetch today's positions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     len(positions),
		"positions": positions,
	})
}

// HandleForceSell handles POST /position/sell. Everything is liquidated
// immediately when inside the trading window; otherwise the call is a no-op.
func (pc *PositionController) HandleForceSell(c *gin.Context) {
	pc.logger.Warn("Force sell requested")

	if err := pc.orchestrator.ForceSell(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Force sell completed"})
}
