package main

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"daytrader/config"
	"daytrader/controllers"
	"daytrader/database"
	"daytrader/interfaces"
	"daytrader/services"
)

func setupLogger(levelStr string) {
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	setupLogger(cfg.LogLevel)

	loc, err := cfg.Location()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to resolve market timezone")
	}

	calendar, err := services.NewMarketCalendar(cfg.MarketOpen, cfg.MarketClose, loc)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build market calendar")
	}
	startTrading, err := services.ParseTimeOfDay(cfg.StartTrading)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid START_TRADING")
	}
	stopTrading, err := services.ParseTimeOfDay(cfg.StopTrading)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid STOP_TRADING")
	}
	marketClose, err := services.ParseTimeOfDay(cfg.MarketClose)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid MARKET_CLOSE")
	}

	storage, err := database.NewLocalStorage(cfg.DBPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open local storage")
	}

	var notifier interfaces.NotificationSink
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = services.NewTelegramNotification(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.PushoverToken, cfg.PushoverUserKey)
	} else {
		logrus.Info("No Telegram credentials, notifications go to the log only")
		notifier = services.NewLogNotification()
	}

	gateway := services.NewAlpacaGateway(cfg.AlpacaAPIKey, cfg.AlpacaAPISecret, cfg.AlpacaBaseURL, cfg.MaxRetries, notifier)
	recon := services.NewOrderReconciliationService(gateway, storage, calendar, notifier)
	positions := services.NewPositionService(gateway, storage)
	strategy := services.NewManualTradingStrategy(recon, positions)

	scheduler := services.NewSafeScheduler(cfg.TickEvery, true)
	orchestrator := services.NewDayOrchestrator(
		scheduler, calendar, recon, positions, gateway, strategy, notifier,
		startTrading, stopTrading, marketClose,
		cfg.StrategyEvery, cfg.HoldingsEvery,
	)
	orchestrator.Start()
	defer orchestrator.Stop()

	schedulerController := controllers.NewSchedulerController(orchestrator)
	orderController := controllers.NewOrderController(recon, storage)
	positionController := controllers.NewPositionController(positions, orchestrator)
	marketController := controllers.NewMarketController(gateway, calendar)

	router := gin.Default()
	router.GET("/scheduler/all", schedulerController.HandleGetAllJobs)
	router.POST("/scheduler/cancel", schedulerController.HandleCancel)
	router.POST("/scheduler/restart", schedulerController.HandleRestart)
	router.POST("/order/bracket", orderController.HandlePlaceBracket)
	router.POST("/order/trailing", orderController.HandlePlaceTrailing)
	router.POST("/order/cancel/:id", orderController.HandleCancelOrder)
	router.GET("/order/:date/all", orderController.HandleGetOrdersByDate)
	router.GET("/position/today", positionController.HandleGetTodaysPositions)
	router.POST("/position/sell", positionController.HandleForceSell)
	router.GET("/market/clock", marketController.HandleGetClock)
	router.GET("/market/price/:symbol", marketController.HandleGetPrice)

	logrus.WithField("port", cfg.Port).Info("Starting daytrader")
	if err := router.Run(":" + cfg.Port); err != nil {
		logrus.WithError(err).Fatal("HTTP server exited")
	}
}
