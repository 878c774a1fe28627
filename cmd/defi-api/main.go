package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Francklinok/easyrent-defi-core/internal/chain"
	"github.com/Francklinok/easyrent-defi-core/internal/config"
	"github.com/Francklinok/easyrent-defi-core/internal/ledger"
	"github.com/Francklinok/easyrent-defi-core/internal/lending"
	"github.com/Francklinok/easyrent-defi-core/internal/marketplace"
	"github.com/Francklinok/easyrent-defi-core/internal/notifications"
	"github.com/Francklinok/easyrent-defi-core/internal/notifications/websocket"
	"github.com/Francklinok/easyrent-defi-core/internal/oracle"
	"github.com/Francklinok/easyrent-defi-core/internal/revenue"
	"github.com/Francklinok/easyrent-defi-core/internal/staking"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Load .env if present, then configuration
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment")
	}
	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Connect to database
	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if cfg.Database.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}

	// Notification outbox rides on gorm over the same database
	gormDB, err := gorm.Open(gormpostgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to open gorm connection", zap.Error(err))
	}

	wsManager := websocket.NewManager()
	events, err := notifications.NewService(gormDB, wsManager, logger)
	if err != nil {
		logger.Fatal("Failed to initialize notifications", zap.Error(err))
	}
	notificationsHandler := notifications.NewHandler(events, logger)
	defer events.Close()

	// Chain executor: real client when an endpoint is configured,
	// in-memory simulator otherwise
	var executor chain.Executor
	if cfg.Chain.Endpoint != "" {
		executor = chain.NewClient(&chain.ClientConfig{
			Endpoint:       cfg.Chain.Endpoint,
			RequestTimeout: cfg.Chain.RequestTimeout,
			MaxRetries:     cfg.Chain.MaxRetries,
			RetryInterval:  cfg.Chain.RetryInterval,
		}, logger)
	} else {
		logger.Warn("No chain endpoint configured, using in-memory simulator")
		executor = chain.NewSimulator()
	}

	prices := oracle.NewCachedOracle(
		oracle.NewHTTPSource(cfg.Oracle.Endpoint, cfg.Chain.RequestTimeout),
		cfg.Oracle.CacheTTL,
		cfg.Oracle.MaxStaleness,
		logger,
	)

	// Core services
	ledgerRepo := ledger.NewPostgresRepository(db)
	ledgerService := ledger.NewService(ledgerRepo, logger)
	ledgerHandler := ledger.NewHandler(ledgerService, logger)

	marketRepo := marketplace.NewPostgresRepository(db)
	marketService := marketplace.NewService(marketRepo, ledgerService, executor, events, cfg.Marketplace, logger)
	marketHandler := marketplace.NewHandler(marketService, logger)

	lendingRepo := lending.NewPostgresRepository(db)
	lendingService := lending.NewService(lendingRepo, prices, events, cfg.Lending, logger)
	lendingHandler := lending.NewHandler(lendingService, logger)

	stakingRepo := staking.NewPostgresRepository(db)
	stakingService := staking.NewService(stakingRepo, events, logger)
	stakingHandler := staking.NewHandler(stakingService, logger)

	revenueRepo := revenue.NewPostgresRepository(db)
	revenueService := revenue.NewService(revenueRepo, ledgerService, events, cfg.Revenue, logger)
	revenueHandler := revenue.NewHandler(revenueService, logger)

	// Expiry sweeper
	sweeper, err := marketplace.NewSweeper(marketService, cfg.Marketplace.SweepInterval, logger)
	if err != nil {
		logger.Fatal("Failed to initialize sweeper", zap.Error(err))
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Event redelivery
	redelivery, err := notifications.NewRedeliveryWorker(events, cfg.Notifications.RedeliverInterval, logger)
	if err != nil {
		logger.Fatal("Failed to initialize redelivery worker", zap.Error(err))
	}
	redelivery.Start()
	defer redelivery.Stop()

	// Setup Router
	router := gin.Default()

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-User-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register Routes
	api := router.Group("/api/v1")
	{
		ledgerHandler.RegisterRoutes(api)
		marketHandler.RegisterRoutes(api)
		lendingHandler.RegisterRoutes(api)
		stakingHandler.RegisterRoutes(api)
		revenueHandler.RegisterRoutes(api)
		notificationsHandler.RegisterRoutes(api)
	}

	// Live event stream
	router.GET("/ws", func(c *gin.Context) {
		if _, err := wsManager.HandleConnection(c.Writer, c.Request); err != nil {
			logger.Warn("Websocket upgrade failed", zap.Error(err))
		}
	})

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":      "healthy",
			"connections": wsManager.GetConnectionCount(),
			"timestamp":   time.Now(),
		})
	})

	// Start Server
	srv := &http.Server{
		Addr:    cfg.Server.GetServerAddr(),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", cfg.Server.GetServerAddr()))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
