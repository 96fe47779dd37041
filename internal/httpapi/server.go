package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ridepoolhq/ridepool/pkg/booking"
	"github.com/ridepoolhq/ridepool/pkg/wallet"
	"go.uber.org/zap"
)

// Services bundles the domain dependencies the API exposes.
type Services struct {
	Bookings *booking.Service
	Wallets  *wallet.Service
}

// NewRouter builds the gin engine with all routes mounted.
func NewRouter(cfg Config, services Services, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := &apiHandler{services: services, logger: logger}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/rides", handler.createRide)
		v1.GET("/rides/:id", handler.getRide)
		v1.POST("/rides/:id/publish", handler.publishRide)
		v1.POST("/rides/:id/cancel", handler.cancelRide)
		v1.POST("/rides/:id/complete", handler.completeRide)
		v1.GET("/rides/:id/bookings", handler.listRideBookings)

		v1.POST("/bookings", handler.createBooking)
		v1.GET("/bookings/:id", handler.getBooking)
		v1.GET("/bookings/:id/events", handler.listBookingEvents)
		v1.GET("/bookings/:id/cancellable", handler.bookingCancellable)
		v1.POST("/bookings/:id/accept", handler.acceptBooking)
		v1.POST("/bookings/:id/reject", handler.rejectBooking)
		v1.POST("/bookings/:id/cancel", handler.cancelBooking)
		v1.POST("/bookings/:id/complete", handler.completeBooking)

		v1.POST("/payments/webhook", handler.paymentWebhook)

		v1.GET("/riders/:id/bookings", handler.listRiderBookings)
		v1.GET("/drivers/:id/wallet", handler.getWallet)
		v1.GET("/drivers/:id/wallet/transactions", handler.listWalletTransactions)
		v1.POST("/drivers/:id/wallet/adjust", handler.adjustWallet)
		v1.POST("/drivers/:id/wallet/payout", handler.requestPayout)
	}

	return router
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config, services Services, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: NewRouter(cfg, services, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
