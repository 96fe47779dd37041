package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/ridepoolhq/ridepool/internal/collab"
	"github.com/ridepoolhq/ridepool/internal/httpapi"
	"github.com/ridepoolhq/ridepool/internal/oplog"
	"github.com/ridepoolhq/ridepool/internal/settings"
	"github.com/ridepoolhq/ridepool/internal/store/gormstore"
	"github.com/ridepoolhq/ridepool/pkg/booking"
	"github.com/ridepoolhq/ridepool/pkg/wallet"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL      = "database-url"
	flagListenAddr       = "listen-addr"
	flagAllowedOrigins   = "allowed-origins"
	configKeyDatabaseURL = "database_url"
	configKeyListenAddr  = "listen_addr"
	configKeyOrigins     = "allowed_origins"
	defaultDatabaseURL   = "sqlite:///tmp/ridepool.db"
	defaultListenAddr    = ":8080"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	AllowedOrigins []string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ridepoold: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "ridepoold",
		Short:         "Ride pooling booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.PersistentFlags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.PersistentFlags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins")

	cmd.AddCommand(newServeCommand(cfg))
	cmd.AddCommand(newExpireHoldsCommand(cfg))
	cmd.AddCommand(newReconcileSettlementsCommand(cfg))

	return cmd
}

func newServeCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func newExpireHoldsCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "expire-holds",
		Short: "Expire bookings whose payment hold has lapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runExpireHolds(ctx, cfg)
		},
	}
}

func newReconcileSettlementsCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-settlements",
		Short: "Re-drive settlement for completed bookings missing a payout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runReconcileSettlements(ctx, cfg)
		},
	}
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyListenAddr, "LISTEN_ADDR"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyOrigins, "ALLOWED_ORIGINS"); err != nil {
		return err
	}

	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyListenAddr, cmd.Flags().Lookup(flagListenAddr)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyOrigins, cmd.Flags().Lookup(flagAllowedOrigins)); err != nil {
		return err
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyOrigins)
	return nil
}

type runtime struct {
	logger   *zap.Logger
	db       *gorm.DB
	store    *gormstore.Store
	bookings *booking.Service
	wallets  *wallet.Service
	cleanup  func() error
}

func buildRuntime(ctx context.Context, cfg *runtimeConfig) (*runtime, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}

	if err := prepareSchema(gormDB, driver); err != nil {
		_ = cleanup()
		return nil, err
	}

	store := gormstore.New(gormDB)
	walletStore := gormstore.NewWalletStore(gormDB)
	settingsProvider := settings.NewProvider(gormDB, 0)

	now := func() time.Time { return time.Now().UTC() }
	walletService, err := wallet.NewService(walletStore, now)
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("wallet service init: %w", err)
	}

	verifier := collab.StaticVerifier{Verdict: booking.PaymentVerified}
	bookingService, err := booking.NewService(store, settingsProvider, verifier, walletService, now,
		booking.WithOperationLogger(oplog.NewZapLogger(logger)),
		booking.WithNotifier(collab.NewLogNotifier(logger)),
		booking.WithConversationService(collab.NewLogConversations(logger)))
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("booking service init: %w", err)
	}

	return &runtime{
		logger:   logger,
		db:       gormDB,
		store:    store,
		bookings: bookingService,
		wallets:  walletService,
		cleanup:  cleanup,
	}, nil
}

func (rt *runtime) close() {
	_ = rt.cleanup()
	_ = rt.logger.Sync()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	apiCfg := httpapi.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	services := httpapi.Services{Bookings: rt.bookings, Wallets: rt.wallets}
	return httpapi.Run(ctx, apiCfg, services, rt.logger)
}

func runExpireHolds(ctx context.Context, cfg *runtimeConfig) error {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	reconciler, err := booking.NewReconciler(rt.bookings, rt.store)
	if err != nil {
		return err
	}
	result, err := reconciler.Sweep(ctx)
	if err != nil {
		return err
	}
	rt.logger.Info("hold sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("expired", result.Expired),
		zap.Int("failed", result.Failed))
	// Per-booking failures are recorded in cron_runs; the sweep itself
	// succeeded, so exit zero and let the next run retry them.
	return nil
}

func runReconcileSettlements(ctx context.Context, cfg *runtimeConfig) error {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	records, err := rt.bookings.ListUnsettled(ctx, 200)
	if err != nil {
		return err
	}
	var failed int
	for _, record := range records {
		err := rt.bookings.SettleCompleted(ctx, record.BookingID)
		if errors.Is(err, booking.ErrAlreadySettled) {
			// Another settler won between the list and the re-drive.
			continue
		}
		if err != nil {
			failed++
			rt.logger.Error("settlement re-drive failed",
				zap.String("booking_id", record.BookingID),
				zap.Error(err))
		}
	}
	rt.logger.Info("settlement reconcile finished",
		zap.Int("scanned", len(records)),
		zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%d of %d settlements failed", failed, len(records))
	}
	return nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormCfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "ridepool.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
