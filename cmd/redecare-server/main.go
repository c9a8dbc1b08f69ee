package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/redecare/redecare/internal/config"
	"github.com/redecare/redecare/internal/domain/appointment"
	"github.com/redecare/redecare/internal/domain/billing"
	"github.com/redecare/redecare/internal/domain/payment"
	"github.com/redecare/redecare/internal/domain/pricing"
	"github.com/redecare/redecare/internal/domain/solicitation"
	"github.com/redecare/redecare/internal/domain/verification"
	"github.com/redecare/redecare/internal/platform/auth"
	"github.com/redecare/redecare/internal/platform/db"
	"github.com/redecare/redecare/internal/platform/events"
	"github.com/redecare/redecare/internal/platform/middleware"
	"github.com/redecare/redecare/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "redecare-server",
		Short: "Provider-network settlement API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(batchesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the settlement API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// batchesCmd exposes the periodic billing jobs as CLI entrypoints so an
// external scheduler (cron, systemd timer) can drive them.
func batchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Billing batch jobs",
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Aggregate billable appointments of a period into batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")

			periodStart, periodEnd, err := resolvePeriod(from, to)
			if err != nil {
				return err
			}

			logger, cfg, pool, err := bootstrap()
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := billingService(cfg, pool, logger)
			batches, err := svc.Generate(context.Background(), periodStart, periodEnd)
			if err != nil {
				return err
			}

			fmt.Printf("Generated %d batch(es) for %s to %s.\n",
				len(batches), periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02"))
			return nil
		},
	}
	generateCmd.Flags().String("from", "", "Period start (YYYY-MM-DD, default: first day of previous month)")
	generateCmd.Flags().String("to", "", "Period end (YYYY-MM-DD, default: last day of previous month)")
	cmd.AddCommand(generateCmd)

	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "Refresh late-payment bookkeeping and send overdue reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cfg, pool, err := bootstrap()
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := billingService(cfg, pool, logger)
			late, err := svc.RefreshLateness(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("%d batch(es) currently late.\n", late)
			return nil
		},
	}
	cmd.AddCommand(alertsCmd)

	return cmd
}

// resolvePeriod parses the --from/--to flags, defaulting to the previous
// calendar month when both are empty.
func resolvePeriod(from, to string) (time.Time, time.Time, error) {
	if from == "" && to == "" {
		now := time.Now().UTC()
		firstOfThis := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		start := firstOfThis.AddDate(0, -1, 0)
		end := firstOfThis.Add(-time.Second)
		return start, end, nil
	}
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("--from and --to must be given together")
	}
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
	}
	// Make the end date inclusive.
	end = end.AddDate(0, 0, 1).Add(-time.Second)
	return start, end, nil
}

func bootstrap() (zerolog.Logger, *config.Config, *pgxpool.Pool, error) {
	logger := newLogger()
	cfg, err := config.Load()
	if err != nil {
		return logger, nil, nil, err
	}
	pool, err := db.NewPool(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return logger, nil, nil, err
	}
	return logger, cfg, pool, nil
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newDispatcher builds the rendered notification channels from config. An
// unconfigured channel still logs its messages as skipped, so operators can
// see what would have gone out.
func newDispatcher(cfg *config.Config, logger zerolog.Logger) *notification.Dispatcher {
	var email notification.EmailSender
	if cfg.SMTPAddr != "" {
		email = notification.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom)
	}
	var sms notification.SMSSender
	if cfg.SMSGatewayURL != "" {
		sms = notification.NewGatewaySMSSender(cfg.SMSGatewayURL)
	}
	return notification.NewDispatcher(email, sms, cfg.NotifyEmailTo, cfg.NotifySMSTo, logger)
}

// billingService wires a standalone billing service for the CLI jobs. The
// bus is live so batch completion still reconciles payments, but no HTTP
// surface is started.
func billingService(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *billing.Service {
	bus := events.NewBus(logger)
	notifier := notification.Combine(
		notification.NewWebhookNotifier(cfg.NotifierURL, logger),
		newDispatcher(cfg, logger),
	)
	tx := db.NewTransactor(pool)

	apptRepo := appointment.NewRepoPG(pool)
	source := billing.NewAppointmentSource(apptRepo)
	svc := billing.NewService(billing.NewBatchRepoPG(pool), billing.NewItemRepoPG(pool),
		source, tx, bus, notifier, logger, cfg.PaymentDueDays)
	svc.Register(bus)
	return svc
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Shared infrastructure
	bus := events.NewBus(logger)
	dispatcher := newDispatcher(cfg, logger)
	notifier := notification.Combine(
		notification.NewWebhookNotifier(cfg.NotifierURL, logger),
		dispatcher,
	)
	tx := db.NewTransactor(pool)
	seq := db.NewSequenceAllocatorPG(pool)
	resolver := pricing.NewStaticResolver()

	// Repositories
	solicitationRepo := solicitation.NewRepoPG(pool)
	apptRepo := appointment.NewRepoPG(pool)
	reschedRepo := appointment.NewReschedulingRepoPG(pool)
	batchRepo := billing.NewBatchRepoPG(pool)
	itemRepo := billing.NewItemRepoPG(pool)
	paymentRepo := payment.NewRepoPG(pool)
	glossRepo := payment.NewGlossRepoPG(pool)
	refundRepo := payment.NewRefundRepoPG(pool)
	verificationRepo := verification.NewRepoPG(pool)

	// Services
	solicitationSvc := solicitation.NewService(solicitationRepo)
	apptSvc := appointment.NewService(apptRepo, reschedRepo, seq, tx, bus, notifier, logger)
	billingSvc := billing.NewService(batchRepo, itemRepo,
		billing.NewAppointmentSource(apptRepo), tx, bus, notifier, logger, cfg.PaymentDueDays)
	paymentSvc := payment.NewService(paymentRepo, glossRepo, refundRepo, tx, bus, notifier, logger)
	verificationSvc := verification.NewService(verificationRepo, billingSvc, apptSvc,
		resolver, tx, logger, cfg.AutoApproveThreshold)

	// Event subscriptions. The solicitation reconciler follows appointment
	// lifecycle events; billing follows payment settlement events.
	solicitation.NewReconciler(solicitationRepo, apptRepo, logger).Register(bus)
	billingSvc.Register(bus)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware([]byte(cfg.AuthSecret)))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	api := e.Group("/api/v1")
	solicitation.NewHandler(solicitationSvc).RegisterRoutes(api)
	appointment.NewHandler(apptSvc).RegisterRoutes(api)
	billing.NewHandler(billingSvc).RegisterRoutes(api)
	payment.NewHandler(paymentSvc).RegisterRoutes(api)
	verification.NewHandler(verificationSvc).RegisterRoutes(api)
	notification.NewHandler(dispatcher).RegisterRoutes(api)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	return nil
}
