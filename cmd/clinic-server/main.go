package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/encounterbilling"
	"github.com/clinic/clinic/internal/domain/labbilling"
	"github.com/clinic/clinic/internal/domain/paymentlog"
	"github.com/clinic/clinic/internal/domain/transaction"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/invoice"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic billing API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(centerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the billing API server",
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
			schema, _ := cmd.Flags().GetString("schema")
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
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "center_main", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
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
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
	statusCmd.Flags().String("schema", "center_main", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func centerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "center",
		Short: "Manage clinic centers",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new center schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _ := cmd.Flags().GetString("code")
			dir, _ := cmd.Flags().GetString("dir")
			if code == "" {
				return fmt.Errorf("--code is required")
			}

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

			fmt.Printf("Creating center schema: center_%s\n", code)
			if err := db.CreateCenterSchema(ctx, pool, code, dir); err != nil {
				return err
			}
			fmt.Println("Center created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("code", "", "Center code (alphanumeric)")
	createCmd.Flags().String("dir", "./migrations", "Path to migrations directory")

	cmd.AddCommand(createCmd)
	return cmd
}

// apiValidator binds go-playground/validator as the echo request validator.
type apiValidator struct {
	v *validator.Validate
}

func (a *apiValidator) Validate(i interface{}) error {
	if err := a.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// labAuditAdapter bridges the lab billing service to the payment log.
type labAuditAdapter struct {
	logs *paymentlog.Service
}

func (a *labAuditAdapter) RecordPayment(ctx context.Context, e labbilling.PaymentEvent) error {
	return recordLogEntry(ctx, a.logs, e.TransactionID, e.SubjectType, e.SubjectID,
		e.Amount, e.PaymentType, e.Method, e.Status)
}

// encounterAuditAdapter bridges the encounter billing service to the payment log.
type encounterAuditAdapter struct {
	logs *paymentlog.Service
}

func (a *encounterAuditAdapter) RecordPayment(ctx context.Context, e encounterbilling.AuditEvent) error {
	return recordLogEntry(ctx, a.logs, e.TransactionID, e.SubjectType, e.SubjectID,
		e.Amount, e.PaymentType, e.Method, e.Status)
}

func recordLogEntry(ctx context.Context, logs *paymentlog.Service, txnID, subjectType string, subjectID uuid.UUID, amount decimal.Decimal, paymentType, method, status string) error {
	return logs.Record(ctx, &paymentlog.Entry{
		TransactionID: txnID,
		SubjectType:   subjectType,
		SubjectID:     subjectID,
		Amount:        amount,
		PaymentType:   paymentType,
		PaymentMethod: method,
		Status:        paymentlog.Status(status),
	})
}

// transactionAdapter satisfies both domains' TransactionAuditor interfaces.
type transactionAdapter struct {
	txns *transaction.Service
}

func (a *transactionAdapter) RecordTransaction(ctx context.Context, kind, transactionID string, subjectID uuid.UUID, amount decimal.Decimal) error {
	_, err := a.txns.Record(ctx, transaction.Kind(kind), transactionID, subjectID, amount)
	return err
}

// notifyAdapter delivers billing notifications through the notification
// manager. Delivery failures are already recorded by the manager; callers
// treat the whole operation as fire and forget.
type notifyAdapter struct {
	manager *notification.Manager
	log     zerolog.Logger
}

func (a *notifyAdapter) Notify(ctx context.Context, recipients []string, title, message string, data map[string]string) {
	for _, r := range recipients {
		n := &notification.Notification{
			Type:      notification.TypeEmail,
			Recipient: r,
			Subject:   title,
			Body:      message,
		}
		if err := a.manager.Send(ctx, n); err != nil {
			a.log.Warn().Err(err).Str("recipient", r).Msg("notification delivery failed")
		}
	}
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &apiValidator{v: validator.New()}

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Center-Code"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSecret),
		}))
	}

	// Center (schema) routing
	e.Use(db.CenterMiddleware(pool, cfg.DefaultCenter))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")

	// Shared platform services
	gen := invoice.NewGenerator(cfg.InvoicePrefix)
	notifyManager := notification.NewManager(
		&notification.MockEmailSender{},
		&notification.MockSMSSender{},
		notification.NewTemplateEngine(),
	)
	notifier := &notifyAdapter{manager: notifyManager, log: logger}

	// Audit trail
	logSvc := paymentlog.NewService(paymentlog.NewRepoPG(pool))
	paymentlog.NewHandler(logSvc).RegisterRoutes(apiV1)

	txnSvc := transaction.NewService(transaction.NewRepoPG(pool))
	transaction.NewHandler(txnSvc).RegisterRoutes(apiV1)

	txnAdapter := &transactionAdapter{txns: txnSvc}

	// Lab test billing
	labSvc := labbilling.NewService(
		labbilling.NewRequestRepoPG(pool),
		labbilling.NewBillRepoPG(pool),
		gen,
		&labAuditAdapter{logs: logSvc},
		txnAdapter,
		notifier,
		logger,
	)
	labbilling.NewHandler(labSvc).RegisterRoutes(apiV1)

	// Encounter billing
	encSvc := encounterbilling.NewService(
		encounterbilling.NewItemRepoPG(pool),
		encounterbilling.NewProfileRepoPG(pool),
		gen,
		encounterbilling.FeeConfig{
			OPFee:              cfg.OPFee(),
			IPFee:              cfg.IPFee(),
			FollowupWindowDays: cfg.FollowupWindowDays,
		},
		&encounterAuditAdapter{logs: logSvc},
		txnAdapter,
		notifier,
		logger,
	)
	encounterbilling.NewHandler(encSvc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
