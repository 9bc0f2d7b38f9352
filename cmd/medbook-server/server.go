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
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/config"
	"github.com/medbook/medbook/internal/domain/clinic"
	"github.com/medbook/medbook/internal/domain/notification"
	"github.com/medbook/medbook/internal/domain/reminder"
	"github.com/medbook/medbook/internal/domain/trigger"
	"github.com/medbook/medbook/internal/platform/async"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/db"
	"github.com/medbook/medbook/internal/platform/delivery"
	"github.com/medbook/medbook/internal/platform/metrics"
	"github.com/medbook/medbook/internal/platform/middleware"
	"github.com/medbook/medbook/internal/platform/websocket"
)

// app holds the wired components shared by the server and the one-shot
// reminder command.
type app struct {
	hub                 *websocket.Hub
	runner              *async.Runner
	notifications       *notification.Service
	clinic              *clinic.Service
	appointmentReminder *reminder.AppointmentReminder
	medicineReminder    *reminder.MedicineReminderJob
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, rdb *redis.Client) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	repos := clinic.Repos{
		Users:         clinic.NewUserRepoPG(pool),
		Patients:      clinic.NewPatientRepoPG(pool),
		Doctors:       clinic.NewDoctorRepoPG(pool),
		Appointments:  clinic.NewAppointmentRepoPG(pool),
		Prescriptions: clinic.NewPrescriptionRepoPG(pool),
		LabOrders:     clinic.NewLabOrderRepoPG(pool),
		Ratings:       clinic.NewRatingRepoPG(pool),
		Medicines:     clinic.NewMedicineRepoPG(pool),
		Settings:      clinic.NewSettingsRepoPG(pool),
	}

	emailSender, err := newEmailSender(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	smsSender, err := newSMSSender(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	runner := async.NewRunner(cfg.TriggerWorkers, cfg.TriggerTimeout, async.LogSink(logger))

	// Notifications: persist, then fan out to live sockets and email/SMS on
	// the runner so deliveries never hold up writes or reminder sweeps.
	store := notification.NewStorePG(pool)
	hub := websocket.NewHub(logger)
	relay := delivery.NewRelay(clinic.NewContactBook(repos.Users, repos.Settings), emailSender, smsSender, logger).
		WithRetry(3, 2*time.Second)
	dispatcher := notification.NewDispatcher(store, logger, websocket.NewPublisher(hub), relay).
		WithRunner(runner)

	library := trigger.NewLibrary(dispatcher, repos.Users, cfg.DateLayout, logger)

	a := &app{
		hub:           hub,
		runner:        runner,
		notifications: notification.NewService(store),
		clinic:        clinic.NewService(repos, clinic.PoolTx(pool), library, runner),
		appointmentReminder: reminder.NewAppointmentReminder(repos.Appointments, library, reminderGuard(rdb),
			reminder.AppointmentReminderConfig{
				Hour:     cfg.ReminderHour,
				Location: loc,
				Interval: cfg.DailyReminderInterval,
			}, logger),
		medicineReminder: reminder.NewMedicineReminderJob(repos.Medicines, repos.Settings, library,
			reminder.MedicineReminderConfig{
				Interval: cfg.MedicineReminderInterval,
				Window:   cfg.MedicineDueWindow,
				Location: loc,
			}, logger),
	}
	return a, nil
}

// newEmailSender picks the outbound mail transport from MAIL_PROVIDER.
func newEmailSender(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (delivery.EmailSender, error) {
	switch cfg.MailProvider {
	case "ses":
		s, err := delivery.NewSESSender(ctx, cfg.AWSRegion, cfg.MailFrom)
		if err != nil {
			return nil, fmt.Errorf("init ses: %w", err)
		}
		return s, nil
	case "smtp":
		return delivery.NewSMTPSender(delivery.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.MailFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}), nil
	case "", "log":
		return delivery.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.MailProvider)
	}
}

// newSMSSender uses SNS when SMS_ENABLED is set and logs messages otherwise.
func newSMSSender(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (delivery.SMSSender, error) {
	if !cfg.SMSEnabled {
		return delivery.NewLogSender(logger), nil
	}
	s, err := delivery.NewSNSSender(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("init sns: %w", err)
	}
	return s, nil
}

// newRedisClient returns nil when url is empty.
func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// reminderGuard shares the daily claim through Redis when available so that
// only one replica sends the digest.
func reminderGuard(rdb *redis.Client) reminder.GuardStore {
	if rdb == nil {
		return reminder.NewMemoryGuard()
	}
	return reminder.NewRedisGuard(rdb, reminder.DefaultGuardKey)
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.JWTSigningKey),
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func newRouter(cfg *config.Config, logger zerolog.Logger, a *app, health echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Role"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if health != nil {
		e.GET("/health/db", health)
	}
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	rateLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})

	public := e.Group("/api/v1", rateLimit)
	api := e.Group("/api/v1", rateLimit, authMiddleware(cfg))

	clinicHandler := clinic.NewHandler(a.clinic)
	clinicHandler.RegisterPublicRoutes(public)
	clinicHandler.RegisterRoutes(api)
	notification.NewHandler(a.notifications).RegisterRoutes(api)

	websocket.SetAllowedOrigins(cfg.CORSOrigins)
	websocket.NewHandler(a.hub, logger).RegisterRoutes(api.Group("/notifications"))

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil, os.Stdout)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis is optional; without it the daily reminder guard is per process.
	rdb, err := newRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	var checks []db.Check
	if rdb != nil {
		defer rdb.Close()
		checks = append(checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info().Msg("connected to redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set, daily reminder guard is in-process only")
	}

	a, err := buildApp(ctx, cfg, logger, pool, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire application")
	}

	a.appointmentReminder.Start(ctx)
	a.medicineReminder.Start(ctx)
	logger.Info().
		Int("reminder_hour", cfg.ReminderHour).
		Str("timezone", cfg.ReminderTimezone).
		Dur("medicine_interval", cfg.MedicineReminderInterval).
		Msg("reminder jobs started")

	e := newRouter(cfg, logger, a, db.HealthHandler(pool, checks...))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	a.runner.Close(10 * time.Second)
	logger.Info().Msg("server stopped")
	return nil
}
