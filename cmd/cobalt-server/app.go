package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/config"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/domain/directory"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/domain/screening"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/alert"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/db"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/notification"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/phone"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/migrations"
)

// store is the driver-specific half of the wiring.
type store struct {
	tx        db.Transactor
	sessions  screening.SessionRepository
	directory directory.Repository
	health    db.HealthCheck
	close     func()
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath, migrations.SQLiteSchema)
		if err != nil {
			return nil, err
		}
		return &store{
			tx:        db.NewSQLTransactor(sqlDB),
			sessions:  screening.NewSessionRepoSQLite(sqlDB),
			directory: directory.NewRepoSQLite(sqlDB),
			health:    db.SQLHealthCheck(sqlDB),
			close:     func() { sqlDB.Close() },
		}, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &store{
			tx:        db.NewPGTransactor(pool),
			sessions:  screening.NewSessionRepoPG(pool),
			directory: directory.NewRepoPG(pool),
			health:    db.PGHealthCheck(pool),
			close:     pool.Close,
		}, nil
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

func newAlerts(cfg *config.Config, logger zerolog.Logger) (alert.Reporter, error) {
	reporters := alert.Multi{alert.NewLogReporter(logger)}
	if cfg.AlertTelegramToken != "" {
		tg, err := alert.NewTelegramReporter(cfg.AlertTelegramToken, cfg.AlertTelegramChat, "", 0, logger)
		if err != nil {
			return nil, err
		}
		reporters = append(reporters, tg)
	}
	return reporters, nil
}

func newMessages(cfg *config.Config, logger zerolog.Logger) *notification.Manager {
	var email notification.EmailSender = notification.NewLogSender(logger)
	if cfg.SMTPEnabled() {
		email = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	// No SMS gateway is configured in any environment yet.
	sms := notification.NewLogSender(logger)
	return notification.NewManager(email, sms, notification.NewTemplateEngine(), logger, 0)
}

// app holds every long-lived component a command may need.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	store     *store
	directory *directory.Service
	messages  *notification.Manager
	alerts    alert.Reporter
	screening *screening.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}

	alerts, err := newAlerts(cfg, logger)
	if err != nil {
		st.close()
		return nil, err
	}

	catalog, err := screening.DefaultCatalog()
	if err != nil {
		st.close()
		return nil, fmt.Errorf("load screening catalog: %w", err)
	}

	phones := phone.NewFormatter(cfg.DefaultPhoneRegion)
	dirSvc := directory.NewService(st.directory, phones)
	messages := newMessages(cfg, logger)
	notifier := screening.NewCrisisNotifier(
		dirSvc, dirSvc, messages, phones, alerts, catalog, logger,
	)
	svc := screening.NewService(catalog, st.sessions, st.tx, dirSvc, notifier, alerts, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		directory: dirSvc,
		messages:  messages,
		alerts:    alerts,
		screening: svc,
	}, nil
}

func (a *app) Close() {
	a.store.close()
}
