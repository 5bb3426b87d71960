// Package app assembles the portal's runtime from configuration. It is shared by
// the portal server and portalctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"talencor/pkg/bus"
	"talencor/pkg/db"
	"talencor/pkg/render"
	gos3 "talencor/pkg/s3"
	"talencor/services/portal/internal/audit"
	"talencor/services/portal/internal/config"
	"talencor/services/portal/internal/events"
	"talencor/services/portal/internal/intake"
	"talencor/services/portal/internal/notify"
	"talencor/services/portal/internal/store"
)

// NewLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func NewLogger(cfg config.Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var w io.Writer = out
	if cfg.LogFormat != "json" {
		w = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "talencor-portal").Logger()
}

// Runtime holds the long-lived dependencies.
type Runtime struct {
	Config   config.Config
	Log      zerolog.Logger
	Store    store.Store
	Pool     *pgxpool.Pool
	Recorder audit.Store
	Files    *intake.Intake

	closers []func()
}

// Open connects the stores and storage backend. An empty DB_DSN selects the
// in-memory stores.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Log: log}

	if err := rt.openStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	backend, err := NewBackend(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Files, err = intake.New(backend,
		intake.WithPolicy(intake.Policy{MaxBytes: cfg.UploadMaxBytes, MaxFiles: cfg.UploadMaxFiles}),
		intake.WithLogger(log),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) error {
	if rt.Config.DBDSN == "" {
		rt.Log.Warn().Msg("DB_DSN not set; using in-memory stores")
		rt.Store = store.NewMemory()
		rt.Recorder = &audit.MemoryRecorder{}
		return nil
	}

	pool, err := db.Open(ctx, rt.Config.DBDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	rt.Pool = pool
	rt.closers = append(rt.closers, pool.Close)

	if rt.Config.AutoMigrate {
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		for _, name := range applied {
			rt.Log.Info().Str("migration", name).Msg("applied migration")
		}
	}

	orm, err := db.OpenORM(pool)
	if err != nil {
		return fmt.Errorf("open orm: %w", err)
	}
	pg, err := store.NewPostgres(pool, orm)
	if err != nil {
		return err
	}
	rt.Store = pg

	rec, err := audit.NewPgxRecorder(pool)
	if err != nil {
		return err
	}
	rt.Recorder = rec
	return nil
}

// NewBackend selects the upload storage backend, sealed with age when
// AGE_RECIPIENTS and AGE_IDENTITY are set.
func NewBackend(cfg config.Config) (intake.Backend, error) {
	var (
		backend intake.Backend
		err     error
	)
	switch cfg.StorageBackend {
	case config.StorageMemory, "":
		backend = intake.NewMemoryBackend()
	case config.StorageLocal:
		backend, err = intake.NewLocalBackend(cfg.StorageDir)
	case config.StorageS3:
		var client *gos3.Client
		client, err = gos3.NewClientFromEnv()
		if err == nil {
			backend, err = intake.NewS3Backend(client, cfg.S3Bucket)
		}
	default:
		err = fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("storage backend: %w", err)
	}

	if cfg.Sealed() {
		sealed, err := intake.NewSealed(backend, cfg.AgeRecipients, cfg.AgeIdentity)
		if err != nil {
			return nil, err
		}
		return sealed, nil
	}
	return backend, nil
}

// Events is the event plumbing: JetStream when NATS_URL is set, otherwise an
// in-process dispatcher.
type Events struct {
	Publisher  events.Publisher
	Subscriber events.Subscriber
	Ready      func(context.Context) error
	Close      func()
}

func OpenEvents(cfg config.Config, log zerolog.Logger) (*Events, error) {
	if cfg.NATSURL == "" {
		local := events.NewLocal(log, 0)
		return &Events{
			Publisher:  local,
			Subscriber: local,
			Ready:      func(context.Context) error { return nil },
			Close:      local.Close,
		}, nil
	}

	b, err := bus.New(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if err := b.EnsureStream(events.Stream, events.Subjects()...); err != nil {
		b.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return &Events{
		Publisher:  events.NewBusPublisher(b),
		Subscriber: b,
		Ready: func(context.Context) error {
			if !b.Healthy() {
				return errors.New("nats disconnected")
			}
			return nil
		},
		Close: b.Close,
	}, nil
}

// Consumers are the event subscribers run inside the process: the audit
// ingestor and, when SMTP_HOST is set, the notifier.
type Consumers struct {
	closers []func() error
}

// StartConsumers subscribes the audit ingestor and notifier to ev.
func (rt *Runtime) StartConsumers(ctx context.Context, ev *Events) (*Consumers, error) {
	c := &Consumers{}

	ingestor, err := audit.NewIngestor(ev.Subscriber, rt.Recorder, rt.Log.With().Str("component", "audit").Logger())
	if err != nil {
		return nil, err
	}
	if err := ingestor.Start(ctx); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, ingestor.Close)

	if rt.Config.SMTPHost == "" {
		rt.Log.Info().Msg("SMTP_HOST not set; email notifications disabled")
		return c, nil
	}
	notifier, err := newNotifier(rt.Config, ev.Subscriber, rt.Log.With().Str("component", "notify").Logger())
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := notifier.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.closers = append(c.closers, notifier.Close)
	return c, nil
}

func newNotifier(cfg config.Config, sub events.Subscriber, log zerolog.Logger) (*notify.Notifier, error) {
	mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:               cfg.SMTPHost,
		Port:               cfg.SMTPPort,
		Username:           cfg.SMTPUser,
		Password:           cfg.SMTPPassword,
		From:               cfg.SMTPFrom,
		InsecureSkipVerify: cfg.SMTPInsecure,
	})
	if err != nil {
		return nil, err
	}
	engine, err := render.New()
	if err != nil {
		return nil, err
	}
	return notify.NewNotifier(sub, mailer, engine, cfg.PublicBaseURL, log)
}

// Close unsubscribes every consumer.
func (c *Consumers) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
	c.closers = nil
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
