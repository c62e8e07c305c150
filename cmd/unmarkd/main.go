// Command unmarkd runs the watermark-removal worker and answers operator
// queries against its stores.
//
// Usage:
//
//	unmarkd -config /etc/unmark/unmark.yaml
//	unmarkd -config /etc/unmark/unmark.yaml dlq replay -task task_123
//
// Every setting can also come from the environment, e.g.
// UNMARK_VENDOR_API_KEY or UNMARK_QUEUE_BACKEND=redis. The durable
// profile consumes queue jobs (Postgres or Redis), optionally fed by a
// Kafka intake topic. The inline profile polls PENDING task rows directly.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/unmark"
	audithook "github.com/xraph/unmark/audit_hook"
	"github.com/xraph/unmark/engine"
	"github.com/xraph/unmark/ext"
	"github.com/xraph/unmark/inline"
	"github.com/xraph/unmark/intake"
	"github.com/xraph/unmark/job"
	"github.com/xraph/unmark/internal/config"
	"github.com/xraph/unmark/observability"
	"github.com/xraph/unmark/poll"
	"github.com/xraph/unmark/remote"
	"github.com/xraph/unmark/removal"
	"github.com/xraph/unmark/settlement"
	"github.com/xraph/unmark/store"
	"github.com/xraph/unmark/store/postgres"
	"github.com/xraph/unmark/store/redis"
)

const (
	shutdownTimeout = 30 * time.Second
	userAgent       = "unmarkd/1"
)

func main() {
	path := flag.String("config", os.Getenv("UNMARK_CONFIG"), "path to a YAML config file")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	cmd, args := "serve", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Read(*path)
	if err == nil {
		if cmd == "serve" {
			err = cfg.Validate()
		} else {
			err = cfg.ValidateStores()
		}
	}
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd != "serve" {
		err = runAdmin(ctx, cfg, logger, cmd, args)
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("unmarkd stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	vendor, err := remote.New(cfg.Vendor.BaseURL, cfg.Vendor.APIKey,
		remote.WithTimeout(cfg.Vendor.Timeout),
		remote.WithRateLimit(cfg.Vendor.RateLimit, cfg.Vendor.Burst),
		remote.WithUserAgent(userAgent),
	)
	if err != nil {
		return err
	}

	pg, err := openPostgres(ctx, cfg, logger)
	if err != nil {
		return err
	}

	switch cfg.Profile {
	case config.ProfileInline:
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		return runInline(ctx, cfg, pg, vendor, logger)
	default:
		s, err := openStore(ctx, cfg, pg, logger)
		if err != nil {
			return err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return err
		}
		return runDurable(ctx, cfg, s, vendor, logger)
	}
}

// runAdmin opens the stores without migrating them and runs one operator
// command, printing to stdout.
func runAdmin(ctx context.Context, cfg *config.Config, logger *slog.Logger, cmd string, args []string) error {
	pg, err := openPostgres(ctx, cfg, logger)
	if err != nil {
		return err
	}
	s, err := openStore(ctx, cfg, pg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	return newAdmin(s, os.Stdout).run(ctx, cmd, args)
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*postgres.Store, error) {
	pg, err := postgres.New(ctx, cfg.Postgres.DSN, postgres.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := pg.Ping(ctx); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	return pg, nil
}

// openStore pairs Postgres task rows with the configured queue backend.
// It closes pg on failure.
func openStore(ctx context.Context, cfg *config.Config, pg *postgres.Store, logger *slog.Logger) (store.Store, error) {
	var s store.Store = pg
	if cfg.Queue.Backend == config.QueueRedis {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s = store.Split(pg, &redisQueue{Store: redis.New(client, redis.WithLogger(logger)), client: client})
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store unreachable: %w", err)
	}
	return s, nil
}

// redisQueue closes the client it was built with.
type redisQueue struct {
	*redis.Store
	client *goredis.Client
}

func (q *redisQueue) Close() error { return q.client.Close() }

func runDurable(ctx context.Context, cfg *config.Config, s store.Store, vendor *remote.Client, logger *slog.Logger) error {
	opts := append(cfg.Pipeline(),
		unmark.WithStore(s),
		unmark.WithLogger(logger),
	)
	p, err := unmark.New(opts...)
	if err != nil {
		_ = s.Close()
		return err
	}

	eng, err := engine.Build(p,
		engine.WithVendor(vendor),
		engine.WithQueueLimits(cfg.QueueLimits(removal.Queue)...),
		engine.WithExtension(audithook.New(audithook.LogRecorder(logger), audithook.WithLogger(logger))),
	)
	if err != nil {
		_ = s.Close()
		return err
	}

	var consumer *intake.Consumer
	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err = intake.New(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic, eng,
			intake.WithLogger(logger),
			intake.WithJobOptions(job.WithMaxAttempts(cfg.Worker.MaxAttempts)),
		)
		if err != nil {
			_ = s.Close()
			return err
		}
	}

	if err := eng.Start(ctx); err != nil {
		if consumer != nil {
			_ = consumer.Close()
		}
		return err
	}
	logger.Info("unmarkd started",
		slog.String("profile", string(config.ProfileDurable)),
		slog.String("queue", cfg.Queue.Backend),
		slog.Bool("intake", consumer != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if consumer != nil {
			errs = append(errs, consumer.Close())
		}
		errs = append(errs, eng.Stop(shutdownCtx))
		return errors.Join(errs...)
	})
	return g.Wait()
}

func runInline(ctx context.Context, cfg *config.Config, pg *postgres.Store, vendor *remote.Client, logger *slog.Logger) error {
	in := cfg.Inline

	hooks := ext.NewRegistry(logger)
	hooks.Register(observability.NewMetricsExtension())
	hooks.Register(audithook.New(audithook.LogRecorder(logger), audithook.WithLogger(logger)))

	settler := settlement.NewManager(pg,
		settlement.WithAmount(cfg.Worker.RefundAmount),
		settlement.WithEmitter(hooks),
		settlement.WithLogger(logger),
	)
	proc := removal.NewProcessor(pg, vendor,
		poll.Simple(in.PollInterval, in.PollAttempts, poll.WithLogger(logger)),
		settler,
		removal.WithEmitter(hooks),
		removal.WithLogger(logger),
	)
	reclaimer := inline.NewReclaimer(pg, in.StuckAfter, hooks, logger)

	d := inline.NewDispatcher(pg, proc, reclaimer,
		inline.WithConcurrency(in.Concurrency),
		inline.WithMaxAttempts(in.MaxAttempts),
		inline.WithInterval(in.Interval),
		inline.WithReclaimSchedule(in.ReclaimSchedule),
		inline.WithLogger(logger),
	)
	if err := d.Start(ctx); err != nil {
		return err
	}
	logger.Info("unmarkd started", slog.String("profile", string(config.ProfileInline)))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := d.Stop(shutdownCtx)
	hooks.EmitShutdown(shutdownCtx)
	return err
}
