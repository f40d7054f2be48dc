package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"taskos/internal/analytics"
	"taskos/internal/config"
	"taskos/internal/db"
	"taskos/internal/events"
	"taskos/internal/ledger"
	"taskos/internal/lock"
	"taskos/internal/reassign"
	"taskos/internal/task"

	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
)

// App holds the services of one process. Backends are picked from config:
// Postgres, Redis and Pub/Sub when configured, in-process otherwise.
type App struct {
	Config config.Config
	Log    *slog.Logger

	Bus       events.Bus
	Tasks     *task.Service
	Ledger    *ledger.Ledger
	Payouts   *ledger.PayoutRunner
	Analytics *analytics.Aggregator
	Reassign  *reassign.Service
	Directory reassign.Directory

	ledgerReactor *ledger.Reactor
	userReactor   *reassign.UserReactor
	closers       []func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Log: logger}

	var (
		taskStore      task.Store
		ledgerStore    ledger.Store
		directory      reassign.Directory
		locks          lock.Locker
		analyticsStore analytics.Store
	)

	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.AppName, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := db.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		taskStore = task.NewPgStore(pool)
		ledgerStore = ledger.NewPgStore(pool)
		directory = reassign.NewPgDirectory(pool)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		taskStore = task.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		directory = reassign.NewMemoryDirectory()
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		locks = lock.NewRedis(rdb, "taskos:lock:", cfg.LockTTL, logger)
		analyticsStore = analytics.NewRedisStore(rdb, "taskos:analytics:")
	} else {
		locks = lock.NewKeyed()
		analyticsStore = analytics.NewMemoryStore()
	}

	if cfg.PubSubProjectID != "" {
		opts := events.PubSubOptions{Replay: cfg.PubSubReplay}
		if cfg.PubSubCredsJSON != "" {
			opts.ClientOptions = append(opts.ClientOptions, option.WithCredentialsJSON([]byte(cfg.PubSubCredsJSON)))
		}
		ps, err := events.NewPubSub(ctx, cfg.PubSubProjectID, logger, opts)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = ps.Close() })
		a.Bus = ps
	} else {
		a.Bus = events.NewMemoryBus(logger)
	}

	a.Directory = directory
	a.Tasks = task.NewService(taskStore, task.NewBusPublisher(a.Bus, cfg.Topics.Tasks), locks, logger)
	a.Ledger = ledger.New(ledgerStore, cfg.Location, logger)
	a.Payouts = ledger.NewPayoutRunner(a.Ledger, a.Bus, cfg.Topics.Accounting, logger)
	a.Analytics = analytics.NewAggregator(analyticsStore, cfg.Location, logger)
	a.Reassign = reassign.NewService(a.Tasks, reassign.NewStrategy(directory, cfg.ReassignSeed), a.Bus, cfg.Topics.Reassign, locks, logger)
	a.ledgerReactor = ledger.NewReactor(a.Ledger, a.Bus, cfg.Topics.Accounting, logger)
	a.userReactor = reassign.NewUserReactor(directory, logger)
	return a, nil
}

type consumer struct {
	topic string
	group string
	h     events.Handler
}

func (a *App) consumers() []consumer {
	t := a.Config.Topics
	return []consumer{
		{topic: t.Users, group: "directory", h: a.userReactor.Handle},
		{topic: t.Tasks, group: "ledger", h: a.ledgerReactor.Handle},
		{topic: t.Tasks, group: "analytics", h: a.Analytics.HandleTaskEvent},
		{topic: t.Accounting, group: "analytics", h: a.Analytics.HandleBalance},
		{topic: t.Reassign, group: "reassign", h: a.Reassign.Handle},
	}
}

// RunConsumers subscribes every reactor and blocks until ctx is done.
func (a *App) RunConsumers(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range a.consumers() {
		wg.Add(1)
		go func(c consumer) {
			defer wg.Done()
			if err := a.Bus.Subscribe(ctx, c.topic, c.group, c.h); err != nil && ctx.Err() == nil {
				a.Log.Error("consumer stopped", "topic", c.topic, "group", c.group, "err", err)
			}
		}(c)
	}
	wg.Wait()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
