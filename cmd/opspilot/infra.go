package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/OpsPilot/internal/adapter/catalogapi"
	"github.com/Strob0t/OpsPilot/internal/adapter/catalogfile"
	ophttp "github.com/Strob0t/OpsPilot/internal/adapter/http"
	"github.com/Strob0t/OpsPilot/internal/adapter/loopback"
	"github.com/Strob0t/OpsPilot/internal/adapter/memkv"
	opnats "github.com/Strob0t/OpsPilot/internal/adapter/nats"
	"github.com/Strob0t/OpsPilot/internal/adapter/natskv"
	"github.com/Strob0t/OpsPilot/internal/adapter/postgres"
	opredis "github.com/Strob0t/OpsPilot/internal/adapter/redis"
	opristretto "github.com/Strob0t/OpsPilot/internal/adapter/ristretto"
	"github.com/Strob0t/OpsPilot/internal/adapter/targetapi"
	"github.com/Strob0t/OpsPilot/internal/adapter/tiered"
	"github.com/Strob0t/OpsPilot/internal/adapter/ws"
	"github.com/Strob0t/OpsPilot/internal/config"
	catalogport "github.com/Strob0t/OpsPilot/internal/port/catalog"
	"github.com/Strob0t/OpsPilot/internal/port/channel"
	"github.com/Strob0t/OpsPilot/internal/port/kvstore"
	"github.com/Strob0t/OpsPilot/internal/resilience"
	"github.com/Strob0t/OpsPilot/internal/service"
)

const (
	catalogTimeout = 10 * time.Second
	l1Expire       = 5 * time.Minute
	purgeInterval  = time.Hour
)

// infra owns the connections selected by the config and releases them in
// reverse order of creation.
type infra struct {
	cfg     *config.Config
	queue   *opnats.Queue
	closers []func()
	checks  map[string]ophttp.HealthCheck
}

func newInfra(cfg *config.Config) *infra {
	return &infra{cfg: cfg, checks: make(map[string]ophttp.HealthCheck)}
}

func (in *infra) onClose(fn func()) {
	in.closers = append(in.closers, fn)
}

func (in *infra) close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
}

// nats connects once; the channel and the snapshot bucket share the connection.
func (in *infra) nats(ctx context.Context) (*opnats.Queue, error) {
	if in.queue != nil {
		return in.queue, nil
	}
	q, err := opnats.Connect(ctx, in.cfg.NATS, in.cfg.Channel.SubjectPrefix)
	if err != nil {
		return nil, err
	}
	in.queue = q
	in.onClose(func() {
		if err := q.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
	})
	in.checks["nats"] = func(context.Context) error {
		if !q.IsConnected() {
			return errors.New("disconnected")
		}
		return nil
	}
	return q, nil
}

func (in *infra) channel(ctx context.Context) (channel.Channel, error) {
	var (
		ch  channel.Channel
		err error
	)
	switch in.cfg.Channel.Transport {
	case config.TransportWebSocket:
		ch, err = ws.Dial(ctx, in.cfg.Channel)
	case config.TransportNATS:
		var q *opnats.Queue
		if q, err = in.nats(ctx); err == nil {
			ch, err = opnats.NewChannel(ctx, q, in.cfg.Channel.SubjectPrefix)
		}
	case config.TransportLoopback:
		slog.Warn("loopback transport: no engine is attached, pipelines will time out")
		ch = loopback.New(nil)
	default:
		err = fmt.Errorf("unknown transport %q", in.cfg.Channel.Transport)
	}
	if err != nil {
		return nil, err
	}
	in.onClose(func() { _ = ch.Close() })
	slog.Info("engine channel ready", "transport", in.cfg.Channel.Transport)
	return ch, nil
}

func (in *infra) snapshotStore(ctx context.Context) (kvstore.Store, error) {
	cfg := in.cfg.Snapshots
	switch cfg.Backend {
	case config.BackendMemory:
		return memkv.New(cfg.TTL), nil

	case config.BackendNATS:
		q, err := in.nats(ctx)
		if err != nil {
			return nil, err
		}
		kv, err := q.KeyValue(ctx, cfg.Bucket, cfg.TTL)
		if err != nil {
			return nil, err
		}
		l1, err := opristretto.New(cfg.L1MaxSizeMB << 20)
		if err != nil {
			return nil, err
		}
		in.onClose(l1.Close)
		slog.Info("snapshot store: nats kv with in-process l1", "bucket", cfg.Bucket, "l1_mb", cfg.L1MaxSizeMB)
		return tiered.New(l1, natskv.New(kv), l1Expire), nil

	case config.BackendRedis:
		s, err := opredis.Connect(ctx, in.cfg.Redis)
		if err != nil {
			return nil, err
		}
		in.onClose(func() { _ = s.Close() })
		in.checks["redis"] = s.Ping
		return s, nil

	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, in.cfg.Postgres)
		if err != nil {
			return nil, err
		}
		in.onClose(pool.Close)
		if err := postgres.RunMigrations(ctx, in.cfg.Postgres.DSN); err != nil {
			return nil, err
		}
		in.checks["postgres"] = pool.Ping
		store := postgres.NewStore(pool)
		in.startPurge(store)
		return store, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// startPurge removes expired snapshot rows periodically.
func (in *infra) startPurge(store *postgres.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := store.PurgeExpired(ctx)
				if err != nil {
					slog.Warn("purge expired snapshots", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("expired snapshots purged", "count", n)
				}
			}
		}
	}()
	in.onClose(func() {
		cancel()
		<-done
	})
}

func (in *infra) breaker() *resilience.Breaker {
	return resilience.NewBreaker(in.cfg.Breaker.MaxFailures, in.cfg.Breaker.Timeout)
}

func (in *infra) preflightEngine(router *service.Router, ch channel.Channel) (service.PreflightEngine, error) {
	if in.cfg.Validation.Engine == config.EngineRemote {
		return service.NewRemotePreflightEngine(ch), nil
	}
	targets := targetapi.NewClient(in.cfg.Target.URL, in.cfg.Target.Timeout)
	targets.SetBreaker(in.breaker())
	return service.NewLocalPreflightEngine(router, targets, in.cfg.Validation.Concurrency)
}

// catalog returns nil when neither a catalog URL nor a file is configured.
func (in *infra) catalog() (catalogport.Lookup, error) {
	cfg := in.cfg.Catalog
	switch {
	case cfg.URL != "":
		c := catalogapi.NewClient(cfg.URL, catalogTimeout)
		c.SetBreaker(in.breaker())
		slog.Info("catalog: http", "url", cfg.URL)
		return c, nil
	case cfg.File != "":
		c, err := catalogfile.Load(cfg.File)
		if err != nil {
			return nil, err
		}
		slog.Info("catalog: file", "path", cfg.File, "automations", c.Len())
		return c, nil
	}
	slog.Info("catalog disabled")
	return nil, nil
}
