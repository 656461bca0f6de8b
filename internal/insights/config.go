package insights

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"

	"github.com/barnapet/smartdrive/internal/insights/archive"
	"github.com/barnapet/smartdrive/internal/insights/battery"
	"github.com/barnapet/smartdrive/internal/insights/queue"
	"github.com/barnapet/smartdrive/internal/insights/store"
	"github.com/barnapet/smartdrive/internal/insights/temperature"
	"github.com/barnapet/smartdrive/internal/insights/weather"
	"github.com/barnapet/smartdrive/pkg/log"
	"github.com/barnapet/smartdrive/pkg/options"
)

type Config struct {
	AmqpOptions       *options.AmqpOptions
	PostgresOptions   *options.PostgresOptions
	RedisOptions      *options.RedisOptions
	S3Options         *options.S3Options
	WeatherOptions    *options.WeatherOptions
	EvaluationOptions *EvaluationOptions

	// Clock defaults to the real clock.
	Clock clock.Clock
}

// Worker owns the service and every connection it holds.
type Worker struct {
	Service  *Service
	Consumer *queue.Consumer

	archive archive.Archive
	closers []func() error
}

// NewWorker connects the backing services. Postgres, Redis and S3 are
// optional: without them verdicts and weather readings stay in memory and raw
// windows are not archived.
func (cfg *Config) NewWorker(ctx context.Context) (_ *Worker, err error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	w := &Worker{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, w.Close())
		}
	}()

	evaluator, err := battery.NewEvaluator(cfg.EvaluationOptions.BatteryConfig())
	if err != nil {
		return nil, err
	}

	st, err := cfg.initStore(ctx)
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, st.Close)

	provider, err := cfg.initWeather(ctx, w)
	if err != nil {
		return nil, err
	}

	svcOpts := []ServiceOption{WithClock(cfg.Clock), WithCrankingConfig(cfg.EvaluationOptions.Cranking.Config())}
	if cfg.S3Options.Enabled {
		a, err := archive.NewMinIO(cfg.S3Options)
		if err != nil {
			return nil, err
		}
		if err := a.CheckBucket(ctx); err != nil {
			return nil, err
		}
		w.archive = a
		svcOpts = append(svcOpts, WithArchive(a))
	}
	if cfg.AmqpOptions.VerdictExchange != "" {
		p := queue.NewPublisher(cfg.AmqpOptions.URL, cfg.AmqpOptions.VerdictExchange)
		w.closers = append(w.closers, p.Close)
		svcOpts = append(svcOpts, WithPublisher(p))
	}

	w.Service, err = NewService(
		evaluator,
		cfg.EvaluationOptions.Debounce(),
		temperature.NewResolver(provider),
		st,
		cfg.EvaluationOptions.Strategy,
		svcOpts...,
	)
	if err != nil {
		return nil, err
	}
	w.Consumer = queue.NewConsumer(cfg.AmqpOptions, w.Service.Handle)
	return w, nil
}

func (cfg *Config) initStore(ctx context.Context) (store.InsightStore, error) {
	if cfg.PostgresOptions.DSN == "" {
		log.Warn("No postgres dsn configured, keeping insights in memory")
		return store.NewMemory(), nil
	}
	pool, err := store.NewPool(ctx, cfg.PostgresOptions)
	if err != nil {
		return nil, err
	}
	pg := store.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pg, nil
}

// initWeather returns nil when external lookups are disabled.
func (cfg *Config) initWeather(ctx context.Context, w *Worker) (weather.Provider, error) {
	if !cfg.WeatherOptions.Enabled {
		return nil, nil
	}
	client := weather.NewOpenMeteo(cfg.WeatherOptions.BaseURL, cfg.WeatherOptions.Timeout, cfg.WeatherOptions.Retries)

	var kv weather.KVStore
	if cfg.RedisOptions.Addr == "" {
		kv = weather.NewMemoryKV(cfg.Clock)
	} else {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisOptions.Addr,
			Password: cfg.RedisOptions.Password,
			DB:       cfg.RedisOptions.DB,
		})
		w.closers = append(w.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("cannot reach redis at %s: %w", cfg.RedisOptions.Addr, err)
		}
		kv = weather.NewRedisKV(rdb)
	}
	return weather.NewCache(client, kv, cfg.WeatherOptions.CacheTTL), nil
}

// RegisterRoutes mounts the query API on r.
func (w *Worker) RegisterRoutes(r *mux.Router) {
	RegisterRoutes(r, w.Service, w.archive)
}

// Ready reports whether the worker is consuming.
func (w *Worker) Ready() error {
	if w.Consumer == nil || !w.Consumer.Connected() {
		return errors.New("amqp consumer not connected")
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (w *Worker) Close() error {
	var err error
	for i := len(w.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, w.closers[i]())
	}
	w.closers = nil
	return err
}
