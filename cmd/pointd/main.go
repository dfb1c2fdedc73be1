/*
main.go - pointd entry point

PURPOSE:
  Command line for the point engine: run the HTTP server, run a one-off
  expiration sweep, or inspect and change policy values.

COMMANDS:
  pointd serve                     HTTP API + expiration scheduler
  pointd expire [--date D]         One sweep, then exit
  pointd policy                    Print policy values
  pointd policy set KEY VALUE      Persist one policy value

CONFIGURATION:
  --config points at a YAML file; POINT_* environment variables override
  it. See config/config.go for the full list.

STARTUP SEQUENCE (shared by all commands):
  1. Load configuration and build the logger
  2. Install tracing
  3. Open the store and load persisted policy values over the configured ones
  4. Pick the lock backend (in-process or Redis)
  5. Attach the Kafka publisher when brokers are configured
  6. Build point.Service

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/warp/point-engine/config"
	"github.com/warp/point-engine/events"
	"github.com/warp/point-engine/lock/redislock"
	"github.com/warp/point-engine/logging"
	"github.com/warp/point-engine/metrics"
	"github.com/warp/point-engine/point"
	"github.com/warp/point-engine/store/sqlite"
	"github.com/warp/point-engine/tracing"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "pointd",
	Short:         "Per-user point ledger engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pointd:", err)
		os.Exit(1)
	}
}

// app is everything a command needs, built from configuration.
type app struct {
	cfg       config.Config
	log       zerolog.Logger
	store     *sqlite.Store
	policy    *point.MemoryPolicy
	recorder  *metrics.Recorder
	service   *point.Service
	tracer    *sdktrace.TracerProvider
	redis     *redis.Client
	publisher *events.KafkaPublisher
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logging.New(cfg.Log, cfg.Tracing.ServiceName)}

	a.tracer, err = tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a.store, err = sqlite.New(cfg.Database.Path, sqlite.WithDriver(cfg.Database.Driver))
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.policy = point.NewMemoryPolicy()
	if err := a.policy.Load(cfg.Policy.Values()); err != nil {
		a.close(ctx)
		return nil, err
	}
	stored, err := a.store.PolicySettings(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := a.policy.Load(stored); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("stored policy: %w", err)
	}

	a.recorder = metrics.NewDefault()
	opts := []point.Option{
		point.WithLogger(a.log),
		point.WithRecorder(a.recorder),
	}

	if cfg.Lock.Backend == config.LockRedis {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Lock.RedisAddr, err)
		}
		opts = append(opts, point.WithLocker(redislock.New(a.redis, cfg.Lock.TTL, redislock.WithLogger(a.log))))
	}

	if cfg.Kafka.Enabled() {
		a.publisher = events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		opts = append(opts, point.WithPublisher(a.publisher))
	}

	a.service = point.NewService(a.store, a.policy, opts...)
	a.log.Info().
		Str("db", cfg.Database.Path).
		Str("driver", cfg.Database.Driver).
		Str("lock", cfg.Lock.Backend).
		Bool("kafka", cfg.Kafka.Enabled()).
		Str("policy", a.policy.String()).
		Msg("point engine ready")
	return a, nil
}

func (a *app) close(ctx context.Context) {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, tracing.Shutdown(ctx, a.tracer))
	if err := errors.Join(errs...); err != nil {
		a.log.Warn().Err(err).Msg("shutdown")
	}
}
