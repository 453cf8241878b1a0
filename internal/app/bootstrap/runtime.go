// Package bootstrap wires configuration into the components shared by the
// API and worker binaries.
package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/odontosorriso/scheduling-agent/internal/config"
	"github.com/odontosorriso/scheduling-agent/internal/conversation"
	"github.com/odontosorriso/scheduling-agent/internal/idempotency"
	"github.com/odontosorriso/scheduling-agent/internal/observability/metrics"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// Runtime holds the process-wide clients every component is built from.
// Redis, Pool and SQL are nil when not configured.
type Runtime struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Metrics  *metrics.SchedulingMetrics
	AWS      aws.Config
	Redis    *redis.Client
	Pool     *pgxpool.Pool
	SQL      *sql.DB
	Location *time.Location
}

// Close releases the connections opened by the runtime.
func (rt *Runtime) Close() {
	if rt.SQL != nil {
		_ = rt.SQL.Close()
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// OpenDatabases connects the pgx pool used by appointments, idempotency and
// the dead-letter table, and a database/sql handle on the lib/pq driver used
// by the customer repository.
func OpenDatabases(ctx context.Context, databaseURL string) (*pgxpool.Pool, *sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil, nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return pool, db, nil
}

// BuildStateStore selects the conversation state backend.
func BuildStateStore(rt *Runtime) (conversation.StateStore, error) {
	switch rt.Config.StateBackend {
	case "dynamodb":
		client := dynamodb.NewFromConfig(rt.AWS)
		return conversation.NewDynamoStateStore(client, rt.Config.ConversationStateTable, nil), nil
	case "", "redis":
		if rt.Redis == nil {
			return nil, fmt.Errorf("bootstrap: STATE_BACKEND=redis requires REDIS_ADDR")
		}
		return conversation.NewRedisStateStore(rt.Redis, nil), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown STATE_BACKEND %q", rt.Config.StateBackend)
	}
}

// BuildStateManager wraps the configured store with the fail-open manager.
func BuildStateManager(rt *Runtime) (*conversation.Manager, error) {
	store, err := BuildStateStore(rt)
	if err != nil {
		return nil, err
	}
	opts := []conversation.ManagerOption{conversation.WithTTL(rt.Config.ConversationTTL)}
	if rt.Metrics != nil {
		opts = append(opts, conversation.WithFailureRecorder(rt.Metrics))
	}
	return conversation.NewManager(store, rt.Logger, opts...), nil
}

// BuildIdempotencyStore returns nil when the chosen backend is unavailable;
// the webhook then accepts every message.
func BuildIdempotencyStore(rt *Runtime) idempotency.Store {
	switch rt.Config.IdempotencyBackend {
	case "postgres":
		if rt.Pool == nil {
			rt.Logger.Warn("idempotency backend postgres selected without DATABASE_URL; duplicates will not be detected")
			return nil
		}
		return idempotency.NewPostgresStore(rt.Pool, rt.Logger)
	default:
		if rt.Redis == nil {
			rt.Logger.Warn("redis unavailable; duplicates will not be detected")
			return nil
		}
		return idempotency.NewRedisStore(rt.Redis, rt.Config.IdempotencyTTL, rt.Logger)
	}
}

// NewRuntime opens the shared clients. Redis and Postgres are optional here;
// components that need them report the missing dependency when built.
func NewRuntime(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, awsCfg aws.Config, m *metrics.SchedulingMetrics) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		AWS:      awsCfg,
		Location: ClinicLocation(cfg.ClinicTimezone),
	}
	rt.Redis = BuildRedisClient(ctx, cfg, logger, true)

	pool, db, err := OpenDatabases(ctx, cfg.DatabaseURL)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Pool, rt.SQL = pool, db
	if pool == nil {
		logger.Warn("DATABASE_URL not set; customers, appointments and the dead-letter table are unavailable")
	}
	return rt, nil
}
