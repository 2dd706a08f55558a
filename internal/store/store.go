package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	"github.com/mohammad-safakhou/reportflow/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Store is the Postgres persistence layer for threads, step attempts and
// report sections.
type Store struct {
	DB *sql.DB
}

var (
	metricsOnce    sync.Once
	writeCounter   otelmetric.Int64Counter
	metricsInitErr error
)

func initStoreMetrics() {
	meter := otel.Meter("store")
	writeCounter, metricsInitErr = meter.Int64Counter("store_writes_total",
		otelmetric.WithDescription("Rows written by table"))
}

func recordWrite(ctx context.Context, table string) {
	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr != nil || writeCounter == nil {
		return
	}
	writeCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("table", table)))
}

// New opens a store using the configured Postgres connection.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("postgres not configured (storage.postgres.url or host/dbname)")
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// ClaimIdempotency attempts to register a processed event. It returns false if the key already exists.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("scope and key must be provided")
	}
	var inserted bool
	err := s.DB.QueryRowContext(ctx, `INSERT INTO idempotency_keys (scope, key) VALUES ($1,$2) ON CONFLICT DO NOTHING RETURNING true`, scope, key).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	recordWrite(ctx, "idempotency_keys")
	return inserted, nil
}
