package latency

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createSamplesTable = `CREATE TABLE IF NOT EXISTS latency_samples (
	workload    text        NOT NULL,
	created_at  timestamptz NOT NULL,
	finished_at timestamptz NOT NULL,
	duration_ms bigint      NOT NULL
)`

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgSink stores samples in the latency_samples table.
type PgSink struct {
	db    pgExecer
	close func()
}

func NewPgSink(ctx context.Context, dsn string) (*PgSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, createSamplesTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create latency table: %w", err)
	}

	return &PgSink{db: pool, close: pool.Close}, nil
}

func (s *PgSink) Append(ctx context.Context, sample Sample) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO latency_samples (workload, created_at, finished_at, duration_ms) VALUES ($1, $2, $3, $4)",
		sample.Workload, sample.Create, sample.Finish, sample.Duration().Milliseconds())
	if err != nil {
		return NewSinkWriteError("latency_samples", err)
	}
	return nil
}

func (s *PgSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// LoadDurations reads back the durations of one workload, or of every workload when
// workload is empty.
func LoadDurations(ctx context.Context, dsn, workload string) ([]time.Duration, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	return loadDurations(ctx, conn, workload)
}

func loadDurations(ctx context.Context, q pgQuerier, workload string) ([]time.Duration, error) {
	rows, err := q.Query(ctx,
		"SELECT duration_ms FROM latency_samples WHERE $1::text = '' OR workload = $1::text ORDER BY created_at",
		workload)
	if err != nil {
		return nil, fmt.Errorf("failed to query latency samples: %w", err)
	}

	ms, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to read latency samples: %w", err)
	}

	durations := make([]time.Duration, len(ms))
	for i, v := range ms {
		durations[i] = time.Duration(v) * time.Millisecond
	}
	return durations, nil
}
