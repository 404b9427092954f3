package timesource

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mcdev12/syncplay/go/clients/worldtime_client"
	"github.com/redis/go-redis/v9"
)

// HTTPJSONReference reads a worldtimeapi-compatible endpoint
type HTTPJSONReference struct {
	name   string
	client *worldtime_client.WorldTimeClient
}

func NewHTTPJSONReference(name string, client *worldtime_client.WorldTimeClient) *HTTPJSONReference {
	return &HTTPJSONReference{name: name, client: client}
}

func (r *HTTPJSONReference) Name() string { return r.name }

func (r *HTTPJSONReference) Query(ctx context.Context) (time.Time, error) {
	return r.client.CurrentTime(ctx)
}

// HTTPDateReference reads the Date header of any HTTP server. Second resolution only,
// so it belongs at the bottom of the ranking.
type HTTPDateReference struct {
	name   string
	client *worldtime_client.WorldTimeClient
}

func NewHTTPDateReference(name string, client *worldtime_client.WorldTimeClient) *HTTPDateReference {
	return &HTTPDateReference{name: name, client: client}
}

func (r *HTTPDateReference) Name() string { return r.name }

func (r *HTTPDateReference) Query(ctx context.Context) (time.Time, error) {
	return r.client.DateHeaderTime(ctx)
}

// TimeCommander is the part of a redis client the reference needs
type TimeCommander interface {
	Time(ctx context.Context) *redis.TimeCmd
}

// RedisReference uses the TIME command of a Redis server
type RedisReference struct {
	name   string
	client TimeCommander
}

func NewRedisReference(name string, client TimeCommander) *RedisReference {
	return &RedisReference{name: name, client: client}
}

func (r *RedisReference) Name() string { return r.name }

func (r *RedisReference) Query(ctx context.Context) (time.Time, error) {
	t, err := r.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis TIME: %w", err)
	}
	return t.UTC(), nil
}

// RowQuerier is satisfied by *pgxpool.Pool and *pgx.Conn
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const clockTimestampQuery = `SELECT clock_timestamp()`

// PostgresReference reads the database server clock
type PostgresReference struct {
	name string
	db   RowQuerier
}

func NewPostgresReference(name string, db RowQuerier) *PostgresReference {
	return &PostgresReference{name: name, db: db}
}

func (r *PostgresReference) Name() string { return r.name }

func (r *PostgresReference) Query(ctx context.Context) (time.Time, error) {
	var t time.Time
	if err := r.db.QueryRow(ctx, clockTimestampQuery).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("postgres clock_timestamp: %w", err)
	}
	return t.UTC(), nil
}

// FuncReference adapts a function into a Reference
type FuncReference struct {
	name string
	fn   func(ctx context.Context) (time.Time, error)
}

func NewFuncReference(name string, fn func(ctx context.Context) (time.Time, error)) *FuncReference {
	return &FuncReference{name: name, fn: fn}
}

func (r *FuncReference) Name() string { return r.name }

func (r *FuncReference) Query(ctx context.Context) (time.Time, error) {
	return r.fn(ctx)
}
