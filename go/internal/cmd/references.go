package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/syncplay/go/clients"
	"github.com/mcdev12/syncplay/go/clients/worldtime_client"
	"github.com/mcdev12/syncplay/go/internal/config"
	"github.com/mcdev12/syncplay/go/internal/timeservice"
	"github.com/mcdev12/syncplay/go/internal/timesource"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// referenceSet owns the clients behind the built references
type referenceSet struct {
	references []timesource.Reference
	closers    []func()
}

func (s *referenceSet) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildReferences turns the ranked reference list into time references.
// Redis and Postgres entries without a URL fall back to REDIS_ADDR and the
// DB_* settings.
func buildReferences(ctx context.Context, cfg *config.Coordinator, entries []config.Reference) (*referenceSet, error) {
	set := &referenceSet{}

	for _, entry := range entries {
		timeout := entry.Timeout
		if timeout <= 0 {
			timeout = cfg.AttemptTimeout
		}

		var ref timesource.Reference
		switch entry.Kind {
		case clients.ReferenceKindHTTPJSON:
			client := worldtime_client.NewWorldTimeClient(entry.URL).WithTimeout(timeout)
			ref = timesource.NewHTTPJSONReference(entry.Name, client)

		case clients.ReferenceKindHTTPDate:
			client := worldtime_client.NewWorldTimeClient(entry.URL).WithTimeout(timeout)
			ref = timesource.NewHTTPDateReference(entry.Name, client)

		case clients.ReferenceKindRedis:
			opts, err := redisOptions(entry.URL, cfg.RedisAddr)
			if err != nil {
				set.Close()
				return nil, fmt.Errorf("reference %s: %w", entry.Name, err)
			}
			opts.ReadTimeout = timeout
			opts.WriteTimeout = timeout
			rdb := redis.NewClient(opts)
			set.closers = append(set.closers, func() { rdb.Close() })
			ref = timesource.NewRedisReference(entry.Name, rdb)

		case clients.ReferenceKindPostgres:
			dsn := entry.URL
			if dsn == "" {
				dsn = cfg.Postgres.DSN()
			}
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				set.Close()
				return nil, fmt.Errorf("reference %s: failed to create postgres pool: %w", entry.Name, err)
			}
			set.closers = append(set.closers, pool.Close)
			ref = timesource.NewPostgresReference(entry.Name, pool)

		case clients.ReferenceKindPeer:
			ref = timeservice.NewPeerReference(entry.Name, entry.URL, &http.Client{Timeout: timeout})

		default:
			set.Close()
			return nil, fmt.Errorf("reference %s: %w", entry.Name, clients.ValidateReferenceKind(entry.Kind))
		}

		log.Info().
			Str("reference", entry.Name).
			Str("kind", string(entry.Kind)).
			Dur("timeout", timeout).
			Msg("time reference configured")
		set.references = append(set.references, timesource.Timed(ref, timeout))
	}

	return set, nil
}

// redisOptions accepts a redis:// URL or a bare host:port
func redisOptions(url, addr string) (*redis.Options, error) {
	if strings.Contains(url, "://") {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opts, nil
	}
	if url != "" {
		addr = url
	}
	if addr == "" {
		return nil, fmt.Errorf("redis reference needs a url or REDIS_ADDR")
	}
	return &redis.Options{Addr: addr}, nil
}
