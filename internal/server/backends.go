package server

import (
	"context"
	"fmt"
	"log"

	"coursemarket/internal/catalog"
	"coursemarket/internal/config"
	"coursemarket/internal/eventstore"
	"coursemarket/internal/membership"
	"coursemarket/internal/messaging"
	"coursemarket/internal/storage/memory"
	"coursemarket/internal/storage/postgres"

	"github.com/redis/go-redis/v9"
)

// OpenBackends connects the storage, cache and broker named by cfg. The
// cache and the broker are optional: when they cannot be reached the service
// runs without them. The returned func releases every connection.
func OpenBackends(ctx context.Context, cfg *config.Config) (Backends, func(), error) {
	var (
		b       Backends
		closers []func()
	)
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Storage {
	case config.StorageMemory:
		store := memory.NewStore()
		b.Catalog = store.Catalog()
		b.Enrollments = store.Enrollments()
		b.Members = store.Members()
		b.Events = eventstore.NewMemoryStore()
		log.Printf("Using in-memory storage")
	case config.StoragePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return Backends{}, nil, err
		}
		closers = append(closers, func() { db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			release()
			return Backends{}, nil, err
		}
		b.Catalog = postgres.NewCatalogRepository(db)
		b.Enrollments = postgres.NewEnrollmentRepository(db)
		b.Members = postgres.NewMemberRepository(db)
		b.Events = eventstore.NewEventStore(db)
	default:
		return Backends{}, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("redis at %s unavailable, course listing cache disabled: %v", cfg.RedisAddr, err)
			client.Close()
		} else {
			closers = append(closers, func() { client.Close() })
			b.Cache = catalog.NewRedisListCache(client, cfg.CacheTTL)
		}
	}

	if cfg.AMQPURL != "" {
		conn, ch, err := messaging.SetupConn(cfg.AMQPURL)
		if err != nil {
			log.Printf("event publishing disabled: %v", err)
		} else {
			closers = append(closers, func() { ch.Close(); conn.Close() })
			b.Publishers = append(b.Publishers, messaging.NewPublisher(ch))
		}
	}
	return b, release, nil
}

// OptionsFromConfig maps configuration onto service options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		JWTSecret:         cfg.JWTSecret,
		TokenTTL:          cfg.TokenTTL,
		PaymentURL:        cfg.PaymentURL,
		CertificatePrefix: cfg.CertPrefix,
		MediaBaseURL:      cfg.MediaBaseURL,
		Location:          cfg.Location(),
		AuthLimits:        membership.Limits{PerMinute: cfg.AuthPerMinute, Burst: cfg.AuthBurst},
		PageSize:          cfg.PageSize,
		MaxPageSize:       cfg.MaxPageSize,
	}
}
