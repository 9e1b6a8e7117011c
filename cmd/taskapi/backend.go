package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmanagement/config"
	"taskmanagement/storage"
)

// backend is everything the handlers persist through.
type backend struct {
	repo    storage.Repository
	deduper storage.Deduper
	events  storage.Publisher
	closers []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.WithError(err).Warn("close backend")
		}
	}
}

// openBackend selects the repository, then layers the Redis cache and
// deduper and the change event queue on top when they are configured.
func openBackend(ctx context.Context, sv config.Server, logger *log.Logger) (*backend, error) {
	b := &backend{events: storage.NopPublisher{}}
	opts := []storage.Option{storage.WithLogger(logger)}

	switch sv.Storage {
	case config.StorageMemory, "":
		b.repo = storage.NewMemory(opts...)
	case config.StorageSQLite:
		db, err := storage.OpenSQLite(sv.SQLitePath, opts...)
		if err != nil {
			return nil, err
		}
		b.repo = db
	case config.StorageTables:
		tables, err := storage.NewTables(ctx, sv.TablesConnection, sv.TasksTable, sv.ProjectsTable, opts...)
		if err != nil {
			return nil, err
		}
		b.repo = tables
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sv.Storage)
	}
	b.closers = append(b.closers, b.repo.Close)

	if sv.RedisURL != "" {
		redisOpts, err := config.RedisOptions(sv.RedisURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		rc := redis.NewClient(redisOpts)
		b.closers = append(b.closers, rc.Close)
		b.repo = storage.NewCache(b.repo, rc, sv.CacheTTL, opts...)
		b.deduper = storage.NewRedisDeduper(rc, sv.DeduperTTL)
	} else {
		b.deduper = storage.NewMemoryDeduper(sv.DeduperTTL)
	}

	if sv.EventsQueue != "" {
		pub, err := storage.NewQueuePublisher(ctx, sv.TablesConnection, sv.EventsQueue, opts...)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("events queue: %w", err)
		}
		b.events = pub
	}
	return b, nil
}
