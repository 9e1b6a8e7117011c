package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmanagement/domain"
)

// Cache wraps a Repository with Redis-backed caching of filtered task lists.
// Entries are keyed by owner and query key; any task write evicts every
// entry of that owner.
type Cache struct {
	Repository
	redis  *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Repository, client *redis.Client, ttl time.Duration, opts ...Option) *Cache {
	if base == nil {
		panic("storage.NewCache: base repository is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	o := newOptions(opts)
	return &Cache{Repository: base, redis: client, ttl: ttl, logger: o.logger}
}

func (c *Cache) QueryTasks(ctx context.Context, owner string, q domain.Query) ([]domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	key := tasksCacheKey(owner, q)
	if tasks, ok := c.load(ctx, key); ok {
		return tasks, nil
	}
	tasks, err := c.Repository.QueryTasks(ctx, owner, q)
	if err != nil {
		return nil, err
	}
	c.store(ctx, owner, key, tasks)
	return tasks, nil
}

func (c *Cache) CreateTask(ctx context.Context, owner string, n domain.NewTask) (domain.Task, error) {
	t, err := c.Repository.CreateTask(ctx, owner, n)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, owner)
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, owner string, id int64, patch domain.TaskPatch) (domain.Task, error) {
	t, err := c.Repository.UpdateTask(ctx, owner, id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, owner)
	return t, nil
}

func (c *Cache) ReplaceTask(ctx context.Context, owner string, id int64, n domain.NewTask) (domain.Task, error) {
	t, err := c.Repository.ReplaceTask(ctx, owner, id, n)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, owner)
	return t, nil
}

func (c *Cache) DeleteTask(ctx context.Context, owner string, id int64) error {
	if err := c.Repository.DeleteTask(ctx, owner, id); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

// Ping checks the backing repository and Redis.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.Repository.Ping(ctx); err != nil {
		return err
	}
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

func (c *Cache) load(ctx context.Context, key string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the repository without failing.
			c.logger.WithError(err).WithField("key", key).Warn("task cache read failed")
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, owner, key string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	index := tasksIndexKey(owner)
	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, c.ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("task cache write failed")
	}
}

func (c *Cache) evict(ctx context.Context, owner string) {
	if c.redis == nil {
		return
	}
	index := tasksIndexKey(owner)
	keys, err := c.redis.SMembers(ctx, index).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.WithError(err).WithField("owner", owner).Warn("task cache evict failed")
		return
	}
	_, _ = c.redis.Del(ctx, append(keys, index)...).Result()
}

func tasksCacheKey(owner string, q domain.Query) string {
	return "tasks:" + owner + ":" + q.Key()
}

func tasksIndexKey(owner string) string {
	return "tasks-index:" + owner
}
