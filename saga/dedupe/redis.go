package dedupe

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/icanact/saga-choreography/errors"
	"github.com/icanact/saga-choreography/saga"
)

// Redis 是一个跨进程共享、崩溃后存活的去重存储，后端为
// github.com/redis/go-redis/v9。热路径上的 CheckAndMark 是单条 SET NX 命令，
// 对共享同一 Redis 实例的多个参与者副本保持原子。
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis 创建一个去重存储，key 在 ttl 后过期（0 表示永不过期，
// 依赖调用方在 saga 终态时显式 Prune）。
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) redisKey(sagaID saga.SagaID, key string) string {
	return "dedupe:" + strconv.FormatInt(int64(sagaID), 10) + ":" + key
}

func (r *Redis) CheckAndMark(ctx context.Context, sagaID saga.SagaID, key string) (bool, error) {
	inserted, err := r.client.SetNX(ctx, r.redisKey(sagaID, key), "1", r.ttl).Result()
	if err != nil {
		return false, errors.NewQueueError("dedupe check-and-mark failed", err)
	}
	return inserted, nil
}

func (r *Redis) Contains(ctx context.Context, sagaID saga.SagaID, key string) bool {
	n, err := r.client.Exists(ctx, r.redisKey(sagaID, key)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

func (r *Redis) MarkProcessed(ctx context.Context, sagaID saga.SagaID, key string) error {
	if err := r.client.Set(ctx, r.redisKey(sagaID, key), "1", r.ttl).Err(); err != nil {
		return errors.NewQueueError("dedupe mark-processed failed", err)
	}
	return nil
}

func (r *Redis) Prune(ctx context.Context, sagaID saga.SagaID) error {
	prefix := "dedupe:" + strconv.FormatInt(int64(sagaID), 10) + ":*"
	iter := r.client.Scan(ctx, 0, prefix, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errors.NewQueueError("dedupe prune scan failed", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errors.NewQueueError("dedupe prune delete failed", err)
	}
	return nil
}
