package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mengeric/finsync/task"
)

// Redis 键与频道。
const (
	RedisKeyPrefix = "finsync:task:"
	RedisChannel   = "finsync:task-events"
)

// RedisSink 最新快照写入 finsync:task:<id>（带 TTL），并发布到事件频道。
type RedisSink struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSink 构造。ttl<=0 表示不过期。
func NewRedisSink(client redis.UniversalClient, ttl time.Duration) *RedisSink {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisSink{client: client, ttl: ttl}
}

// ConnectRedis 创建客户端并 Ping 检查连通性。
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisSink) Name() string { return "redis" }

// Send 一批快照一次 pipeline 提交。
func (s *RedisSink) Send(ctx context.Context, recs []*task.Record) error {
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, rec := range recs {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", rec.ID, err)
			}
			p.Set(ctx, RedisKeyPrefix+rec.ID, data, s.ttl)
			p.Publish(ctx, RedisChannel, data)
		}
		return nil
	})
	return err
}
