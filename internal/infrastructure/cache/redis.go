package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"campuspay/internal/config"

	"github.com/go-redis/redis/v8"
)

// InitRedis 创建 Redis 客户端并检查连通性
func InitRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	slog.Info("[Redis] Redis 连接成功", "addr", client.Options().Addr)
	return client, nil
}
