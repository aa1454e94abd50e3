package cache

import (
	"context"
	"fmt"
	"time"

	"envoearn/internal/config"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

const pingTimeout = 5 * time.Second

// RedisClient 分布式锁和 token 吊销共用
var RedisClient *redis.Client

// InitRedis 连接失败直接退出，锁不可用时不允许启动
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.WithField("addr", addr).Fatalf("[Redis] 连接失败: %v", err)
	}

	RedisClient = client
	log.WithField("addr", addr).Info("[Redis] 连接成功")
	return client
}
