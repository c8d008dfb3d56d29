package database

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/wavechat/wavechat-backend/internal/config"
)

var Redis *redis.Client

// InitRedis connects the shared Redis client. Redis carries the typing and
// conversation-list caches, presence counters, the offline delivery queue and
// the cross-instance broadcast channel, so a failed connection is logged
// loudly but the process still starts: every consumer degrades gracefully.
func InitRedis() {
	Redis = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       0,
	})

	if _, err := Redis.Ping(context.Background()).Result(); err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v. Caching, presence and offline delivery will be degraded.", err)
	} else {
		log.Println("Connected to Redis successfully")
	}
}
