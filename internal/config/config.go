package config

import (
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	FrontendURL string `mapstructure:"FRONTEND_URL"`

	// Redis backs the TTL caches, presence counters, the offline delivery
	// queue and the cross-instance broadcast channel.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// BroadcastChannel is the shared pub/sub channel all instances publish
	// room events on. Every instance must use the same value.
	BroadcastChannel string `mapstructure:"BROADCAST_CHANNEL"`

	// DeliveryQueueKey is the Redis list holding offline delivery jobs.
	DeliveryQueueKey string `mapstructure:"DELIVERY_QUEUE_KEY"`
}

var AppConfig *Config

func LoadConfig() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("BROADCAST_CHANNEL", "wavechat:broadcast")
	viper.SetDefault("DELIVERY_QUEUE_KEY", "wavechat:delivery:jobs")

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode config: %v", err)
	}
}
