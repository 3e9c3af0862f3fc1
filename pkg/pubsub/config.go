package pubsub

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// KafkaConfig holds Kafka-specific configuration.
type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	Topic      string `mapstructure:"topic"`
	GroupID    string `mapstructure:"group_id"`
	Partitions int    `mapstructure:"partitions"`
}

// Config holds the configuration for the pub/sub system.
type Config struct {
	Driver string      `mapstructure:"driver"` // "redis", "kafka"
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Driver: "redis",
		Kafka: KafkaConfig{
			Brokers:    "localhost:9092",
			Topic:      "scene-events",
			GroupID:    "edit-service",
			Partitions: 4,
		},
	}
}

// NewPubSub creates a new PubSub instance based on the configuration. The
// Redis driver shares the given client with the scene store and lock
// manager, which keeps sequence counters and channels on the same server.
func NewPubSub(cfg Config, client *redis.Client) (PubSub, error) {
	switch cfg.Driver {
	case "kafka":
		return NewKafkaPubSub(cfg.Kafka)
	case "redis", "":
		return NewRedisPubSub(client), nil
	default:
		return nil, fmt.Errorf("unsupported pubsub driver: %s", cfg.Driver)
	}
}
