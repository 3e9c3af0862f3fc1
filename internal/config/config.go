package config

import (
	"time"

	pkgcache "github.com/ICShapy/shapy/pkg/cache"
	pkgconfig "github.com/ICShapy/shapy/pkg/config"
	"github.com/ICShapy/shapy/pkg/database"
	"github.com/ICShapy/shapy/pkg/log"
	"github.com/ICShapy/shapy/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Session   SessionConfig
	Scene     SceneConfig
	Lock      LockConfig
	Redis     pkgcache.RedisConfig
	Database  database.Config
	PubSub    pubsub.Config
	Log       log.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// SessionConfig configures the login session cookie issued by the account service.
type SessionConfig struct {
	Secret   string
	Issuer   string
	Duration time.Duration
}

type SceneConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type LockConfig struct {
	TTL time.Duration
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 1<<20)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("session.secret", "")
	v.SetDefault("session.issuer", "shapy")
	v.SetDefault("session.duration", "168h")
	v.SetDefault("scene.max_retries", 16)
	v.SetDefault("scene.retry_backoff", "5ms")
	v.SetDefault("lock.ttl", "0s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 64)
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "shapy")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "shapy")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.time_zone", "UTC")
	v.SetDefault("database.file_path", "shapy.db")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.topic", "scene-events")
	v.SetDefault("pubsub.kafka.group_id", "edit-service")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "shapy-edit")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	v.BindEnv("session.secret", "SESSION_SECRET")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("pubsub.kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 15*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Session.Duration = pkgconfig.Duration(v, "session.duration", 168*time.Hour)
	cfg.Scene.RetryBackoff = pkgconfig.Duration(v, "scene.retry_backoff", 5*time.Millisecond)
	cfg.Lock.TTL = pkgconfig.Duration(v, "lock.ttl", 0)
	cfg.Redis.ReadTimeout = pkgconfig.Duration(v, "redis.read_timeout", 3*time.Second)
	cfg.Redis.WriteTimeout = pkgconfig.Duration(v, "redis.write_timeout", 3*time.Second)

	return &cfg, nil
}
