package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key"

type Config struct {
	Server    ServerConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	URL          string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	MaxConnections    int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendTimeout       time.Duration
	SendQueueSize     int
	FanoutConcurrency int
	PublishQueueSize  int
	MaxMessageSize    int64
}

// KafkaConfig enables the event outbox when Brokers is not empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type RateLimitConfig struct {
	Messages    int
	Connections int
	Window      time.Duration
}

type CORSConfig struct {
	Origins []string
}

// IsProduction reports whether the server runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_HOST", "")
	v.SetDefault("PORT", "5000")
	v.SetDefault("NODE_ENV", "development")
	v.SetDefault("SERVER_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("MONGODB_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGODB_DATABASE", "charity")
	v.SetDefault("MONGODB_TIMEOUT", 10*time.Second)

	v.SetDefault("REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("REDIS_MAX_RETRIES", 3)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)

	v.SetDefault("JWT_SECRET", defaultJWTSecret)

	v.SetDefault("MAX_WEBSOCKET_CONNECTIONS", 1000)
	v.SetDefault("WEBSOCKET_HEARTBEAT_INTERVAL", "30000")
	v.SetDefault("WEBSOCKET_HEARTBEAT_TIMEOUT", "60000")
	v.SetDefault("WEBSOCKET_SEND_TIMEOUT", 5*time.Second)
	v.SetDefault("WEBSOCKET_SEND_QUEUE_SIZE", 256)
	v.SetDefault("WEBSOCKET_FANOUT_CONCURRENCY", 64)
	v.SetDefault("WEBSOCKET_PUBLISH_QUEUE_SIZE", 1024)
	v.SetDefault("WEBSOCKET_MAX_MESSAGE_SIZE", 64*1024)

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "community-events")

	v.SetDefault("RATE_LIMIT_MESSAGES", 30)
	v.SetDefault("RATE_LIMIT_CONNECTIONS", 20)
	v.SetDefault("RATE_LIMIT_WINDOW", time.Minute)

	v.SetDefault("CORS_ORIGIN", "http://localhost:3000")
}

// LoadConfig reads an optional .env file, then the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	heartbeatInterval, err := millisOrDuration(v.GetString("WEBSOCKET_HEARTBEAT_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("WEBSOCKET_HEARTBEAT_INTERVAL: %w", err)
	}
	heartbeatTimeout, err := millisOrDuration(v.GetString("WEBSOCKET_HEARTBEAT_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("WEBSOCKET_HEARTBEAT_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("SERVER_HOST"),
			Port:         v.GetString("PORT"),
			Env:          v.GetString("NODE_ENV"),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  v.GetDuration("SERVER_IDLE_TIMEOUT"),
		},
		Mongo: MongoConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  v.GetDuration("MONGODB_TIMEOUT"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("REDIS_URL"),
			MaxRetries:   v.GetInt("REDIS_MAX_RETRIES"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
		},
		WebSocket: WebSocketConfig{
			MaxConnections:    v.GetInt("MAX_WEBSOCKET_CONNECTIONS"),
			HeartbeatInterval: heartbeatInterval,
			HeartbeatTimeout:  heartbeatTimeout,
			SendTimeout:       v.GetDuration("WEBSOCKET_SEND_TIMEOUT"),
			SendQueueSize:     v.GetInt("WEBSOCKET_SEND_QUEUE_SIZE"),
			FanoutConcurrency: v.GetInt("WEBSOCKET_FANOUT_CONCURRENCY"),
			PublishQueueSize:  v.GetInt("WEBSOCKET_PUBLISH_QUEUE_SIZE"),
			MaxMessageSize:    v.GetInt64("WEBSOCKET_MAX_MESSAGE_SIZE"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
		RateLimit: RateLimitConfig{
			Messages:    v.GetInt("RATE_LIMIT_MESSAGES"),
			Connections: v.GetInt("RATE_LIMIT_CONNECTIONS"),
			Window:      v.GetDuration("RATE_LIMIT_WINDOW"),
		},
		CORS: CORSConfig{
			Origins: splitList(v.GetString("CORS_ORIGIN")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.Mongo.URI == "" {
		errs = append(errs, errors.New("MONGODB_URI is required"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() && c.JWT.Secret == defaultJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	if c.WebSocket.MaxConnections <= 0 {
		errs = append(errs, errors.New("MAX_WEBSOCKET_CONNECTIONS must be positive"))
	}
	if c.WebSocket.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("WEBSOCKET_HEARTBEAT_INTERVAL must be positive"))
	}
	if c.WebSocket.HeartbeatTimeout <= c.WebSocket.HeartbeatInterval {
		errs = append(errs, errors.New("WEBSOCKET_HEARTBEAT_TIMEOUT must exceed WEBSOCKET_HEARTBEAT_INTERVAL"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	return errors.Join(errs...)
}

// millisOrDuration accepts a bare number of milliseconds ("30000") or a Go
// duration string ("30s").
func millisOrDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
