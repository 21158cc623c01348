package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config wires the gateway and its collaborators. Everything is injectable;
// FromEnv only fills in what the environment overrides.
type Config struct {
	Addr   string // http listen address
	NodeID int64  // snowflake node id, also the gateway id

	JWTSecret []byte
	JWTAlg    string

	Mongo MongoConfig
	Redis RedisConfig
	Kafka KafkaConfig

	// Per-connection outbound queue size; slow clients drop frames past it.
	SendQueueSize int
	// TTL for the redis presence mirror entries.
	PresenceTTL time.Duration
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	OfflineTopic string
}

func Default() Config {
	return Config{
		Addr:      ":8080",
		NodeID:    1,
		JWTSecret: []byte("dev-only-secret-change-me"),
		JWTAlg:    "HS256",
		Mongo: MongoConfig{
			URI:      "mongodb://127.0.0.1:27017",
			Database: "im",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      []string{"127.0.0.1:9092"},
			OfflineTopic: "im_offline_push",
		},
		SendQueueSize: 256,
		PresenceTTL:   2 * time.Minute,
	}
}

// FromEnv overlays environment variables on the defaults.
func FromEnv() Config {
	c := Default()
	if v := os.Getenv("IM_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("IM_NODE_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.NodeID = n
		}
	}
	if v := os.Getenv("IM_JWT_SECRET"); v != "" {
		c.JWTSecret = []byte(v)
	}
	if v := os.Getenv("IM_MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("IM_MONGO_DB"); v != "" {
		c.Mongo.Database = v
	}
	if v := os.Getenv("IM_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("IM_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("IM_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("IM_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("IM_KAFKA_OFFLINE_TOPIC"); v != "" {
		c.Kafka.OfflineTopic = v
	}
	return c
}
