package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"8000"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".goalkeeper/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"goalkeeper/"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
}

type AgentEnv struct {
	// Goal seeds the agent on first start. Ignored once a plan exists.
	Goal              string        `envconfig:"GOAL"`
	GatewayTimeout    time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"2m"`
	GatewayMaxRetries int           `envconfig:"GATEWAY_MAX_RETRIES" default:"3"`
	StallThreshold    int           `envconfig:"STALL_THRESHOLD" default:"3"`
	TickInterval      time.Duration `envconfig:"TICK_INTERVAL" default:"24h"`
}

type Env struct {
	BaseEnv
	StorageEnv
	AgentEnv
}

const namespace = "GOALKEEPER"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}
