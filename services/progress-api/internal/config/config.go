package config

import (
	"errors"
	"strconv"

	platformconfig "github.com/example/lesson-progress/internal/platform/config"
)

type Config struct {
	platformconfig.AppConfig
	GRPCAddr    string
	JWTSecret   []byte
	DatabaseURL string // empty keeps progress in memory
	NATSURL     string // empty disables event publishing

	// WriteRate is progress writes per second allowed per user, 0 disables
	// throttling. WriteBurst is the bucket size.
	WriteRate  float64
	WriteBurst int
}

func Load() (Config, error) {
	cfg := Config{
		AppConfig:   platformconfig.Load("progress-api"),
		GRPCAddr:    platformconfig.Env("GRPC_ADDR", ":9090"),
		JWTSecret:   []byte(platformconfig.Env("JWT_SECRET", "")),
		DatabaseURL: platformconfig.Env("DATABASE_URL", ""),
		NATSURL:     platformconfig.Env("NATS_URL", ""),
	}
	if len(cfg.JWTSecret) == 0 {
		return Config{}, errors.New("JWT_SECRET is required")
	}

	var err error
	if cfg.WriteRate, err = strconv.ParseFloat(platformconfig.Env("PROGRESS_WRITE_RATE", "5"), 64); err != nil || cfg.WriteRate < 0 {
		return Config{}, errors.New("PROGRESS_WRITE_RATE must be a non-negative number")
	}
	if cfg.WriteBurst, err = strconv.Atoi(platformconfig.Env("PROGRESS_WRITE_BURST", "30")); err != nil || cfg.WriteBurst < 1 {
		return Config{}, errors.New("PROGRESS_WRITE_BURST must be a positive integer")
	}
	return cfg, nil
}
