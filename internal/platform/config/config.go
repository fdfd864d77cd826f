// Package config reads the settings every HTTP service shares from the
// environment.
package config

import (
	"os"
	"strings"
)

type HTTPConfig struct {
	Addr string
}

type AppConfig struct {
	ServiceName string
	LogLevel    string
	HTTP        HTTPConfig
}

// Load reads SERVICE_NAME, LOG_LEVEL and HTTP_ADDR. service is used when
// SERVICE_NAME is unset.
func Load(service string) AppConfig {
	return AppConfig{
		ServiceName: Env("SERVICE_NAME", service),
		LogLevel:    Env("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			Addr: Env("HTTP_ADDR", ":8080"),
		},
	}
}

// Env returns the trimmed value of key, or fallback when it is blank.
func Env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
