// Package config loads the softphone's process configuration from flags
// and environment, with an optional .env overlay.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/sebas/dialtone/internal/media"
)

// Config holds the softphone configuration.
type Config struct {
	// SIP settings
	Port          int
	BindAddr      string // Address to bind for listening
	AdvertiseAddr string // Address placed in SDP and Contact headers
	User          string // Local SIP user part
	LogLevel      string

	// LocalSRTPKey is the process-wide base64 keying material offered
	// in our SDP. Generated fresh on startup when not configured.
	LocalSRTPKey string

	// AudioFile is the WAV prompt streamed into answered calls.
	AudioFile string

	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr string
}

// Load reads configuration from .env (if present), command line flags, and
// environment variables. Environment wins over flags, matching how the
// binary is deployed.
func Load() (*Config, error) {
	// Missing .env is fine; explicit config paths are not used.
	_ = godotenv.Load()

	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 5060, "SIP listening port")
	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "SIP bind address")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", "127.0.0.1", "Address to advertise in SDP and Contact headers")
	flag.StringVar(&cfg.User, "user", "dialtone", "Local SIP user")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LocalSRTPKey, "srtp-key", "", "Base64 SRTP master key+salt (30 bytes); generated when empty")
	flag.StringVar(&cfg.AudioFile, "audio", "", "WAV file streamed into answered calls")
	flag.StringVar(&cfg.MetricsAddr, "metrics", "", "Prometheus metrics listen address (empty disables)")
	flag.Parse()

	applyEnv(cfg)

	if cfg.LocalSRTPKey == "" {
		key, err := media.GenerateKeyingMaterial()
		if err != nil {
			return nil, fmt.Errorf("generate srtp key: %w", err)
		}
		cfg.LocalSRTPKey = key
		slog.Info("Generated process SRTP key")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("ADVERTISE_ADDR"); v != "" {
		cfg.AdvertiseAddr = v
	}
	if v := os.Getenv("SIP_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SRTP_KEY"); v != "" {
		cfg.LocalSRTPKey = v
	}
	if v := os.Getenv("AUDIO_FILE"); v != "" {
		cfg.AudioFile = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}
