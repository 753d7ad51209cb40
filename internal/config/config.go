package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	CardsPerPlayer  int
	MaxPlayers      int
	RoomTTL         time.Duration
	CleanupInterval time.Duration

	CardsFile  string
	MessageDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:      ":8080",
		CardsPerPlayer:  4,
		MaxPlayers:      4,
		RoomTTL:         24 * time.Hour,
		CleanupInterval: 15 * time.Minute,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("CARDS_PER_PLAYER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CardsPerPlayer = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_PLAYERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			cfg.MaxPlayers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ROOM_TTL_HOURS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RoomTTL = time.Duration(n) * time.Hour
		}
	}
	if v := strings.TrimSpace(os.Getenv("CLEANUP_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CleanupInterval = d
		}
	}

	cfg.CardsFile = strings.TrimSpace(os.Getenv("CARDS_FILE"))
	cfg.MessageDir = strings.TrimSpace(os.Getenv("MESSAGE_DIR"))

	return cfg, nil
}
