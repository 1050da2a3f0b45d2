// Package main is the entry point for the rewards engine server.
//
// main's job is only to read configuration, create the logger, and start
// the server; every dependency is assembled in internal/server, and all
// behavior lives below that.
package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sakif/rewards-engine/internal/server"
)

func main() {
	// .env is a development convenience; in production the variables come
	// from the environment and the file simply does not exist.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	port := 8080
	if portStr := os.Getenv("PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			logger.Error("invalid PORT value", slog.String("value", portStr))
			os.Exit(1)
		}
		port = p
	}

	dbPath := envOr("DB_PATH", "data/rewards.db")
	snapshotPath := envOr("SNAPSHOT_PATH", "data/rewards-snapshot.json")

	// Both stores live under the same data directory by default.
	for _, p := range []string{dbPath, snapshotPath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				logger.Error("failed to create data directory",
					slog.String("dir", dir),
					slog.String("error", err.Error()),
				)
				os.Exit(1)
			}
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logger.Error("JWT_SECRET not set — generate one with: openssl rand -hex 32")
		os.Exit(1)
	}

	redisDB := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if n, err := strconv.Atoi(dbStr); err == nil {
			redisDB = n
		}
	}

	flushInterval := 2 * time.Second
	if s := os.Getenv("MIRROR_FLUSH_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			flushInterval = d
		}
	}

	var seedEmails []string
	if s := os.Getenv("SEED_EMAILS"); s != "" {
		seedEmails = strings.Split(s, ",")
	}

	cfg := server.Config{
		Port:                port,
		DBPath:              dbPath,
		SnapshotPath:        snapshotPath,
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             redisDB,
		RedisNamespace:      envOr("REDIS_NAMESPACE", "rewards"),
		MirrorBaseURL:       os.Getenv("MIRROR_BASE_URL"),
		MirrorFlushInterval: flushInterval,
		JWTSecret:           jwtSecret,
		OperatorEmail:       os.Getenv("OPERATOR_EMAIL"),
		SeedEmails:          seedEmails,
		BusChannel:          os.Getenv("BUS_CHANNEL"),
		HardReloadPath:      envOr("HARD_RELOAD_PATH", "/events"),
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
