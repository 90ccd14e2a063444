// Package main is the entry point for the social verification server. Its
// job is configuration, logger setup and handing off to internal/server.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/dropforge/socialverify/internal/platform"
	"github.com/dropforge/socialverify/internal/server"
)

func main() {
	// .env is a local-development convenience; in production the variables
	// come from the real environment and the file simply doesn't exist.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	port := 8080
	if portStr := os.Getenv("PORT"); portStr != "" {
		var err error
		port, err = strconv.Atoi(portStr)
		if err != nil {
			logger.Error("invalid PORT value", slog.String("value", portStr))
			os.Exit(1)
		}
	}

	dbPath := "data/socialverify.db"
	if envDB := os.Getenv("DB_PATH"); envDB != "" {
		dbPath = envDB
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", filepath.Dir(dbPath)),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// STATE_SECRET signs the OAuth state JWTs. Generate with:
	//   STATE_SECRET=$(openssl rand -hex 32)
	stateSecret := os.Getenv("STATE_SECRET")
	if stateSecret == "" {
		logger.Error("STATE_SECRET is required")
		os.Exit(1)
	}

	cfg := server.Config{
		Port:        port,
		DBPath:      dbPath,
		StateSecret: stateSecret,
		Twitter: platform.TwitterConfig{
			ClientID:     os.Getenv("TWITTER_CLIENT_ID"),
			ClientSecret: os.Getenv("TWITTER_CLIENT_SECRET"),
			CallbackURL:  callbackURL("TWITTER_CALLBACK_URL", "twitter", port),
		},
		Discord: platform.DiscordConfig{
			ClientID:     os.Getenv("DISCORD_CLIENT_ID"),
			ClientSecret: os.Getenv("DISCORD_CLIENT_SECRET"),
			CallbackURL:  callbackURL("DISCORD_CALLBACK_URL", "discord", port),
		},
		Telegram: platform.TelegramConfig{
			BotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
			BotUsername: os.Getenv("TELEGRAM_BOT_USERNAME"),
		},
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

func callbackURL(envVar, platformName string, port int) string {
	if url := os.Getenv(envVar); url != "" {
		return url
	}
	return fmt.Sprintf("http://localhost:%d/auth/%s/callback", port, platformName)
}

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
