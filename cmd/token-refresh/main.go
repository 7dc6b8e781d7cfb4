package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"b24_case_sync/platform/bitrix"
	"b24_case_sync/platform/config"
	"b24_case_sync/platform/logger"

	"github.com/redis/go-redis/v9"
)

// One-shot OAuth refresh. Exchanges the configured refresh token for a new
// access token and stores it in Redis for the worker fleet. Bitrix24
// rotates the refresh token on every exchange, so the new one is printed
// for the operator to persist back into the deployment secret.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := refresh(ctx, cfg, log); err != nil {
		log.Error("token refresh failed", "error", err)
		os.Exit(1)
	}
}

func refresh(ctx context.Context, cfg config.TokenRefreshConfig, log *logger.Logger) error {
	if cfg.GetRedisURL() == "" {
		return errors.New("REDIS_URL is required")
	}
	if cfg.GetBitrixClientID() == "" || cfg.GetBitrixClientSecret() == "" {
		return errors.New("B24_CLIENT_ID and B24_CLIENT_SECRET are required")
	}

	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return err
	}
	if cfg.GetRedisTLSInsecure() && opt.TLSConfig != nil {
		opt.TLSConfig.InsecureSkipVerify = true
	}
	rdb := redis.NewClient(opt)
	defer func() { _ = rdb.Close() }()

	refresher := bitrix.NewTokenRefresher(cfg.GetBitrixClientID(), cfg.GetBitrixClientSecret(), rdb, cfg.GetBitrixTokenRedisKey())

	tokens, err := refresher.Refresh(ctx, cfg.GetBitrixRefreshToken())
	if err != nil {
		return err
	}

	log.Info("access token refreshed",
		"redis_key", cfg.GetBitrixTokenRedisKey(),
		"expires_in", tokens.ExpiresIn,
	)
	// The rotated refresh token goes to stdout only; it must not end up in
	// aggregated logs.
	os.Stdout.WriteString(tokens.RefreshToken + "\n")
	return nil
}
