package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"b24_case_sync/internal/dailysweep"
	"b24_case_sync/internal/queue"
	"b24_case_sync/platform/bitrix"
	"b24_case_sync/platform/config"
	"b24_case_sync/platform/logger"

	"github.com/redis/go-redis/v9"
)

// One-shot sweep publisher, meant to run from cron or a scheduled job.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting daily sweep", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher, err := queue.NewClient(cfg, log)
	if err != nil {
		log.Error("failed to initialize queue client", "error", err)
		panic("failed to initialize queue client: " + err.Error())
	}
	defer func() { _ = publisher.Close() }()

	crm := newCRMClient(cfg, log)
	sweeper := dailysweep.NewSweeper(cfg.GetCaseTypeID(), crm, publisher, log)

	report, err := sweeper.Run(ctx)
	if err != nil {
		log.Error("daily sweep failed", "error", err)
		os.Exit(1)
	}

	log.Info("daily sweep complete",
		"total", report.Total,
		"active", report.Active,
		"enqueued", report.Enqueued,
		"skipped_no_contact", report.SkippedNoContact,
	)
}

func newCRMClient(cfg config.BitrixConfig, log *logger.Logger) bitrix.Client {
	return bitrix.NewRESTClient(bitrix.Options{
		Domain:      cfg.GetBitrixDomain(),
		Tokens:      newTokenSource(cfg, log),
		CallTimeout: cfg.GetBitrixCallTimeout(),
		RateLimit:   cfg.GetBitrixRateLimit(),
		Logger:      log,
	})
}

func newTokenSource(cfg config.BitrixConfig, log *logger.Logger) bitrix.TokenSource {
	static := bitrix.StaticTokenSource(cfg.GetBitrixAccessToken())
	if cfg.GetRedisURL() == "" {
		return static
	}

	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		log.Warn("invalid REDIS_URL for token source, using static token", "error", err)
		return static
	}
	if cfg.GetRedisTLSInsecure() && opt.TLSConfig != nil {
		opt.TLSConfig.InsecureSkipVerify = true
	}

	return bitrix.NewRedisTokenSource(redis.NewClient(opt), cfg.GetBitrixTokenRedisKey(), static)
}
