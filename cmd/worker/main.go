package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"b24_case_sync/internal/queue"
	"b24_case_sync/internal/router"
	"b24_case_sync/internal/sync"
	"b24_case_sync/platform/bitrix"
	"b24_case_sync/platform/config"
	"b24_case_sync/platform/logger"
	"b24_case_sync/platform/validator"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting sync worker", "env", cfg.Env, "queue", cfg.AsynqQueueName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	crm := newCRMClient(cfg, log)

	mirror, err := sync.MirrorFromConfig(cfg, crm, log)
	if err != nil {
		log.Error("failed to load mirror mapping", "error", err, "file", cfg.MirrorMappingFile)
		panic("failed to load mirror mapping: " + err.Error())
	}

	engines := sync.EnginesFromConfig(cfg, crm, log)
	dispatcher := router.NewDispatcher(cfg.GetCaseTypeID(), engines, mirror, crm, validator.New(), log)

	worker, err := queue.NewWorker(cfg, dispatcher, log)
	if err != nil {
		log.Error("failed to initialize queue worker", "error", err)
		panic("failed to initialize queue worker: " + err.Error())
	}

	if err := worker.Run(ctx); err != nil {
		log.Error("worker stopped with error", "error", err)
		panic("worker stopped with error: " + err.Error())
	}
	log.Info("worker stopped")
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

// newTokenSource prefers the Redis-stored token maintained by the refresh
// job, with the static env token as fallback for simple deployments.
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
