package queue

import (
	"context"
	"fmt"
	"time"

	"b24_case_sync/internal/router"
	"b24_case_sync/platform/config"
	"b24_case_sync/platform/logger"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// RedisConnOpt builds the asynq connection options from the configured
// Redis URL. The insecure-TLS escape hatch exists for managed Redis
// offerings fronted by certificates the container image cannot verify.
func RedisConnOpt(cfg config.QueueConfig) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("parse redis url: %w", err)
	}

	connOpt := asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}
	if cfg.GetRedisTLSInsecure() && connOpt.TLSConfig != nil {
		connOpt.TLSConfig.InsecureSkipVerify = true
	}
	return connOpt, nil
}

// Client publishes event tasks.
type Client struct {
	asynq     *asynq.Client
	queueName string
	log       *logger.Logger
}

// NewClient creates a publisher on the configured queue.
func NewClient(cfg config.QueueConfig, log *logger.Logger) (*Client, error) {
	connOpt, err := RedisConnOpt(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		asynq:     asynq.NewClient(connOpt),
		queueName: cfg.GetAsynqQueueName(),
		log:       log,
	}, nil
}

// EnqueueEvent publishes one envelope. Retry policy lives here rather than
// with the callers so ingress and daily sweep events behave the same.
func (c *Client) EnqueueEvent(ctx context.Context, env *router.Envelope) error {
	task, err := NewSyncEventTask(env)
	if err != nil {
		return err
	}

	info, err := c.asynq.EnqueueContext(ctx, task,
		asynq.Queue(c.queueName),
		asynq.MaxRetry(5),
		asynq.Timeout(5*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}

	c.log.WithContext(ctx).Debug("event enqueued",
		"task_id", info.ID,
		"queue", info.Queue,
		"action", env.Action,
		"collection_type", env.CollectionType,
	)
	return nil
}

// Close releases the underlying Redis connections.
func (c *Client) Close() error {
	return c.asynq.Close()
}
