package queue

import (
	"context"
	"fmt"

	"b24_case_sync/internal/router"
	"b24_case_sync/platform/apperr"
	"b24_case_sync/platform/config"
	"b24_case_sync/platform/logger"

	"github.com/hibiken/asynq"
)

// Worker consumes event tasks and hands them to the dispatcher.
type Worker struct {
	server     *asynq.Server
	dispatcher *router.Dispatcher
	log        *logger.Logger
}

// NewWorker creates the queue consumer.
func NewWorker(cfg config.QueueConfig, dispatcher *router.Dispatcher, log *logger.Logger) (*Worker, error) {
	connOpt, err := RedisConnOpt(cfg)
	if err != nil {
		return nil, err
	}

	server := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: cfg.GetAsynqConcurrency(),
		Queues:      map[string]int{cfg.GetAsynqQueueName(): 1},
		Logger:      asynqLogger{log},
	})

	return &Worker{server: server, dispatcher: dispatcher, log: log}, nil
}

// Run blocks consuming tasks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSyncEvent, w.handleSyncEvent)

	if err := w.server.Start(mux); err != nil {
		return fmt.Errorf("start queue server: %w", err)
	}

	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

// handleSyncEvent processes one event. Validation failures are wrapped in
// SkipRetry: redelivering a structurally broken envelope only burns retry
// budget. Everything else returns plainly so asynq redelivers, and the
// convergent engines make redelivery of half-applied runs safe.
func (w *Worker) handleSyncEvent(ctx context.Context, task *asynq.Task) error {
	env, err := DecodeSyncEventTask(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := w.log.WithCorrelationID(env.CorrelationID)

	result, err := w.dispatcher.Dispatch(ctx, env)
	if err != nil {
		if !apperr.IsRetryable(err) {
			log.Warn("dropping unprocessable event",
				"action", env.Action,
				"collection_type", env.CollectionType,
				"error", err,
			)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		log.Error("event processing failed, will retry",
			"action", env.Action,
			"collection_type", env.CollectionType,
			"error", err,
		)
		return err
	}

	log.Info("event processed",
		"action", env.Action,
		"collection_type", env.CollectionType,
		"status", result.Status,
		"handled", result.Handled,
	)
	return nil
}

// asynqLogger adapts the structured logger to asynq's logging interface.
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
