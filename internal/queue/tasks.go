// Package queue is the transport between the webhook ingress and the
// worker: asynq tasks over Redis with at-least-once delivery.
package queue

import (
	"encoding/json"
	"fmt"

	"b24_case_sync/internal/router"

	"github.com/hibiken/asynq"
)

// TypeSyncEvent is the task type for normalized CRM events.
const TypeSyncEvent = "sync:event"

// NewSyncEventTask wraps an envelope in an asynq task.
func NewSyncEventTask(env *router.Envelope) (*asynq.Task, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event envelope: %w", err)
	}
	return asynq.NewTask(TypeSyncEvent, payload), nil
}

// DecodeSyncEventTask unwraps an envelope from a task payload.
func DecodeSyncEventTask(task *asynq.Task) (*router.Envelope, error) {
	var env router.Envelope
	if err := json.Unmarshal(task.Payload(), &env); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	return &env, nil
}
