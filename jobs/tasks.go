package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/terralot/terralot/internal/reservation"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOptionSweep is the periodic task expiring stale options.
	TaskOptionSweep = "options:sweep-expired"
	// TaskOptionPlacedNotify is the fire-and-forget notification task
	// enqueued after each successful placement.
	TaskOptionPlacedNotify = "notify:option-placed"
)

// NewOptionSweepTask constructs the sweep task. It carries no payload; the
// handler always sweeps everything currently expired.
func NewOptionSweepTask() *asynq.Task {
	return asynq.NewTask(TaskOptionSweep, nil)
}

// NewOptionPlacedTask constructs a notification task from a placement event.
func NewOptionPlacedTask(event reservation.PlacedEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOptionPlacedNotify, data), nil
}
