package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeInventoryReport = "keys:inventory:report"
)

type InventoryReportPayload struct {
	// Reason is free text recorded in the worker log, e.g. "scheduled".
	Reason string `json:"reason,omitempty"`
}

func NewInventoryReportTask(reason string, opts ...asynq.Option) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(InventoryReportPayload{Reason: reason})
	if err != nil {
		return nil, err
	}

	uniqueOpt := asynq.Unique(5 * time.Minute)
	allOpts := append(opts, uniqueOpt)

	return asynq.NewTask(TypeInventoryReport, payloadBytes, allOpts...), nil
}
