package store

import (
	"context"
	"errors"
	"time"

	"drtdispatch/internal/matrix"
	"drtdispatch/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (model.Run, error)
	UpdateRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, error)
	ListRuns(ctx context.Context, status, cursor string, limit int) (items []model.Run, nextCursor string, err error)

	// Matrix datasets: sparse records keyed by (from, to); a later write of
	// the same pair replaces the earlier one.
	SaveMatrix(ctx context.Context, dataset string, records []matrix.Record) (saved int, err error)
	LoadMatrix(ctx context.Context, dataset string) ([]matrix.Record, error)

	// Webhook deliveries of run callbacks
	EnqueueWebhook(ctx context.Context, runID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error)
	RetryWebhookDelivery(ctx context.Context, id string) error

	// Optimizer defaults applied under every run's own params
	GetOptimizerConfig(ctx context.Context) (model.RunParams, error)
	SaveOptimizerConfig(ctx context.Context, params model.RunParams) error

	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

const defaultLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultLimit
	}
	return limit
}
