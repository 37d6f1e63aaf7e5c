package storage

import (
	"context"

	"stigmergy/internal/model"
)

// Store is the run ledger: finished-run summaries plus their sampled metric
// series.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns every run ordered by start time, oldest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	SaveMetricsHistory(ctx context.Context, runID string, history []model.MetricsSample) error
	GetMetricsHistory(ctx context.Context, runID string) ([]model.MetricsSample, bool, error)
}
