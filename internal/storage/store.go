package storage

import (
	"context"

	"planpolicy/internal/model"
)

// Store persists training runs and their per-epoch validation history.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first, at most limit entries when limit > 0.
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)
	SaveEpochHistory(ctx context.Context, runID string, history []model.EpochRecord) error
	GetEpochHistory(ctx context.Context, runID string) ([]model.EpochRecord, bool, error)
}
