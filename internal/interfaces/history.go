package interfaces

import (
	"context"

	"Urban-Render/server/internal/models"
)

// HistoryStore records finished renders
type HistoryStore interface {
	Record(ctx context.Context, rec *models.RenderRecord) error
	Recent(ctx context.Context, limit int) ([]models.RenderRecord, error)
}
