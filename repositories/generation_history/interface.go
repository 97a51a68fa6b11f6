package generation_history

import (
	"context"

	"sd_control_bot/entities"
)

type Repository interface {
	Append(ctx context.Context, entry *entities.HistoryEntry) error
	Recent(ctx context.Context, limit int) ([]*entities.HistoryEntry, error)
}
