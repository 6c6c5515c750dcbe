package generationrepository

import (
	"context"

	"github.com/pantrykeep/mealimages/internal/domain"
)

type GenerationRepository interface {
	StoreGeneration(ctx context.Context, record domain.GenerationRecord) error
	// Most recent first
	GetGenerationsForKey(ctx context.Context, key string, limit int) ([]domain.GenerationRecord, error)
}
