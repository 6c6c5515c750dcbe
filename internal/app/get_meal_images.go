package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/pantrykeep/mealimages/internal/logging"
	"golang.org/x/sync/errgroup"
)

// GetMealImages resolves several meals at once. Every input name is a key in the result, with a
// nil value for names that could not be resolved.
type GetMealImages func(ctx context.Context, mealNames []string) map[string]*domain.MealImage

func BuildGetMealImages(getMealImage GetMealImage, concurrency int) GetMealImages {
	return func(ctx context.Context, mealNames []string) map[string]*domain.MealImage {
		results := make(map[string]*domain.MealImage, len(mealNames))
		var lock sync.Mutex

		// Not using the group context, one failing name must not cancel the others
		var group errgroup.Group
		group.SetLimit(concurrency)

		for _, mealName := range mealNames {
			lock.Lock()
			_, seen := results[mealName]
			if !seen {
				results[mealName] = nil
			}
			lock.Unlock()
			if seen {
				continue
			}

			group.Go(func() error {
				image, err := getMealImage(ctx, mealName)
				if err != nil {
					return nil
				}

				lock.Lock()
				results[mealName] = &image
				lock.Unlock()
				return nil
			})
		}

		_ = group.Wait()

		resolved := 0
		for _, image := range results {
			if image != nil {
				resolved++
			}
		}
		logging.FromContext(ctx).InfoContext(
			ctx,
			"Resolved meal images",
			slog.Int("requested", len(results)),
			slog.Int("resolved", resolved),
			slog.Int("unresolved", len(results)-resolved),
		)

		return results
	}
}
