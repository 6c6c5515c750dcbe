package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/pantrykeep/mealimages/internal/logging"
	"github.com/pantrykeep/mealimages/internal/strutils"
)

// Images are written as jpg. Older deployments wrote png, which we still want to find.
const (
	MEAL_IMAGE_EXTENSION        = "jpg"
	LEGACY_MEAL_IMAGE_EXTENSION = "png"
)

var storedMealImageExtensions = []string{MEAL_IMAGE_EXTENSION, LEGACY_MEAL_IMAGE_EXTENSION}

type mealImageLister interface {
	List(ctx context.Context, pattern string) ([]domain.StoredObject, error)
	PublicURL(filename string) string
}

// findStoredMealImage looks for an existing image for key in durable storage.
// Listing errors count as not found, so a storage outage falls through to generation.
func findStoredMealImage(ctx context.Context, store mealImageLister, key string, timeout time.Duration) (string, bool) {
	for _, extension := range storedMealImageExtensions {
		filename := strutils.MealImageFilename(key, extension)

		objects, err := listWithTimeout(ctx, store, filename, timeout)
		if err != nil {
			logging.FromContext(ctx).WarnContext(
				ctx,
				"Failed to list stored meal images",
				slog.String("filename", filename),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, object := range objects {
			if strings.HasPrefix(object.Name, filename) {
				return store.PublicURL(object.Name), true
			}
		}
	}

	return "", false
}

func listWithTimeout(ctx context.Context, store mealImageLister, filename string, timeout time.Duration) ([]domain.StoredObject, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return store.List(ctx, filename)
}
