package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pantrykeep/mealimages/internal/adapters/imagecompressor"
	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/pantrykeep/mealimages/internal/logging"
	"github.com/pantrykeep/mealimages/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PersistMealImage stores the image at sourceURL durably as filename and returns its public URL
type PersistMealImage func(ctx context.Context, sourceURL string, filename string) (string, error)

type imageCompressor interface {
	Compress(ctx context.Context, sourceURL string) ([]byte, error)
}

type mealImageStore interface {
	mealImageLister
	Upload(ctx context.Context, filename string, data []byte, contentType string) error
}

func BuildPersistMealImage(
	compressor imageCompressor,
	store mealImageStore,
	attempts int,
	backoffBase time.Duration,
	networkTimeout time.Duration,
	afterFunc func(time.Duration) <-chan time.Time,
) (PersistMealImage, error) {
	meter := otel.Meter("mealimages/app/persist_meal_image")
	attemptCount, err := meter.Int64Counter("mealimages/app/persist_meal_image/attempt_count")
	if err != nil {
		return nil, fmt.Errorf("failed to create attempt count metric: %w", err)
	}

	if attempts < 1 {
		return nil, fmt.Errorf("attempts must be at least 1, got %d", attempts)
	}

	return func(ctx context.Context, sourceURL string, filename string) (string, error) {
		logger := logging.FromContext(ctx).With(slog.String("filename", filename))

		var lastErr error
		for attempt := 1; attempt <= attempts; attempt++ {
			if attempt > 1 {
				delay := backoffBase << (attempt - 2)
				select {
				case <-ctx.Done():
					return "", fmt.Errorf("%w: stopped before attempt %d: %w", domain.ErrAllAttemptsExhausted, attempt, ctx.Err())
				case <-afterFunc(delay):
				}
			}

			url, err := persistOnce(ctx, compressor, store, sourceURL, filename, networkTimeout)

			result := "success"
			if err != nil {
				result = "failure"
			}
			attemptCount.Add(ctx, 1, metric.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("result", result),
			))

			if err == nil {
				if attempt > 1 {
					logger.InfoContext(ctx, "Persisted meal image after retrying", slog.Int("attempt", attempt))
				}
				return url, nil
			}
			lastErr = err

			if isPermissionError(err) {
				err := fmt.Errorf("not retrying upload after permission error: %w", err)
				reporting.Report(ctx, err, map[string]string{
					"filename": filename,
				})
				return "", err
			}

			logger.WarnContext(
				ctx,
				"Failed to persist meal image",
				slog.Int("attempt", attempt),
				slog.Int("attempts", attempts),
				slog.String("error", err.Error()),
			)
		}

		err := fmt.Errorf("%w: %d attempts: %w", domain.ErrAllAttemptsExhausted, attempts, lastErr)
		reporting.Report(ctx, err, map[string]string{
			"filename":  filename,
			"sourceURL": sourceURL,
		})
		return "", err
	}, nil
}

func persistOnce(
	ctx context.Context,
	compressor imageCompressor,
	store mealImageStore,
	sourceURL string,
	filename string,
	networkTimeout time.Duration,
) (string, error) {
	// Compress fresh every attempt since a failed attempt may have read a partial download
	data, err := compressor.Compress(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	uploadCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	err = store.Upload(uploadCtx, filename, data, imagecompressor.ContentType)
	cancel()
	if err == nil {
		return store.PublicURL(filename), nil
	}

	if isPermissionError(err) {
		return "", err
	}

	// Some uploads report an error even though the object was written
	objects, listErr := listWithTimeout(ctx, store, filename, networkTimeout)
	if listErr == nil {
		for _, object := range objects {
			if object.Name == filename {
				logging.FromContext(ctx).InfoContext(
					ctx,
					"Upload reported an error, but the object exists",
					slog.String("filename", filename),
					slog.String("error", err.Error()),
				)
				return store.PublicURL(filename), nil
			}
		}
	}

	return "", err
}

func isPermissionError(err error) bool {
	if errors.Is(err, domain.ErrStoragePermissionDenied) {
		return true
	}

	message := strings.ToLower(err.Error())
	for _, marker := range []string{"permission", "authorization", "unauthorized", "forbidden"} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
