package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pantrykeep/mealimages/internal/adapters/cache"
	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/pantrykeep/mealimages/internal/logging"
	"github.com/pantrykeep/mealimages/internal/reporting"
	"github.com/pantrykeep/mealimages/internal/strutils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const recordGenerationTimeout = 5 * time.Second

// GetMealImage returns a picture for the meal.
//
// Errors are domain.ErrInvalidMealName for a blank name, and domain.ErrMealImageUnavailable when
// no image could be produced right now.
type GetMealImage func(ctx context.Context, mealName string) (domain.MealImage, error)

type generationRecorder interface {
	StoreGeneration(ctx context.Context, record domain.GenerationRecord) error
}

type outcome string

const (
	outcomeInvalid     outcome = "invalid"
	outcomeHit         outcome = "hit"
	outcomeCooldown    outcome = "cooldown"
	outcomeJoined      outcome = "joined"
	outcomeStored      outcome = "stored"
	outcomeGenerated   outcome = "generated"
	outcomeEphemeral   outcome = "ephemeral"
	outcomeUnavailable outcome = "unavailable"
)

func BuildGetMealImage(
	mealImageCache *cache.MealImageCache,
	store mealImageLister,
	generateMealImage GenerateMealImage,
	persistMealImage PersistMealImage,
	generationRepo generationRecorder,
	failureCooldown time.Duration,
	networkTimeout time.Duration,
	nowFunc func() time.Time,
) (GetMealImage, error) {
	meter := otel.Meter("mealimages/app/get_meal_image")
	outcomeCount, err := meter.Int64Counter("mealimages/app/get_meal_image/outcome_count")
	if err != nil {
		return nil, fmt.Errorf("failed to create outcome count metric: %w", err)
	}

	recordOutcome := func(ctx context.Context, o outcome) {
		outcomeCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(o))))
	}

	// recordGeneration writes to the ledger without letting a slow or failing database affect the result
	recordGeneration := func(ctx context.Context, record domain.GenerationRecord) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordGenerationTimeout)
		defer cancel()

		err := generationRepo.StoreGeneration(ctx, record)
		if err != nil {
			// NOTE: GenerationRepository implementations handle their own error reporting
			logging.FromContext(ctx).WarnContext(ctx, "Failed to record generation", slog.String("error", err.Error()))
		}
	}

	resolve := func(ctx context.Context, key string, mealName string) (domain.MealImage, outcome, error) {
		logger := logging.FromContext(ctx)

		if url, found := findStoredMealImage(ctx, store, key, networkTimeout); found {
			logger.InfoContext(ctx, "Found stored meal image")
			return domain.MealImage{Key: key, URL: url}, outcomeStored, nil
		}

		record := domain.GenerationRecord{
			Key:      key,
			MealName: mealName,
			Prompt:   BuildMealImagePrompt(mealName),
		}

		providerURL, err := generateMealImage(ctx, mealName)
		if err != nil {
			// NOTE: GenerateMealImage handles its own error reporting
			logger.WarnContext(ctx, "Failed to generate meal image", slog.String("error", err.Error()))
			record.Outcome = domain.GenerationOutcomeFailed
			record.CreatedAt = nowFunc()
			recordGeneration(ctx, record)
			return domain.MealImage{}, outcomeUnavailable, err
		}
		record.ProviderURL = providerURL

		storedURL, err := persistMealImage(ctx, providerURL, strutils.MealImageFilename(key, MEAL_IMAGE_EXTENSION))
		record.CreatedAt = nowFunc()
		if err != nil {
			// NOTE: PersistMealImage handles its own error reporting
			logger.WarnContext(ctx, "Failed to persist generated meal image, handing out provider url", slog.String("error", err.Error()))
			record.Outcome = domain.GenerationOutcomeEphemeral
			recordGeneration(ctx, record)
			return domain.MealImage{Key: key, URL: providerURL, Ephemeral: true}, outcomeEphemeral, nil
		}

		record.Outcome = domain.GenerationOutcomeStored
		record.StoredURL = storedURL
		recordGeneration(ctx, record)
		return domain.MealImage{Key: key, URL: storedURL}, outcomeGenerated, nil
	}

	return func(ctx context.Context, mealName string) (domain.MealImage, error) {
		if strings.TrimSpace(mealName) == "" {
			logging.FromContext(ctx).WarnContext(ctx, "Meal image requested for blank meal name")
			recordOutcome(ctx, outcomeInvalid)
			return domain.MealImage{}, fmt.Errorf("%w: meal name is blank", domain.ErrInvalidMealName)
		}

		key := strutils.NormalizeMealName(mealName)
		ctx = logging.AddMetaToContext(ctx, slog.String("mealKey", key))
		ctx = reporting.SetMealKeyInContext(ctx, key)

		// Set by the resolve function if this call ends up resolving the key
		resolvedOutcome := outcomeUnavailable

		image, lookup, err := cache.GetOrResolve(ctx, mealImageCache, key, failureCooldown, nowFunc, func(ctx context.Context) (domain.MealImage, error) {
			image, o, err := resolve(ctx, key, mealName)
			resolvedOutcome = o
			return image, err
		})

		switch {
		case err != nil && lookup == cache.LookupCooldown:
			recordOutcome(ctx, outcomeCooldown)
		case err != nil:
			recordOutcome(ctx, outcomeUnavailable)
		case lookup == cache.LookupHit:
			recordOutcome(ctx, outcomeHit)
		case lookup == cache.LookupJoined:
			recordOutcome(ctx, outcomeJoined)
		default:
			recordOutcome(ctx, resolvedOutcome)
		}

		if err != nil {
			if !errors.Is(err, domain.ErrMealImageUnavailable) {
				err = fmt.Errorf("%w: %w", domain.ErrMealImageUnavailable, err)
			}
			return domain.MealImage{}, err
		}

		return image, nil
	}, nil
}
