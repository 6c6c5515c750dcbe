package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/pantrykeep/mealimages/internal/logging"
	"github.com/pantrykeep/mealimages/internal/reporting"
)

type Lookup string

const (
	LookupHit      Lookup = "hit"
	LookupCooldown Lookup = "cooldown"
	LookupJoined   Lookup = "joined"
	LookupResolved Lookup = "resolved"
)

type ResolveFunc func(ctx context.Context) (domain.MealImage, error)

// Get the meal image for key from the cache, or resolve it
//
// At most one resolve runs per key at a time. Callers arriving while it runs wait for, and
// receive, the same result. Only non-ephemeral URLs are cached as resolved; every other outcome
// is cached as a failure and suppresses new attempts for the duration of cooldown.
//
// The resolution runs detached from the caller's cancellation: a caller whose context ends
// stops waiting, but the work continues so other and later callers get the result.
//
// The only error returned wraps domain.ErrMealImageUnavailable.
func GetOrResolve(
	ctx context.Context,
	c *MealImageCache,
	key string,
	cooldown time.Duration,
	nowFunc func() time.Time,
	resolve ResolveFunc,
) (domain.MealImage, Lookup, error) {
	logger := logging.FromContext(ctx).With(slog.String("key", key))

	claim := c.getOrClaim(key, nowFunc(), cooldown)
	if claim.found {
		if claim.entry.Resolved() {
			logger.InfoContext(ctx, "Getting meal image", "cache", "hit")
			return domain.MealImage{Key: key, URL: claim.entry.URL}, LookupHit, nil
		}

		logger.InfoContext(ctx, "Getting meal image", "cache", "cooldown", "failedAt", claim.entry.FailedAt)
		return domain.MealImage{}, LookupCooldown, fmt.Errorf("%w: resolution failed recently", domain.ErrMealImageUnavailable)
	}

	lookup := LookupJoined
	if claim.claimed {
		lookup = LookupResolved
		logger.InfoContext(ctx, "Getting meal image", "cache", "miss")
		go c.run(context.WithoutCancel(ctx), key, claim.call, nowFunc, resolve)
	} else {
		logger.InfoContext(ctx, "Waiting for in-flight meal image")
	}

	select {
	case <-claim.call.done:
		return claim.call.image, lookup, claim.call.err
	case <-ctx.Done():
		logger.WarnContext(ctx, "Stopped waiting for meal image", "error", ctx.Err())
		return domain.MealImage{}, lookup, fmt.Errorf("%w: %w", domain.ErrMealImageUnavailable, ctx.Err())
	}
}

func (c *MealImageCache) run(ctx context.Context, key string, call *inFlightCall, nowFunc func() time.Time, resolve ResolveFunc) {
	var image domain.MealImage
	var err error

	defer func() {
		if r := recover(); r != nil {
			image = domain.MealImage{}
			err = fmt.Errorf("%w: panic while resolving meal image: %v", domain.ErrMealImageUnavailable, r)
			reporting.Report(ctx, err, map[string]string{"key": key})
		}

		if err == nil && image.URL == "" {
			err = fmt.Errorf("%w: resolved without a url", domain.ErrMealImageUnavailable)
		}
		if err != nil {
			image = domain.MealImage{}
			if !errors.Is(err, domain.ErrMealImageUnavailable) {
				err = fmt.Errorf("%w: %w", domain.ErrMealImageUnavailable, err)
			}
		} else {
			image.Key = key
		}

		entry := domain.MealImageCacheEntry{Key: key}
		if err == nil && !image.Ephemeral {
			entry.URL = image.URL
		} else {
			// Provider URLs expire, so an ephemeral result is recorded as a failure
			// to make a later call retry storing it
			entry.FailedAt = nowFunc()
		}

		c.settle(call, entry, image, err)
	}()

	image, err = resolve(ctx)
}
