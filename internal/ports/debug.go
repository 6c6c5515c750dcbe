package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/pantrykeep/mealimages/internal/logging"
	"github.com/pantrykeep/mealimages/internal/reporting"
	"github.com/pantrykeep/mealimages/internal/strutils"
)

const (
	defaultGenerationsLimit = 50
	maxGenerationsLimit     = 500
)

type MealImageCacheInspector interface {
	Len() int
	Keys() []string
	InFlightKeys() []string
	Clear()
}

type GenerationLister interface {
	GetGenerationsForKey(ctx context.Context, key string, limit int) ([]domain.GenerationRecord, error)
}

func buildDebugMiddleware(endpoint string, adminToken string, rootLogger *slog.Logger, sentryMiddleware func(http.HandlerFunc) http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	return ComposeMiddlewares(
		append(
			[]func(http.HandlerFunc) http.HandlerFunc{
				buildMetricsMiddleware(endpoint),
				logging.NewRequestLoggerMiddleware(rootLogger),
				sentryMiddleware,
				reporting.NewAddMetaMiddleware(endpoint),
			},
			append(
				buildRateLimitMiddlewares(rateLimits{
					ipRefill:     1,
					ipBurst:      30,
					userIDRefill: 1,
					userIDBurst:  30,
				}),
				NewAdminAuthMiddleware(adminToken),
			)...,
		)...,
	)
}

type mealImageCacheResponse struct {
	Size         int      `json:"size"`
	Keys         []string `json:"keys"`
	InFlightKeys []string `json:"inFlightKeys"`
}

// MakeMealImageCacheHandler shows the cached meal keys on GET, and drops them on DELETE
func MakeMealImageCacheHandler(
	mealImageCache MealImageCacheInspector,
	adminToken string,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildDebugMiddleware("meal_image_cache", adminToken, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		switch r.Method {
		case http.MethodGet:
		case http.MethodDelete:
			size := mealImageCache.Len()
			mealImageCache.Clear()
			logging.FromContext(ctx).InfoContext(ctx, "Cleared meal image cache", slog.Int("size", size))
		default:
			w.Header().Set("Allow", "GET, DELETE")
			writeJSON(w, http.StatusMethodNotAllowed, []byte(`{"success":false,"cause":"method not allowed"}`))
			return
		}

		body, err := json.Marshal(mealImageCacheResponse{
			Size:         mealImageCache.Len(),
			Keys:         mealImageCache.Keys(),
			InFlightKeys: mealImageCache.InFlightKeys(),
		})
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to marshal meal image cache response: %w", err))
			writeInternalServerError(w)
			return
		}

		writeJSON(w, http.StatusOK, body)
	}

	return middleware(handler)
}

type generationResponse struct {
	MealName    string    `json:"mealName"`
	Prompt      string    `json:"prompt"`
	Outcome     string    `json:"outcome"`
	ProviderURL *string   `json:"providerUrl"`
	StoredURL   *string   `json:"storedUrl"`
	CreatedAt   time.Time `json:"createdAt"`
}

type generationsResponse struct {
	Success     bool                 `json:"success"`
	Key         string               `json:"key"`
	Generations []generationResponse `json:"generations"`
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MakeGetGenerationsHandler lists the most recent generation attempts for a meal
func MakeGetGenerationsHandler(
	generationLister GenerationLister,
	adminToken string,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildDebugMiddleware("get_generations", adminToken, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		mealName := r.URL.Query().Get("name")
		if strings.TrimSpace(mealName) == "" {
			writeJSON(w, http.StatusBadRequest, []byte(`{"success":false,"cause":"invalid meal name"}`))
			return
		}

		limit := defaultGenerationsLimit
		if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
			parsed, err := strconv.Atoi(rawLimit)
			if err != nil || parsed < 1 || parsed > maxGenerationsLimit {
				writeJSON(w, http.StatusBadRequest, []byte(fmt.Sprintf(`{"success":false,"cause":"limit must be between 1 and %d"}`, maxGenerationsLimit)))
				return
			}
			limit = parsed
		}

		key := strutils.NormalizeMealName(mealName)

		records, err := generationLister.GetGenerationsForKey(ctx, key, limit)
		if err != nil {
			// NOTE: GenerationRepository implementations handle their own error reporting
			writeInternalServerError(w)
			return
		}

		response := generationsResponse{
			Success:     true,
			Key:         key,
			Generations: make([]generationResponse, 0, len(records)),
		}
		for _, record := range records {
			response.Generations = append(response.Generations, generationResponse{
				MealName:    record.MealName,
				Prompt:      record.Prompt,
				Outcome:     string(record.Outcome),
				ProviderURL: optionalString(record.ProviderURL),
				StoredURL:   optionalString(record.StoredURL),
				CreatedAt:   record.CreatedAt,
			})
		}

		body, err := json.Marshal(response)
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to marshal generations response: %w", err))
			writeInternalServerError(w)
			return
		}

		writeJSON(w, http.StatusOK, body)
	}

	return middleware(handler)
}
