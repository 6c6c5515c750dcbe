package ports

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pantrykeep/mealimages/internal/app"
	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/pantrykeep/mealimages/internal/logging"
	"github.com/pantrykeep/mealimages/internal/reporting"
	"github.com/pantrykeep/mealimages/internal/strutils"
)

const maxMealNameLength = 500

type mealImageResponse struct {
	Success   bool    `json:"success"`
	Key       string  `json:"key"`
	URL       *string `json:"url"`
	Ephemeral bool    `json:"ephemeral"`
}

func MakeGetMealImageHandler(
	getMealImage app.GetMealImage,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		append(
			[]func(http.HandlerFunc) http.HandlerFunc{
				buildMetricsMiddleware("get_meal_image"),
				logging.NewRequestLoggerMiddleware(rootLogger),
				sentryMiddleware,
				reporting.NewAddMetaMiddleware("get_meal_image"),
				BuildCORSMiddleware(allowedOrigins),
			},
			buildRateLimitMiddlewares(rateLimits{
				ipRefill:     8,
				ipBurst:      480,
				userIDRefill: 2,
				userIDBurst:  120,
			})...,
		)...,
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		mealName := r.URL.Query().Get("name")

		ctx = reporting.SetUserIDInContext(ctx, r.Header.Get("X-User-Id"))

		if len(mealName) > maxMealNameLength {
			writeJSON(w, http.StatusBadRequest, []byte(`{"success":false,"cause":"meal name too long"}`))
			return
		}

		ctx = reporting.AddExtrasToContext(ctx,
			map[string]string{
				"mealName": mealName,
			},
		)

		image, err := getMealImage(ctx, mealName)
		if errors.Is(err, domain.ErrInvalidMealName) {
			writeJSON(w, http.StatusBadRequest, []byte(`{"success":false,"cause":"invalid meal name"}`))
			return
		}

		response := mealImageResponse{
			Success: true,
			Key:     strutils.NormalizeMealName(mealName),
		}
		if err != nil {
			// NOTE: GetMealImage implementations handle their own error reporting
			logging.FromContext(ctx).InfoContext(ctx, "No meal image available", slog.String("error", err.Error()))
		} else {
			response.Key = image.Key
			response.URL = &image.URL
			response.Ephemeral = image.Ephemeral
		}

		body, err := json.Marshal(response)
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to marshal meal image response: %w", err))
			writeInternalServerError(w)
			return
		}

		writeJSON(w, http.StatusOK, body)
	}

	return middleware(handler)
}
