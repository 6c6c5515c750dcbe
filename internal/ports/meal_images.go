package ports

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/pantrykeep/mealimages/internal/app"
	"github.com/pantrykeep/mealimages/internal/logging"
	"github.com/pantrykeep/mealimages/internal/reporting"
)

const (
	maxMealNamesPerRequest = 100
	maxMealImagesBodyBytes = 64 << 10
)

type mealImagesRequest struct {
	Names []string `json:"names"`
}

type mealImagesResponse struct {
	Success bool               `json:"success"`
	Images  map[string]*string `json:"images"`
	// Names whose url was issued by the provider and must only be used once
	Ephemeral []string `json:"ephemeral"`
}

func MakeGetMealImagesHandler(
	getMealImages app.GetMealImages,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		append(
			[]func(http.HandlerFunc) http.HandlerFunc{
				buildMetricsMiddleware("get_meal_images"),
				logging.NewRequestLoggerMiddleware(rootLogger),
				sentryMiddleware,
				reporting.NewAddMetaMiddleware("get_meal_images"),
				BuildCORSMiddleware(allowedOrigins),
			},
			// A batch costs up to a hundred lookups
			buildRateLimitMiddlewares(rateLimits{
				ipRefill:     1,
				ipBurst:      60,
				userIDRefill: 0.5,
				userIDBurst:  30,
			})...,
		)...,
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = reporting.SetUserIDInContext(ctx, r.Header.Get("X-User-Id"))

		var request mealImagesRequest
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMealImagesBodyBytes)).Decode(&request)
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeJSON(w, http.StatusRequestEntityTooLarge, []byte(`{"success":false,"cause":"request body too large"}`))
				return
			}
			writeJSON(w, http.StatusBadRequest, []byte(`{"success":false,"cause":"invalid request body"}`))
			return
		}

		if len(request.Names) > maxMealNamesPerRequest {
			writeJSON(w, http.StatusBadRequest, []byte(fmt.Sprintf(`{"success":false,"cause":"at most %d names per request"}`, maxMealNamesPerRequest)))
			return
		}

		ctx = logging.AddMetaToContext(ctx, slog.Int("mealNameCount", len(request.Names)))

		images := getMealImages(ctx, request.Names)

		response := mealImagesResponse{
			Success:   true,
			Images:    make(map[string]*string, len(images)),
			Ephemeral: []string{},
		}
		for mealName, image := range images {
			if image == nil {
				response.Images[mealName] = nil
				continue
			}
			response.Images[mealName] = &image.URL
			if image.Ephemeral {
				response.Ephemeral = append(response.Ephemeral, mealName)
			}
		}
		slices.Sort(response.Ephemeral)

		body, err := json.Marshal(response)
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to marshal meal images response: %w", err))
			writeInternalServerError(w)
			return
		}

		writeJSON(w, http.StatusOK, body)
	}

	return middleware(handler)
}
