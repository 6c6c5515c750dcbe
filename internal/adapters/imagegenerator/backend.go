package imagegenerator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pantrykeep/mealimages/internal/adapters/authtoken"
	"github.com/pantrykeep/mealimages/internal/constants"
	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/pantrykeep/mealimages/internal/logging"
	"github.com/pantrykeep/mealimages/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type backend struct {
	httpClient    HttpClient
	endpoint      string
	tokenProvider authtoken.TokenProvider
	limiter       RequestLimiter
	timeout       time.Duration

	metrics generatorMetricsCollection
	tracer  trace.Tracer
}

// NewBackend returns a generator calling our own generation endpoint, which holds the provider credentials
func NewBackend(
	httpClient HttpClient,
	endpoint string,
	tokenProvider authtoken.TokenProvider,
	limiter RequestLimiter,
	timeout time.Duration,
) (*backend, error) {
	const name = "mealimages/imagegenerator/backend"

	meter := otel.Meter(name)
	tracer := otel.Tracer(name)

	metrics, err := setupGeneratorMetrics(meter, "imagegenerator/backend")
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &backend{
		httpClient:    httpClient,
		endpoint:      endpoint,
		tokenProvider: tokenProvider,
		limiter:       limiter,
		timeout:       timeout,

		metrics: metrics,
		tracer:  tracer,
	}, nil
}

type backendRequest struct {
	Prompt  string `json:"prompt"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
	Style   string `json:"style"`
}

type backendResponse struct {
	ImageURL string `json:"imageUrl"`
}

func (b *backend) GenerateImage(ctx context.Context, request domain.ImageGenerationRequest) (string, error) {
	ctx, span := b.tracer.Start(ctx, "Backend.GenerateImage")
	defer span.End()

	token, err := b.tokenProvider.GetToken(ctx)
	if err != nil {
		err := fmt.Errorf("%w: could not get auth token: %w", domain.ErrGenerationFailed, err)
		reporting.Report(ctx, err)
		return "", err
	}

	body, err := json.Marshal(backendRequest{
		Prompt:  request.Prompt,
		Size:    request.Size,
		Quality: request.Quality,
		Style:   request.Style,
	})
	if err != nil {
		err := fmt.Errorf("failed to marshal request: %w", err)
		reporting.Report(ctx, err)
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		err := fmt.Errorf("failed to create request: %w", err)
		reporting.Report(ctx, err)
		return "", err
	}

	req.Header.Set("User-Agent", constants.USER_AGENT)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var resp *http.Response
	var data []byte
	ran := b.limiter.Limit(ctx, b.timeout, func() {
		resp, err = b.httpClient.Do(req)
		if err != nil {
			err = fmt.Errorf("%w: failed to send request: %w", domain.ErrGenerationFailed, err)
			reporting.Report(ctx, err)
			return
		}

		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			err = fmt.Errorf("%w: failed to read response body: %w", domain.ErrGenerationFailed, err)
			reporting.Report(ctx, err)
			return
		}
	})
	if !ran {
		logging.FromContext(ctx).WarnContext(ctx, "Did not run Backend.GenerateImage due to rate limiting", "ctx_error", ctx.Err())
		return "", fmt.Errorf("%w: %w: too many generation requests", domain.ErrGenerationFailed, domain.ErrTemporarilyUnavailable)
	}
	if err != nil {
		return "", err
	}

	b.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status_code", strconv.Itoa(resp.StatusCode)),
	))

	imageURL, err := imageURLFromBackendResponse(resp.StatusCode, data)
	if err != nil {
		err := fmt.Errorf("failed to get image url from backend response: %w", err)
		if !errors.Is(err, domain.ErrTemporarilyUnavailable) {
			reporting.Report(ctx, err, map[string]string{
				"data":   string(data),
				"status": strconv.Itoa(resp.StatusCode),
			})
		}
		return "", err
	}

	return imageURL, nil
}

func imageURLFromBackendResponse(statusCode int, data []byte) (string, error) {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return "", fmt.Errorf("%w: %w: generation endpoint returned status code %d", domain.ErrGenerationFailed, domain.ErrTemporarilyUnavailable, statusCode)
	}

	if statusCode < 200 || statusCode >= 300 {
		return "", fmt.Errorf("%w: generation endpoint returned status code %d", domain.ErrGenerationFailed, statusCode)
	}

	var response backendResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %w", domain.ErrGenerationFailed, err)
	}

	if response.ImageURL == "" {
		return "", fmt.Errorf("%w: response is missing imageUrl", domain.ErrGenerationFailed)
	}

	return response.ImageURL, nil
}
