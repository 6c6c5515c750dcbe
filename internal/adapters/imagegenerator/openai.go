package imagegenerator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/pantrykeep/mealimages/internal/logging"
	"github.com/pantrykeep/mealimages/internal/reporting"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type openAI struct {
	client  *openai.Client
	model   string
	limiter RequestLimiter
	timeout time.Duration

	metrics generatorMetricsCollection
	tracer  trace.Tracer
}

// NewOpenAI returns a generator calling the OpenAI images API directly
func NewOpenAI(
	httpClient HttpClient,
	apiKey string,
	baseURL string,
	limiter RequestLimiter,
	timeout time.Duration,
) (*openAI, error) {
	const name = "mealimages/imagegenerator/openai"

	meter := otel.Meter(name)
	tracer := otel.Tracer(name)

	metrics, err := setupGeneratorMetrics(meter, "imagegenerator/openai")
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = httpClient

	return &openAI{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   openai.CreateImageModelDallE3,
		limiter: limiter,
		timeout: timeout,

		metrics: metrics,
		tracer:  tracer,
	}, nil
}

func (o *openAI) GenerateImage(ctx context.Context, request domain.ImageGenerationRequest) (string, error) {
	ctx, span := o.tracer.Start(ctx, "OpenAI.GenerateImage")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var resp openai.ImageResponse
	var err error
	ran := o.limiter.Limit(ctx, o.timeout, func() {
		resp, err = o.client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         request.Prompt,
			Model:          o.model,
			N:              1,
			Size:           request.Size,
			Quality:        request.Quality,
			Style:          request.Style,
			ResponseFormat: openai.CreateImageResponseFormatURL,
		})
	})
	if !ran {
		logging.FromContext(ctx).WarnContext(ctx, "Did not run OpenAI.GenerateImage due to rate limiting", "ctx_error", ctx.Err())
		return "", fmt.Errorf("%w: %w: too many generation requests", domain.ErrGenerationFailed, domain.ErrTemporarilyUnavailable)
	}

	statusCode := statusCodeFromOpenAIError(err)
	o.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status_code", strconv.Itoa(statusCode)),
	))

	if err != nil {
		switch statusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return "", fmt.Errorf("%w: %w: %w", domain.ErrGenerationFailed, domain.ErrTemporarilyUnavailable, err)
		}
		err := fmt.Errorf("%w: openai create image: %w", domain.ErrGenerationFailed, err)
		reporting.Report(ctx, err, map[string]string{
			"status": strconv.Itoa(statusCode),
		})
		return "", err
	}

	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		err := fmt.Errorf("%w: openai response is missing an image url", domain.ErrGenerationFailed)
		reporting.Report(ctx, err)
		return "", err
	}

	return resp.Data[0].URL, nil
}

// Status code of a failed request, 200 for no error and 0 when unknown
func statusCodeFromOpenAIError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}

	var requestErr *openai.RequestError
	if errors.As(err, &requestErr) {
		return requestErr.HTTPStatusCode
	}

	return 0
}
