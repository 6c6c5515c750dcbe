package imagegenerator

import (
	"context"
	"net/http"
	"time"

	"github.com/pantrykeep/mealimages/internal/domain"
)

// ImageGenerator asks an AI provider for a new image and returns the provider-issued URL.
// The URL is not durable and may expire.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, request domain.ImageGenerationRequest) (string, error)
}

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type RequestLimiter interface {
	Limit(ctx context.Context, maxOperationTime time.Duration, operation func()) bool
}
