package imagegenerator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pantrykeep/mealimages/internal/domain"
)

type mock struct {
	baseURL string
}

// NewMock returns a generator for local development that never calls a paid provider.
// The returned URL points at baseURL with a seed derived from the prompt.
func NewMock(baseURL string) ImageGenerator {
	return mock{baseURL: baseURL}
}

func (m mock) GenerateImage(ctx context.Context, request domain.ImageGenerationRequest) (string, error) {
	if request.Prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrGenerationFailed)
	}

	sum := sha256.Sum256([]byte(request.Prompt))
	return fmt.Sprintf("%s?seed=%s", m.baseURL, hex.EncodeToString(sum[:8])), nil
}
