package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pantrykeep/mealimages/internal/domain"
)

const (
	MEAL_IMAGE_SIZE    = "1024x1024"
	MEAL_IMAGE_QUALITY = "standard"
	MEAL_IMAGE_STYLE   = "natural"
)

type GenerateMealImage func(ctx context.Context, mealName string) (string, error)

type imageGenerator interface {
	GenerateImage(ctx context.Context, request domain.ImageGenerationRequest) (string, error)
}

func BuildMealImagePrompt(mealName string) string {
	return fmt.Sprintf(
		"A realistic, appetizing food photograph of %s, plated and ready to serve on a simple table. "+
			"Soft natural light, shallow depth of field, shot from a slight overhead angle. "+
			"No people, no hands, no text or logos.",
		strings.TrimSpace(mealName),
	)
}

// BuildGenerateMealImage returns a function requesting one new image for a meal.
// It never retries, a generated but unused image would be paid for twice.
func BuildGenerateMealImage(generator imageGenerator) GenerateMealImage {
	return func(ctx context.Context, mealName string) (string, error) {
		url, err := generator.GenerateImage(ctx, domain.ImageGenerationRequest{
			Prompt:  BuildMealImagePrompt(mealName),
			Size:    MEAL_IMAGE_SIZE,
			Quality: MEAL_IMAGE_QUALITY,
			Style:   MEAL_IMAGE_STYLE,
		})
		if err != nil {
			// NOTE: ImageGenerator implementations handle their own error reporting
			if !errors.Is(err, domain.ErrGenerationFailed) {
				err = fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
			}
			return "", err
		}

		if url == "" {
			return "", fmt.Errorf("%w: generator returned an empty url", domain.ErrGenerationFailed)
		}

		return url, nil
	}
}
