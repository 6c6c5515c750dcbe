package imagegenerator

import (
	"fmt"

	"github.com/pantrykeep/mealimages/internal/adapters/authtoken"
	"github.com/pantrykeep/mealimages/internal/config"
)

const MOCK_IMAGE_BASE_URL = "https://placehold.co/1024x1024/png"

// NewImageGeneratorFromConfig returns the generator selected by GENERATOR_BACKEND
func NewImageGeneratorFromConfig(conf config.Config, httpClient HttpClient, limiter RequestLimiter) (ImageGenerator, error) {
	switch conf.GeneratorBackend() {
	case config.GeneratorBackendAPI:
		var tokenProvider authtoken.TokenProvider
		if conf.GeneratorAuthTokenFile() != "" {
			tokenProvider = authtoken.NewFile(conf.GeneratorAuthTokenFile())
		} else {
			tokenProvider = authtoken.NewStatic(conf.GeneratorAuthToken())
		}
		generator, err := NewBackend(httpClient, conf.GeneratorAPIURL(), tokenProvider, limiter, conf.GenerationTimeout())
		if err != nil {
			return nil, err
		}
		return generator, nil
	case config.GeneratorBackendOpenAI:
		generator, err := NewOpenAI(httpClient, conf.OpenAIAPIKey(), conf.OpenAIBaseURL(), limiter, conf.GenerationTimeout())
		if err != nil {
			return nil, err
		}
		return generator, nil
	case config.GeneratorBackendMock:
		if !conf.IsDevelopment() {
			return nil, fmt.Errorf("mock image generator is only available in development")
		}
		return NewMock(MOCK_IMAGE_BASE_URL), nil
	}

	return nil, fmt.Errorf("unknown image generator backend %q", conf.GeneratorBackend())
}
