package domain

import "time"

type GenerationOutcome string

const (
	// The generated image was stored durably
	GenerationOutcomeStored GenerationOutcome = "stored"
	// The image was generated, but storing it failed. The provider URL was handed out once.
	GenerationOutcomeEphemeral GenerationOutcome = "ephemeral"
	// The generation itself failed
	GenerationOutcomeFailed GenerationOutcome = "failed"
)

// GenerationRecord is a ledger entry for one paid call to the image generator
type GenerationRecord struct {
	Key         string
	MealName    string
	Prompt      string
	Outcome     GenerationOutcome
	ProviderURL string
	StoredURL   string
	CreatedAt   time.Time
}
