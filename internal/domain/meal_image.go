package domain

import "time"

// MealImage is the result handed to callers asking for a picture of a meal
type MealImage struct {
	Key string
	URL string

	// The URL was issued by the image provider and could not be stored durably.
	// It may expire and must only be used once.
	Ephemeral bool
}

// MealImageCacheEntry is the resolved state for one canonical meal key
//
// An entry with a URL is resolved. An entry without a URL is a failure recorded at FailedAt.
type MealImageCacheEntry struct {
	Key      string
	URL      string
	FailedAt time.Time
}

func (e MealImageCacheEntry) Resolved() bool {
	return e.URL != ""
}

// Whether the failure is recent enough that a new attempt should not be made
func (e MealImageCacheEntry) InCooldown(now time.Time, cooldown time.Duration) bool {
	if e.Resolved() {
		return false
	}
	return now.Sub(e.FailedAt) < cooldown
}

type StoredObject struct {
	Name string
}

type ImageGenerationRequest struct {
	Prompt  string
	Size    string
	Quality string
	Style   string
}
