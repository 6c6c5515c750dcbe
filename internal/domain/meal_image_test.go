package domain_test

import (
	"testing"
	"time"

	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestMealImageCacheEntryInCooldown(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	cooldown := 10 * time.Minute

	tests := []struct {
		name     string
		entry    domain.MealImageCacheEntry
		expected bool
	}{
		{
			name:     "resolved entry is never in cooldown",
			entry:    domain.MealImageCacheEntry{Key: "soup", URL: "https://store/soup.jpg"},
			expected: false,
		},
		{
			name:     "fresh failure",
			entry:    domain.MealImageCacheEntry{Key: "soup", FailedAt: now.Add(-1 * time.Minute)},
			expected: true,
		},
		{
			name:     "failure just inside cooldown",
			entry:    domain.MealImageCacheEntry{Key: "soup", FailedAt: now.Add(-cooldown + time.Second)},
			expected: true,
		},
		{
			name:     "failure exactly at cooldown",
			entry:    domain.MealImageCacheEntry{Key: "soup", FailedAt: now.Add(-cooldown)},
			expected: false,
		},
		{
			name:     "old failure",
			entry:    domain.MealImageCacheEntry{Key: "soup", FailedAt: now.Add(-1 * time.Hour)},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.expected, tt.entry.InCooldown(now, cooldown))
		})
	}
}
