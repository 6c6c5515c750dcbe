package strutils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

const MAX_MEAL_KEY_LENGTH = 100

const FALLBACK_MEAL_KEY_PREFIX = "meal-"

// Map a free-text meal name to the canonical key used for cache lookups and storage filenames
//
// Lowercases, drops every character outside [a-z0-9-] and whitespace, turns whitespace runs
// into single dashes, collapses repeated dashes and truncates to MAX_MEAL_KEY_LENGTH.
// Names with nothing left after stripping (e.g. only emoji) get a key derived from a hash of
// the input so the result is never empty.
func NormalizeMealName(name string) string {
	trimmed := strings.TrimSpace(name)
	lowered := strings.ToLower(trimmed)

	var stripped strings.Builder
	stripped.Grow(len(lowered))
	for _, char := range lowered {
		switch {
		case char >= 'a' && char <= 'z', char >= '0' && char <= '9', char == '-':
			stripped.WriteRune(char)
		case unicode.IsSpace(char):
			stripped.WriteByte(' ')
		}
	}

	var normalized strings.Builder
	normalized.Grow(stripped.Len())
	for _, char := range strings.TrimSpace(stripped.String()) {
		if char == ' ' || char == '-' {
			if strings.HasSuffix(normalized.String(), "-") {
				continue
			}
			normalized.WriteByte('-')
			continue
		}
		normalized.WriteRune(char)
	}

	key := normalized.String()
	if len(key) > MAX_MEAL_KEY_LENGTH {
		// Only ASCII remains, so slicing bytes is safe
		key = strings.TrimRight(key[:MAX_MEAL_KEY_LENGTH], "-")
	}

	if key == "" {
		hash := sha256.Sum256([]byte(trimmed))
		return FALLBACK_MEAL_KEY_PREFIX + hex.EncodeToString(hash[:])[:16]
	}

	return key
}

func MealImageFilename(key string, extension string) string {
	return fmt.Sprintf("%s.%s", key, extension)
}
