package domain

import "errors"

var (
	ErrInvalidMealName         = errors.New("invalid meal name")
	ErrMealImageUnavailable    = errors.New("meal image unavailable")
	ErrTemporarilyUnavailable  = errors.New("temporarily unavailable")
	ErrGenerationFailed        = errors.New("image generation failed")
	ErrCompressionFailed       = errors.New("image compression failed")
	ErrUploadFailed            = errors.New("image upload failed")
	ErrStoragePermissionDenied = errors.New("storage permission denied")
	ErrAllAttemptsExhausted    = errors.New("all attempts exhausted")
	ErrNoAuthToken             = errors.New("no auth token available")
)
