package objectstore

import (
	"context"

	"github.com/pantrykeep/mealimages/internal/domain"
)

// ObjectStore is durable storage for meal images in a single bucket
type ObjectStore interface {
	// List returns the objects whose name matches the search pattern
	List(ctx context.Context, pattern string) ([]domain.StoredObject, error)
	// Upload writes the object, overwriting any existing object with the same name
	Upload(ctx context.Context, filename string, data []byte, contentType string) error
	// PublicURL is the stable URL the object is served from
	PublicURL(filename string) string
}
