package objectstore

import (
	"fmt"
	"net/http"

	"github.com/pantrykeep/mealimages/internal/config"
)

// NewObjectStoreOrMemory returns the storage API store, or an in-process store in development
// when no STORAGE_URL is configured. The in-process store is also returned as a handler that
// serves the stored objects, to be mounted at devPublicURL.
func NewObjectStoreOrMemory(conf config.Config, httpClient HttpClient, devPublicURL string) (ObjectStore, http.Handler, error) {
	if conf.StorageURL() != "" {
		store, err := NewStorageAPI(
			httpClient,
			conf.StorageURL(),
			conf.StoragePublicURL(),
			conf.StorageBucket(),
			conf.StorageServiceKey(),
			conf.NetworkTimeout(),
		)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}

	if conf.IsDevelopment() {
		store := NewMemory(devPublicURL, conf.StorageBucket())
		return store, store, nil
	}

	return nil, nil, fmt.Errorf("%w: STORAGE_URL", config.ErrMissingRequiredValue)
}
