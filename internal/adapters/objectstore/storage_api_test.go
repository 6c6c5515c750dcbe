package objectstore_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pantrykeep/mealimages/internal/adapters/objectstore"
	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/stretchr/testify/require"
)

func newStorageAPI(t *testing.T, handler http.HandlerFunc) objectstore.ObjectStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := objectstore.NewStorageAPI(server.Client(), server.URL+"/storage/v1/", "https://store", "Meals", "service-key", time.Minute)
	require.NoError(t, err)
	return store
}

func TestStorageAPIList(t *testing.T) {
	t.Parallel()

	t.Run("lists matching objects", func(t *testing.T) {
		t.Parallel()

		store := newStorageAPI(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/storage/v1/object/list/Meals", r.URL.Path)
			require.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "grilled-salmon.jpg", body["search"])

			_, _ = w.Write([]byte(`[{"name":"grilled-salmon.jpg","id":"1"}]`))
		})

		objects, err := store.List(t.Context(), "grilled-salmon.jpg")
		require.NoError(t, err)
		require.Equal(t, []domain.StoredObject{{Name: "grilled-salmon.jpg"}}, objects)
	})

	t.Run("empty result", func(t *testing.T) {
		t.Parallel()

		store := newStorageAPI(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		})

		objects, err := store.List(t.Context(), "pancakes.jpg")
		require.NoError(t, err)
		require.Empty(t, objects)
	})

	t.Run("error status", func(t *testing.T) {
		t.Parallel()

		store := newStorageAPI(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := store.List(t.Context(), "pancakes.jpg")
		require.Error(t, err)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()

		store := newStorageAPI(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"not":"a list"}`))
		})

		_, err := store.List(t.Context(), "pancakes.jpg")
		require.Error(t, err)
	})
}

func TestStorageAPIUpload(t *testing.T) {
	t.Parallel()

	t.Run("uploads with overwrite", func(t *testing.T) {
		t.Parallel()

		store := newStorageAPI(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/storage/v1/object/Meals/grilled-salmon.jpg", r.URL.Path)
			require.Equal(t, "true", r.Header.Get("x-upsert"))
			require.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
			require.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

			data, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.Equal(t, []byte("jpeg-bytes"), data)

			_, _ = w.Write([]byte(`{"Key":"Meals/grilled-salmon.jpg"}`))
		})

		err := store.Upload(t.Context(), "grilled-salmon.jpg", []byte("jpeg-bytes"), "image/jpeg")
		require.NoError(t, err)
	})

	permissionCases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"invalid jwt"}`},
		{name: "forbidden", status: http.StatusForbidden, body: ``},
		{name: "forbidden in body", status: http.StatusBadRequest, body: `{"statusCode":"403","error":"Unauthorized","message":"new row violates row-level security policy"}`},
	}
	for _, c := range permissionCases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			store := newStorageAPI(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				_, _ = w.Write([]byte(c.body))
			})

			err := store.Upload(t.Context(), "grilled-salmon.jpg", []byte("jpeg-bytes"), "image/jpeg")
			require.ErrorIs(t, err, domain.ErrUploadFailed)
			require.ErrorIs(t, err, domain.ErrStoragePermissionDenied)
		})
	}

	t.Run("server error is not a permission error", func(t *testing.T) {
		t.Parallel()

		store := newStorageAPI(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		err := store.Upload(t.Context(), "grilled-salmon.jpg", []byte("jpeg-bytes"), "image/jpeg")
		require.ErrorIs(t, err, domain.ErrUploadFailed)
		require.NotErrorIs(t, err, domain.ErrStoragePermissionDenied)
	})
}

func TestStorageAPIPublicURL(t *testing.T) {
	t.Parallel()

	store, err := objectstore.NewStorageAPI(http.DefaultClient, "https://api.example/storage/v1", "https://store/", "Meals", "key", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "https://store/Meals/grilled-salmon.jpg", store.PublicURL("grilled-salmon.jpg"))
}
