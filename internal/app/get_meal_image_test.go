package app_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pantrykeep/mealimages/internal/adapters/cache"
	"github.com/pantrykeep/mealimages/internal/app"
	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	lock sync.Mutex

	objects   []string
	listErr   error
	uploadErr func(attempt int) error

	listCalls   int
	uploadCalls int
	uploaded    []string
}

func (m *mockStore) List(ctx context.Context, pattern string) ([]domain.StoredObject, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}

	objects := []domain.StoredObject{}
	for _, name := range m.objects {
		if strings.Contains(name, pattern) {
			objects = append(objects, domain.StoredObject{Name: name})
		}
	}
	return objects, nil
}

func (m *mockStore) Upload(ctx context.Context, filename string, data []byte, contentType string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.uploadCalls++
	if m.uploadErr != nil {
		if err := m.uploadErr(m.uploadCalls); err != nil {
			return err
		}
	}
	m.uploaded = append(m.uploaded, filename)
	m.objects = append(m.objects, filename)
	return nil
}

func (m *mockStore) PublicURL(filename string) string {
	return "https://store/Meals/" + filename
}

func (m *mockStore) counts() (int, int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.listCalls, m.uploadCalls
}

type mockGenerator struct {
	calls atomic.Int32

	// Closed to let generation finish. nil means don't block.
	release chan struct{}
	started chan struct{}

	urlFunc func(mealName string) (string, error)
}

func (m *mockGenerator) generate(ctx context.Context, mealName string) (string, error) {
	if m.calls.Add(1) == 1 && m.started != nil {
		close(m.started)
	}
	if m.release != nil {
		<-m.release
	}
	if m.urlFunc != nil {
		return m.urlFunc(mealName)
	}
	return "https://provider/tmp/abc.png", nil
}

type mockCompressor struct {
	calls atomic.Int32
	err   error
}

func (m *mockCompressor) Compress(ctx context.Context, sourceURL string) ([]byte, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return []byte("compressed:" + sourceURL), nil
}

type mockRecorder struct {
	lock    sync.Mutex
	records []domain.GenerationRecord
	err     error
}

func (m *mockRecorder) StoreGeneration(ctx context.Context, record domain.GenerationRecord) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.records = append(m.records, record)
	return m.err
}

func (m *mockRecorder) all() []domain.GenerationRecord {
	m.lock.Lock()
	defer m.lock.Unlock()
	return slices.Clone(m.records)
}

type clock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

func immediately(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type fixture struct {
	cache      *cache.MealImageCache
	store      *mockStore
	generator  *mockGenerator
	compressor *mockCompressor
	recorder   *mockRecorder
	clock      *clock

	getMealImage app.GetMealImage
}

func newFixture(t *testing.T, store *mockStore, generator *mockGenerator) *fixture {
	t.Helper()

	f := &fixture{
		cache:      cache.NewMealImageCache(),
		store:      store,
		generator:  generator,
		compressor: &mockCompressor{},
		recorder:   &mockRecorder{},
		clock:      &clock{now: time.Date(2025, time.May, 4, 18, 0, 0, 0, time.UTC)},
	}

	persist, err := app.BuildPersistMealImage(f.compressor, f.store, 3, time.Second, time.Minute, immediately)
	require.NoError(t, err)

	f.getMealImage, err = app.BuildGetMealImage(
		f.cache,
		f.store,
		generator.generate,
		persist,
		f.recorder,
		10*time.Minute,
		time.Minute,
		f.clock.Now,
	)
	require.NoError(t, err)

	return f
}

func TestGetMealImage(t *testing.T) {
	t.Parallel()

	t.Run("grilled salmon end to end", func(t *testing.T) {
		t.Parallel()

		generator := &mockGenerator{release: make(chan struct{}), started: make(chan struct{})}
		f := newFixture(t, &mockStore{}, generator)

		type result struct {
			image domain.MealImage
			err   error
		}
		first := make(chan result)
		second := make(chan result)

		go func() {
			image, err := f.getMealImage(context.Background(), "Grilled Salmon!!")
			first <- result{image, err}
		}()
		<-generator.started
		require.Equal(t, []string{"grilled-salmon"}, f.cache.InFlightKeys())

		go func() {
			image, err := f.getMealImage(context.Background(), "grilled   salmon")
			second <- result{image, err}
		}()
		// Give the second caller time to join the in-flight resolution
		time.Sleep(20 * time.Millisecond)
		close(generator.release)

		expected := domain.MealImage{Key: "grilled-salmon", URL: "https://store/Meals/grilled-salmon.jpg"}
		for _, ch := range []chan result{first, second} {
			r := <-ch
			require.NoError(t, r.err)
			require.Equal(t, expected, r.image)
		}

		require.Equal(t, int32(1), generator.calls.Load())
		require.Equal(t, []string{"grilled-salmon.jpg"}, f.store.uploaded)
		require.Empty(t, f.cache.InFlightKeys())

		entry, ok := f.cache.Get("grilled-salmon")
		require.True(t, ok)
		require.Equal(t, "https://store/Meals/grilled-salmon.jpg", entry.URL)

		records := f.recorder.all()
		require.Len(t, records, 1)
		require.Equal(t, domain.GenerationOutcomeStored, records[0].Outcome)
		require.Equal(t, "grilled-salmon", records[0].Key)
		require.Equal(t, "Grilled Salmon!!", records[0].MealName)
		require.Equal(t, app.BuildMealImagePrompt("Grilled Salmon!!"), records[0].Prompt)
		require.Equal(t, "https://provider/tmp/abc.png", records[0].ProviderURL)
		require.Equal(t, "https://store/Meals/grilled-salmon.jpg", records[0].StoredURL)
	})

	t.Run("at most one generation and write under concurrent callers", func(t *testing.T) {
		t.Parallel()

		generator := &mockGenerator{release: make(chan struct{})}
		f := newFixture(t, &mockStore{}, generator)

		const callers = 25
		var wg sync.WaitGroup
		urls := make([]string, callers)
		errs := make([]error, callers)
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				image, err := f.getMealImage(context.Background(), "Chicken   Soup!")
				urls[i], errs[i] = image.URL, err
			}()
		}

		time.Sleep(20 * time.Millisecond)
		close(generator.release)
		wg.Wait()

		for i := range callers {
			require.NoError(t, errs[i], "caller %d", i)
			require.Equal(t, "https://store/Meals/chicken-soup.jpg", urls[i], "caller %d", i)
		}
		require.Equal(t, int32(1), generator.calls.Load())
		require.Equal(t, int32(1), f.compressor.calls.Load())
		_, uploads := f.store.counts()
		require.Equal(t, 1, uploads)
	})

	t.Run("cache hit makes no collaborator calls", func(t *testing.T) {
		t.Parallel()

		generator := &mockGenerator{}
		f := newFixture(t, &mockStore{}, generator)

		_, err := f.getMealImage(t.Context(), "chicken-soup")
		require.NoError(t, err)

		lists, uploads := f.store.counts()
		generations := generator.calls.Load()

		image, err := f.getMealImage(t.Context(), "Chicken Soup")
		require.NoError(t, err)
		require.Equal(t, "https://store/Meals/chicken-soup.jpg", image.URL)

		newLists, newUploads := f.store.counts()
		require.Equal(t, lists, newLists)
		require.Equal(t, uploads, newUploads)
		require.Equal(t, generations, generator.calls.Load())
	})

	t.Run("stored image is found without generating", func(t *testing.T) {
		t.Parallel()

		generator := &mockGenerator{}
		f := newFixture(t, &mockStore{objects: []string{"pancakes.png"}}, generator)

		image, err := f.getMealImage(t.Context(), "Pancakes")
		require.NoError(t, err)
		require.Equal(t, domain.MealImage{Key: "pancakes", URL: "https://store/Meals/pancakes.png"}, image)
		require.Equal(t, int32(0), generator.calls.Load())
		require.Empty(t, f.recorder.all())

		entry, ok := f.cache.Get("pancakes")
		require.True(t, ok)
		require.True(t, entry.Resolved())
	})

	t.Run("primary extension is preferred", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, &mockStore{objects: []string{"pancakes.png", "pancakes.jpg"}}, &mockGenerator{})

		image, err := f.getMealImage(t.Context(), "Pancakes")
		require.NoError(t, err)
		require.Equal(t, "https://store/Meals/pancakes.jpg", image.URL)
	})

	t.Run("probe failure falls through to generation", func(t *testing.T) {
		t.Parallel()

		generator := &mockGenerator{}
		store := &mockStore{listErr: errors.New("connection reset")}
		f := newFixture(t, store, generator)

		image, err := f.getMealImage(t.Context(), "Waffles")
		require.NoError(t, err)
		require.Equal(t, "https://store/Meals/waffles.jpg", image.URL)
		require.Equal(t, int32(1), generator.calls.Load())
	})

	t.Run("generation failure is cached and retried after the cooldown", func(t *testing.T) {
		t.Parallel()

		generator := &mockGenerator{urlFunc: func(string) (string, error) {
			return "", fmt.Errorf("%w: status 500", domain.ErrGenerationFailed)
		}}
		f := newFixture(t, &mockStore{}, generator)

		_, err := f.getMealImage(t.Context(), "Lasagna")
		require.ErrorIs(t, err, domain.ErrMealImageUnavailable)
		require.Equal(t, int32(1), generator.calls.Load())

		entry, ok := f.cache.Get("lasagna")
		require.True(t, ok)
		require.False(t, entry.Resolved())
		require.Equal(t, f.clock.Now(), entry.FailedAt)

		f.clock.advance(9 * time.Minute)
		_, err = f.getMealImage(t.Context(), "Lasagna")
		require.ErrorIs(t, err, domain.ErrMealImageUnavailable)
		require.Equal(t, int32(1), generator.calls.Load(), "no retry within the cooldown")

		f.clock.advance(time.Minute)
		generator.urlFunc = nil
		image, err := f.getMealImage(t.Context(), "Lasagna")
		require.NoError(t, err)
		require.Equal(t, "https://store/Meals/lasagna.jpg", image.URL)
		require.Equal(t, int32(2), generator.calls.Load())

		records := f.recorder.all()
		require.Len(t, records, 2)
		require.Equal(t, domain.GenerationOutcomeFailed, records[0].Outcome)
		require.Equal(t, domain.GenerationOutcomeStored, records[1].Outcome)
	})

	t.Run("ephemeral url is returned but never cached", func(t *testing.T) {
		t.Parallel()

		generator := &mockGenerator{}
		store := &mockStore{uploadErr: func(int) error { return errors.New("503 service unavailable") }}
		f := newFixture(t, store, generator)

		image, err := f.getMealImage(t.Context(), "Beef Stew")
		require.NoError(t, err)
		require.Equal(t, domain.MealImage{Key: "beef-stew", URL: "https://provider/tmp/abc.png", Ephemeral: true}, image)

		_, uploads := store.counts()
		require.Equal(t, 3, uploads)
		require.Equal(t, int32(3), f.compressor.calls.Load())

		entry, ok := f.cache.Get("beef-stew")
		require.True(t, ok)
		require.False(t, entry.Resolved())

		_, err = f.getMealImage(t.Context(), "Beef Stew")
		require.ErrorIs(t, err, domain.ErrMealImageUnavailable)

		records := f.recorder.all()
		require.Len(t, records, 1)
		require.Equal(t, domain.GenerationOutcomeEphemeral, records[0].Outcome)
		require.Empty(t, records[0].StoredURL)
	})

	t.Run("permission error stops after one attempt", func(t *testing.T) {
		t.Parallel()

		store := &mockStore{uploadErr: func(int) error {
			return fmt.Errorf("%w: status 403", domain.ErrStoragePermissionDenied)
		}}
		f := newFixture(t, store, &mockGenerator{})

		image, err := f.getMealImage(t.Context(), "Tacos")
		require.NoError(t, err)
		require.True(t, image.Ephemeral)

		_, uploads := store.counts()
		require.Equal(t, 1, uploads)
	})

	t.Run("blank names are rejected without caching", func(t *testing.T) {
		t.Parallel()

		generator := &mockGenerator{}
		f := newFixture(t, &mockStore{}, generator)

		for _, name := range []string{"", "   ", "\t\n"} {
			_, err := f.getMealImage(t.Context(), name)
			require.ErrorIs(t, err, domain.ErrInvalidMealName)
		}
		require.Equal(t, 0, f.cache.Len())
		lists, _ := f.store.counts()
		require.Equal(t, 0, lists)
		require.Equal(t, int32(0), generator.calls.Load())
	})

	t.Run("panics are contained", func(t *testing.T) {
		t.Parallel()

		generator := &mockGenerator{urlFunc: func(string) (string, error) {
			panic("generator exploded")
		}}
		f := newFixture(t, &mockStore{}, generator)

		_, err := f.getMealImage(t.Context(), "Risotto")
		require.ErrorIs(t, err, domain.ErrMealImageUnavailable)

		entry, ok := f.cache.Get("risotto")
		require.True(t, ok)
		require.False(t, entry.Resolved())
		require.Empty(t, f.cache.InFlightKeys())
	})

	t.Run("ledger failures do not change the result", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, &mockStore{}, &mockGenerator{})
		f.recorder.err = errors.New("database is down")

		image, err := f.getMealImage(t.Context(), "Curry")
		require.NoError(t, err)
		require.Equal(t, "https://store/Meals/curry.jpg", image.URL)
	})

	t.Run("abandoning caller does not cancel the resolution", func(t *testing.T) {
		t.Parallel()

		generator := &mockGenerator{release: make(chan struct{}), started: make(chan struct{})}
		f := newFixture(t, &mockStore{}, generator)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() {
			_, err := f.getMealImage(ctx, "Gnocchi")
			done <- err
		}()
		<-generator.started
		cancel()
		require.ErrorIs(t, <-done, domain.ErrMealImageUnavailable)

		close(generator.release)
		require.Eventually(t, func() bool {
			entry, ok := f.cache.Get("gnocchi")
			return ok && entry.Resolved()
		}, time.Second, time.Millisecond)

		image, err := f.getMealImage(t.Context(), "Gnocchi")
		require.NoError(t, err)
		require.Equal(t, "https://store/Meals/gnocchi.jpg", image.URL)
		require.Equal(t, int32(1), generator.calls.Load())
	})
}
