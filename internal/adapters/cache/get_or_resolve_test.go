package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cooldown = 10 * time.Minute

type clock struct {
	lock sync.Mutex
	now  time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

func resolveTo(url string) ResolveFunc {
	return func(ctx context.Context) (domain.MealImage, error) {
		return domain.MealImage{URL: url}, nil
	}
}

func resolveUnreachable(t *testing.T) ResolveFunc {
	return func(ctx context.Context) (domain.MealImage, error) {
		t.Error("Unreachable code executed")
		return domain.MealImage{}, nil
	}
}

func TestGetOrResolve(t *testing.T) {
	t.Parallel()

	t.Run("miss resolves and caches, second call hits", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		c := NewMealImageCache()
		clk := newClock()

		image, lookup, err := GetOrResolve(ctx, c, "soup", cooldown, clk.Now, resolveTo("https://store/soup.jpg"))
		require.NoError(t, err)
		require.Equal(t, LookupResolved, lookup)
		require.Equal(t, domain.MealImage{Key: "soup", URL: "https://store/soup.jpg"}, image)

		image, lookup, err = GetOrResolve(ctx, c, "soup", cooldown, clk.Now, resolveUnreachable(t))
		require.NoError(t, err)
		require.Equal(t, LookupHit, lookup)
		require.Equal(t, "https://store/soup.jpg", image.URL)

		require.Equal(t, 1, c.Len())
		require.Empty(t, c.InFlightKeys())
	})

	t.Run("failure is cached and suppresses retries until the cooldown elapses", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		c := NewMealImageCache()
		clk := newClock()

		_, _, err := GetOrResolve(ctx, c, "soup", cooldown, clk.Now, func(ctx context.Context) (domain.MealImage, error) {
			return domain.MealImage{}, assert.AnError
		})
		require.ErrorIs(t, err, domain.ErrMealImageUnavailable)
		require.ErrorIs(t, err, assert.AnError)

		entry, ok := c.Get("soup")
		require.True(t, ok)
		require.False(t, entry.Resolved())
		require.Equal(t, clk.Now(), entry.FailedAt)

		clk.Advance(cooldown - time.Second)
		_, lookup, err := GetOrResolve(ctx, c, "soup", cooldown, clk.Now, resolveUnreachable(t))
		require.ErrorIs(t, err, domain.ErrMealImageUnavailable)
		require.Equal(t, LookupCooldown, lookup)

		clk.Advance(time.Second)
		image, lookup, err := GetOrResolve(ctx, c, "soup", cooldown, clk.Now, resolveTo("https://store/soup.jpg"))
		require.NoError(t, err)
		require.Equal(t, LookupResolved, lookup)
		require.Equal(t, "https://store/soup.jpg", image.URL)

		entry, ok = c.Get("soup")
		require.True(t, ok)
		require.True(t, entry.Resolved())
	})

	t.Run("ephemeral result is returned but cached as a failure", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		c := NewMealImageCache()
		clk := newClock()

		image, _, err := GetOrResolve(ctx, c, "soup", cooldown, clk.Now, func(ctx context.Context) (domain.MealImage, error) {
			return domain.MealImage{URL: "https://provider/tmp/abc.png", Ephemeral: true}, nil
		})
		require.NoError(t, err)
		require.Equal(t, domain.MealImage{Key: "soup", URL: "https://provider/tmp/abc.png", Ephemeral: true}, image)

		entry, ok := c.Get("soup")
		require.True(t, ok)
		require.False(t, entry.Resolved())
		require.Empty(t, entry.URL)
	})

	t.Run("empty url counts as a failure", func(t *testing.T) {
		t.Parallel()
		c := NewMealImageCache()
		clk := newClock()

		_, _, err := GetOrResolve(t.Context(), c, "soup", cooldown, clk.Now, resolveTo(""))
		require.ErrorIs(t, err, domain.ErrMealImageUnavailable)

		entry, ok := c.Get("soup")
		require.True(t, ok)
		require.False(t, entry.Resolved())
	})

	t.Run("panic is recovered and cached as a failure", func(t *testing.T) {
		t.Parallel()
		c := NewMealImageCache()
		clk := newClock()

		_, _, err := GetOrResolve(t.Context(), c, "soup", cooldown, clk.Now, func(ctx context.Context) (domain.MealImage, error) {
			panic("boom")
		})
		require.ErrorIs(t, err, domain.ErrMealImageUnavailable)

		entry, ok := c.Get("soup")
		require.True(t, ok)
		require.False(t, entry.Resolved())
		require.Empty(t, c.InFlightKeys())
	})

	t.Run("concurrent callers share one resolution", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		c := NewMealImageCache()
		clk := newClock()

		var calls atomic.Int32
		release := make(chan struct{})
		resolve := func(ctx context.Context) (domain.MealImage, error) {
			calls.Add(1)
			<-release
			return domain.MealImage{URL: "https://store/soup.jpg"}, nil
		}

		const callers = 20
		wg := sync.WaitGroup{}
		results := make([]domain.MealImage, callers)
		errs := make([]error, callers)
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], _, errs[i] = GetOrResolve(ctx, c, "soup", cooldown, clk.Now, resolve)
			}()
		}

		require.Eventually(t, func() bool {
			return len(c.InFlightKeys()) == 1
		}, time.Second, time.Millisecond)
		close(release)
		wg.Wait()

		require.Equal(t, int32(1), calls.Load())
		for i := range callers {
			require.NoError(t, errs[i])
			require.Equal(t, "https://store/soup.jpg", results[i].URL)
		}
	})

	t.Run("many keys are de-duplicated independently", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		c := NewMealImageCache()
		clk := newClock()

		const keys = 50
		callCounts := make([]atomic.Int32, keys)

		wg := sync.WaitGroup{}
		for keyIndex := range keys {
			for range 10 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					url := fmt.Sprintf("https://store/meal-%d.jpg", keyIndex)
					image, _, err := GetOrResolve(ctx, c, fmt.Sprintf("meal-%d", keyIndex), cooldown, clk.Now, func(ctx context.Context) (domain.MealImage, error) {
						callCounts[keyIndex].Add(1)
						return domain.MealImage{URL: url}, nil
					})
					assert.NoError(t, err)
					assert.Equal(t, url, image.URL)
				}()
			}
		}
		wg.Wait()

		for keyIndex := range keys {
			require.Equal(t, int32(1), callCounts[keyIndex].Load(), "key %d", keyIndex)
		}
		require.Equal(t, keys, c.Len())
	})

	t.Run("abandoning caller does not cancel the shared work", func(t *testing.T) {
		t.Parallel()
		c := NewMealImageCache()
		clk := newClock()

		release := make(chan struct{})
		resolveCtxErr := make(chan error, 1)
		resolve := func(ctx context.Context) (domain.MealImage, error) {
			<-release
			resolveCtxErr <- ctx.Err()
			return domain.MealImage{URL: "https://store/soup.jpg"}, nil
		}

		ownerCtx, cancelOwner := context.WithCancel(t.Context())
		ownerDone := make(chan error, 1)
		go func() {
			_, _, err := GetOrResolve(ownerCtx, c, "soup", cooldown, clk.Now, resolve)
			ownerDone <- err
		}()

		require.Eventually(t, func() bool {
			return len(c.InFlightKeys()) == 1
		}, time.Second, time.Millisecond)

		cancelOwner()
		err := <-ownerDone
		require.ErrorIs(t, err, domain.ErrMealImageUnavailable)
		require.True(t, errors.Is(err, context.Canceled))

		joinerDone := make(chan domain.MealImage, 1)
		go func() {
			image, _, err := GetOrResolve(t.Context(), c, "soup", cooldown, clk.Now, resolveUnreachable(t))
			assert.NoError(t, err)
			joinerDone <- image
		}()

		close(release)
		require.NoError(t, <-resolveCtxErr)
		require.Equal(t, "https://store/soup.jpg", (<-joinerDone).URL)
	})
}

func TestMealImageCacheIntrospection(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	c := NewMealImageCache()
	clk := newClock()

	for _, key := range []string{"soup", "bread", "apple-pie"} {
		_, _, err := GetOrResolve(ctx, c, key, cooldown, clk.Now, resolveTo("https://store/"+key+".jpg"))
		require.NoError(t, err)
	}

	require.Equal(t, 3, c.Len())
	require.Equal(t, []string{"apple-pie", "bread", "soup"}, c.Keys())
	require.Empty(t, c.InFlightKeys())

	c.Clear()
	require.Equal(t, 0, c.Len())
	require.Empty(t, c.Keys())

	_, lookup, err := GetOrResolve(ctx, c, "soup", cooldown, clk.Now, resolveTo("https://store/soup.jpg"))
	require.NoError(t, err)
	require.Equal(t, LookupResolved, lookup)
}
