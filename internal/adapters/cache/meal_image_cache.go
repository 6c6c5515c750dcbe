package cache

import (
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pantrykeep/mealimages/internal/domain"
)

type inFlightCall struct {
	done chan struct{}

	// Set before done is closed
	image domain.MealImage
	err   error
}

type claimResult struct {
	entry domain.MealImageCacheEntry
	found bool

	call    *inFlightCall
	claimed bool
}

// MealImageCache holds the resolved/failed state per meal key for the lifetime of the process,
// and the single outstanding resolution per key.
type MealImageCache struct {
	entries *ttlcache.Cache[string, domain.MealImageCacheEntry]

	// Guards inFlight, and makes the entry check + in-flight claim atomic
	lock     sync.Mutex
	inFlight map[string]*inFlightCall
}

func NewMealImageCache() *MealImageCache {
	entries := ttlcache.New[string, domain.MealImageCacheEntry](
		ttlcache.WithTTL[string, domain.MealImageCacheEntry](ttlcache.NoTTL),
		ttlcache.WithDisableTouchOnHit[string, domain.MealImageCacheEntry](),
	)

	return &MealImageCache{
		entries:  entries,
		inFlight: make(map[string]*inFlightCall),
	}
}

// Return the cached entry if it should be used, otherwise join or claim the in-flight call
func (c *MealImageCache) getOrClaim(key string, now time.Time, cooldown time.Duration) claimResult {
	c.lock.Lock()
	defer c.lock.Unlock()

	if item := c.entries.Get(key); item != nil {
		entry := item.Value()
		if entry.Resolved() || entry.InCooldown(now, cooldown) {
			return claimResult{entry: entry, found: true}
		}
		// Failed, but the cooldown has elapsed -> eligible for a new attempt
	}

	if call, ok := c.inFlight[key]; ok {
		return claimResult{call: call, claimed: false}
	}

	call := &inFlightCall{done: make(chan struct{})}
	c.inFlight[key] = call
	return claimResult{call: call, claimed: true}
}

// Store the outcome of a call and release everyone waiting for it
func (c *MealImageCache) settle(call *inFlightCall, entry domain.MealImageCacheEntry, image domain.MealImage, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.entries.Set(entry.Key, entry, ttlcache.DefaultTTL)

	if c.inFlight[entry.Key] == call {
		delete(c.inFlight, entry.Key)
	}

	call.image = image
	call.err = err
	close(call.done)
}

func (c *MealImageCache) Get(key string) (domain.MealImageCacheEntry, bool) {
	item := c.entries.Get(key)
	if item == nil {
		return domain.MealImageCacheEntry{}, false
	}
	return item.Value(), true
}

func (c *MealImageCache) Len() int {
	return c.entries.Len()
}

func (c *MealImageCache) Keys() []string {
	keys := c.entries.Keys()
	slices.Sort(keys)
	return keys
}

func (c *MealImageCache) InFlightKeys() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	keys := make([]string, 0, len(c.inFlight))
	for key := range c.inFlight {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Drop every cached entry. Outstanding resolutions are not affected and will store their result.
func (c *MealImageCache) Clear() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.entries.DeleteAll()
}
