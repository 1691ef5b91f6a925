package sequence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"cyclekit/internal/protocol"
)

// Cache memoizes resolved and converted sequences across exports of the same
// protocol, keyed by (protocol digest, capacity). Exporting one protocol to
// five formats resolves it once.
//
// The cache is read-through and safe for concurrent use. Lookups and misses
// are serialized by a single mutex, which gives at-most-once computation per
// key; computation is bounded by method length, so holding the lock across a
// miss is fine.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, []ResolvedStep]
}

// DefaultCacheSize bounds the number of cached sequences.
const DefaultCacheSize = 128

// NewCache creates a Cache holding up to size sequences.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	inner, err := lru.New[string, []ResolvedStep](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create sequence cache: %w", err)
	}
	return &Cache{lru: inner}, nil
}

// Converted returns the resolved, rate-converted sequence for p with the
// given capacity, computing and storing it on first use. The returned slice
// is a private copy; callers may not see each other's mutations.
func (c *Cache) Converted(p *protocol.Protocol, capacityMAh float64) ([]ResolvedStep, error) {
	key, err := cacheKey(p, capacityMAh)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if steps, ok := c.lru.Get(key); ok {
		return copySteps(steps), nil
	}

	resolved, err := Resolve(p)
	if err != nil {
		return nil, err
	}
	converted, err := Convert(resolved, capacityMAh)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, converted)
	return copySteps(converted), nil
}

func cacheKey(p *protocol.Protocol, capacityMAh float64) (string, error) {
	canonical, err := p.ToCanonical()
	if err != nil {
		return "", fmt.Errorf("failed to derive cache key: %w", err)
	}
	h := sha256.New()
	h.Write(canonical)
	var capBits [8]byte
	bits := math.Float64bits(capacityMAh)
	for i := range capBits {
		capBits[i] = byte(bits >> (8 * i))
	}
	h.Write(capBits[:])
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copySteps(steps []ResolvedStep) []ResolvedStep {
	out := make([]ResolvedStep, len(steps))
	copy(out, steps)
	return out
}
