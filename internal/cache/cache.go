package cache

import (
	"context"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"
)

// Prediction is a cached classification.
type Prediction struct {
	Prediction int     `json:"prediction"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// PredictionCache stores classifications keyed by Key.
type PredictionCache interface {
	Get(ctx context.Context, key string) (*Prediction, bool, error)
	Set(ctx context.Context, key string, p *Prediction) error
	// Clear drops every cached prediction.
	Clear(ctx context.Context) error
	Name() string
}

// Key identifies body classified by model version. The body is hashed so
// keys stay short and no email text is stored in the key space.
func Key(version, body string) string {
	sum := blake2b.Sum256([]byte(body))
	return version + ":" + hex.EncodeToString(sum[:])
}

// LRU is an in-process PredictionCache.
type LRU struct {
	entries *lru.Cache[string, Prediction]
}

// NewLRU returns an LRU holding up to size predictions.
func NewLRU(size int) (*LRU, error) {
	c, err := lru.New[string, Prediction](size)
	if err != nil {
		return nil, err
	}
	return &LRU{entries: c}, nil
}

func (c *LRU) Get(_ context.Context, key string) (*Prediction, bool, error) {
	p, ok := c.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *LRU) Set(_ context.Context, key string, p *Prediction) error {
	c.entries.Add(key, *p)
	return nil
}

func (c *LRU) Clear(context.Context) error {
	c.entries.Purge()
	return nil
}

func (c *LRU) Name() string { return "lru" }

// Len returns the number of cached predictions.
func (c *LRU) Len() int { return c.entries.Len() }

// Nop never caches.
type Nop struct{}

func (Nop) Get(context.Context, string) (*Prediction, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, *Prediction) error         { return nil }
func (Nop) Clear(context.Context) error                            { return nil }
func (Nop) Name() string                                           { return "none" }
