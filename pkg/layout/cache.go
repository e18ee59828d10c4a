package layout

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opst/assetgraph/pkg/layout/layered"
)

const DefaultCacheSize = 64

// Cache memoizes layouts by hash of their inputs.
//
// Layouts returned from Cache are shared. Callers must not modify them.
type Cache struct {
	backend Backend
	layouts *lru.Cache[string, *AssetGraphLayout]
}

// NewCache creates a Cache holding up to size layouts.
//
// If size is not positive, DefaultCacheSize is used.
func NewCache(size int) (*Cache, error) {
	return NewCacheWith(layered.New(), size)
}

func NewCacheWith(backend Backend, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	layouts, err := lru.New[string, *AssetGraphLayout](size)
	if err != nil {
		return nil, err
	}
	return &Cache{backend: backend, layouts: layouts}, nil
}

// ComputeLayout returns the cached layout for the input, or computes it.
func (c *Cache) ComputeLayout(graph Graph, opts ...Option) (*AssetGraphLayout, error) {
	key, err := hashOf(graph, resolve(opts))
	if err != nil {
		return nil, err
	}
	if l, ok := c.layouts.Get(key); ok {
		return l, nil
	}

	l, err := ComputeLayoutWith(c.backend, graph, opts...)
	if err != nil {
		return nil, err
	}
	c.layouts.Add(key, l)
	return l, nil
}

func (c *Cache) Len() int {
	return c.layouts.Len()
}

func hashOf(graph Graph, opts Options) (string, error) {
	b, err := json.Marshal(struct {
		Graph   Graph   `json:"graph"`
		Options Options `json:"options"`
	}{Graph: graph, Options: opts})
	if err != nil {
		return "", fmt.Errorf("layout: cannot hash input: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
