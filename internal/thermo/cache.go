package thermo

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/copyleftdev/equilibria/internal/species"
)

// Cache memoises an Engine by strand sequences and model. Concurrent
// requests for the same evaluation share one call to the underlying engine.
// The shared call is not tied to any one caller: a caller whose context ends
// stops waiting, and the others still get the result.
// The zero value is not usable; use NewCache.
type Cache struct {
	engine Engine
	size   int

	mu    sync.Mutex
	order *list.List // front is most recently used
	items map[string]*list.Element

	group  singleflight.Group
	hits   atomic.Uint64
	misses atomic.Uint64
}

type cacheEntry struct {
	key   string
	value Result
}

// NewCache wraps engine with an LRU cache of at most size evaluations. A
// size below 1 disables caching but keeps request coalescing.
func NewCache(engine Engine, size int) *Cache {
	return &Cache{
		engine: engine,
		size:   size,
		order:  list.New(),
		items:  make(map[string]*list.Element),
	}
}

// Pfunc implements Engine.
func (c *Cache) Pfunc(ctx context.Context, cx species.Complex, m Model) (PfuncResult, error) {
	r, err := c.get(ctx, QuantityPfunc, cx, m, func(ctx context.Context) (Result, error) {
		return c.engine.Pfunc(ctx, cx, m)
	})
	if err != nil {
		return PfuncResult{}, err
	}
	out := r.(PfuncResult)
	out.Complex = cx
	return out, nil
}

// MFE implements Engine.
func (c *Cache) MFE(ctx context.Context, cx species.Complex, m Model) (MfeResult, error) {
	r, err := c.get(ctx, QuantityMFE, cx, m, func(ctx context.Context) (Result, error) {
		return c.engine.MFE(ctx, cx, m)
	})
	if err != nil {
		return MfeResult{}, err
	}
	out := r.(MfeResult)
	out.Complex = cx
	return out, nil
}

// Len returns the number of cached evaluations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns the hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) get(ctx context.Context, q Quantity, cx species.Complex, m Model, eval func(context.Context) (Result, error)) (Result, error) {
	key := cacheKey(q, cx, m)
	if r, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return r, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.misses.Add(1)

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		r, err := eval(shared)
		if err != nil {
			return nil, err
		}
		c.store(key, r)
		return r, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Result), nil
	}
}

func (c *Cache) lookup(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

func (c *Cache) store(key string, r Result) {
	if c.size < 1 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).value = r
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, value: r})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// cacheKey identifies an evaluation by what the engine sees: the ordered
// sequences and the model. Strand names do not matter.
func cacheKey(q Quantity, cx species.Complex, m Model) string {
	var b strings.Builder
	b.WriteString(string(q))
	b.WriteByte('|')
	for i, s := range cx.Strands() {
		if i > 0 {
			b.WriteString(species.Separator)
		}
		b.WriteString(s.Sequence())
	}
	fmt.Fprintf(&b, "|%g|%g|%g", m.Temperature, m.Sodium, m.Magnesium)
	return b.String()
}
