package llm

import (
	"context"
	"sync"
	"time"
)

// Clock accumulates time spent waiting on the oracle for one request, so
// callers can hold their own latency budget separately.
type Clock struct {
	mu    sync.Mutex
	total time.Duration
	calls int
}

func (c *Clock) add(d time.Duration) {
	c.mu.Lock()
	c.total += d
	c.calls++
	c.mu.Unlock()
}

func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *Clock) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type clockKey struct{}

func WithClock(ctx context.Context) (context.Context, *Clock) {
	c := &Clock{}
	return context.WithValue(ctx, clockKey{}, c), c
}

func ClockFrom(ctx context.Context) *Clock {
	c, _ := ctx.Value(clockKey{}).(*Clock)
	return c
}

// Timed charges every Generate call on g to the Clock carried by ctx, if
// any.
func Timed(g Generator) Generator {
	return GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		start := time.Now()
		out, err := g.Generate(ctx, req)
		if c := ClockFrom(ctx); c != nil {
			c.add(time.Since(start))
		}
		return out, err
	})
}
