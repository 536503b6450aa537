package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimedChargesClock(t *testing.T) {
	slow := GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	g := Timed(slow)

	ctx, clock := WithClock(context.Background())
	for i := 0; i < 2; i++ {
		out, err := g.Generate(ctx, Request{Prompt: "p"})
		assert.NoError(t, err)
		assert.Equal(t, "ok", out)
	}

	assert.Equal(t, 2, clock.Calls())
	assert.GreaterOrEqual(t, clock.Elapsed(), 10*time.Millisecond)
}

func TestTimedWithoutClock(t *testing.T) {
	g := Timed(GeneratorFunc(func(context.Context, Request) (string, error) { return "x", nil }))
	out, err := g.Generate(context.Background(), Request{})
	assert.NoError(t, err)
	assert.Equal(t, "x", out)
	assert.Nil(t, ClockFrom(context.Background()))
}
