package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type Config struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxCall uint32
	// IsFailure reports whether an error counts against the breaker. Nil
	// counts every error except caller cancellation.
	IsFailure func(error) bool
	Logger    *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		MinRequests:     5,
		FailureRatio:    0.5,
		OpenTimeout:     30 * time.Second,
		HalfOpenMaxCall: 2,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.MinRequests == 0 {
		c.MinRequests = def.MinRequests
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = def.FailureRatio
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = def.OpenTimeout
	}
	if c.HalfOpenMaxCall == 0 {
		c.HalfOpenMaxCall = def.HalfOpenMaxCall
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Breaker guards one backend. Calls made while it is open fail fast with an
// error for which IsOpen reports true.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

func New(name string, cfg Config) *Breaker {
	cfg = cfg.normalize()
	isFailure := cfg.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCall,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isFailure(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			cfg.Logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) Name() string {
	return b.cb.Name()
}

func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
