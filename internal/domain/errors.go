package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOracleTimeout      = errors.New("oracle timeout")
	ErrOracleFailure      = errors.New("oracle failure")
	ErrValidationRejected = errors.New("rewrite rejected by validation")
	ErrFactInjection      = errors.New("rewrite injected new facts")
	ErrLowConfidence      = errors.New("uplift confidence below threshold")
	ErrCacheUnavailable   = errors.New("cache unavailable")
	ErrInvalidInput       = errors.New("invalid input")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
