package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"lessonmap-backend/application/ports"
)

// BreakerConfig holds configuration for the provider circuit breaker
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the breaker settings used in production.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// BreakerGenerator stops calling a provider that keeps failing. While the
// breaker is open calls fail immediately, which the gateway counts as a
// failed attempt.
type BreakerGenerator struct {
	next    ports.TextGenerator
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerGenerator(next ports.TextGenerator, cfg BreakerConfig, logger *zap.Logger) *BreakerGenerator {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Provider circuit breaker changed state",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up says nothing about provider health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerGenerator{next: next, breaker: cb}
}

func (b *BreakerGenerator) Name() string { return b.next.Name() }

// State exposes the breaker state for health reporting.
func (b *BreakerGenerator) State() gobreaker.State { return b.breaker.State() }

func (b *BreakerGenerator) Generate(ctx context.Context, req ports.GenerationRequest) (string, error) {
	out, err := b.breaker.Execute(func() (any, error) {
		return b.next.Generate(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (b *BreakerGenerator) Stream(ctx context.Context, req ports.GenerationRequest, onFragment func(string) error) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.next.Stream(ctx, req, onFragment)
	})
	return err
}
