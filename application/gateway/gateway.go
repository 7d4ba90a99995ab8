// Package gateway is the single way the service talks to a text-generation
// provider.
//
// Every invocation first takes a slot in a process-wide worker pool, which
// bounds the number of calls in flight; further callers wait in its queue.
// Inside the slot the retry policy runs up to MaxAttempts provider attempts.
// When all attempts fail the gateway does not return an error: it returns
// the fixed failure text produced by FailureText, which callers recognise
// with IsFailure.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lessonmap-backend/application/ports"
	"lessonmap-backend/pkg/concurrency"
	pkgerrors "lessonmap-backend/pkg/errors"
	"lessonmap-backend/pkg/observability"
	"lessonmap-backend/pkg/retry"
)

var failurePattern = regexp.MustCompile(`^Request failed after \d+ attempts\.$`)

var errEmptyResponse = errors.New("provider returned an empty response")

// FailureText is the text returned in place of a response after n failed
// attempts.
func FailureText(n int) string {
	return fmt.Sprintf("Request failed after %d attempts.", n)
}

// IsFailure reports whether text is a gateway failure text.
func IsFailure(text string) bool {
	return failurePattern.MatchString(text)
}

// Config tunes the gateway.
type Config struct {
	Retry retry.Policy
	// RequestsPerMinute caps provider attempts across the process; zero
	// disables the limiter.
	RequestsPerMinute int
	Burst             int
	// AttemptTimeout bounds one provider attempt; zero leaves it to the
	// provider's transport timeout.
	AttemptTimeout time.Duration
	// Streaming makes each attempt consume the provider's fragment stream.
	Streaming bool
}

// Gateway sends prompts to a provider with admission control and retries.
type Gateway struct {
	provider ports.TextGenerator
	pool     *concurrency.WorkerPool
	cfg      Config
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *observability.Collector
	tracer   trace.Tracer
}

func New(provider ports.TextGenerator, pool *concurrency.WorkerPool, cfg Config, logger *zap.Logger, metrics *observability.Collector, tracer trace.Tracer) *Gateway {
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewCollector("lessonmap")
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(observability.TracerName)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), burst)
	}

	return &Gateway{
		provider: provider,
		pool:     pool,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger.Named("gateway").With(zap.String("provider", provider.Name())),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Invoke sends messages to the provider and returns its raw text.
//
// If every attempt fails, or ctx ends before a result is available, Invoke
// returns FailureText(MaxAttempts). An attempt already running when ctx ends
// is allowed to finish and its result is dropped.
func (g *Gateway) Invoke(ctx context.Context, messages []ports.Message, wantStructured bool) string {
	ctx, span := g.tracer.Start(ctx, "gateway.invoke", trace.WithAttributes(
		attribute.String("provider", g.provider.Name()),
		attribute.Bool("structured", wantStructured),
		attribute.Bool("streaming", g.cfg.Streaming),
	))
	defer span.End()

	req := ports.GenerationRequest{Messages: messages, Structured: wantStructured}
	results := make(chan string, 1)
	start := time.Now()

	err := g.pool.Do(ctx, "gateway.invoke", func(poolCtx context.Context) error {
		g.metrics.GatewayInFlight.Inc()
		defer g.metrics.GatewayInFlight.Dec()

		attemptCtx := trace.ContextWithSpan(poolCtx, span)
		res := g.cfg.Retry.Do(attemptCtx, func(ctx context.Context, attempt int) error {
			text, err := g.attempt(ctx, req)
			if err != nil {
				return err
			}
			results <- text
			return nil
		}, g.observeAttempt)
		return res.Err
	})

	g.metrics.GatewayDuration.WithLabelValues(g.provider.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		g.metrics.GatewayInvocations.WithLabelValues(g.provider.Name(), "failed").Inc()
		span.SetStatus(codes.Error, "generation failed")
		span.RecordError(err)
		g.logger.Error("Generation failed",
			zap.Int("max_attempts", g.cfg.Retry.MaxAttempts),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return FailureText(g.cfg.Retry.MaxAttempts)
	}

	g.metrics.GatewayInvocations.WithLabelValues(g.provider.Name(), "succeeded").Inc()
	return <-results
}

// Generate is Invoke reported as an error value. Exhausted retries become a
// GENERATION_FAILED AppError.
func (g *Gateway) Generate(ctx context.Context, messages []ports.Message, wantStructured bool) (string, error) {
	text := g.Invoke(ctx, messages, wantStructured)
	if IsFailure(text) {
		return "", pkgerrors.NewGenerationFailedError("the assistant could not produce a response, please try again later").
			WithDetail("attempts", g.cfg.Retry.MaxAttempts)
	}
	return text, nil
}

// Stats reports the admission pool state.
func (g *Gateway) Stats() concurrency.PoolStats {
	return g.pool.Stats()
}

func (g *Gateway) attempt(ctx context.Context, req ports.GenerationRequest) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", pkgerrors.NewTransportError(g.provider.Name(), fmt.Errorf("rate limiter: %w", err))
		}
	}
	if g.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		defer cancel()
	}

	var text string
	var err error
	if g.cfg.Streaming {
		var b strings.Builder
		err = g.provider.Stream(ctx, req, func(fragment string) error {
			b.WriteString(fragment)
			return nil
		})
		text = b.String()
	} else {
		text, err = g.provider.Generate(ctx, req)
	}

	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyResponse
	}
	if err != nil {
		return "", pkgerrors.NewTransportError(g.provider.Name(), err)
	}
	return text, nil
}

func (g *Gateway) observeAttempt(a retry.Attempt) {
	outcome := "succeeded"
	if a.Err != nil {
		outcome = "failed"
		g.logger.Warn("Provider attempt failed",
			zap.Int("attempt", a.Number),
			zap.Bool("last", a.Last),
			zap.Duration("duration", a.Duration),
			zap.Error(a.Err),
		)
	}
	g.metrics.GatewayAttempts.WithLabelValues(g.provider.Name(), outcome).Inc()
}
