// Package commit applies validated change sets and direct user edits to a
// graph.
//
// Every write to a graph goes through Engine. Writers of one graph are
// serialised by a GraphLocker. Under the lock the engine reloads the graph,
// builds a Mutation with one audit record per touched entity and hands it to
// the store, which applies all of it or none of it.
package commit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"lessonmap-backend/application/ports"
	"lessonmap-backend/application/staging"
	"lessonmap-backend/domain/config"
	"lessonmap-backend/domain/core/aggregates"
	"lessonmap-backend/domain/core/entities"
	"lessonmap-backend/domain/core/proposals"
	pkgerrors "lessonmap-backend/pkg/errors"
	"lessonmap-backend/pkg/observability"
)

// Receipt describes a successful commit.
type Receipt struct {
	GraphID string                 `json:"graph_id"`
	Version int                    `json:"version"`
	Records []entities.AuditRecord `json:"records"`
}

// Engine is the single writer of graphs.
type Engine struct {
	store     ports.GraphStore
	publisher ports.EventPublisher
	locker    ports.GraphLocker
	stager    *staging.Stager
	cfg       *config.DomainConfig
	now       func() time.Time
	logger    *zap.Logger
	metrics   *observability.Collector
	tracer    trace.Tracer
}

func NewEngine(
	store ports.GraphStore,
	publisher ports.EventPublisher,
	locker ports.GraphLocker,
	stager *staging.Stager,
	cfg *config.DomainConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
	tracer trace.Tracer,
) *Engine {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if stager == nil {
		stager = staging.NewStager(cfg)
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
	return &Engine{
		store:     store,
		publisher: publisher,
		locker:    locker,
		stager:    stager,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.Named("commit"),
		metrics:   metrics,
		tracer:    tracer,
	}
}

// WithClock replaces the time source used for timestamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Stage validates a proposal against the current state of a graph.
func (e *Engine) Stage(ctx context.Context, graphID string, p proposals.Proposal) (*staging.Validated, error) {
	g, err := e.store.LoadGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	return e.stager.Stage(p, g)
}

// Commit applies a validated change set on behalf of actor.
//
// The change set is checked again against the graph as it is under the lock.
// Cards that disappeared in the meantime yield a CONFLICT and nothing is
// written.
func (e *Engine) Commit(ctx context.Context, graphID, actor string, v *staging.Validated) (*Receipt, error) {
	if v == nil {
		return nil, pkgerrors.NewValidationError("nothing to commit")
	}
	if v.GraphID() != graphID {
		return nil, pkgerrors.NewValidationError(
			fmt.Sprintf("the suggestion was prepared for graph %s, not %s", v.GraphID(), graphID))
	}

	operation := string(v.Operation())
	return e.run(ctx, graphID, "ai_"+string(v.Proposal().Kind()), operation, actor, func(g *aggregates.Graph, now time.Time) (aggregates.Mutation, error) {
		if s := v.State(); s != proposals.StateValidated {
			return aggregates.Mutation{}, pkgerrors.NewConflictError(fmt.Sprintf("this suggestion is already %s", s))
		}
		fresh, err := e.stager.Restage(v, g)
		if err != nil {
			e.reject(v, err)
			return aggregates.Mutation{}, err
		}
		return e.proposalMutation(g, fresh.Proposal(), actor, now)
	}, func() error {
		return v.MarkCommitted()
	})
}

// reject moves v to Rejected after a failed restage. A change set that is
// already terminal stays as it is.
func (e *Engine) reject(v *staging.Validated, cause error) {
	if err := v.MarkRejected(); err != nil {
		e.logger.Warn("Failed to mark change set rejected",
			zap.String("graph_id", v.GraphID()),
			zap.String("operation", string(v.Operation())),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}

// StageAndCommit stages p and commits it in one step under the graph lock.
// p was built from an earlier read of the graph, so a card that no longer
// exists is a CONFLICT, as it is for Commit.
func (e *Engine) StageAndCommit(ctx context.Context, graphID, actor string, p proposals.Proposal) (*Receipt, error) {
	if p == nil {
		return nil, pkgerrors.NewValidationError("nothing to commit")
	}
	operation := string(p.Origin().Operation)
	return e.run(ctx, graphID, "ai_"+string(p.Kind()), operation, actor, func(g *aggregates.Graph, now time.Time) (aggregates.Mutation, error) {
		v, err := e.stager.Stage(p, g)
		if err != nil {
			return aggregates.Mutation{}, staging.Stale(err)
		}
		return e.proposalMutation(g, v.Proposal(), actor, now)
	}, nil)
}

type buildFunc func(g *aggregates.Graph, now time.Time) (aggregates.Mutation, error)

// run executes one write under the graph lock.
func (e *Engine) run(ctx context.Context, graphID, kind, operation, actor string, build buildFunc, onApplied func() error) (*Receipt, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "commit."+kind, trace.WithAttributes(
		attribute.String("graph_id", graphID),
		attribute.String("actor", actor),
	))
	defer span.End()

	logger := e.logger.With(
		zap.String("graph_id", graphID),
		zap.String("kind", kind),
		zap.String("actor", actor),
	)

	receipt, err := e.locked(ctx, graphID, operation, actor, build, onApplied, logger)

	e.metrics.CommitDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.Commits.WithLabelValues(kind, resultLabel(err)).Inc()
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, err
	}
	e.metrics.Commits.WithLabelValues(kind, "committed").Inc()
	e.metrics.AuditRecords.Add(float64(len(receipt.Records)))
	span.SetAttributes(attribute.Int("version", receipt.Version), attribute.Int("records", len(receipt.Records)))
	return receipt, nil
}

func (e *Engine) locked(ctx context.Context, graphID, operation, actor string, build buildFunc, onApplied func() error, logger *zap.Logger) (*Receipt, error) {
	unlock, err := e.locker.Lock(ctx, graphID)
	if err != nil {
		return nil, pkgerrors.NewUnavailableError("graph lock").WithCause(err)
	}
	defer unlock()

	g, err := e.store.LoadGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}

	m, err := build(g, e.now())
	if err != nil {
		logger.Info("Commit rejected", zap.Error(err), zap.String("rule", pkgerrors.Rule(err)))
		return nil, err
	}
	if m.IsEmpty() && len(m.Audit) == 0 {
		return &Receipt{GraphID: graphID, Version: g.Version()}, nil
	}
	m.GraphID = graphID
	m.ExpectedVersion = g.Version()

	// Applying to the snapshot first catches dangling links and stale deletes
	// before anything is sent to storage.
	next, err := g.Apply(m)
	if err != nil {
		logger.Info("Commit rejected by graph rules", zap.Error(err))
		return nil, err
	}
	if m.Info == nil {
		info := next.Info()
		info.UpdatedAt = e.now()
		m.Info = &info
	} else {
		m.Info.Version = next.Version()
	}

	if err := e.store.ApplyMutation(ctx, m); err != nil {
		logger.Error("Failed to apply mutation, graph left unchanged",
			zap.Int("expected_version", m.ExpectedVersion),
			zap.Int("records", len(m.Audit)),
			zap.Error(err),
		)
		return nil, err
	}

	if onApplied != nil {
		if err := onApplied(); err != nil {
			logger.Warn("Change set state update failed after commit", zap.Error(err))
		}
	}

	receipt := &Receipt{GraphID: graphID, Version: next.Version(), Records: m.Audit}
	logger.Info("Committed",
		zap.Int("version", receipt.Version),
		zap.Int("records", len(receipt.Records)),
		zap.Int("put_cards", len(m.PutCards)),
		zap.Int("delete_cards", len(m.DeleteCards)),
		zap.Int("delete_links", len(m.DeleteLinks)),
	)

	if e.publisher != nil {
		event := ports.CommitEvent{
			GraphID:   graphID,
			Actor:     actor,
			Operation: operation,
			Version:   receipt.Version,
			Records:   receipt.Records,
		}
		if err := e.publisher.PublishCommit(ctx, event); err != nil {
			logger.Warn("Failed to publish commit event", zap.Error(err))
		}
	}
	return receipt, nil
}

func resultLabel(err error) string {
	appErr := pkgerrors.GetAppError(err)
	if appErr == nil {
		return "error"
	}
	switch appErr.Type {
	case pkgerrors.ErrorTypeValidation:
		return "rejected"
	case pkgerrors.ErrorTypeConflict:
		return "conflict"
	case pkgerrors.ErrorTypeNotFound:
		return "not_found"
	default:
		return "error"
	}
}
