package commit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lessonmap-backend/domain/core/aggregates"
	"lessonmap-backend/domain/core/entities"
	"lessonmap-backend/domain/core/valueobjects"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// NewCardInput is a card created directly by a user.
type NewCardInput struct {
	ID          string
	Tag         valueobjects.Tag
	Title       string
	Description string
	Sources     []string
	Position    valueobjects.Position
}

// CardPatch lists the card fields a user changes. Nil fields stay as they are.
type CardPatch struct {
	Tag         *valueobjects.Tag
	Title       *string
	Description *string
	Sources     *[]string
	Position    *valueobjects.Position
}

// NewLinkInput is a link created by a user.
type NewLinkInput struct {
	ID     string
	Source string
	Target string
	Label  string
}

// CreateGraph stores a new empty graph owned by actor.
func (e *Engine) CreateGraph(ctx context.Context, actor, name, subject string, lessonCount, lessonDuration int) (entities.GraphInfo, error) {
	now := e.now()
	info, err := entities.NewGraphInfo(valueobjects.NewID(), actor, name, subject, lessonCount, lessonDuration, e.cfg, now)
	if err != nil {
		return entities.GraphInfo{}, err
	}
	b := newBuilder(info.ID, actor, "", now)
	b.record(entities.ActionCreateGraph, entities.EntityGraph, info.ID, nil, &entities.EntityState{Graph: &info})

	if err := e.store.CreateGraph(ctx, info, b.m.Audit[0]); err != nil {
		return entities.GraphInfo{}, err
	}
	e.metrics.Commits.WithLabelValues("create_graph", "committed").Inc()
	e.metrics.AuditRecords.Inc()
	e.logger.Info("Graph created", zap.String("graph_id", info.ID), zap.String("actor", actor))
	return info, nil
}

// UpdateGraphInfo changes graph metadata.
func (e *Engine) UpdateGraphInfo(ctx context.Context, graphID, actor string, patch entities.GraphInfoPatch) (*Receipt, error) {
	return e.run(ctx, graphID, "update_graph", "", actor, func(g *aggregates.Graph, now time.Time) (aggregates.Mutation, error) {
		before := g.Info()
		after, err := before.Apply(patch, now)
		if err != nil {
			return aggregates.Mutation{}, err
		}
		after.Version = before.Version + 1
		b := newBuilder(graphID, actor, "", now)
		b.setInfo(before, after)
		return b.mutation(), nil
	}, nil)
}

// CreateCard adds a card. An empty id is replaced by a fresh one.
func (e *Engine) CreateCard(ctx context.Context, graphID, actor string, in NewCardInput) (*Receipt, error) {
	return e.run(ctx, graphID, "create_card", "", actor, func(g *aggregates.Graph, now time.Time) (aggregates.Mutation, error) {
		if g.CardCount() >= e.cfg.MaxCardsPerGraph {
			return aggregates.Mutation{}, pkgerrors.NewValidationError(
				fmt.Sprintf("a graph can hold at most %d cards", e.cfg.MaxCardsPerGraph))
		}
		id := in.ID
		if id == "" {
			id = valueobjects.NewID()
		}
		if g.HasCard(id) {
			return aggregates.Mutation{}, pkgerrors.NewConflictError(fmt.Sprintf("card %s already exists", id))
		}
		c, err := entities.NewCard(id, in.Tag, in.Title, in.Description, in.Position, e.cfg, now)
		if err != nil {
			return aggregates.Mutation{}, err
		}
		if len(in.Sources) > 0 {
			if err := c.SetSources(in.Sources, e.cfg, now); err != nil {
				return aggregates.Mutation{}, err
			}
		}
		b := newBuilder(graphID, actor, "", now)
		b.putCard(nil, c.Snapshot(), entities.ActionCreateCard)
		return b.mutation(), nil
	}, nil)
}

// UpdateCard applies a user's changes to one card.
func (e *Engine) UpdateCard(ctx context.Context, graphID, cardID, actor string, patch CardPatch) (*Receipt, error) {
	return e.run(ctx, graphID, "update_card", "", actor, func(g *aggregates.Graph, now time.Time) (aggregates.Mutation, error) {
		c, ok := g.Card(cardID)
		if !ok {
			return aggregates.Mutation{}, pkgerrors.NewNotFoundError("card " + cardID)
		}
		before := c.Snapshot()

		if patch.Title != nil || patch.Description != nil {
			title, description := c.Title(), c.Description()
			if patch.Title != nil {
				title = *patch.Title
			}
			if patch.Description != nil {
				description = *patch.Description
			}
			if err := c.Rewrite(title, description, e.cfg, now); err != nil {
				return aggregates.Mutation{}, err
			}
		}
		if patch.Tag != nil && *patch.Tag != c.Tag() {
			if err := c.Retag(*patch.Tag, now); err != nil {
				return aggregates.Mutation{}, err
			}
		}
		if patch.Sources != nil {
			if err := c.SetSources(*patch.Sources, e.cfg, now); err != nil {
				return aggregates.Mutation{}, err
			}
		}
		if patch.Position != nil {
			c.MoveTo(*patch.Position)
		}

		b := newBuilder(graphID, actor, "", now)
		b.putCard(&before, c.Snapshot(), entities.ActionUpdateCard)
		return b.mutation(), nil
	}, nil)
}

// DeleteCard removes a card and every link touching it.
func (e *Engine) DeleteCard(ctx context.Context, graphID, cardID, actor string) (*Receipt, error) {
	return e.run(ctx, graphID, "delete_card", "", actor, func(g *aggregates.Graph, now time.Time) (aggregates.Mutation, error) {
		c, ok := g.Card(cardID)
		if !ok {
			return aggregates.Mutation{}, pkgerrors.NewNotFoundError("card " + cardID)
		}
		b := newBuilder(graphID, actor, "", now)
		for _, l := range g.LinksOf(cardID) {
			b.deleteLink(l.Snapshot(), entities.ActionDeleteLink)
		}
		b.deleteCard(c.Snapshot(), entities.ActionDeleteCard)
		return b.mutation(), nil
	}, nil)
}

// CreateLink connects two cards of the graph.
func (e *Engine) CreateLink(ctx context.Context, graphID, actor string, in NewLinkInput) (*Receipt, error) {
	return e.run(ctx, graphID, "create_link", "", actor, func(g *aggregates.Graph, now time.Time) (aggregates.Mutation, error) {
		if g.LinkCount() >= e.cfg.MaxLinksPerGraph {
			return aggregates.Mutation{}, pkgerrors.NewValidationError(
				fmt.Sprintf("a graph can hold at most %d links", e.cfg.MaxLinksPerGraph))
		}
		id := in.ID
		if id == "" {
			id = valueobjects.NewID()
		}
		if _, exists := g.Link(id); exists {
			return aggregates.Mutation{}, pkgerrors.NewConflictError(fmt.Sprintf("link %s already exists", id))
		}
		l, err := entities.NewLink(id, in.Source, in.Target, in.Label, e.cfg, now)
		if err != nil {
			return aggregates.Mutation{}, err
		}
		b := newBuilder(graphID, actor, "", now)
		b.putLink(nil, l.Snapshot(), entities.ActionCreateLink)
		return b.mutation(), nil
	}, nil)
}

// RelabelLink changes the label of a link.
func (e *Engine) RelabelLink(ctx context.Context, graphID, linkID, actor, label string) (*Receipt, error) {
	return e.run(ctx, graphID, "update_link", "", actor, func(g *aggregates.Graph, now time.Time) (aggregates.Mutation, error) {
		l, ok := g.Link(linkID)
		if !ok {
			return aggregates.Mutation{}, pkgerrors.NewNotFoundError("link " + linkID)
		}
		before := l.Snapshot()
		l.Relabel(label, e.cfg)
		b := newBuilder(graphID, actor, "", now)
		b.putLink(&before, l.Snapshot(), entities.ActionUpdateLink)
		return b.mutation(), nil
	}, nil)
}

// DeleteLink removes one link.
func (e *Engine) DeleteLink(ctx context.Context, graphID, linkID, actor string) (*Receipt, error) {
	return e.run(ctx, graphID, "delete_link", "", actor, func(g *aggregates.Graph, now time.Time) (aggregates.Mutation, error) {
		l, ok := g.Link(linkID)
		if !ok {
			return aggregates.Mutation{}, pkgerrors.NewNotFoundError("link " + linkID)
		}
		b := newBuilder(graphID, actor, "", now)
		b.deleteLink(l.Snapshot(), entities.ActionDeleteLink)
		return b.mutation(), nil
	}, nil)
}
