package commit

import (
	"fmt"
	"time"

	"lessonmap-backend/domain/core/aggregates"
	"lessonmap-backend/domain/core/entities"
	"lessonmap-backend/domain/core/proposals"
	"lessonmap-backend/domain/core/valueobjects"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// proposalMutation turns a staged proposal into writes and audit records.
func (e *Engine) proposalMutation(g *aggregates.Graph, p proposals.Proposal, actor string, now time.Time) (aggregates.Mutation, error) {
	b := newBuilder(g.ID(), actor, string(p.Origin().Operation), now)

	switch v := p.(type) {
	case proposals.UpdateCard:
		if err := e.rewrite(b, g, v.ID, v.NewTitle, v.NewDescription, entities.ActionAICommitUpdate); err != nil {
			return aggregates.Mutation{}, err
		}

	case proposals.UpdateMany:
		for _, d := range v.Cards {
			if err := e.rewrite(b, g, d.ID, d.Title, d.Description, entities.ActionAICommitUpdate); err != nil {
				return aggregates.Mutation{}, err
			}
		}

	case proposals.ReplaceWithMany:
		old, ok := g.Card(v.OldID)
		if !ok {
			return aggregates.Mutation{}, pkgerrors.NewConflictError(fmt.Sprintf("card %s no longer exists", v.OldID))
		}
		for _, l := range g.LinksOf(v.OldID) {
			b.deleteLink(l.Snapshot(), entities.ActionAICommitDelete)
		}
		b.deleteCard(old.Snapshot(), entities.ActionAICommitDelete)

		for _, d := range v.NewCards {
			pos := old.Position()
			if d.Position != nil {
				pos = *d.Position
			}
			c, err := entities.NewCard(d.ID, d.Tag, d.Title, d.Description, pos, e.cfg, now)
			if err != nil {
				return aggregates.Mutation{}, err
			}
			b.putCard(nil, c.Snapshot(), entities.ActionAICommitCreate)
		}

	case proposals.ExtendGraph:
		for _, d := range v.Modify {
			if err := e.rewrite(b, g, d.ID, d.Title, d.Description, entities.ActionAICommitUpdate); err != nil {
				return aggregates.Mutation{}, err
			}
		}
		for _, d := range v.Add {
			var pos valueobjects.Position
			if d.Position != nil {
				pos = *d.Position
			}
			c, err := entities.NewCard(d.ID, d.Tag, d.Title, d.Description, pos, e.cfg, now)
			if err != nil {
				return aggregates.Mutation{}, err
			}
			b.putCard(nil, c.Snapshot(), entities.ActionAICommitCreate)
		}

	default:
		return aggregates.Mutation{}, pkgerrors.NewInternalError(fmt.Sprintf("unsupported proposal kind %q", p.Kind()))
	}

	return b.mutation(), nil
}

// rewrite overwrites a card's title and description in full.
func (e *Engine) rewrite(b *builder, g *aggregates.Graph, id, title, description string, action entities.AuditAction) error {
	c, ok := g.Card(id)
	if !ok {
		return pkgerrors.NewConflictError(fmt.Sprintf("card %s no longer exists", id))
	}
	before := c.Snapshot()
	if err := c.Rewrite(title, description, e.cfg, b.now); err != nil {
		return err
	}
	b.putCard(&before, c.Snapshot(), action)
	return nil
}

// builder accumulates the writes of one mutation together with their audit
// records.
type builder struct {
	graphID   string
	actor     string
	operation string
	now       time.Time
	m         aggregates.Mutation
}

func newBuilder(graphID, actor, operation string, now time.Time) *builder {
	return &builder{graphID: graphID, actor: actor, operation: operation, now: now}
}

func (b *builder) record(action entities.AuditAction, kind entities.EntityKind, id string, before, after *entities.EntityState) {
	b.m.Audit = append(b.m.Audit, entities.AuditRecord{
		ID:         entities.NewAuditID(b.now),
		GraphID:    b.graphID,
		Actor:      b.actor,
		Action:     action,
		EntityKind: kind,
		EntityID:   id,
		Operation:  b.operation,
		Before:     before,
		After:      after,
		Timestamp:  b.now,
	})
}

func (b *builder) putCard(before *entities.CardSnapshot, after entities.CardSnapshot, action entities.AuditAction) {
	b.m.PutCards = append(b.m.PutCards, after)
	var prev *entities.EntityState
	if before != nil {
		prev = &entities.EntityState{Card: before}
	}
	b.record(action, entities.EntityCard, after.ID, prev, &entities.EntityState{Card: &after})
}

func (b *builder) deleteCard(before entities.CardSnapshot, action entities.AuditAction) {
	b.m.DeleteCards = append(b.m.DeleteCards, before.ID)
	b.record(action, entities.EntityCard, before.ID, &entities.EntityState{Card: &before}, nil)
}

func (b *builder) putLink(before *entities.LinkSnapshot, after entities.LinkSnapshot, action entities.AuditAction) {
	b.m.PutLinks = append(b.m.PutLinks, after)
	var prev *entities.EntityState
	if before != nil {
		prev = &entities.EntityState{Link: before}
	}
	b.record(action, entities.EntityLink, after.ID, prev, &entities.EntityState{Link: &after})
}

func (b *builder) deleteLink(before entities.LinkSnapshot, action entities.AuditAction) {
	b.m.DeleteLinks = append(b.m.DeleteLinks, before.ID)
	b.record(action, entities.EntityLink, before.ID, &entities.EntityState{Link: &before}, nil)
}

func (b *builder) setInfo(before, after entities.GraphInfo) {
	b.m.Info = &after
	b.record(entities.ActionUpdateGraph, entities.EntityGraph, after.ID,
		&entities.EntityState{Graph: &before}, &entities.EntityState{Graph: &after})
}

func (b *builder) mutation() aggregates.Mutation {
	return b.m
}
