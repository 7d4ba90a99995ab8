package aggregates

import (
	"fmt"
	"sort"

	"lessonmap-backend/domain/core/entities"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// Graph is one lesson map: its metadata, cards and links.
//
// A Graph value is treated as an immutable snapshot once built. Apply returns
// a new Graph and leaves the receiver untouched, and accessors hand out
// clones, so a snapshot can be shared between goroutines.
type Graph struct {
	info  entities.GraphInfo
	cards map[string]*entities.Card
	links map[string]*entities.Link
}

// NewGraph creates an empty graph.
func NewGraph(info entities.GraphInfo) *Graph {
	return &Graph{
		info:  info,
		cards: make(map[string]*entities.Card),
		links: make(map[string]*entities.Link),
	}
}

// ReconstructGraph rebuilds a graph from stored state.
func ReconstructGraph(info entities.GraphInfo, cards []entities.CardSnapshot, links []entities.LinkSnapshot) *Graph {
	g := NewGraph(info)
	for _, c := range cards {
		g.cards[c.ID] = entities.ReconstructCard(c)
	}
	for _, l := range links {
		g.links[l.ID] = entities.ReconstructLink(l)
	}
	return g
}

func (g *Graph) ID() string               { return g.info.ID }
func (g *Graph) Info() entities.GraphInfo { return g.info }
func (g *Graph) Version() int             { return g.info.Version }
func (g *Graph) CardCount() int           { return len(g.cards) }
func (g *Graph) LinkCount() int           { return len(g.links) }

// HasCard reports whether a card with the id exists.
func (g *Graph) HasCard(id string) bool {
	_, ok := g.cards[id]
	return ok
}

// Card returns a copy of the card with the given id.
func (g *Graph) Card(id string) (*entities.Card, bool) {
	c, ok := g.cards[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Link returns a copy of the link with the given id.
func (g *Graph) Link(id string) (*entities.Link, bool) {
	l, ok := g.links[id]
	if !ok {
		return nil, false
	}
	return l.Clone(), true
}

// Cards returns copies of all cards ordered by creation time, then id.
func (g *Graph) Cards() []*entities.Card {
	out := make([]*entities.Card, 0, len(g.cards))
	for _, c := range g.cards {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].CreatedAt().Before(out[j].CreatedAt())
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Links returns copies of all links ordered by id.
func (g *Graph) Links() []*entities.Link {
	out := make([]*entities.Link, 0, len(g.links))
	for _, l := range g.links {
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// LinksOf returns the links that touch the card, ordered by id.
func (g *Graph) LinksOf(cardID string) []*entities.Link {
	var out []*entities.Link
	for _, l := range g.links {
		if l.Touches(cardID) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Neighbors returns the ids of cards linked to cardID, without duplicates.
func (g *Graph) Neighbors(cardID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range g.LinksOf(cardID) {
		other := l.Other(cardID)
		if other != cardID && !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}

// CardSnapshots returns the state of every card, in Cards order.
func (g *Graph) CardSnapshots() []entities.CardSnapshot {
	cards := g.Cards()
	out := make([]entities.CardSnapshot, len(cards))
	for i, c := range cards {
		out[i] = c.Snapshot()
	}
	return out
}

// LinkSnapshots returns the state of every link, in Links order.
func (g *Graph) LinkSnapshots() []entities.LinkSnapshot {
	links := g.Links()
	out := make([]entities.LinkSnapshot, len(links))
	for i, l := range links {
		out[i] = l.Snapshot()
	}
	return out
}

// Apply returns the graph that results from applying m. The receiver is not
// modified. A failure of any part of the mutation fails all of it.
func (g *Graph) Apply(m Mutation) (*Graph, error) {
	if m.ExpectedVersion != g.info.Version {
		return nil, pkgerrors.NewConflictError(fmt.Sprintf(
			"graph %s changed concurrently: expected version %d, found %d", g.info.ID, m.ExpectedVersion, g.info.Version))
	}

	next := &Graph{
		info:  g.info,
		cards: make(map[string]*entities.Card, len(g.cards)+len(m.PutCards)),
		links: make(map[string]*entities.Link, len(g.links)+len(m.PutLinks)),
	}
	for id, c := range g.cards {
		next.cards[id] = c
	}
	for id, l := range g.links {
		next.links[id] = l
	}

	if m.Info != nil {
		next.info = *m.Info
	}
	for _, id := range m.DeleteLinks {
		if _, ok := next.links[id]; !ok {
			return nil, pkgerrors.NewConflictError(fmt.Sprintf("link %s no longer exists", id))
		}
		delete(next.links, id)
	}
	for _, id := range m.DeleteCards {
		if _, ok := next.cards[id]; !ok {
			return nil, pkgerrors.NewConflictError(fmt.Sprintf("card %s no longer exists", id))
		}
		delete(next.cards, id)
	}
	for _, c := range m.PutCards {
		next.cards[c.ID] = entities.ReconstructCard(c)
	}
	for _, l := range m.PutLinks {
		next.links[l.ID] = entities.ReconstructLink(l)
	}

	for _, l := range next.links {
		if !next.HasCard(l.Source()) || !next.HasCard(l.Target()) {
			return nil, pkgerrors.NewRuleViolation(RuleDanglingLink,
				fmt.Sprintf("link %s would point at a card that does not exist", l.ID()))
		}
	}

	next.info.Version = g.info.Version + 1
	return next, nil
}
