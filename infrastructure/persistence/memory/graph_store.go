// Package memory provides an in-process GraphStore for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"lessonmap-backend/domain/core/aggregates"
	"lessonmap-backend/domain/core/entities"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// graphState is one immutable version of a graph and its audit trail.
// Writers build a new graphState and swap the pointer; readers never see a
// half-applied mutation.
type graphState struct {
	graph *aggregates.Graph
	audit []entities.AuditRecord
}

// GraphStore keeps graphs in memory.
type GraphStore struct {
	mu     sync.RWMutex
	graphs map[string]*graphState

	// failApply, when set, is consulted after a mutation has been computed
	// and before it becomes visible. A non-nil error aborts the write.
	failApply func(m aggregates.Mutation) error
}

func NewGraphStore() *GraphStore {
	return &GraphStore{graphs: make(map[string]*graphState)}
}

// FailApplyWith makes ApplyMutation fail with err at the point where the new
// state is ready but not yet published. Pass nil to clear it.
func (s *GraphStore) FailApplyWith(fn func(m aggregates.Mutation) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failApply = fn
}

func (s *GraphStore) CreateGraph(ctx context.Context, info entities.GraphInfo, audit entities.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.graphs[info.ID]; exists {
		return pkgerrors.NewConflictError(fmt.Sprintf("graph %s already exists", info.ID))
	}
	s.graphs[info.ID] = &graphState{
		graph: aggregates.NewGraph(info),
		audit: []entities.AuditRecord{audit},
	}
	return nil
}

func (s *GraphStore) ListGraphs(ctx context.Context, owner string) ([]entities.GraphInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entities.GraphInfo
	for _, st := range s.graphs {
		if info := st.graph.Info(); info.Owner == owner {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *GraphStore) LoadGraph(ctx context.Context, graphID string) (*aggregates.Graph, error) {
	st, err := s.state(graphID)
	if err != nil {
		return nil, err
	}
	return st.graph, nil
}

func (s *GraphStore) LoadCard(ctx context.Context, graphID, cardID string) (*entities.Card, error) {
	st, err := s.state(graphID)
	if err != nil {
		return nil, err
	}
	c, ok := st.graph.Card(cardID)
	if !ok {
		return nil, pkgerrors.NewNotFoundError("card " + cardID)
	}
	return c, nil
}

func (s *GraphStore) LoadConnected(ctx context.Context, graphID string, cardIDs []string) ([]*entities.Card, error) {
	st, err := s.state(graphID)
	if err != nil {
		return nil, err
	}
	out := make([]*entities.Card, len(cardIDs))
	for i, id := range cardIDs {
		c, ok := st.graph.Card(id)
		if !ok {
			return nil, pkgerrors.NewNotFoundError("card " + id)
		}
		out[i] = c
	}
	return out, nil
}

func (s *GraphStore) ApplyMutation(ctx context.Context, m aggregates.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.graphs[m.GraphID]
	if !ok {
		return pkgerrors.NewNotFoundError("graph " + m.GraphID)
	}

	next, err := st.graph.Apply(m)
	if err != nil {
		return err
	}
	audit := make([]entities.AuditRecord, 0, len(st.audit)+len(m.Audit))
	audit = append(audit, st.audit...)
	audit = append(audit, m.Audit...)

	if s.failApply != nil {
		if err := s.failApply(m); err != nil {
			return pkgerrors.NewDatabaseError("apply mutation", err)
		}
	}

	s.graphs[m.GraphID] = &graphState{graph: next, audit: audit}
	return nil
}

func (s *GraphStore) AppendAudit(ctx context.Context, records ...entities.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		st, ok := s.graphs[r.GraphID]
		if !ok {
			return pkgerrors.NewNotFoundError("graph " + r.GraphID)
		}
		audit := make([]entities.AuditRecord, 0, len(st.audit)+1)
		audit = append(audit, st.audit...)
		s.graphs[r.GraphID] = &graphState{graph: st.graph, audit: append(audit, r)}
	}
	return nil
}

func (s *GraphStore) ListAudit(ctx context.Context, graphID string, limit int) ([]entities.AuditRecord, error) {
	st, err := s.state(graphID)
	if err != nil {
		return nil, err
	}
	n := len(st.audit)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]entities.AuditRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, st.audit[i])
	}
	return out, nil
}

func (s *GraphStore) state(graphID string) (*graphState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.graphs[graphID]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("graph " + graphID)
	}
	return st, nil
}
