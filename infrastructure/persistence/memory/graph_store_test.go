package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonmap-backend/domain/core/aggregates"
	"lessonmap-backend/domain/core/entities"
	"lessonmap-backend/domain/core/valueobjects"
	pkgerrors "lessonmap-backend/pkg/errors"
)

var now = time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T) *GraphStore {
	t.Helper()
	s := NewGraphStore()
	info := entities.GraphInfo{ID: "g1", Owner: "u1", Name: "Plants", Subject: "Biology", LessonCount: 1, LessonDuration: 45, CreatedAt: now, Version: 1}
	require.NoError(t, s.CreateGraph(context.Background(), info, entities.AuditRecord{ID: "a0", GraphID: "g1", Action: entities.ActionCreateGraph}))

	m := aggregates.Mutation{
		GraphID:         "g1",
		ExpectedVersion: 1,
		PutCards: []entities.CardSnapshot{
			{ID: "1", Tag: valueobjects.TagActivity, Title: "One", CreatedAt: now, Version: 1},
			{ID: "2", Tag: valueobjects.TagObjective, Title: "Two", CreatedAt: now.Add(time.Second), Version: 1},
		},
		PutLinks: []entities.LinkSnapshot{{ID: "l1", Source: "1", Target: "2", Label: "related"}},
		Audit:    []entities.AuditRecord{{ID: "a1", GraphID: "g1"}, {ID: "a2", GraphID: "g1"}},
	}
	require.NoError(t, s.ApplyMutation(context.Background(), m))
	return s
}

func TestGraphStore_LoadAndList(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	g, err := s.LoadGraph(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, g.Version())
	assert.Equal(t, 2, g.CardCount())

	c, err := s.LoadCard(ctx, "g1", "2")
	require.NoError(t, err)
	assert.Equal(t, "Two", c.Title())

	cards, err := s.LoadConnected(ctx, "g1", []string{"2", "1"})
	require.NoError(t, err)
	assert.Equal(t, "2", cards[0].ID())
	assert.Equal(t, "1", cards[1].ID())

	infos, err := s.ListGraphs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	none, err := s.ListGraphs(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGraphStore_NotFound(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	_, err := s.LoadGraph(ctx, "nope")
	assert.True(t, pkgerrors.IsNotFound(err))
	_, err = s.LoadCard(ctx, "g1", "9")
	assert.True(t, pkgerrors.IsNotFound(err))
	_, err = s.LoadConnected(ctx, "g1", []string{"1", "9"})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestGraphStore_VersionConflict(t *testing.T) {
	s := seed(t)
	err := s.ApplyMutation(context.Background(), aggregates.Mutation{GraphID: "g1", ExpectedVersion: 1, DeleteLinks: []string{"l1"}})
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestGraphStore_InjectedFailureLeavesStateUntouched(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	before, err := s.LoadGraph(ctx, "g1")
	require.NoError(t, err)

	s.FailApplyWith(func(aggregates.Mutation) error { return errors.New("disk full") })
	err = s.ApplyMutation(ctx, aggregates.Mutation{
		GraphID: "g1", ExpectedVersion: 2,
		DeleteLinks: []string{"l1"}, DeleteCards: []string{"1"},
		Audit: []entities.AuditRecord{{ID: "a3", GraphID: "g1"}},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDatabase))

	after, err := s.LoadGraph(ctx, "g1")
	require.NoError(t, err)
	assert.Same(t, before, after)
	records, err := s.ListAudit(ctx, "g1", 0)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestGraphStore_ListAuditNewestFirst(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	require.NoError(t, s.AppendAudit(ctx, entities.AuditRecord{ID: "a3", GraphID: "g1"}))

	records, err := s.ListAudit(ctx, "g1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a3", records[0].ID)
	assert.Equal(t, "a2", records[1].ID)

	assert.True(t, pkgerrors.IsNotFound(s.AppendAudit(ctx, entities.AuditRecord{GraphID: "missing"})))
}
