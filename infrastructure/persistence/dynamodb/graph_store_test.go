package dynamodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lessonmap-backend/application/commit"
	"lessonmap-backend/domain/core/aggregates"
	"lessonmap-backend/domain/core/entities"
	"lessonmap-backend/domain/core/valueobjects"
	pkgerrors "lessonmap-backend/pkg/errors"
)

func newTestStore(t *testing.T) (*GraphStore, *fakeClient, *commit.Engine) {
	t.Helper()
	client := newFakeClient()
	store := NewGraphStore(client, "lessonmaps", "OwnerIndex", zap.NewNop())
	lock := NewGraphLock(client, "lessonmaps", "test", time.Minute, zap.NewNop())
	engine := commit.NewEngine(store, nil, lock, nil, nil, zap.NewNop(), nil, nil)
	return store, client, engine
}

func seedGraph(t *testing.T, engine *commit.Engine) string {
	t.Helper()
	ctx := context.Background()
	info, err := engine.CreateGraph(ctx, "u1", "Fractions", "Maths", 2, 45)
	require.NoError(t, err)
	for _, c := range []commit.NewCardInput{
		{ID: "1", Tag: valueobjects.TagActivity, Title: "Pizza fractions", Position: valueobjects.Position{X: 10, Y: 20}},
		{ID: "2", Tag: valueobjects.TagObjective, Title: "Compare fractions"},
		{ID: "3", Tag: valueobjects.TagResource, Title: "Fraction strips"},
	} {
		_, err := engine.CreateCard(ctx, info.ID, "u1", c)
		require.NoError(t, err)
	}
	_, err = engine.CreateLink(ctx, info.ID, "u1", commit.NewLinkInput{ID: "l12", Source: "1", Target: "2", Label: "supports"})
	require.NoError(t, err)
	return info.ID
}

func TestGraphStore_RoundTrip(t *testing.T) {
	store, _, engine := newTestStore(t)
	ctx := context.Background()
	graphID := seedGraph(t, engine)

	g, err := store.LoadGraph(ctx, graphID)
	require.NoError(t, err)
	assert.Equal(t, 5, g.Version(), "creation plus four edits")
	assert.Equal(t, 3, g.CardCount())
	assert.Equal(t, 1, g.LinkCount())
	assert.Equal(t, "Fractions", g.Info().Name)

	card, ok := g.Card("1")
	require.True(t, ok)
	assert.Equal(t, valueobjects.Position{X: 10, Y: 20}, card.Position())
	assert.Equal(t, valueobjects.TagActivity, card.Tag())

	link, ok := g.Link("l12")
	require.True(t, ok)
	assert.Equal(t, "supports", link.Label())

	graphs, err := store.ListGraphs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, graphs, 1)
	assert.Equal(t, graphID, graphs[0].ID)
	assert.Equal(t, 5, graphs[0].Version)

	graphs, err = store.ListGraphs(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, graphs)
}

func TestGraphStore_LoadCardAndConnected(t *testing.T) {
	store, _, engine := newTestStore(t)
	ctx := context.Background()
	graphID := seedGraph(t, engine)

	card, err := store.LoadCard(ctx, graphID, "2")
	require.NoError(t, err)
	assert.Equal(t, "Compare fractions", card.Title())

	_, err = store.LoadCard(ctx, graphID, "9")
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.Contains(t, err.Error(), "card 9")

	_, err = store.LoadCard(ctx, "missing", "1")
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.Contains(t, err.Error(), "graph missing")

	cards, err := store.LoadConnected(ctx, graphID, []string{"3", "1", "2"})
	require.NoError(t, err)
	require.Len(t, cards, 3)
	assert.Equal(t, []string{"3", "1", "2"}, []string{cards[0].ID(), cards[1].ID(), cards[2].ID()})

	_, err = store.LoadConnected(ctx, graphID, []string{"1", "7"})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestGraphStore_CreateGraphTwice(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	info, err := entities.NewGraphInfo("g1", "u1", "Map", "", 0, 0, nil, now)
	require.NoError(t, err)
	rec := entities.AuditRecord{ID: entities.NewAuditID(now), GraphID: "g1", Actor: "u1", Action: entities.ActionCreateGraph, EntityKind: entities.EntityGraph, EntityID: "g1", Timestamp: now}

	require.NoError(t, store.CreateGraph(ctx, info, rec))
	err = store.CreateGraph(ctx, info, rec)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestGraphStore_StaleVersionWritesNothing(t *testing.T) {
	store, _, engine := newTestStore(t)
	ctx := context.Background()
	graphID := seedGraph(t, engine)

	g, err := store.LoadGraph(ctx, graphID)
	require.NoError(t, err)
	card, _ := g.Card("2")
	snap := card.Snapshot()
	snap.Title = "Changed"
	info := g.Info()
	info.Version = g.Version()

	err = store.ApplyMutation(ctx, aggregates.Mutation{
		GraphID:         graphID,
		ExpectedVersion: g.Version() - 1,
		Info:            &info,
		PutCards:        []entities.CardSnapshot{snap},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))

	card, err = store.LoadCard(ctx, graphID, "2")
	require.NoError(t, err)
	assert.Equal(t, "Compare fractions", card.Title())
}

func TestGraphStore_DeleteOfVanishedCardConflicts(t *testing.T) {
	store, _, engine := newTestStore(t)
	ctx := context.Background()
	graphID := seedGraph(t, engine)

	g, err := store.LoadGraph(ctx, graphID)
	require.NoError(t, err)

	err = store.ApplyMutation(ctx, aggregates.Mutation{
		GraphID:         graphID,
		ExpectedVersion: g.Version(),
		DeleteCards:     []string{"nope"},
	})
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestGraphStore_VersionBumpWithoutInfo(t *testing.T) {
	store, _, engine := newTestStore(t)
	ctx := context.Background()
	graphID := seedGraph(t, engine)

	card, err := store.LoadCard(ctx, graphID, "3")
	require.NoError(t, err)
	snap := card.Snapshot()
	snap.Title = "Fraction wall"

	require.NoError(t, store.ApplyMutation(ctx, aggregates.Mutation{
		GraphID:         graphID,
		ExpectedVersion: 5,
		PutCards:        []entities.CardSnapshot{snap},
	}))

	g, err := store.LoadGraph(ctx, graphID)
	require.NoError(t, err)
	assert.Equal(t, 6, g.Version())
	c, _ := g.Card("3")
	assert.Equal(t, "Fraction wall", c.Title())
}

func TestGraphStore_TransactionLimit(t *testing.T) {
	store, client, _ := newTestStore(t)
	m := aggregates.Mutation{GraphID: "g1", ExpectedVersion: 1}
	for i := 0; i < MaxTransactItems; i++ {
		m.DeleteLinks = append(m.DeleteLinks, "l")
	}

	err := store.ApplyMutation(context.Background(), m)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Zero(t, client.transacts)
}

func TestGraphStore_TransportFailure(t *testing.T) {
	store, client, engine := newTestStore(t)
	ctx := context.Background()
	graphID := seedGraph(t, engine)
	client.failTransact = errors.New("throttled")

	_, err := engine.DeleteCard(ctx, graphID, "1", "u1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDatabase))

	client.failTransact = nil
	g, err := store.LoadGraph(ctx, graphID)
	require.NoError(t, err)
	assert.True(t, g.HasCard("1"))
	assert.Equal(t, 1, g.LinkCount())
}

func TestGraphStore_Audit(t *testing.T) {
	store, _, engine := newTestStore(t)
	ctx := context.Background()
	graphID := seedGraph(t, engine)

	all, err := store.ListAudit(ctx, graphID, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, entities.ActionCreateLink, all[0].Action, "newest first")
	assert.Equal(t, entities.ActionCreateGraph, all[4].Action)

	recent, err := store.ListAudit(ctx, graphID, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	_, err = store.ListAudit(ctx, "missing", 0)
	assert.True(t, pkgerrors.IsNotFound(err))

	now := time.Now()
	err = store.AppendAudit(ctx, entities.AuditRecord{ID: entities.NewAuditID(now), GraphID: "missing", Timestamp: now})
	assert.True(t, pkgerrors.IsNotFound(err))
}
