package proposals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonmap-backend/domain/core/valueobjects"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []Proposal{
		UpdateCard{
			From:     Origin{Operation: OperationRefine, AnchorID: "1"},
			ID:       "1",
			Tag:      valueobjects.TagActivity,
			NewTitle: "Peer review",
		},
		ReplaceWithMany{
			From:  Origin{Operation: OperationSplit, AnchorID: "7"},
			OldID: "7",
			NewCards: []CardDraft{
				{ID: "7a", Tag: valueobjects.TagActivity, Title: "Read"},
				{ID: "7b", Tag: valueobjects.TagActivity, Title: "Discuss"},
			},
		},
		UpdateMany{
			From:  Origin{Operation: OperationInfluence, AnchorID: "1", ScopeIDs: []string{"2"}},
			Cards: []CardDraft{{ID: "2", Tag: valueobjects.TagResource, Title: "Slides"}},
		},
		ExtendGraph{
			From:   Origin{Operation: OperationGenerate},
			Reply:  "Here is an exit ticket.",
			Add:    []CardDraft{{Tag: valueobjects.TagAssessment, Title: "Exit ticket"}},
			Modify: []CardDraft{{ID: "2", Tag: valueobjects.TagResource, Title: "Slides v2"}},
		},
	}

	for _, p := range tests {
		t.Run(string(p.Kind()), func(t *testing.T) {
			data, err := Marshal(p)
			require.NoError(t, err)

			got, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestUnmarshalRejectsUnknownKind(t *testing.T) {
	_, err := Unmarshal([]byte(`{"kind":"add_link","proposal":{}}`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"kind":"update_card"}`))
	assert.Error(t, err)
}

func TestStateTransitions(t *testing.T) {
	next, err := StateProposed.Transition(StateValidated)
	require.NoError(t, err)
	next, err = next.Transition(StateCommitted)
	require.NoError(t, err)
	assert.True(t, next.IsTerminal())

	_, err = StateCommitted.Transition(StateRejected)
	assert.Error(t, err)
	_, err = StateProposed.Transition(StateCommitted)
	assert.Error(t, err)
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("split")
	require.NoError(t, err)
	assert.Equal(t, OperationSplit, op)
	assert.False(t, op.UsesConnected())
	assert.True(t, OperationSync.UsesConnected())

	_, err = ParseOperation("merge")
	assert.Error(t, err)
}

func TestOperationKinds(t *testing.T) {
	want := map[Operation]Kind{
		OperationRefine:    KindUpdateCard,
		OperationCorrect:   KindUpdateCard,
		OperationSync:      KindUpdateCard,
		OperationSplit:     KindReplaceWithMany,
		OperationInfluence: KindUpdateMany,
		OperationGenerate:  KindExtendGraph,
	}
	for _, op := range Operations() {
		assert.Equal(t, want[op], op.Kind(), op)
		assert.Equal(t, op == OperationGenerate, op.GraphLevel(), op)
	}
	assert.Equal(t, Kind(""), Operation("merge").Kind())
}
