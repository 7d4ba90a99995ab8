package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonmap-backend/application/agents"
	"lessonmap-backend/application/normalizer"
	"lessonmap-backend/domain/core/proposals"
	"lessonmap-backend/domain/core/valueobjects"
)

func TestNormalizeCommand(t *testing.T) {
	tests := []struct {
		name  string
		input string
		tier  normalizer.Tier
	}{
		{"fenced json", "Sure!\n```json\n{\"a\": 1}\n```\nDone.", normalizer.TierStrict},
		{"bare json", `{"a": 1}`, normalizer.TierStrict},
		{"lax document", "{a: 1, 'b': [x, y]}", normalizer.TierLenient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newNormalizeCmd()
			var out bytes.Buffer
			cmd.SetIn(strings.NewReader(tt.input))
			cmd.SetOut(&out)
			cmd.SetArgs(nil)
			require.NoError(t, cmd.Execute())

			var got normalizeResult
			require.NoError(t, json.Unmarshal(out.Bytes(), &got))
			assert.Equal(t, tt.tier, got.Tier)
			assert.Equal(t, float64(1), got.Document.(map[string]any)["a"])
		})
	}
}

func TestNormalizeCommand_Prose(t *testing.T) {
	var out bytes.Buffer
	err := runNormalize(strings.NewReader("I could not do that."), &out)
	require.Error(t, err)
	assert.Zero(t, out.Len())
}

func TestReadCard(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "card.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"id":"1","tag":"Activity","title":"T"}`), 0o600))
	noID := filepath.Join(dir, "noid.json")
	require.NoError(t, os.WriteFile(noID, []byte(`{"tag":"Activity"}`), 0o600))

	card, err := readCard(good)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.TagActivity, card.Tag)

	_, err = readCard(noID)
	assert.ErrorContains(t, err, "has no id")

	_, err = readCard(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestBuildRequest(t *testing.T) {
	dir := t.TempDir()
	card := filepath.Join(dir, "card.json")
	require.NoError(t, os.WriteFile(card, []byte(`{"id":"1","tag":"Activity","title":"T"}`), 0o600))
	graph := filepath.Join(dir, "graph.json")
	require.NoError(t, os.WriteFile(graph, []byte(`{
		"graph": {"id": "g1", "name": "Fractions"},
		"cards": [{"id":"1","tag":"Activity","title":"T"},{"id":"2","tag":"Objective","title":"O"}],
		"links": [{"id":"l1","source":"1","target":"2","label":"related"}]
	}`), 0o600))

	req, err := buildRequest(suggestOptions{operation: "generate", mapFile: graph, instruction: "add a quiz"})
	require.NoError(t, err)
	assert.Equal(t, proposals.OperationGenerate, req.Operation)
	assert.Len(t, req.Map.Cards, 2)
	assert.Equal(t, "2", req.Map.Links[0].Target)

	req, err = buildRequest(suggestOptions{operation: "sync", cardFile: card, connected: []string{card}})
	require.NoError(t, err)
	assert.Equal(t, "1", req.Card.ID)
	assert.Len(t, req.Connected, 1)

	_, err = buildRequest(suggestOptions{operation: "generate", cardFile: card})
	assert.ErrorContains(t, err, "--map is required")
	_, err = buildRequest(suggestOptions{operation: "refine", mapFile: graph})
	assert.ErrorContains(t, err, "--card is required")
	_, err = buildRequest(suggestOptions{operation: "merge"})
	assert.Error(t, err)
}

func TestWriteOutcome(t *testing.T) {
	var out bytes.Buffer
	err := writeOutcome(&out, agents.Outcome{
		Operation: proposals.OperationRefine,
		Proposal: proposals.UpdateCard{
			From:     proposals.Origin{Operation: proposals.OperationRefine, AnchorID: "1"},
			ID:       "1",
			Tag:      valueobjects.TagActivity,
			NewTitle: "T",
		},
		Tier: normalizer.TierStrict,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"kind": "update_card"`)

	out.Reset()
	err = writeOutcome(&out, agents.Outcome{
		Operation: proposals.OperationSplit,
		Failure:   &agents.Failure{Kind: agents.FailureGenerationFailed, Message: "Request failed after 3 attempts."},
	})
	require.Error(t, err)
	assert.Contains(t, out.String(), "Request failed after 3 attempts.")
	assert.NotContains(t, out.String(), `"proposal"`)
}
