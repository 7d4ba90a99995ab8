package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "lessonmap-backend/pkg/errors"
)

type splitDoc struct {
	OldNodeID string `json:"old_node_id"`
	NewNodes  []struct {
		ID          string `json:"id"`
		Tag         string `json:"tag"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"new_nodes"`
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "fenced block with prose around it",
			raw:  "Sure! Here you go:\n```json\n{\"a\": 1}\n```\nLet me know.",
			want: `{"a": 1}`,
		},
		{
			name: "first fenced block wins",
			raw:  "```json\n{\"a\": 1}\n```\n```json\n{\"b\": 2}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "no fence returns trimmed input",
			raw:  "  \n{\"a\": 1}\t\n",
			want: `{"a": 1}`,
		},
		{
			name: "fence without json tag is left alone",
			raw:  "```\n{\"a\": 1}\n```",
			want: "```\n{\"a\": 1}\n```",
		},
		{
			name: "empty input",
			raw:  "   ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalizeIsIdempotentOnCleanJSON(t *testing.T) {
	inputs := []string{
		`{"new_node":{"id":"1","tag":"Activity","title":"t","description":"d"}}`,
		`[1,2,3]`,
		`{"nested":{"list":[{"a":"b"}]}}`,
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, in, once)
		assert.Equal(t, once, Normalize(once))
	}
}

func TestSplit(t *testing.T) {
	raw := "I added an exit ticket.\n```json\n{\"a\": 1}\n```\nAnd reworded the objective.\n\n```json\n{\"b\": 2}\n```\nAnything else?"

	prose, payloads := Split(raw)
	assert.Equal(t, []string{`{"a": 1}`, `{"b": 2}`}, payloads)
	assert.Equal(t, "I added an exit ticket.\n\nAnd reworded the objective.\n\nAnything else?", prose)

	prose, payloads = Split("  {\"a\": 1}\n")
	assert.Empty(t, prose)
	assert.Equal(t, []string{`{"a": 1}`}, payloads)
}

func TestDecode_StrictTier(t *testing.T) {
	var doc struct {
		NewNode struct {
			ID  string `json:"id"`
			Tag string `json:"tag"`
		} `json:"new_node"`
	}
	tier, err := Decode(`{"new_node":{"id":"1","tag":"Activity"}}`, &doc)
	require.NoError(t, err)
	assert.Equal(t, TierStrict, tier)
	assert.Equal(t, "1", doc.NewNode.ID)
	assert.Equal(t, "Activity", doc.NewNode.Tag)
}

func TestDecode_FencedSplitWithTrailingCommaUsesLenientTier(t *testing.T) {
	raw := "Here is the split:\n```json\n" +
		"{\n" +
		"  \"old_node_id\": \"7\",\n" +
		"  \"new_nodes\": [\n" +
		"    {\"id\": \"7a\", \"tag\": \"Activity\", \"title\": \"Read the text\", \"description\": \"<p>Silent reading</p>\"},\n" +
		"    {\"id\": \"7b\", \"tag\": \"Activity\", \"title\": \"Discuss\", \"description\": \"<p>Pairs</p>\"},\n" +
		"  ],\n" +
		"}\n" +
		"```"

	var doc splitDoc
	tier, err := NormalizeAndDecode(raw, &doc)
	require.NoError(t, err)
	assert.Equal(t, TierLenient, tier)
	assert.Equal(t, "7", doc.OldNodeID)
	require.Len(t, doc.NewNodes, 2)
	assert.Equal(t, "7a", doc.NewNodes[0].ID)
	assert.Equal(t, "Discuss", doc.NewNodes[1].Title)
	assert.Equal(t, "<p>Silent reading</p>", doc.NewNodes[0].Description)
}

func TestDecode_LenientSyntax(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "single quotes", input: `{'old_node_id': '7', 'new_nodes': []}`},
		{name: "unquoted keys", input: `{old_node_id: "7", new_nodes: []}`},
		{name: "trailing comma in object", input: `{"old_node_id": "7", "new_nodes": [],}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc splitDoc
			tier, err := Decode(tt.input, &doc)
			require.NoError(t, err)
			assert.Equal(t, TierLenient, tier)
			assert.Equal(t, "7", doc.OldNodeID)
		})
	}
}

func TestDecode_Failure(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "prose", input: "I could not complete this request."},
		{name: "empty", input: ""},
		{name: "unbalanced", input: `{"old_node_id": "7", "new_nodes": [`},
		{name: "wrong field type", input: `{"old_node_id": ["7"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc splitDoc
			_, err := Decode(tt.input, &doc)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDecode))
		})
	}
}

func TestDecode_LenientResetsPartialStrictResult(t *testing.T) {
	var doc struct {
		A string `json:"a"`
		B string `json:"b"`
	}
	_, err := Decode(`{"a": "x", "b": "y",}`, &doc)
	require.NoError(t, err)
	assert.Equal(t, "x", doc.A)
	assert.Equal(t, "y", doc.B)
}
