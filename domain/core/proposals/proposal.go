// Package proposals defines the change sets a model may suggest for a graph.
//
// A Proposal is one of four variants: UpdateCard, ReplaceWithMany,
// UpdateMany or ExtendGraph. The set is closed. Values are plain data and are never applied
// directly; they must pass staging first.
package proposals

import (
	"encoding/json"
	"fmt"

	"lessonmap-backend/domain/core/valueobjects"
)

// Operation is the assistant operation that produced a proposal.
type Operation string

const (
	OperationRefine    Operation = "refine"
	OperationCorrect   Operation = "correct"
	OperationSplit     Operation = "split"
	OperationSync      Operation = "sync"
	OperationInfluence Operation = "influence"
	OperationGenerate  Operation = "generate"
)

// Operations lists every assistant operation.
func Operations() []Operation {
	return []Operation{OperationRefine, OperationCorrect, OperationSplit, OperationSync, OperationInfluence, OperationGenerate}
}

// ParseOperation maps a name to an Operation.
func ParseOperation(s string) (Operation, error) {
	for _, op := range Operations() {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// UsesConnected reports whether the operation reads the anchor's neighbours.
func (o Operation) UsesConnected() bool {
	return o == OperationSync || o == OperationInfluence
}

// GraphLevel reports whether the operation works on the whole graph rather
// than on one anchor card.
func (o Operation) GraphLevel() bool {
	return o == OperationGenerate
}

// Kind returns the proposal variant the operation answers with.
func (o Operation) Kind() Kind {
	switch o {
	case OperationRefine, OperationCorrect, OperationSync:
		return KindUpdateCard
	case OperationSplit:
		return KindReplaceWithMany
	case OperationInfluence:
		return KindUpdateMany
	case OperationGenerate:
		return KindExtendGraph
	default:
		return ""
	}
}

// Kind identifies the proposal variant on the wire.
type Kind string

const (
	KindUpdateCard      Kind = "update_card"
	KindReplaceWithMany Kind = "replace_with_many"
	KindUpdateMany      Kind = "update_many"
	KindExtendGraph     Kind = "extend_graph"
)

// Origin records which request a proposal answers. AnchorID is empty for
// graph level operations.
type Origin struct {
	Operation Operation `json:"operation"`
	AnchorID  string    `json:"anchor_id"`
	// ScopeIDs are the connected card ids the request included.
	ScopeIDs []string `json:"scope_ids,omitempty"`
}

// CardDraft is the content the model proposed for one card.
type CardDraft struct {
	ID          string                 `json:"id"`
	Tag         valueobjects.Tag       `json:"tag"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Position    *valueobjects.Position `json:"position,omitempty"`
}

// LinkDraft is a link the model tried to add. Drafts are carried only so
// that staging can refuse them.
type LinkDraft struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Proposal is implemented by the four variants of this package only.
type Proposal interface {
	Kind() Kind
	Origin() Origin
	LinkDrafts() []LinkDraft
	sealed()
}

// UpdateCard rewrites the title and description of one existing card.
type UpdateCard struct {
	From           Origin           `json:"origin"`
	ID             string           `json:"id"`
	Tag            valueobjects.Tag `json:"tag"`
	NewTitle       string           `json:"new_title"`
	NewDescription string           `json:"new_description"`
	Links          []LinkDraft      `json:"links,omitempty"`
}

// ReplaceWithMany removes one card and creates one or more in its place.
type ReplaceWithMany struct {
	From     Origin      `json:"origin"`
	OldID    string      `json:"old_id"`
	NewCards []CardDraft `json:"new_cards"`
	Links    []LinkDraft `json:"links,omitempty"`
}

// UpdateMany rewrites several existing cards.
type UpdateMany struct {
	From  Origin      `json:"origin"`
	Cards []CardDraft `json:"cards"`
	Links []LinkDraft `json:"links,omitempty"`
}

// ExtendGraph adds new cards to a graph and rewrites existing ones in a
// single change set. Reply is the conversational answer that came with it.
type ExtendGraph struct {
	From   Origin      `json:"origin"`
	Reply  string      `json:"reply,omitempty"`
	Add    []CardDraft `json:"add,omitempty"`
	Modify []CardDraft `json:"modify,omitempty"`
	Links  []LinkDraft `json:"links,omitempty"`
}

func (p UpdateCard) Kind() Kind              { return KindUpdateCard }
func (p UpdateCard) Origin() Origin          { return p.From }
func (p UpdateCard) LinkDrafts() []LinkDraft { return p.Links }
func (UpdateCard) sealed()                   {}

func (p ReplaceWithMany) Kind() Kind              { return KindReplaceWithMany }
func (p ReplaceWithMany) Origin() Origin          { return p.From }
func (p ReplaceWithMany) LinkDrafts() []LinkDraft { return p.Links }
func (ReplaceWithMany) sealed()                   {}

func (p UpdateMany) Kind() Kind              { return KindUpdateMany }
func (p UpdateMany) Origin() Origin          { return p.From }
func (p UpdateMany) LinkDrafts() []LinkDraft { return p.Links }
func (UpdateMany) sealed()                   {}

func (p ExtendGraph) Kind() Kind              { return KindExtendGraph }
func (p ExtendGraph) Origin() Origin          { return p.From }
func (p ExtendGraph) LinkDrafts() []LinkDraft { return p.Links }
func (ExtendGraph) sealed()                   {}

// envelope is the wire form: the variant fields plus a kind discriminator.
type envelope struct {
	Kind     Kind            `json:"kind"`
	Proposal json.RawMessage `json:"proposal"`
}

// Marshal encodes a proposal with its kind.
func Marshal(p Proposal) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: p.Kind(), Proposal: body})
}

// Unmarshal decodes the output of Marshal.
func Unmarshal(data []byte) (Proposal, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode proposal envelope: %w", err)
	}
	return Decode(env.Kind, env.Proposal)
}

// Decode builds the variant named by kind from its JSON body.
func Decode(kind Kind, body []byte) (Proposal, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("proposal body is empty")
	}
	switch kind {
	case KindUpdateCard:
		var p UpdateCard
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return p, nil
	case KindReplaceWithMany:
		var p ReplaceWithMany
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return p, nil
	case KindUpdateMany:
		var p UpdateMany
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return p, nil
	case KindExtendGraph:
		var p ExtendGraph
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown proposal kind %q", kind)
	}
}
