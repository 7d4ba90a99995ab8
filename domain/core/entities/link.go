package entities

import (
	"fmt"
	"time"

	"lessonmap-backend/domain/config"
	"lessonmap-backend/domain/core/valueobjects"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// Link is a labelled, directed relation between two cards of one graph.
// Links are only ever created by people; model output never adds one.
type Link struct {
	id        string
	source    string
	target    string
	label     string
	createdAt time.Time
}

// LinkSnapshot is the serialisable state of a link.
type LinkSnapshot struct {
	ID        string    `json:"id" dynamodbav:"id"`
	Source    string    `json:"source" dynamodbav:"source"`
	Target    string    `json:"target" dynamodbav:"target"`
	Label     string    `json:"label" dynamodbav:"label"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}

// NewLink creates a link. Endpoint existence is checked by the graph, not here.
func NewLink(id, source, target, label string, cfg *config.DomainConfig, now time.Time) (*Link, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if err := valueobjects.ValidateID(id); err != nil {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("link id: %v", err))
	}
	if source == "" || target == "" {
		return nil, pkgerrors.NewValidationError("link needs both a source and a target card")
	}
	if source == target && !cfg.AllowSelfLinks {
		return nil, pkgerrors.NewValidationError("a card cannot link to itself")
	}
	if label == "" {
		label = cfg.DefaultLinkLabel
	}
	return &Link{id: id, source: source, target: target, label: label, createdAt: now}, nil
}

func ReconstructLink(s LinkSnapshot) *Link {
	return &Link{id: s.ID, source: s.Source, target: s.Target, label: s.Label, createdAt: s.CreatedAt}
}

func (l *Link) ID() string           { return l.id }
func (l *Link) Source() string       { return l.source }
func (l *Link) Target() string       { return l.target }
func (l *Link) Label() string        { return l.label }
func (l *Link) CreatedAt() time.Time { return l.createdAt }

// Touches reports whether the card is one of the link's endpoints.
func (l *Link) Touches(cardID string) bool {
	return l.source == cardID || l.target == cardID
}

// Other returns the endpoint opposite to cardID.
func (l *Link) Other(cardID string) string {
	if l.source == cardID {
		return l.target
	}
	return l.source
}

// Relabel changes the label; an empty label falls back to the default.
func (l *Link) Relabel(label string, cfg *config.DomainConfig) {
	if label == "" {
		if cfg == nil {
			cfg = config.DefaultDomainConfig()
		}
		label = cfg.DefaultLinkLabel
	}
	l.label = label
}

func (l *Link) Snapshot() LinkSnapshot {
	return LinkSnapshot{ID: l.id, Source: l.source, Target: l.target, Label: l.label, CreatedAt: l.createdAt}
}

func (l *Link) Clone() *Link {
	return ReconstructLink(l.Snapshot())
}
