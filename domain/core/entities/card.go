package entities

import (
	"fmt"
	"time"
	"unicode/utf8"

	"lessonmap-backend/domain/config"
	"lessonmap-backend/domain/core/valueobjects"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// Card is one typed piece of content in a lesson map.
// Fields are private; changes go through methods that enforce the limits in
// DomainConfig.
type Card struct {
	id          string
	tag         valueobjects.Tag
	title       string
	description string
	sources     []string
	position    valueobjects.Position
	createdAt   time.Time
	updatedAt   time.Time
	version     int
}

// CardSnapshot is the serialisable state of a card. It is what the API
// returns, what storage persists and what audit records capture.
type CardSnapshot struct {
	ID          string                `json:"id" dynamodbav:"id"`
	Tag         valueobjects.Tag      `json:"tag" dynamodbav:"tag"`
	Title       string                `json:"title" dynamodbav:"title"`
	Description string                `json:"description" dynamodbav:"description"`
	Sources     []string              `json:"sources" dynamodbav:"sources"`
	Position    valueobjects.Position `json:"position" dynamodbav:"position"`
	CreatedAt   time.Time             `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at" dynamodbav:"updated_at"`
	Version     int                   `json:"version" dynamodbav:"version"`
}

// NewCard creates a card after validating its content.
func NewCard(id string, tag valueobjects.Tag, title, description string, position valueobjects.Position, cfg *config.DomainConfig, now time.Time) (*Card, error) {
	if err := valueobjects.ValidateID(id); err != nil {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("card id: %v", err))
	}
	if !tag.IsValid() {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("card tag %q is not one of the six card tags", tag))
	}
	if err := validateContent(title, description, cfg); err != nil {
		return nil, err
	}

	return &Card{
		id:          id,
		tag:         tag,
		title:       title,
		description: description,
		sources:     []string{},
		position:    position,
		createdAt:   now,
		updatedAt:   now,
		version:     1,
	}, nil
}

// ReconstructCard rebuilds a card from stored state without validation.
func ReconstructCard(s CardSnapshot) *Card {
	sources := append([]string{}, s.Sources...)
	return &Card{
		id:          s.ID,
		tag:         s.Tag,
		title:       s.Title,
		description: s.Description,
		sources:     sources,
		position:    s.Position,
		createdAt:   s.CreatedAt,
		updatedAt:   s.UpdatedAt,
		version:     s.Version,
	}
}

func (c *Card) ID() string                      { return c.id }
func (c *Card) Tag() valueobjects.Tag           { return c.tag }
func (c *Card) Title() string                   { return c.title }
func (c *Card) Description() string             { return c.description }
func (c *Card) Sources() []string               { return append([]string{}, c.sources...) }
func (c *Card) Position() valueobjects.Position { return c.position }
func (c *Card) CreatedAt() time.Time            { return c.createdAt }
func (c *Card) UpdatedAt() time.Time            { return c.updatedAt }
func (c *Card) Version() int                    { return c.version }

// Rewrite replaces title and description. The description is overwritten
// in full; nothing of the old text is merged.
func (c *Card) Rewrite(title, description string, cfg *config.DomainConfig, now time.Time) error {
	if err := validateContent(title, description, cfg); err != nil {
		return err
	}
	c.title = title
	c.description = description
	c.touch(now)
	return nil
}

// Retag changes the card tag. Only direct user edits may retag a card.
func (c *Card) Retag(tag valueobjects.Tag, now time.Time) error {
	if !tag.IsValid() {
		return pkgerrors.NewValidationError(fmt.Sprintf("card tag %q is not one of the six card tags", tag))
	}
	c.tag = tag
	c.touch(now)
	return nil
}

// SetSources replaces the card's source references.
func (c *Card) SetSources(sources []string, cfg *config.DomainConfig, now time.Time) error {
	if cfg != nil && len(sources) > cfg.MaxSourcesPerCard {
		return pkgerrors.NewValidationError(fmt.Sprintf("a card may cite at most %d sources", cfg.MaxSourcesPerCard))
	}
	c.sources = append([]string{}, sources...)
	c.touch(now)
	return nil
}

// MoveTo places the card on the canvas. Moving does not bump the version.
func (c *Card) MoveTo(p valueobjects.Position) {
	c.position = p
}

func (c *Card) touch(now time.Time) {
	c.updatedAt = now
	c.version++
}

// Snapshot returns a copy of the card state.
func (c *Card) Snapshot() CardSnapshot {
	return CardSnapshot{
		ID:          c.id,
		Tag:         c.tag,
		Title:       c.title,
		Description: c.description,
		Sources:     c.Sources(),
		Position:    c.position,
		CreatedAt:   c.createdAt,
		UpdatedAt:   c.updatedAt,
		Version:     c.version,
	}
}

// Clone returns an independent copy.
func (c *Card) Clone() *Card {
	return ReconstructCard(c.Snapshot())
}

func validateContent(title, description string, cfg *config.DomainConfig) error {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if utf8.RuneCountInString(title) > cfg.MaxTitleLength {
		return pkgerrors.NewValidationError(fmt.Sprintf("title exceeds %d characters", cfg.MaxTitleLength))
	}
	if utf8.RuneCountInString(description) > cfg.MaxDescriptionLength {
		return pkgerrors.NewValidationError(fmt.Sprintf("description exceeds %d characters", cfg.MaxDescriptionLength))
	}
	return nil
}
