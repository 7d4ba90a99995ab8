// Package staging decides whether a proposal may be committed to a graph.
//
// Stage checks a proposal against a graph snapshot and either returns a
// Validated change set or a VALIDATION AppError naming the broken rule.
// Validated can only be built here, so nothing reaches the commit engine
// without passing these checks.
package staging

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"lessonmap-backend/domain/config"
	"lessonmap-backend/domain/core/aggregates"
	"lessonmap-backend/domain/core/proposals"
	"lessonmap-backend/domain/core/valueobjects"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// Rule names reported in rejected proposals.
const (
	RuleLinksForbidden  = "links_forbidden"
	RuleUnknownTag      = "unknown_tag"
	RuleUnknownCard     = "unknown_card"
	RuleTagChanged      = "tag_changed"
	RuleAnchorMismatch  = "anchor_mismatch"
	RuleOriginMismatch  = "origin_mismatch"
	RuleOutOfScope      = "out_of_scope"
	RuleDuplicateCard   = "duplicate_card"
	RuleEmptyProposal   = "empty_proposal"
	RuleEmptySplit      = "empty_split"
	RuleTooManyCards    = "too_many_cards"
	RuleMissingTitle    = "missing_title"
	RuleContentTooLong  = "content_too_long"
	RuleUnsupportedKind = "unsupported_kind"
)

// Validated is a proposal that passed staging against one graph version.
// The proposal it holds is resolved: new cards have ids and positions and
// every draft carries its final tag.
type Validated struct {
	graphID     string
	baseVersion int
	proposal    proposals.Proposal

	mu    sync.Mutex
	state proposals.State
}

func (v *Validated) GraphID() string                { return v.graphID }
func (v *Validated) BaseVersion() int               { return v.baseVersion }
func (v *Validated) Proposal() proposals.Proposal   { return v.proposal }
func (v *Validated) Operation() proposals.Operation { return v.proposal.Origin().Operation }

// State returns where the change set is in its life cycle.
func (v *Validated) State() proposals.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// MarkCommitted records a successful commit. A change set commits once.
func (v *Validated) MarkCommitted() error {
	return v.move(proposals.StateCommitted)
}

// MarkRejected records that the change set was refused at commit time.
func (v *Validated) MarkRejected() error {
	return v.move(proposals.StateRejected)
}

func (v *Validated) move(next proposals.State) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, err := v.state.Transition(next)
	if err != nil {
		return pkgerrors.NewConflictError(err.Error())
	}
	v.state = s
	return nil
}

// Stager applies the staging rules.
type Stager struct {
	cfg   *config.DomainConfig
	newID func() string
}

func NewStager(cfg *config.DomainConfig) *Stager {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &Stager{cfg: cfg, newID: valueobjects.NewID}
}

// WithIDGenerator replaces the generator used for new card ids.
func (s *Stager) WithIDGenerator(gen func() string) *Stager {
	s.newID = gen
	return s
}

// Stage validates p against the snapshot g.
func (s *Stager) Stage(p proposals.Proposal, g *aggregates.Graph) (*Validated, error) {
	if p == nil {
		return nil, pkgerrors.NewRuleViolation(RuleEmptyProposal, "there is no proposal to apply")
	}
	if links := p.LinkDrafts(); len(links) > 0 {
		return nil, pkgerrors.NewRuleViolation(RuleLinksForbidden,
			fmt.Sprintf("suggestions cannot add links, but this one adds %d", len(links)))
	}
	if err := checkOrigin(p); err != nil {
		return nil, err
	}

	var resolved proposals.Proposal
	var err error
	switch v := p.(type) {
	case proposals.UpdateCard:
		resolved, err = s.stageUpdate(v, g)
	case proposals.ReplaceWithMany:
		resolved, err = s.stageSplit(v, g)
	case proposals.UpdateMany:
		resolved, err = s.stageMany(v, g)
	case proposals.ExtendGraph:
		resolved, err = s.stageExtend(v, g)
	default:
		err = pkgerrors.NewRuleViolation(RuleUnsupportedKind, fmt.Sprintf("proposal kind %q is not supported", p.Kind()))
	}
	if err != nil {
		return nil, err
	}

	return &Validated{
		graphID:     g.ID(),
		baseVersion: g.Version(),
		proposal:    resolved,
		state:       proposals.StateValidated,
	}, nil
}

// Restage checks an already validated change set against a newer snapshot.
// Cards that disappeared since staging turn into a CONFLICT, other rule
// failures stay VALIDATION errors.
func (s *Stager) Restage(v *Validated, g *aggregates.Graph) (*Validated, error) {
	next, err := s.Stage(v.proposal, g)
	if err != nil {
		return nil, Stale(err)
	}
	return next, nil
}

// Stale turns an unknown_card rejection into a CONFLICT. Use it when the
// proposal was built from an earlier snapshot than the one it is checked
// against, so a missing card means someone else deleted it. Other errors
// are returned unchanged.
func Stale(err error) error {
	if pkgerrors.Rule(err) != RuleUnknownCard {
		return err
	}
	return pkgerrors.NewConflictError(
		"the graph changed while the suggestion was pending: " + pkgerrors.GetAppError(err).Message).
		WithCode(RuleUnknownCard).WithCause(err)
}

// checkOrigin ties a proposal to the request it claims to answer. The origin
// arrives from the client on commit, so it must agree with the variant and
// name the anchor and scope that the content checks rely on.
func checkOrigin(p proposals.Proposal) error {
	from := p.Origin()
	if from.Operation.Kind() != p.Kind() {
		return pkgerrors.NewRuleViolation(RuleOriginMismatch,
			fmt.Sprintf("a %s proposal cannot answer a %q request", p.Kind(), from.Operation))
	}
	if from.Operation.GraphLevel() {
		if from.AnchorID != "" || len(from.ScopeIDs) > 0 {
			return pkgerrors.NewRuleViolation(RuleOriginMismatch,
				fmt.Sprintf("a %s request does not target single cards", from.Operation))
		}
		return nil
	}
	if from.AnchorID == "" {
		return pkgerrors.NewRuleViolation(RuleAnchorMismatch, "the suggestion does not name the card it was requested for")
	}
	if from.Operation.UsesConnected() && len(from.ScopeIDs) == 0 {
		return pkgerrors.NewRuleViolation(RuleOutOfScope, "the suggestion does not name the connected cards it was requested for")
	}
	return nil
}

func (s *Stager) stageUpdate(p proposals.UpdateCard, g *aggregates.Graph) (proposals.Proposal, error) {
	if anchor := p.From.AnchorID; p.ID != anchor {
		return nil, pkgerrors.NewRuleViolation(RuleAnchorMismatch,
			fmt.Sprintf("the suggestion targets card %q but card %q was requested", p.ID, anchor))
	}
	tag, err := s.checkExisting(proposals.CardDraft{ID: p.ID, Tag: p.Tag, Title: p.NewTitle, Description: p.NewDescription}, g, true)
	if err != nil {
		return nil, err
	}
	p.Tag = tag
	return p, nil
}

func (s *Stager) stageMany(p proposals.UpdateMany, g *aggregates.Graph) (proposals.Proposal, error) {
	if len(p.Cards) == 0 {
		return nil, pkgerrors.NewRuleViolation(RuleEmptyProposal, "the suggestion changes no cards")
	}

	scope := make(map[string]bool, len(p.From.ScopeIDs))
	for _, id := range p.From.ScopeIDs {
		scope[id] = true
	}

	seen := make(map[string]bool, len(p.Cards))
	cards := make([]proposals.CardDraft, len(p.Cards))
	for i, d := range p.Cards {
		if seen[d.ID] {
			return nil, pkgerrors.NewRuleViolation(RuleDuplicateCard,
				fmt.Sprintf("card %q appears more than once in the suggestion", d.ID))
		}
		seen[d.ID] = true
		if !scope[d.ID] {
			return nil, pkgerrors.NewRuleViolation(RuleOutOfScope,
				fmt.Sprintf("card %q is not one of the selected connected cards", d.ID))
		}
		tag, err := s.checkExisting(d, g, false)
		if err != nil {
			return nil, err
		}
		d.Tag = tag
		d.Position = nil
		cards[i] = d
	}
	p.Cards = cards
	return p, nil
}

func (s *Stager) stageSplit(p proposals.ReplaceWithMany, g *aggregates.Graph) (proposals.Proposal, error) {
	if anchor := p.From.AnchorID; p.OldID != anchor {
		return nil, pkgerrors.NewRuleViolation(RuleAnchorMismatch,
			fmt.Sprintf("the suggestion splits card %q but card %q was requested", p.OldID, anchor))
	}
	old, ok := g.Card(p.OldID)
	if !ok {
		return nil, pkgerrors.NewRuleViolation(RuleUnknownCard, fmt.Sprintf("card %q does not exist", p.OldID))
	}
	if len(p.NewCards) == 0 {
		return nil, pkgerrors.NewRuleViolation(RuleEmptySplit, "a split needs at least one new card")
	}
	if len(p.NewCards) > s.cfg.MaxSplitCards {
		return nil, pkgerrors.NewRuleViolation(RuleTooManyCards,
			fmt.Sprintf("a split may create at most %d cards", s.cfg.MaxSplitCards))
	}
	if room := s.cfg.MaxCardsPerGraph - g.CardCount() + 1; len(p.NewCards) > room {
		return nil, pkgerrors.NewRuleViolation(RuleTooManyCards,
			fmt.Sprintf("the graph can hold at most %d cards", s.cfg.MaxCardsPerGraph))
	}

	taken := make(map[string]bool, len(p.NewCards))
	cards := make([]proposals.CardDraft, len(p.NewCards))
	for i, d := range p.NewCards {
		if !d.Tag.IsValid() {
			return nil, pkgerrors.NewRuleViolation(RuleUnknownTag,
				fmt.Sprintf("new card %d has tag %q, which is not one of the six card tags", i+1, d.Tag))
		}
		if err := s.checkContent(d); err != nil {
			return nil, err
		}
		// The replaced card's id is free once it is deleted, but reusing it
		// would make the audit trail ambiguous.
		if d.ID == "" || taken[d.ID] || g.HasCard(d.ID) || valueobjects.ValidateID(d.ID) != nil {
			d.ID = s.newID()
		}
		taken[d.ID] = true
		if d.Position == nil {
			pos := old.Position().Offset(float64(i)*s.cfg.SplitOffsetX, float64(i)*s.cfg.SplitOffsetY)
			d.Position = &pos
		}
		cards[i] = d
	}
	p.NewCards = cards
	return p, nil
}

func (s *Stager) stageExtend(p proposals.ExtendGraph, g *aggregates.Graph) (proposals.Proposal, error) {
	if len(p.Add) == 0 && len(p.Modify) == 0 {
		return nil, pkgerrors.NewRuleViolation(RuleEmptyProposal, "the suggestion neither adds nor changes a card")
	}
	if len(p.Add) > s.cfg.MaxGeneratedCards {
		return nil, pkgerrors.NewRuleViolation(RuleTooManyCards,
			fmt.Sprintf("a suggestion may add at most %d cards", s.cfg.MaxGeneratedCards))
	}
	if room := s.cfg.MaxCardsPerGraph - g.CardCount(); len(p.Add) > room {
		return nil, pkgerrors.NewRuleViolation(RuleTooManyCards,
			fmt.Sprintf("the graph can hold at most %d cards", s.cfg.MaxCardsPerGraph))
	}

	seen := make(map[string]bool, len(p.Modify))
	modify := make([]proposals.CardDraft, len(p.Modify))
	for i, d := range p.Modify {
		if seen[d.ID] {
			return nil, pkgerrors.NewRuleViolation(RuleDuplicateCard,
				fmt.Sprintf("card %q appears more than once in the suggestion", d.ID))
		}
		seen[d.ID] = true
		tag, err := s.checkExisting(d, g, false)
		if err != nil {
			return nil, err
		}
		d.Tag = tag
		d.Position = nil
		modify[i] = d
	}

	origin := s.newColumn(g)
	taken := make(map[string]bool, len(p.Add))
	add := make([]proposals.CardDraft, len(p.Add))
	for i, d := range p.Add {
		if !d.Tag.IsValid() {
			return nil, pkgerrors.NewRuleViolation(RuleUnknownTag,
				fmt.Sprintf("new card %d has tag %q, which is not one of the six card tags", i+1, d.Tag))
		}
		if err := s.checkContent(d); err != nil {
			return nil, err
		}
		if d.ID == "" || taken[d.ID] || g.HasCard(d.ID) || valueobjects.ValidateID(d.ID) != nil {
			d.ID = s.newID()
		}
		taken[d.ID] = true
		if d.Position == nil {
			pos := origin.Offset(0, float64(i)*s.cfg.SplitOffsetY)
			d.Position = &pos
		}
		add[i] = d
	}

	p.Add = add
	p.Modify = modify
	return p, nil
}

// newColumn returns the top of a free column right of every card in g.
func (s *Stager) newColumn(g *aggregates.Graph) valueobjects.Position {
	cards := g.Cards()
	if len(cards) == 0 {
		return valueobjects.Position{}
	}
	right, top := cards[0].Position().X, cards[0].Position().Y
	for _, c := range cards[1:] {
		right = max(right, c.Position().X)
		top = min(top, c.Position().Y)
	}
	return valueobjects.Position{X: right + s.cfg.GeneratedColumnGap, Y: top}
}

// checkExisting validates a draft that rewrites an existing card and returns
// the tag the card keeps. Unless requireTag is set, an empty draft tag means
// the tag is unchanged.
func (s *Stager) checkExisting(d proposals.CardDraft, g *aggregates.Graph, requireTag bool) (valueobjects.Tag, error) {
	current, ok := g.Card(d.ID)
	if !ok {
		return "", pkgerrors.NewRuleViolation(RuleUnknownCard, fmt.Sprintf("card %q does not exist", d.ID))
	}
	if d.Tag == "" && !requireTag {
		d.Tag = current.Tag()
	}
	if !d.Tag.IsValid() {
		return "", pkgerrors.NewRuleViolation(RuleUnknownTag,
			fmt.Sprintf("tag %q is not one of the six card tags", d.Tag))
	}
	if d.Tag != current.Tag() {
		return "", pkgerrors.NewRuleViolation(RuleTagChanged,
			fmt.Sprintf("card %q must keep its tag %s, the suggestion changed it to %s", d.ID, current.Tag(), d.Tag))
	}
	if err := s.checkContent(d); err != nil {
		return "", err
	}
	return d.Tag, nil
}

func (s *Stager) checkContent(d proposals.CardDraft) error {
	if strings.TrimSpace(d.Title) == "" {
		return pkgerrors.NewRuleViolation(RuleMissingTitle, "every suggested card needs a title")
	}
	if utf8.RuneCountInString(d.Title) > s.cfg.MaxTitleLength {
		return pkgerrors.NewRuleViolation(RuleContentTooLong,
			fmt.Sprintf("titles are limited to %d characters", s.cfg.MaxTitleLength))
	}
	if utf8.RuneCountInString(d.Description) > s.cfg.MaxDescriptionLength {
		return pkgerrors.NewRuleViolation(RuleContentTooLong,
			fmt.Sprintf("descriptions are limited to %d characters", s.cfg.MaxDescriptionLength))
	}
	return nil
}
