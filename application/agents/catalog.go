// Package agents implements the assistant operations on a lesson map: refine,
// correct, split, sync and influence work on one anchor card, generate works
// on the whole map.
//
// Every operation renders a prompt, sends it through the gateway, normalises
// and decodes the reply, checks it against the operation's result contract and
// returns a typed Outcome. Nothing is written to the graph here; an Outcome
// carries at most a proposal that still has to pass staging and commit.
package agents

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"lessonmap-backend/application/gateway"
	"lessonmap-backend/application/normalizer"
	"lessonmap-backend/application/ports"
	"lessonmap-backend/domain/config"
	"lessonmap-backend/domain/core/entities"
	"lessonmap-backend/domain/core/proposals"
	"lessonmap-backend/domain/core/valueobjects"
	pkgerrors "lessonmap-backend/pkg/errors"
	"lessonmap-backend/pkg/observability"
)

// Generator sends a prompt and returns raw model text, or the gateway
// failure text when no response could be obtained.
type Generator interface {
	Invoke(ctx context.Context, messages []ports.Message, wantStructured bool) string
}

// FailureKind classifies an unsuccessful outcome.
type FailureKind string

const (
	FailureInvalidRequest   FailureKind = "invalid_request"
	FailureGenerationFailed FailureKind = "generation_failed"
	FailureDecode           FailureKind = "decode_failed"
)

// Failure explains why an operation produced no proposal. Message is safe to
// show to users; it never contains provider output.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Outcome is the result of one assistant operation: a proposal or a failure.
type Outcome struct {
	Operation proposals.Operation
	Proposal  proposals.Proposal
	Failure   *Failure
	// Tier is the decoder tier that accepted the reply, when one did.
	Tier normalizer.Tier
}

// OK reports whether the outcome carries a proposal.
func (o Outcome) OK() bool { return o.Failure == nil && o.Proposal != nil }

// Err converts a failed outcome into an AppError for transport layers.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	switch o.Failure.Kind {
	case FailureInvalidRequest:
		return pkgerrors.NewValidationError(o.Failure.Message)
	case FailureGenerationFailed:
		return pkgerrors.NewGenerationFailedError(o.Failure.Message)
	default:
		return pkgerrors.NewDecodeError(o.Failure.Message, nil)
	}
}

// Request is the input of one assistant operation. Card and Connected are
// used by card level operations, Map by graph level ones.
type Request struct {
	Operation   proposals.Operation
	Card        entities.CardSnapshot
	Connected   []entities.CardSnapshot
	Map         MapView
	Instruction string
}

// MapView is what a graph level operation shows the model: the whole graph
// and the earlier turns of the conversation, oldest first.
type MapView struct {
	Cards   []entities.CardSnapshot
	Links   []entities.LinkSnapshot
	History []ports.Message
}

// Catalog runs assistant operations.
type Catalog struct {
	generator Generator
	contracts contracts
	cfg       *config.DomainConfig
	logger    *zap.Logger
	metrics   *observability.Collector
}

func NewCatalog(generator Generator, cfg *config.DomainConfig, logger *zap.Logger, metrics *observability.Collector) (*Catalog, error) {
	compiled, err := compileContracts()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewCollector("lessonmap")
	}
	return &Catalog{
		generator: generator,
		contracts: compiled,
		cfg:       cfg,
		logger:    logger.Named("agents"),
		metrics:   metrics,
	}, nil
}

// Refine makes one card more specific. The id and tag must come back unchanged.
func (c *Catalog) Refine(ctx context.Context, card entities.CardSnapshot, instruction string) Outcome {
	return c.Run(ctx, Request{Operation: proposals.OperationRefine, Card: card, Instruction: instruction})
}

// Correct fixes one card. The id and tag must come back unchanged.
func (c *Catalog) Correct(ctx context.Context, card entities.CardSnapshot, instruction string) Outcome {
	return c.Run(ctx, Request{Operation: proposals.OperationCorrect, Card: card, Instruction: instruction})
}

// Split replaces one card with several new ones.
func (c *Catalog) Split(ctx context.Context, card entities.CardSnapshot, instruction string) Outcome {
	return c.Run(ctx, Request{Operation: proposals.OperationSplit, Card: card, Instruction: instruction})
}

// Sync rewrites the anchor card from its connected cards.
func (c *Catalog) Sync(ctx context.Context, card entities.CardSnapshot, connected []entities.CardSnapshot, instruction string) Outcome {
	return c.Run(ctx, Request{Operation: proposals.OperationSync, Card: card, Connected: connected, Instruction: instruction})
}

// Influence rewrites the connected cards from the anchor card.
func (c *Catalog) Influence(ctx context.Context, card entities.CardSnapshot, connected []entities.CardSnapshot, instruction string) Outcome {
	return c.Run(ctx, Request{Operation: proposals.OperationInfluence, Card: card, Connected: connected, Instruction: instruction})
}

// Generate answers a free-form request about the whole map with cards to add
// and existing cards to rewrite.
func (c *Catalog) Generate(ctx context.Context, view MapView, instruction string) Outcome {
	return c.Run(ctx, Request{Operation: proposals.OperationGenerate, Map: view, Instruction: instruction})
}

// Run executes any operation. It always returns an Outcome and never panics.
func (c *Catalog) Run(ctx context.Context, req Request) (out Outcome) {
	out.Operation = req.Operation
	logger := c.logger.With(
		zap.String("operation", string(req.Operation)),
		zap.String("card_id", req.Card.ID),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Assistant operation panicked", zap.Any("panic", r))
			out = Outcome{Operation: req.Operation, Failure: &Failure{
				Kind:    FailureDecode,
				Message: "the assistant response could not be processed",
			}}
		}
		outcome := "proposal"
		if out.Failure != nil {
			outcome = string(out.Failure.Kind)
		}
		c.metrics.AgentOutcomes.WithLabelValues(string(req.Operation), outcome).Inc()
	}()

	if msg := c.checkRequest(req); msg != "" {
		logger.Info("Rejected assistant request", zap.String("reason", msg))
		return fail(req.Operation, FailureInvalidRequest, msg)
	}

	messages, err := buildMessages(req)
	if err != nil {
		logger.Error("Failed to build prompt", zap.Error(err))
		return fail(req.Operation, FailureInvalidRequest, "the card could not be prepared for the assistant")
	}

	logger.Info("Requesting suggestion",
		zap.Int("connected", len(req.Connected)),
		zap.Int("map_cards", len(req.Map.Cards)),
		zap.Int("instruction_len", len(req.Instruction)),
	)
	raw := c.generator.Invoke(ctx, messages, !req.Operation.GraphLevel())
	if gateway.IsFailure(raw) {
		logger.Warn("Generation failed", zap.String("result", raw))
		return fail(req.Operation, FailureGenerationFailed, "the assistant is unavailable right now, please try again later")
	}

	if req.Operation.GraphLevel() {
		proposal, tier, err := c.extension(req, raw)
		if err != nil {
			logger.Warn("Could not read map changes from model output", zap.Error(err), zap.Int("raw_len", len(raw)))
			return fail(req.Operation, FailureDecode, "the assistant reply did not contain usable map changes, please try again")
		}
		c.metrics.DecodeTiers.WithLabelValues(string(tier)).Inc()
		logger.Info("Suggestion ready", zap.String("kind", string(proposal.Kind())), zap.String("tier", string(tier)))
		return Outcome{Operation: req.Operation, Proposal: proposal, Tier: tier}
	}

	var doc any
	tier, err := normalizer.NormalizeAndDecode(raw, &doc)
	if err != nil {
		logger.Warn("Could not decode model output", zap.Error(err), zap.Int("raw_len", len(raw)))
		return fail(req.Operation, FailureDecode, "the assistant reply was not in the expected format, please try again")
	}
	c.metrics.DecodeTiers.WithLabelValues(string(tier)).Inc()

	proposal, err := c.toProposal(req, doc)
	if err != nil {
		logger.Warn("Model output does not match the result contract", zap.Error(err), zap.String("tier", string(tier)))
		return fail(req.Operation, FailureDecode, "the assistant reply was missing required fields, please try again")
	}

	logger.Info("Suggestion ready", zap.String("kind", string(proposal.Kind())), zap.String("tier", string(tier)))
	return Outcome{Operation: req.Operation, Proposal: proposal, Tier: tier}
}

func fail(op proposals.Operation, kind FailureKind, message string) Outcome {
	return Outcome{Operation: op, Failure: &Failure{Kind: kind, Message: message}}
}

func (c *Catalog) checkRequest(req Request) string {
	if _, err := proposals.ParseOperation(string(req.Operation)); err != nil {
		return err.Error()
	}
	if req.Operation.GraphLevel() {
		if msg := c.checkHistory(req.Map.History); msg != "" {
			return msg
		}
	} else if req.Card.ID == "" {
		return "a card is required"
	}
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" && !req.Operation.UsesConnected() {
		return "an instruction is required"
	}
	if utf8.RuneCountInString(instruction) > c.cfg.MaxInstructionLength {
		return fmt.Sprintf("the instruction exceeds %d characters", c.cfg.MaxInstructionLength)
	}
	if req.Operation.UsesConnected() {
		if len(req.Connected) == 0 {
			return "select at least one connected card"
		}
		if len(req.Connected) > c.cfg.MaxConnectedCards {
			return fmt.Sprintf("at most %d connected cards can be used", c.cfg.MaxConnectedCards)
		}
	}
	return ""
}

func (c *Catalog) checkHistory(history []ports.Message) string {
	if len(history) > c.cfg.MaxHistoryMessages {
		return fmt.Sprintf("at most %d earlier messages can be sent", c.cfg.MaxHistoryMessages)
	}
	for _, m := range history {
		if m.Role != ports.RoleUser && m.Role != ports.RoleAssistant {
			return fmt.Sprintf("earlier messages must come from the user or the assistant, not %q", m.Role)
		}
	}
	return ""
}

func (c *Catalog) toProposal(req Request, doc any) (proposals.Proposal, error) {
	origin := proposals.Origin{Operation: req.Operation, AnchorID: req.Card.ID}
	for _, cc := range req.Connected {
		origin.ScopeIDs = append(origin.ScopeIDs, cc.ID)
	}

	switch req.Operation {
	case proposals.OperationRefine, proposals.OperationCorrect, proposals.OperationSync:
		var d updateDoc
		if err := c.contracts.bind(req.Operation, doc, &d); err != nil {
			return nil, err
		}
		return proposals.UpdateCard{
			From:           origin,
			ID:             d.NewNode.ID,
			Tag:            valueobjects.Tag(d.NewNode.Tag),
			NewTitle:       d.NewNode.Title,
			NewDescription: d.NewNode.Description,
			Links:          linkDrafts(d.Links, d.Edges),
		}, nil

	case proposals.OperationSplit:
		var d splitDoc
		if err := c.contracts.bind(req.Operation, doc, &d); err != nil {
			return nil, err
		}
		return proposals.ReplaceWithMany{
			From:     origin,
			OldID:    d.OldNodeID,
			NewCards: cardDrafts(d.NewNodes),
			Links:    linkDrafts(d.Links, d.Edges),
		}, nil

	case proposals.OperationInfluence:
		var d influenceDoc
		if err := c.contracts.bind(req.Operation, doc, &d); err != nil {
			return nil, err
		}
		return proposals.UpdateMany{
			From:  origin,
			Cards: cardDrafts(d.NewNodes),
			Links: linkDrafts(d.Links, d.Edges),
		}, nil
	}
	return nil, fmt.Errorf("unsupported operation %q", req.Operation)
}

// extension reads a conversational reply. Every fenced block must decode and
// match the contract; their actions are merged in order and the prose around
// them becomes the reply text.
func (c *Catalog) extension(req Request, raw string) (proposals.Proposal, normalizer.Tier, error) {
	prose, payloads := normalizer.Split(raw)
	p := proposals.ExtendGraph{From: proposals.Origin{Operation: req.Operation}, Reply: prose}
	tier := normalizer.TierStrict
	for i, payload := range payloads {
		var doc any
		t, err := normalizer.Decode(payload, &doc)
		if err != nil {
			return nil, "", fmt.Errorf("block %d: %w", i+1, err)
		}
		if t == normalizer.TierLenient {
			tier = t
		}
		var d generateDoc
		if err := c.contracts.bind(req.Operation, doc, &d); err != nil {
			return nil, "", fmt.Errorf("block %d: %w", i+1, err)
		}
		for _, a := range d.Actions {
			tag := a.Tag
			if tag == "" {
				tag = a.Type
			}
			draft := proposals.CardDraft{
				ID:          strings.TrimSpace(a.CardID),
				Tag:         valueobjects.Tag(tag),
				Title:       a.Title,
				Description: a.Description,
			}
			switch a.Option {
			case optionAdd:
				p.Add = append(p.Add, draft)
			case optionModify:
				p.Modify = append(p.Modify, draft)
			}
		}
		p.Links = append(p.Links, linkDrafts(d.Links, d.Edges)...)
	}
	return p, tier, nil
}

func cardDrafts(docs []cardDoc) []proposals.CardDraft {
	out := make([]proposals.CardDraft, len(docs))
	for i, d := range docs {
		out[i] = proposals.CardDraft{
			ID:          strings.TrimSpace(d.ID),
			Tag:         valueobjects.Tag(d.Tag),
			Title:       d.Title,
			Description: d.Description,
		}
	}
	return out
}

func linkDrafts(groups ...[]linkDoc) []proposals.LinkDraft {
	var out []proposals.LinkDraft
	for _, g := range groups {
		for _, l := range g {
			out = append(out, proposals.LinkDraft{Source: l.Source, Target: l.Target, Label: l.Label})
		}
	}
	return out
}
