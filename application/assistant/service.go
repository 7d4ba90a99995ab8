// Package assistant wires the assistant operations to stored graphs. It loads
// the cards a request names, runs the agent, stages the result against the
// current graph and commits accepted suggestions.
package assistant

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"lessonmap-backend/application/agents"
	"lessonmap-backend/application/commit"
	"lessonmap-backend/application/ports"
	"lessonmap-backend/domain/core/entities"
	"lessonmap-backend/domain/core/proposals"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// SuggestInput names the card and operation of a suggestion request.
type SuggestInput struct {
	GraphID      string
	CardID       string
	Operation    proposals.Operation
	ConnectedIDs []string
	Instruction  string
	Actor        string
}

// GenerateInput is a free-form request about a whole graph. History holds the
// earlier turns of the conversation, oldest first. The caller keeps it;
// nothing about a conversation is stored here.
type GenerateInput struct {
	GraphID     string
	Instruction string
	History     []ports.Message
	Actor       string
}

// Suggestion is a proposal that passed staging when it was produced.
type Suggestion struct {
	Proposal    proposals.Proposal
	BaseVersion int
}

type Service struct {
	store   ports.GraphStore
	catalog *agents.Catalog
	engine  *commit.Engine
	logger  *zap.Logger
}

func NewService(store ports.GraphStore, catalog *agents.Catalog, engine *commit.Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, catalog: catalog, engine: engine, logger: logger.Named("assistant")}
}

// Suggest runs one assistant operation on a stored card. Failures come back
// as AppErrors: GENERATION_FAILED, DECODE_FAILED, VALIDATION or NOT_FOUND.
func (s *Service) Suggest(ctx context.Context, in SuggestInput) (*Suggestion, error) {
	if _, err := proposals.ParseOperation(string(in.Operation)); err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}
	if in.Operation.GraphLevel() {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("%s works on the whole graph, not on one card", in.Operation))
	}

	card, err := s.store.LoadCard(ctx, in.GraphID, in.CardID)
	if err != nil {
		return nil, err
	}

	var connected []entities.CardSnapshot
	if in.Operation.UsesConnected() {
		if len(in.ConnectedIDs) == 0 {
			return nil, pkgerrors.NewValidationError("select at least one connected card")
		}
		for _, id := range in.ConnectedIDs {
			if id == in.CardID {
				return nil, pkgerrors.NewValidationError("the selected card cannot also be a connected card")
			}
		}
		cards, err := s.store.LoadConnected(ctx, in.GraphID, in.ConnectedIDs)
		if err != nil {
			return nil, err
		}
		for _, c := range cards {
			connected = append(connected, c.Snapshot())
		}
	}

	s.logger.Info("Suggestion requested",
		zap.String("graph_id", in.GraphID),
		zap.String("card_id", in.CardID),
		zap.String("operation", string(in.Operation)),
		zap.Strings("connected_ids", in.ConnectedIDs),
		zap.String("actor", in.Actor),
		zap.String("instruction", in.Instruction),
	)

	out := s.catalog.Run(ctx, agents.Request{
		Operation:   in.Operation,
		Card:        card.Snapshot(),
		Connected:   connected,
		Instruction: in.Instruction,
	})
	if !out.OK() {
		return nil, out.Err()
	}

	return s.stage(ctx, in.GraphID, out)
}

// Generate answers a request about a whole graph with cards to add and
// existing cards to rewrite, staged like any other suggestion.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*Suggestion, error) {
	g, err := s.store.LoadGraph(ctx, in.GraphID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Map changes requested",
		zap.String("graph_id", in.GraphID),
		zap.Int("cards", g.CardCount()),
		zap.Int("history", len(in.History)),
		zap.String("actor", in.Actor),
		zap.String("instruction", in.Instruction),
	)

	out := s.catalog.Generate(ctx, agents.MapView{
		Cards:   g.CardSnapshots(),
		Links:   g.LinkSnapshots(),
		History: in.History,
	}, in.Instruction)
	if !out.OK() {
		return nil, out.Err()
	}
	return s.stage(ctx, in.GraphID, out)
}

func (s *Service) stage(ctx context.Context, graphID string, out agents.Outcome) (*Suggestion, error) {
	v, err := s.engine.Stage(ctx, graphID, out.Proposal)
	if err != nil {
		s.logger.Info("Suggestion rejected by staging",
			zap.String("graph_id", graphID),
			zap.String("operation", string(out.Operation)),
			zap.String("rule", pkgerrors.Rule(err)),
		)
		return nil, err
	}
	return &Suggestion{Proposal: v.Proposal(), BaseVersion: v.BaseVersion()}, nil
}

// Accept commits a suggestion the user approved. The proposal is staged
// again against the graph as it is now.
func (s *Service) Accept(ctx context.Context, graphID, actor string, p proposals.Proposal) (*commit.Receipt, error) {
	if p == nil {
		return nil, pkgerrors.NewValidationError("a proposal is required")
	}
	receipt, err := s.engine.StageAndCommit(ctx, graphID, actor, p)
	if err != nil {
		return nil, fmt.Errorf("accept %s suggestion: %w", p.Origin().Operation, err)
	}
	return receipt, nil
}
