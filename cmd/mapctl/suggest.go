package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lessonmap-backend/application/agents"
	"lessonmap-backend/domain/core/entities"
	"lessonmap-backend/domain/core/proposals"
	"lessonmap-backend/infrastructure/config"
	"lessonmap-backend/infrastructure/di"
)

type suggestOptions struct {
	operation   string
	cardFile    string
	mapFile     string
	connected   []string
	instruction string
}

func newSuggestCmd() *cobra.Command {
	var opts suggestOptions
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Run one assistant operation against cards stored as JSON files",
		Example: "  mapctl suggest --op refine --card card.json --instruction 'make it hands-on'\n" +
			"  mapctl suggest --op sync --card card.json --connected a.json --connected b.json\n" +
			"  mapctl suggest --op generate --map graph.json --instruction 'add an exit ticket'",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSuggest(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.operation, "op", "", "operation: refine, correct, split, sync, influence or generate")
	cmd.Flags().StringVar(&opts.cardFile, "card", "", "JSON file holding the selected card")
	cmd.Flags().StringVar(&opts.mapFile, "map", "", "JSON file holding a whole graph as returned by GET /graphs/{id} (generate only)")
	cmd.Flags().StringArrayVar(&opts.connected, "connected", nil, "JSON file holding a connected card (repeatable)")
	cmd.Flags().StringVar(&opts.instruction, "instruction", "", "free-text instruction for the assistant")
	_ = cmd.MarkFlagRequired("op")
	cmd.MarkFlagsMutuallyExclusive("card", "map")
	return cmd
}

func runSuggest(ctx context.Context, out io.Writer, opts suggestOptions) error {
	req, err := buildRequest(opts)
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	catalog, stop, err := buildCatalog(ctx, logger)
	if err != nil {
		return err
	}
	defer stop()

	return writeOutcome(out, catalog.Run(ctx, req))
}

// buildRequest reads the files an operation needs: the selected card and its
// connected cards, or the whole map for graph level operations.
func buildRequest(opts suggestOptions) (agents.Request, error) {
	op, err := proposals.ParseOperation(opts.operation)
	if err != nil {
		return agents.Request{}, err
	}
	req := agents.Request{Operation: op, Instruction: opts.instruction}

	if op.GraphLevel() {
		if opts.mapFile == "" {
			return req, fmt.Errorf("--map is required for %s", op)
		}
		req.Map, err = readMap(opts.mapFile)
		return req, err
	}

	if opts.cardFile == "" {
		return req, fmt.Errorf("--card is required for %s", op)
	}
	if req.Card, err = readCard(opts.cardFile); err != nil {
		return req, err
	}
	for _, path := range opts.connected {
		c, err := readCard(path)
		if err != nil {
			return req, err
		}
		req.Connected = append(req.Connected, c)
	}
	return req, nil
}

// buildCatalog wires the configured provider through the gateway exactly as
// the API does, minus storage and the commit engine.
func buildCatalog(ctx context.Context, logger *zap.Logger) (*agents.Catalog, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	provider, err := di.ProvideTextGenerator(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	metrics := di.ProvideMetrics()
	pool := di.ProvideWorkerPool(ctx, cfg, logger)
	gw := di.ProvideGateway(provider, pool, cfg, logger, metrics, nil)

	catalog, err := di.ProvideCatalog(gw, di.ProvideDomainConfig(), logger, metrics)
	if err != nil {
		pool.Stop()
		return nil, nil, err
	}
	return catalog, pool.Stop, nil
}

func readCard(path string) (entities.CardSnapshot, error) {
	var card entities.CardSnapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return card, fmt.Errorf("read card: %w", err)
	}
	if err := json.Unmarshal(data, &card); err != nil {
		return card, fmt.Errorf("decode card %s: %w", path, err)
	}
	if card.ID == "" {
		return card, fmt.Errorf("card %s has no id", path)
	}
	return card, nil
}

func readMap(path string) (agents.MapView, error) {
	var graph struct {
		Cards []entities.CardSnapshot `json:"cards"`
		Links []entities.LinkSnapshot `json:"links"`
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return agents.MapView{}, fmt.Errorf("read map: %w", err)
	}
	if err := json.Unmarshal(data, &graph); err != nil {
		return agents.MapView{}, fmt.Errorf("decode map %s: %w", path, err)
	}
	return agents.MapView{Cards: graph.Cards, Links: graph.Links}, nil
}

type suggestOutput struct {
	Operation proposals.Operation `json:"operation"`
	Tier      string              `json:"tier,omitempty"`
	Proposal  json.RawMessage     `json:"proposal,omitempty"`
	Failure   *agents.Failure     `json:"failure,omitempty"`
}

func writeOutcome(out io.Writer, o agents.Outcome) error {
	result := suggestOutput{Operation: o.Operation, Tier: string(o.Tier), Failure: o.Failure}
	if o.OK() {
		envelope, err := proposals.Marshal(o.Proposal)
		if err != nil {
			return err
		}
		result.Proposal = envelope
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	return o.Err()
}
