package ports

import (
	"context"

	"lessonmap-backend/domain/core/aggregates"
	"lessonmap-backend/domain/core/entities"
)

// GraphStore persists lesson maps and their audit trail.
// This is a port in hexagonal architecture; memory and DynamoDB adapters
// implement it. Missing graphs and cards are reported as NOT_FOUND AppErrors.
type GraphStore interface {
	// CreateGraph stores a new, empty graph together with its creation record.
	CreateGraph(ctx context.Context, info entities.GraphInfo, audit entities.AuditRecord) error

	// ListGraphs returns the metadata of every graph owned by owner.
	ListGraphs(ctx context.Context, owner string) ([]entities.GraphInfo, error)

	// LoadGraph returns a consistent snapshot of a whole graph.
	LoadGraph(ctx context.Context, graphID string) (*aggregates.Graph, error)

	// LoadCard returns one card of a graph.
	LoadCard(ctx context.Context, graphID, cardID string) (*entities.Card, error)

	// LoadConnected returns the cards with the given ids, in the same order.
	// It fails with NOT_FOUND if any id is missing from the graph.
	LoadConnected(ctx context.Context, graphID string, cardIDs []string) ([]*entities.Card, error)

	// ApplyMutation writes every change and audit record of m, or none of
	// them. It fails with CONFLICT if the graph version moved on.
	ApplyMutation(ctx context.Context, m aggregates.Mutation) error

	// AppendAudit stores records that accompany no graph change.
	AppendAudit(ctx context.Context, records ...entities.AuditRecord) error

	// ListAudit returns the most recent records of a graph, newest first.
	ListAudit(ctx context.Context, graphID string, limit int) ([]entities.AuditRecord, error)
}

// Role is the speaker of a message sent to a text generator.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged message of a prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest is what the gateway hands to a provider.
type GenerationRequest struct {
	Messages []Message
	// Structured asks the provider for JSON output where it supports it.
	// It is only a hint; output is always normalised and validated.
	Structured bool
}

// TextGenerator is a text-generation provider. Errors are opaque to callers.
type TextGenerator interface {
	Name() string
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Stream delivers the response in fragments. It returns once the
	// response is complete or the provider fails.
	Stream(ctx context.Context, req GenerationRequest, onFragment func(fragment string) error) error
}

// CommitEvent is published after a change set has been committed.
type CommitEvent struct {
	GraphID   string                 `json:"graph_id"`
	Actor     string                 `json:"actor"`
	Operation string                 `json:"operation,omitempty"`
	Version   int                    `json:"version"`
	Records   []entities.AuditRecord `json:"records"`
}

// EventPublisher announces committed changes to other systems.
type EventPublisher interface {
	PublishCommit(ctx context.Context, event CommitEvent) error
}

// GraphLocker serialises writers of one graph. Lock blocks until the graph is
// free or ctx ends; the returned function releases the lock.
type GraphLocker interface {
	Lock(ctx context.Context, graphID string) (unlock func(), err error)
}
