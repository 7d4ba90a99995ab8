package entities

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// AuditAction names what happened to an entity.
type AuditAction string

const (
	ActionAICommitUpdate AuditAction = "ai_commit_update"
	ActionAICommitCreate AuditAction = "ai_commit_create"
	ActionAICommitDelete AuditAction = "ai_commit_delete"

	ActionCreateGraph AuditAction = "create_graph"
	ActionUpdateGraph AuditAction = "update_graph"
	ActionCreateCard  AuditAction = "create_card"
	ActionUpdateCard  AuditAction = "update_card"
	ActionDeleteCard  AuditAction = "delete_card"
	ActionCreateLink  AuditAction = "create_link"
	ActionUpdateLink  AuditAction = "update_link"
	ActionDeleteLink  AuditAction = "delete_link"
)

// EntityKind is the kind of entity an audit record is about.
type EntityKind string

const (
	EntityCard  EntityKind = "card"
	EntityLink  EntityKind = "link"
	EntityGraph EntityKind = "graph"
)

// EntityState holds exactly one of the snapshot kinds.
type EntityState struct {
	Card  *CardSnapshot `json:"card,omitempty" dynamodbav:"card,omitempty"`
	Link  *LinkSnapshot `json:"link,omitempty" dynamodbav:"link,omitempty"`
	Graph *GraphInfo    `json:"graph,omitempty" dynamodbav:"graph,omitempty"`
}

// AuditRecord is an immutable entry in a graph's change history.
// Before is nil for creations and After is nil for deletions.
type AuditRecord struct {
	ID         string       `json:"id" dynamodbav:"id"`
	GraphID    string       `json:"graph_id" dynamodbav:"graph_id"`
	Actor      string       `json:"actor" dynamodbav:"actor"`
	Action     AuditAction  `json:"action" dynamodbav:"action"`
	EntityKind EntityKind   `json:"entity_kind" dynamodbav:"entity_kind"`
	EntityID   string       `json:"entity_id" dynamodbav:"entity_id"`
	Operation  string       `json:"operation,omitempty" dynamodbav:"operation,omitempty"`
	Before     *EntityState `json:"before,omitempty" dynamodbav:"before,omitempty"`
	After      *EntityState `json:"after,omitempty" dynamodbav:"after,omitempty"`
	Timestamp  time.Time    `json:"timestamp" dynamodbav:"timestamp"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewAuditID returns a ULID so that records sort by creation time. IDs made
// within the same millisecond still sort in the order they were made.
func NewAuditID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
