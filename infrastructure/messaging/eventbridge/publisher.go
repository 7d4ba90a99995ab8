// Package eventbridge announces committed change sets on an EventBridge bus.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"lessonmap-backend/application/ports"
	"lessonmap-backend/domain/core/entities"
	"lessonmap-backend/pkg/retry"
)

// DetailTypeCommitted is the detail-type of every commit event.
const DetailTypeCommitted = "graph.committed"

// EventBridgeAPI is the part of the EventBridge client the publisher uses.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// changeSummary describes one audited change without the entity snapshots,
// keeping events well under the EventBridge size limit.
type changeSummary struct {
	RecordID   string               `json:"record_id"`
	Action     entities.AuditAction `json:"action"`
	EntityKind entities.EntityKind  `json:"entity_kind"`
	EntityID   string               `json:"entity_id"`
}

type commitDetail struct {
	GraphID   string          `json:"graph_id"`
	Actor     string          `json:"actor"`
	Operation string          `json:"operation,omitempty"`
	Version   int             `json:"version"`
	Changes   []changeSummary `json:"changes"`
}

// Publisher implements ports.EventPublisher.
type Publisher struct {
	client  EventBridgeAPI
	busName string
	source  string
	policy  retry.Policy
	logger  *zap.Logger
}

func NewPublisher(client EventBridgeAPI, busName, source string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:  client,
		busName: busName,
		source:  source,
		policy: retry.Policy{
			MaxAttempts: 3,
			Delay:       100 * time.Millisecond,
			Multiplier:  2,
			MaxDelay:    time.Second,
			Clock:       retry.SystemClock(),
		},
		logger: logger.Named("eventbridge"),
	}
}

// WithRetryPolicy replaces the retry policy used for PutEvents calls.
func (p *Publisher) WithRetryPolicy(policy retry.Policy) *Publisher {
	p.policy = policy
	return p
}

func (p *Publisher) PublishCommit(ctx context.Context, event ports.CommitEvent) error {
	detail := commitDetail{
		GraphID:   event.GraphID,
		Actor:     event.Actor,
		Operation: event.Operation,
		Version:   event.Version,
		Changes:   make([]changeSummary, 0, len(event.Records)),
	}
	for _, r := range event.Records {
		detail.Changes = append(detail.Changes, changeSummary{
			RecordID:   r.ID,
			Action:     r.Action,
			EntityKind: r.EntityKind,
			EntityID:   r.EntityID,
		})
	}
	body, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal commit event: %w", err)
	}

	input := &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			EventBusName: aws.String(p.busName),
			Source:       aws.String(p.source),
			DetailType:   aws.String(DetailTypeCommitted),
			Detail:       aws.String(string(body)),
			Resources:    []string{"lessonmap:graph/" + event.GraphID},
		}},
	}

	res := p.policy.Do(ctx, func(ctx context.Context, _ int) error {
		out, err := p.client.PutEvents(ctx, input)
		if err != nil {
			return err
		}
		if out.FailedEntryCount > 0 && len(out.Entries) > 0 {
			return fmt.Errorf("event rejected: %s: %s",
				aws.ToString(out.Entries[0].ErrorCode), aws.ToString(out.Entries[0].ErrorMessage))
		}
		return nil
	}, func(a retry.Attempt) {
		if a.Err != nil && !a.Last {
			p.logger.Warn("Retrying commit event",
				zap.Int("attempt", a.Number),
				zap.String("graph_id", event.GraphID),
				zap.Error(a.Err),
			)
		}
	})
	if res.Err != nil {
		return fmt.Errorf("publish commit event after %d attempts: %w", res.Attempts, res.Err)
	}

	p.logger.Debug("Commit event published",
		zap.String("graph_id", event.GraphID),
		zap.Int("version", event.Version),
		zap.Int("changes", len(detail.Changes)),
		zap.String("event_bus", p.busName),
	)
	return nil
}
