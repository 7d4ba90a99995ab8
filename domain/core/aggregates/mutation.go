package aggregates

import "lessonmap-backend/domain/core/entities"

// RuleDanglingLink is violated when a link would reference a missing card.
const RuleDanglingLink = "dangling_link"

// Mutation is the complete set of writes produced by one commit, together
// with the audit records describing them. Storage applies a mutation as a
// single unit.
type Mutation struct {
	GraphID         string
	ExpectedVersion int
	Info            *entities.GraphInfo
	PutCards        []entities.CardSnapshot
	DeleteCards     []string
	PutLinks        []entities.LinkSnapshot
	DeleteLinks     []string
	Audit           []entities.AuditRecord
}

// IsEmpty reports whether the mutation writes nothing.
func (m Mutation) IsEmpty() bool {
	return m.Info == nil && len(m.PutCards) == 0 && len(m.DeleteCards) == 0 &&
		len(m.PutLinks) == 0 && len(m.DeleteLinks) == 0
}
