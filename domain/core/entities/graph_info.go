package entities

import (
	"strings"
	"time"

	"lessonmap-backend/domain/config"
	pkgerrors "lessonmap-backend/pkg/errors"
)

// GraphInfo is the descriptive metadata of a lesson map.
type GraphInfo struct {
	ID             string    `json:"id" dynamodbav:"id"`
	Owner          string    `json:"owner" dynamodbav:"owner"`
	Name           string    `json:"name" dynamodbav:"name"`
	Subject        string    `json:"subject" dynamodbav:"subject"`
	LessonCount    int       `json:"lesson_count" dynamodbav:"lesson_count"`
	LessonDuration int       `json:"lesson_duration" dynamodbav:"lesson_duration"`
	CreatedAt      time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" dynamodbav:"updated_at"`
	Version        int       `json:"version" dynamodbav:"version"`
}

// GraphInfoPatch lists the metadata fields a user may change. Nil fields are
// left as they are.
type GraphInfoPatch struct {
	Name           *string
	Subject        *string
	LessonCount    *int
	LessonDuration *int
}

// NewGraphInfo fills unset fields from the configured defaults.
func NewGraphInfo(id, owner, name, subject string, lessonCount, lessonDuration int, cfg *config.DomainConfig, now time.Time) (GraphInfo, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if owner == "" {
		return GraphInfo{}, pkgerrors.NewValidationError("graph owner cannot be empty")
	}
	if strings.TrimSpace(name) == "" {
		name = cfg.DefaultGraphName
	}
	if strings.TrimSpace(subject) == "" {
		subject = cfg.DefaultSubject
	}
	if lessonCount == 0 {
		lessonCount = cfg.DefaultLessonCount
	}
	if lessonDuration == 0 {
		lessonDuration = cfg.DefaultLessonDuration
	}
	info := GraphInfo{
		ID:             id,
		Owner:          owner,
		Name:           name,
		Subject:        subject,
		LessonCount:    lessonCount,
		LessonDuration: lessonDuration,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	return info, info.validate()
}

// Apply returns a copy of the info with the patch applied.
func (g GraphInfo) Apply(p GraphInfoPatch, now time.Time) (GraphInfo, error) {
	next := g
	if p.Name != nil {
		next.Name = strings.TrimSpace(*p.Name)
	}
	if p.Subject != nil {
		next.Subject = strings.TrimSpace(*p.Subject)
	}
	if p.LessonCount != nil {
		next.LessonCount = *p.LessonCount
	}
	if p.LessonDuration != nil {
		next.LessonDuration = *p.LessonDuration
	}
	if err := next.validate(); err != nil {
		return g, err
	}
	next.UpdatedAt = now
	return next, nil
}

func (g GraphInfo) validate() error {
	if g.Name == "" {
		return pkgerrors.NewValidationError("graph name cannot be empty")
	}
	if g.LessonCount < 1 {
		return pkgerrors.NewValidationError("lesson count must be at least 1")
	}
	if g.LessonDuration < 1 {
		return pkgerrors.NewValidationError("lesson duration must be at least 1 minute")
	}
	return nil
}
