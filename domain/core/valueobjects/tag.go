package valueobjects

import (
	"fmt"
	"strings"
)

// Tag is the kind of a card in a teaching design. The set is closed.
type Tag string

const (
	TagLearner    Tag = "Learner"
	TagObjective  Tag = "Objective"
	TagActivity   Tag = "Activity"
	TagResource   Tag = "Resource"
	TagAssessment Tag = "Assessment"
	TagStrategy   Tag = "Strategy"
)

var allTags = []Tag{TagLearner, TagObjective, TagActivity, TagResource, TagAssessment, TagStrategy}

// AllTags returns the six card tags in display order.
func AllTags() []Tag {
	return append([]Tag(nil), allTags...)
}

// ParseTag accepts exactly one of the six tag names. Matching is
// case-sensitive, so "activity" is rejected.
func ParseTag(s string) (Tag, error) {
	t := Tag(s)
	if t.IsValid() {
		return t, nil
	}
	return "", fmt.Errorf("unknown tag %q, expected one of %s", s, tagList())
}

func (t Tag) IsValid() bool {
	for _, v := range allTags {
		if t == v {
			return true
		}
	}
	return false
}

func (t Tag) String() string { return string(t) }

func tagList() string {
	names := make([]string, len(allTags))
	for i, t := range allTags {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
