package normalize

import (
	"regexp"

	"github.com/LinuxSuRen/wechaty/internal/bridge"
	"github.com/LinuxSuRen/wechaty/internal/types"
)

// Filter is a string equality or regular expression test.
type Filter struct {
	Equal string
	Match *regexp.Regexp
}

func Equal(s string) *Filter { return &Filter{Equal: s} }

func Match(re *regexp.Regexp) *Filter { return &Filter{Match: re} }

func (f *Filter) predicate(field string) bridge.Predicate {
	if f.Match != nil {
		return bridge.Matches(field, f.Match)
	}
	return bridge.Equals(field, f.Equal)
}

// ContactQuery searches by exactly one of Name or Alias.
type ContactQuery struct {
	Name  *Filter
	Alias *Filter
}

// Predicate translates the query for the transport.
func (q ContactQuery) Predicate() (bridge.Predicate, error) {
	switch {
	case q.Name != nil && q.Alias != nil, q.Name == nil && q.Alias == nil:
		return bridge.Predicate{}, types.NewError(types.KindInvalidState, "contact query",
			"exactly one of name or alias must be set")
	case q.Name != nil:
		return q.Name.predicate(bridge.FieldNickName), nil
	default:
		return q.Alias.predicate(bridge.FieldRemarkName), nil
	}
}

// RoomQuery searches by topic. A nil Topic matches every room.
type RoomQuery struct {
	Topic *Filter
}

var anyTopic = regexp.MustCompile(`.*`)

func (q RoomQuery) Predicate() bridge.Predicate {
	if q.Topic == nil {
		return bridge.Matches(bridge.FieldTopic, anyTopic)
	}
	return q.Topic.predicate(bridge.FieldTopic)
}
