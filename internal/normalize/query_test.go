package normalize

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinuxSuRen/wechaty/internal/bridge"
	"github.com/LinuxSuRen/wechaty/internal/types"
)

func TestContactQueryPredicate(t *testing.T) {
	p, err := ContactQuery{Name: Equal("bob")}.Predicate()
	require.NoError(t, err)
	assert.Equal(t, bridge.Predicate{Kind: bridge.PredicateEquals, Field: "NickName", Value: "bob"}, p)

	p, err = ContactQuery{Alias: Match(regexp.MustCompile("^b"))}.Predicate()
	require.NoError(t, err)
	assert.Equal(t, bridge.Predicate{Kind: bridge.PredicateMatches, Field: "RemarkName", Value: "^b"}, p)
}

func TestContactQueryRequiresExactlyOneField(t *testing.T) {
	_, err := ContactQuery{}.Predicate()
	assert.ErrorIs(t, err, types.Kind(types.KindInvalidState))

	_, err = ContactQuery{Name: Equal("a"), Alias: Equal("b")}.Predicate()
	assert.ErrorIs(t, err, types.Kind(types.KindInvalidState))
}

func TestRoomQueryPredicate(t *testing.T) {
	assert.Equal(t, bridge.Predicate{Kind: bridge.PredicateMatches, Field: "NickName", Value: ".*"}, RoomQuery{}.Predicate())
	assert.Equal(t, bridge.Predicate{Kind: bridge.PredicateEquals, Field: "NickName", Value: "team"},
		RoomQuery{Topic: Equal("team")}.Predicate())
}
