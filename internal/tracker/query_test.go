package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func TestAgeRangeBounds(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	today := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	from, before := AgeRange{}.Bounds(now)
	assert.Nil(t, from)
	assert.Nil(t, before)

	from, before = AgeRange{MaxAge: intp(3), MinAge: intp(1)}.Bounds(now)
	require.NotNil(t, from)
	require.NotNil(t, before)
	assert.Equal(t, today.AddDate(0, 0, -3), *from)
	assert.Equal(t, today, *before)
}

func TestAgeRangeContains(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	r := AgeRange{MinAge: intp(1), MaxAge: intp(2)}

	assert.False(t, r.Contains(now, now), "created today is younger than minAge 1")
	assert.True(t, r.Contains(now.AddDate(0, 0, -1), now))
	assert.True(t, r.Contains(time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC), now), "lower bound inclusive")
	assert.False(t, r.Contains(time.Date(2024, 5, 7, 23, 59, 0, 0, time.UTC), now))

	today := AgeRange{MinAge: intp(0)}
	assert.True(t, today.Contains(now, now), "minAge 0 includes today")
}

func TestClosedFilter(t *testing.T) {
	assert.Nil(t, ClosedFilter(false, false))
	assert.Nil(t, ClosedFilter(true, true))

	closedOnly := ClosedFilter(false, true)
	require.NotNil(t, closedOnly)
	assert.True(t, *closedOnly)

	openOnly := ClosedFilter(true, false)
	require.NotNil(t, openOnly)
	assert.False(t, *openOnly)
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Number: 1, Size: DefaultPageSize}, Page{}.Normalize())
	assert.Equal(t, Page{Number: 3, Size: MaxPageSize}, Page{Number: 3, Size: 1000}.Normalize())
	assert.Equal(t, 10, Page{Number: 3, Size: 5}.Skip())
}

func TestSortsEndWithTiebreak(t *testing.T) {
	for name, order := range userSorts {
		assert.Equal(t, FieldID, order[len(order)-1].Field, "user sort %s", name)
	}
	for name, order := range bugSorts {
		assert.Equal(t, FieldID, order[len(order)-1].Field, "bug sort %s", name)
	}
	assert.Equal(t, userSorts["givenName"], UserQuery{SortBy: "bogus"}.Sort())
	assert.Equal(t, newest, BugQuery{}.Sort())
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"login", "crash"}, Keywords("  Login  CRASH "))
	assert.Empty(t, Keywords("   "))
}
