package listings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTagSet(t *testing.T) {
	s := ParseTags("rally  known_make rally")
	assert.Equal(t, "known_make rally", s.String())

	other := NewTagSet("electric", "")
	u := s.Union(other)
	assert.Len(t, u, 3)
	assert.Len(t, s, 2)
	assert.True(t, u.Equal(NewTagSet("electric", "known_make", "rally")))
	assert.False(t, u.Equal(s))

	var empty TagSet
	empty.Remove("x")
	assert.Equal(t, "", empty.String())
}

func TestListingAddAndRetractTags(t *testing.T) {
	l := &Listing{}

	l.AddTags("a", "b", "")
	l.RetractTags("b")
	assert.True(t, l.HasTag("a"))
	assert.False(t, l.HasTag("b"))
	assert.True(t, l.Retracted.Has("b"))

	l.AddTags("b")
	assert.True(t, l.HasTag("b"))
	assert.False(t, l.Retracted.Has("b"))
}

func TestListingPenalizeOnlyLowers(t *testing.T) {
	l := &Listing{StaticQuality: 5}
	l.Penalize(10)
	l.Penalize(-50)
	assert.Equal(t, -5, l.StaticQuality)
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusForSale, StatusSold, StatusRemoved, StatusPending, StatusTest, StatusExpunged} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("Q").Valid())
}

func TestImportReportAbsorb(t *testing.T) {
	started := time.Now()
	total := NewImportReport("run-1", "craig", started)
	page := NewImportReport("run-1", "craig", started)
	page.Fetched = 10
	page.Accepted = 7
	page.Rejected = 3
	page.Counters.Inc(CounterBadPrice)
	page.Counters.Add(CounterInactive, 2)

	total.Absorb(page)
	total.Absorb(page)
	total.Absorb(nil)

	assert.Equal(t, 20, total.Fetched)
	assert.Equal(t, 14, total.Accepted)
	assert.Equal(t, 6, total.Rejected)
	assert.Equal(t, 2, total.Counters.Get(CounterBadPrice))
	assert.Equal(t, 4, total.Counters.Get(CounterInactive))
	assert.Equal(t, []string{CounterBadPrice, CounterInactive}, total.Counters.Keys())
}
