// SPDX-License-Identifier: ice License 1.0

package subscription_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nostrwire/relay/model"
	"github.com/nostrwire/relay/subscription"
)

func filtersFor(authors ...string) model.Filters {
	return model.Filters{{Authors: authors}}
}

func TestIndex_RegisterThenCandidates(t *testing.T) {
	idx := subscription.New()

	idx.Register("conn1", "sub1", filtersFor("alice", "bob"))

	require.ElementsMatch(t, []string{"conn1"}, idx.Candidates("alice"))
	require.ElementsMatch(t, []string{"conn1"}, idx.Candidates("bob"))
	require.Empty(t, idx.Candidates("carol"))
}

func TestIndex_MultipleConnectionsSameAuthor(t *testing.T) {
	idx := subscription.New()

	idx.Register("conn1", "sub1", filtersFor("alice"))
	idx.Register("conn2", "sub1", filtersFor("alice"))

	got := idx.Candidates("alice")
	sort.Strings(got)
	require.Equal(t, []string{"conn1", "conn2"}, got)
}

func TestIndex_ReRegisterReplacesAuthors(t *testing.T) {
	idx := subscription.New()

	idx.Register("conn1", "sub1", filtersFor("alice"))
	idx.Register("conn1", "sub1", filtersFor("bob"))

	require.Empty(t, idx.Candidates("alice"))
	require.ElementsMatch(t, []string{"conn1"}, idx.Candidates("bob"))
}

func TestIndex_UnregisterRemovesMembership(t *testing.T) {
	idx := subscription.New()

	idx.Register("conn1", "sub1", filtersFor("alice"))
	idx.Unregister("conn1", "sub1")

	require.Empty(t, idx.Candidates("alice"))
}

func TestIndex_RefcountSurvivesOtherSubscription(t *testing.T) {
	idx := subscription.New()

	idx.Register("conn1", "sub1", filtersFor("alice"))
	idx.Register("conn1", "sub2", filtersFor("alice"))
	idx.Unregister("conn1", "sub1")

	require.ElementsMatch(t, []string{"conn1"}, idx.Candidates("alice"),
		"alice should remain a candidate while sub2 is still registered")

	idx.Unregister("conn1", "sub2")
	require.Empty(t, idx.Candidates("alice"))
}

func TestIndex_UnregisterAll(t *testing.T) {
	idx := subscription.New()

	idx.Register("conn1", "sub1", filtersFor("alice"))
	idx.Register("conn1", "sub2", filtersFor("bob"))
	idx.Register("conn2", "sub1", filtersFor("alice"))

	idx.UnregisterAll("conn1")

	require.ElementsMatch(t, []string{"conn2"}, idx.Candidates("alice"))
	require.Empty(t, idx.Candidates("bob"))

	// conn1 leaves no trace: a fresh registration under the same id
	// should behave exactly as if it were new.
	idx.Register("conn1", "sub1", filtersFor("carol"))
	require.ElementsMatch(t, []string{"conn1"}, idx.Candidates("carol"))
}

func TestIndex_UnregisterUnknownIsNoop(t *testing.T) {
	idx := subscription.New()
	require.NotPanics(t, func() {
		idx.Unregister("nope", "nope")
		idx.UnregisterAll("nope")
	})
}

func TestIndex_RegisterWithNoAuthorsIsIgnored(t *testing.T) {
	idx := subscription.New()
	idx.Register("conn1", "sub1", model.Filters{{Kinds: []int{1}}})
	require.Empty(t, idx.Candidates("anything"))
}
