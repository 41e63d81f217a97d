// SPDX-License-Identifier: ice License 1.0

// Package subscription implements the relay's subscription index: the
// reverse mapping from author pubkey to the set of connections with at
// least one live REQ naming that author, used by the broadcaster to
// find delivery candidates for a freshly stored event without scanning
// every open subscription.
//
// The index is built on xsync.Map, the same concurrent map the teacher
// uses for its in-flight DVM job registry (dvm/dvm.go), because the
// access pattern is identical: many goroutines reading and mutating
// disjoint keys concurrently, with no need for a global lock.
package subscription

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nostrwire/relay/model"
)

// Index tracks, per connection, which authors its open subscriptions
// are interested in, and the reverse mapping from author to interested
// connections. See spec §4.3.
type Index struct {
	// subAuthors maps "connID\x00subID" -> []string of unique authors
	// registered for that subscription.
	subAuthors *xsync.Map
	// connSubs maps connID -> *xsync.Map of subID -> struct{}, used to
	// enumerate a connection's subscriptions on UnregisterAll.
	connSubs *xsync.Map
	// authorRefcount maps "connID\x00author" -> int64, the number of
	// that connection's live subscriptions naming author.
	authorRefcount *xsync.Map
	// authorMembers maps author -> *xsync.Map of connID -> struct{},
	// the candidate set consulted on every broadcast.
	authorMembers *xsync.Map
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		subAuthors:     xsync.NewMap(),
		connSubs:       xsync.NewMap(),
		authorRefcount: xsync.NewMap(),
		authorMembers:  xsync.NewMap(),
	}
}

func subscriptionKey(connID, subID string) string {
	return connID + "\x00" + subID
}

func refcountKey(connID, author string) string {
	return connID + "\x00" + author
}

// Register installs filters as connID's subscription subID, replacing
// any prior registration under the same (connID, subID) pair. Per
// spec §4.3, only the filters' authors matter to the index; the
// filters themselves are evaluated by the caller at delivery time.
func (idx *Index) Register(connID, subID string, filters model.Filters) {
	idx.Unregister(connID, subID)

	authors := model.UniqueAuthors(filters)
	if len(authors) == 0 {
		return
	}

	idx.subAuthors.Store(subscriptionKey(connID, subID), authors)

	subSet, _ := idx.connSubs.LoadOrStore(connID, xsync.NewMap())
	subSet.(*xsync.Map).Store(subID, struct{}{})

	for _, author := range authors {
		idx.incrementAuthor(connID, author)
	}
}

// Unregister removes connID's subID subscription. A no-op if it does
// not exist.
func (idx *Index) Unregister(connID, subID string) {
	key := subscriptionKey(connID, subID)
	v, ok := idx.subAuthors.LoadAndDelete(key)
	if !ok {
		return
	}

	if subSet, ok := idx.connSubs.Load(connID); ok {
		set := subSet.(*xsync.Map)
		set.Delete(subID)
		if mapIsEmpty(set) {
			idx.connSubs.Delete(connID)
		}
	}

	for _, author := range v.([]string) {
		idx.decrementAuthor(connID, author)
	}
}

// UnregisterAll removes every subscription registered for connID,
// called when a relay session terminates. The index retains no trace
// of connID afterward.
func (idx *Index) UnregisterAll(connID string) {
	subSet, ok := idx.connSubs.Load(connID)
	if !ok {
		return
	}

	var subIDs []string
	subSet.(*xsync.Map).Range(func(subID string, _ any) bool {
		subIDs = append(subIDs, subID)

		return true
	})

	for _, subID := range subIDs {
		idx.Unregister(connID, subID)
	}
}

// Candidates returns a snapshot of connection ids with at least one
// live subscription naming author. The returned slice is a copy; it
// does not reflect later Register/Unregister calls.
func (idx *Index) Candidates(author string) []string {
	members, ok := idx.authorMembers.Load(author)
	if !ok {
		return nil
	}

	var conns []string
	members.(*xsync.Map).Range(func(connID string, _ any) bool {
		conns = append(conns, connID)

		return true
	})

	return conns
}

func (idx *Index) incrementAuthor(connID, author string) {
	key := refcountKey(connID, author)
	newVal, _ := idx.authorRefcount.Compute(key, func(old any, loaded bool) (any, bool) {
		var n int64
		if loaded {
			n = old.(int64)
		}

		return n + 1, false
	})

	if newVal.(int64) == 1 {
		members, _ := idx.authorMembers.LoadOrStore(author, xsync.NewMap())
		members.(*xsync.Map).Store(connID, struct{}{})
	}
}

func (idx *Index) decrementAuthor(connID, author string) {
	key := refcountKey(connID, author)
	var reachedZero bool
	idx.authorRefcount.Compute(key, func(old any, loaded bool) (any, bool) {
		if !loaded {
			return int64(0), true
		}
		n := old.(int64) - 1
		if n <= 0 {
			reachedZero = true

			return nil, true
		}

		return n, false
	})

	if !reachedZero {
		return
	}

	members, ok := idx.authorMembers.Load(author)
	if !ok {
		return
	}
	set := members.(*xsync.Map)
	set.Delete(connID)
	if mapIsEmpty(set) {
		idx.authorMembers.Delete(author)
	}
}

func mapIsEmpty(m *xsync.Map) bool {
	empty := true
	m.Range(func(_ string, _ any) bool {
		empty = false

		return false
	})

	return empty
}
