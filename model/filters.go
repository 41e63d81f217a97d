// SPDX-License-Identifier: ice License 1.0

package model

// MatchAny reports whether the event matches at least one filter in
// the list (logical OR across the filter list, per §3).
func MatchAny(filters Filters, event *Event) bool {
	for _, filter := range filters {
		if filter.Matches(&event.Event) {
			return true
		}
	}

	return false
}

// RequireAuthors reports whether every filter in the list carries a
// non-empty "authors" array -- the relay policy enforced on REQ. An
// empty filter list does not satisfy it.
func RequireAuthors(filters Filters) bool {
	if len(filters) == 0 {
		return false
	}
	for _, filter := range filters {
		if len(filter.Authors) == 0 {
			return false
		}
	}

	return true
}

// UniqueAuthors collects the distinct authors named across a filter
// list, the set the Subscription Index registers a subscription under.
func UniqueAuthors(filters Filters) []string {
	seen := make(map[string]struct{})
	var authors []string
	for _, filter := range filters {
		for _, a := range filter.Authors {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			authors = append(authors, a)
		}
	}

	return authors
}

// SmallestLimit returns the smallest positive Limit set across the
// filter list, and whether any filter set one at all. Store.Query
// truncates results to this value when present.
func SmallestLimit(filters Filters) (limit int, ok bool) {
	for _, filter := range filters {
		if filter.Limit <= 0 {
			continue
		}
		if !ok || filter.Limit < limit {
			limit = filter.Limit
			ok = true
		}
	}

	return limit, ok
}
