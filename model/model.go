// SPDX-License-Identifier: ice License 1.0

// Package model holds the wire-level data shared by the store, the
// subscription index, the broadcaster and the relay session: the
// event type, filters, envelopes, and the kind-class rules that decide
// how an event is persisted.
package model

import (
	"github.com/nbd-wtf/go-nostr"
)

type (
	TagMap    = nostr.TagMap
	Tag       = nostr.Tag
	Tags      = nostr.Tags
	Timestamp = nostr.Timestamp
	Kind      = int
	Filter    = nostr.Filter
	Filters   = nostr.Filters

	// Subscription is the relay-visible half of a REQ: the filter list a
	// connection registered under a given subscription id. It carries no
	// connection identity of its own -- that belongs to the session.
	Subscription struct {
		Filters Filters
	}
)

// KindClass is the storage-policy bucket a kind falls into.
type KindClass int

const (
	KindClassRegular KindClass = iota
	KindClassReplaceable
	KindClassParameterizedReplaceable
	KindClassEphemeral
	KindClassAuthentication
)

const (
	KindAuthentication = 22242
)

// ClassifyKind buckets a kind per the relay's storage policy: regular
// (append, keep all), replaceable (latest per pubkey+kind),
// parameterized-replaceable (latest per pubkey+kind+d-tag), ephemeral
// (never stored) and authentication (never stored, consumed in-band).
func ClassifyKind(kind int) KindClass {
	switch {
	case kind == KindAuthentication:
		return KindClassAuthentication
	case kind == 0 || kind == 3 || (kind >= 10000 && kind < 20000):
		return KindClassReplaceable
	case kind >= 20000 && kind < 30000:
		return KindClassEphemeral
	case kind >= 30000 && kind < 40000:
		return KindClassParameterizedReplaceable
	default:
		// kind == 1, [1000,10000) and anything unrecognized: regular.
		return KindClassRegular
	}
}
