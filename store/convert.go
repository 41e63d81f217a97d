// SPDX-License-Identifier: ice License 1.0

package store

import (
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrwire/relay/model"
)

func nextSystemClock() int64 {
	return time.Now().UnixNano()
}

// buildNostrEventFromRow builds an event without its tags -- callers
// that only need id/pubkey/kind/created_at (e.g. the replace-by-latest
// tie-break) can skip the tags unmarshal.
func buildNostrEventFromRow(r *eventRow) nostr.Event {
	return nostr.Event{
		ID:        r.ID,
		PubKey:    r.PubKey,
		CreatedAt: nostr.Timestamp(r.CreatedAt),
		Kind:      r.Kind,
		Content:   r.Content,
		Sig:       r.Sig,
	}
}

func buildNostrEvent(r *eventRow, tags model.Tags) nostr.Event {
	ev := buildNostrEventFromRow(r)
	ev.Tags = tags

	return ev
}
