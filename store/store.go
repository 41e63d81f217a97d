// SPDX-License-Identifier: ice License 1.0

// Package store implements the transactional, replace-by-latest event
// store described in the relay spec's Store component: regular events
// are appended and kept, replaceable/parameterized-replaceable events
// keep only the latest per key, and ephemeral/authentication events
// are never persisted here at all.
package store

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/nostrwire/relay/model"
)

// ErrDuplicate is returned by PutRegular for an id already on file; the
// caller treats it as a successful no-op, per spec §4.2.
var ErrDuplicate = errors.New("duplicate event id")

// ErrStore wraps a persistent transaction failure after the single
// permitted retry, per spec §4.2's failure semantics.
var ErrStore = errors.New("store error")

type Store interface {
	// PutRegular inserts a regular-class event. An id already on file
	// is a no-op that returns ErrDuplicate; callers treat it the same
	// as success (errors.Is(err, ErrDuplicate)).
	PutRegular(ctx context.Context, ev *model.Event) error
	// PutReplaceable keeps only the newest event per (pubkey, kind).
	PutReplaceable(ctx context.Context, ev *model.Event) error
	// PutParameterized keeps only the newest event per (pubkey, kind, d_tag).
	PutParameterized(ctx context.Context, ev *model.Event) error
	// AcceptEvent classifies ev by kind and routes it to the matching
	// Put* method, or does nothing for ephemeral/authentication kinds.
	// May return ErrDuplicate; see PutRegular.
	AcceptEvent(ctx context.Context, ev *model.Event) error
	// DeleteEvents removes events matching filters owned by ownerPubKey
	// (NIP-09 deletion support).
	DeleteEvents(ctx context.Context, filters model.Filters, ownerPubKey string) error
	// Query returns events matching any filter in the list, deduplicated
	// by id, ordered (created_at desc, id desc), truncated to the
	// smallest present limit. now is used to exclude expired events.
	Query(ctx context.Context, filters model.Filters, now model.Timestamp) ([]*model.Event, error)
	Close() error
}

// IsNewer reports whether candidate supersedes current per the
// relay's tie-break rule: higher created_at wins; on a tie, the
// lexicographically greater id wins.
func IsNewer(candidate, current *model.Event) bool {
	if candidate.CreatedAt != current.CreatedAt {
		return candidate.CreatedAt > current.CreatedAt
	}

	return candidate.ID > current.ID
}
