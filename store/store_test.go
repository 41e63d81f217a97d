// SPDX-License-Identifier: ice License 1.0

package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/nostrwire/relay/model"
	"github.com/nostrwire/relay/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := store.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func mkEvent(t *testing.T, pk string, kind int, createdAt int64, tags nostr.Tags, content string) *model.Event {
	t.Helper()
	sk := pk
	if sk == "" {
		sk = nostr.GeneratePrivateKey()
	}
	pubkey, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	ev := &model.Event{Event: nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}}
	require.NoError(t, ev.Sign(sk))

	return ev
}

func TestStore_PutRegular_DuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sk := nostr.GeneratePrivateKey()
	ev := mkEvent(t, sk, nostr.KindTextNote, time.Now().Unix(), nil, "hi")

	require.NoError(t, s.PutRegular(ctx, ev))
	require.ErrorIs(t, s.PutRegular(ctx, ev), store.ErrDuplicate)

	pk, _ := nostr.GetPublicKey(sk)
	since := model.Timestamp(0)
	results, err := s.Query(ctx, model.Filters{{Authors: []string{pk}, Since: &since}}, model.Timestamp(time.Now().Unix()+10))
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestStore_Replaceable_KeepsLatest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)

	ev1 := mkEvent(t, sk, 0, 100, nil, `{"name":"a"}`)
	ev2 := mkEvent(t, sk, 0, 200, nil, `{"name":"b"}`)

	require.NoError(t, s.PutReplaceable(ctx, ev1))
	require.NoError(t, s.PutReplaceable(ctx, ev2))

	results, err := s.Query(ctx, model.Filters{{Authors: []string{pk}, Kinds: []int{0}}}, model.Timestamp(1000))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, ev2.ID, results[0].ID)
}

func TestStore_Replaceable_TieBreakOnId(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)

	ev1 := mkEvent(t, sk, 3, 100, nil, "")
	ev2 := mkEvent(t, sk, 3, 100, nil, "x")

	winner, loser := ev1, ev2
	if ev2.ID > ev1.ID {
		winner, loser = ev2, ev1
	}
	_ = loser

	require.NoError(t, s.PutReplaceable(ctx, ev1))
	require.NoError(t, s.PutReplaceable(ctx, ev2))

	results, err := s.Query(ctx, model.Filters{{Authors: []string{pk}, Kinds: []int{3}}}, model.Timestamp(1000))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, winner.ID, results[0].ID)
}

func TestStore_Parameterized_KeyedByDTag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)

	a1 := mkEvent(t, sk, 30023, 100, nostr.Tags{{"d", "article-1"}}, "v1")
	a1b := mkEvent(t, sk, 30023, 200, nostr.Tags{{"d", "article-1"}}, "v2")
	a2 := mkEvent(t, sk, 30023, 150, nostr.Tags{{"d", "article-2"}}, "other")

	require.NoError(t, s.PutParameterized(ctx, a1))
	require.NoError(t, s.PutParameterized(ctx, a1b))
	require.NoError(t, s.PutParameterized(ctx, a2))

	results, err := s.Query(ctx, model.Filters{{Authors: []string{pk}, Kinds: []int{30023}}}, model.Timestamp(1000))
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestStore_Query_ExpiredEventExcluded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)

	ev := mkEvent(t, sk, nostr.KindTextNote, 100, nostr.Tags{{"expiration", "150"}}, "expiring")
	require.NoError(t, s.PutRegular(ctx, ev))

	results, err := s.Query(ctx, model.Filters{{Authors: []string{pk}}}, model.Timestamp(200))
	require.NoError(t, err)
	require.Empty(t, results)

	results, err = s.Query(ctx, model.Filters{{Authors: []string{pk}}}, model.Timestamp(120))
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestStore_Query_TagFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)

	matching := mkEvent(t, sk, nostr.KindTextNote, 100, nostr.Tags{{"t", "gaming"}}, "a")
	other := mkEvent(t, sk, nostr.KindTextNote, 101, nostr.Tags{{"t", "music"}}, "b")
	require.NoError(t, s.PutRegular(ctx, matching))
	require.NoError(t, s.PutRegular(ctx, other))

	results, err := s.Query(ctx, model.Filters{{Authors: []string{pk}, Tags: model.TagMap{"t": {"gaming"}}}}, model.Timestamp(1000))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, matching.ID, results[0].ID)
}

func TestStore_DeleteEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)

	ev := mkEvent(t, sk, nostr.KindTextNote, 100, nil, "to be deleted")
	require.NoError(t, s.PutRegular(ctx, ev))

	require.NoError(t, s.DeleteEvents(ctx, model.Filters{{IDs: []string{ev.ID}}}, pk))

	results, err := s.Query(ctx, model.Filters{{Authors: []string{pk}}}, model.Timestamp(1000))
	require.NoError(t, err)
	require.Empty(t, results)
}
