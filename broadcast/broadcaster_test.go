// SPDX-License-Identifier: ice License 1.0

package broadcast_test

import (
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nostrwire/relay/broadcast"
	"github.com/nostrwire/relay/model"
	"github.com/nostrwire/relay/subscription"
)

type fakeSink struct {
	connID string
	mx     sync.Mutex
	got    []*model.Event
	accept bool
}

func newFakeSink(connID string) *fakeSink {
	return &fakeSink{connID: connID, accept: true}
}

func (f *fakeSink) ConnID() string { return f.connID }

func (f *fakeSink) Deliver(ev *model.Event) bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	if !f.accept {
		return false
	}
	f.got = append(f.got, ev)

	return true
}

func (f *fakeSink) events() []*model.Event {
	f.mx.Lock()
	defer f.mx.Unlock()

	return append([]*model.Event(nil), f.got...)
}

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, fn(), "condition did not become true in time")
}

func TestBroadcaster_DeliversToCandidatesExceptOrigin(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	idx := subscription.New()
	b := broadcast.New(idx)
	go b.Run()
	defer b.Close()

	author := nostr.GeneratePrivateKey()
	pubkey, err := nostr.GetPublicKey(author)
	require.NoError(t, err)

	idx.Register("conn1", "sub1", model.Filters{{Authors: []string{pubkey}}})
	idx.Register("conn2", "sub1", model.Filters{{Authors: []string{pubkey}}})

	conn1 := newFakeSink("conn1")
	conn2 := newFakeSink("conn2")
	b.RegisterSink(conn1)
	b.RegisterSink(conn2)

	ev := &model.Event{Event: nostr.Event{PubKey: pubkey, Kind: 1}}
	b.Broadcast(ev, "conn1")

	waitFor(t, func() bool { return len(conn2.events()) == 1 })
	require.Empty(t, conn1.events(), "origin connection must not receive its own event")
	require.Equal(t, ev, conn2.events()[0])
}

func TestBroadcaster_SkipsUnregisteredSink(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	idx := subscription.New()
	b := broadcast.New(idx)
	go b.Run()
	defer b.Close()

	author := nostr.GeneratePrivateKey()
	pubkey, err := nostr.GetPublicKey(author)
	require.NoError(t, err)

	idx.Register("conn1", "sub1", model.Filters{{Authors: []string{pubkey}}})
	ev := &model.Event{Event: nostr.Event{PubKey: pubkey, Kind: 1}}

	require.NotPanics(t, func() {
		b.Broadcast(ev, "")
	})
}

func TestBroadcaster_CountsDroppedDelivery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	idx := subscription.New()
	b := broadcast.New(idx)
	go b.Run()
	defer b.Close()

	author := nostr.GeneratePrivateKey()
	pubkey, err := nostr.GetPublicKey(author)
	require.NoError(t, err)

	idx.Register("conn1", "sub1", model.Filters{{Authors: []string{pubkey}}})
	full := newFakeSink("conn1")
	full.accept = false
	b.RegisterSink(full)

	ev := &model.Event{Event: nostr.Event{PubKey: pubkey, Kind: 1}}
	b.Broadcast(ev, "")

	waitFor(t, func() bool { return b.Metrics().Get("broadcast.dropped").(metrics.Counter).Count() >= 1 })
}
