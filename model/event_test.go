// SPDX-License-Identifier: ice License 1.0

package model_test

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrwire/relay/model"
)

func signedEvent(t *testing.T, kind int) *model.Event {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	ev := &model.Event{Event: nostr.Event{
		PubKey:    pk,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      kind,
		Tags:      nostr.Tags{},
		Content:   "hello",
	}}
	require.NoError(t, ev.Sign(sk))

	return ev
}

func TestEventValidate_OK(t *testing.T) {
	ev := signedEvent(t, nostr.KindTextNote)
	assert.Nil(t, ev.Validate())
}

func TestEventValidate_IdMismatch(t *testing.T) {
	ev := signedEvent(t, nostr.KindTextNote)
	ev.ID = ev.ID[:len(ev.ID)-2] + "00"
	verr := ev.Validate()
	require.NotNil(t, verr)
	assert.Equal(t, model.ErrKindIdMismatch, verr.Kind)
}

func TestEventValidate_BadSignature(t *testing.T) {
	ev := signedEvent(t, nostr.KindTextNote)
	other := nostr.GeneratePrivateKey()
	otherPk, err := nostr.GetPublicKey(other)
	require.NoError(t, err)
	ev.PubKey = otherPk

	verr := ev.Validate()
	require.NotNil(t, verr)
	assert.Contains(t, []model.ValidationErrorKind{model.ErrKindIdMismatch, model.ErrKindBadSignature}, verr.Kind)
}

func TestEventValidate_MissingField(t *testing.T) {
	ev := &model.Event{}
	verr := ev.Validate()
	require.NotNil(t, verr)
	assert.Equal(t, model.ErrKindMissingField, verr.Kind)
}

func TestEventValidate_MissingCreatedAt(t *testing.T) {
	ev := signedEvent(t, nostr.KindTextNote)
	ev.CreatedAt = 0
	verr := ev.Validate()
	require.NotNil(t, verr)
	assert.Equal(t, model.ErrKindMissingField, verr.Kind)
}

func TestClassifyKind_Boundaries(t *testing.T) {
	cases := []struct {
		kind  int
		class model.KindClass
	}{
		{0, model.KindClassReplaceable},
		{3, model.KindClassReplaceable},
		{1, model.KindClassRegular},
		{999, model.KindClassRegular},
		{1000, model.KindClassRegular},
		{9999, model.KindClassRegular},
		{10000, model.KindClassReplaceable},
		{19999, model.KindClassReplaceable},
		{20000, model.KindClassEphemeral},
		{29999, model.KindClassEphemeral},
		{30000, model.KindClassParameterizedReplaceable},
		{39999, model.KindClassParameterizedReplaceable},
		{22242, model.KindClassAuthentication},
	}
	for _, c := range cases {
		assert.Equalf(t, c.class, model.ClassifyKind(c.kind), "kind %d", c.kind)
	}
}

func TestEvent_DTag(t *testing.T) {
	ev := signedEvent(t, 30001)
	ev.Tags = nostr.Tags{{"d", "my-article"}}
	assert.Equal(t, "my-article", ev.DTag())

	ev2 := signedEvent(t, 30001)
	assert.Equal(t, "", ev2.DTag())
}

func TestEvent_Expired(t *testing.T) {
	ev := signedEvent(t, nostr.KindTextNote)
	now := model.Timestamp(time.Now().Unix())
	assert.False(t, ev.Expired(now))

	ev.Tags = nostr.Tags{{"expiration", "1"}}
	assert.True(t, ev.Expired(now))
}
