// SPDX-License-Identifier: ice License 1.0

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// Event wraps the wire-protocol event. The underlying nostr.Event
// already implements NIP-01 canonical serialization and Schnorr
// verification -- Validate below drives that machinery and adds the
// field-presence and id-match checks the relay's Validator contract
// requires.
type Event struct {
	nostr.Event
}

// ValidationErrorKind distinguishes the taxonomy of Validator failures
// so callers can render the right short reason on an OK/false reply.
type ValidationErrorKind int

const (
	ErrKindMissingField ValidationErrorKind = iota
	ErrKindMalformedField
	ErrKindIdMismatch
	ErrKindBadSignature
)

type ValidationError struct {
	Kind ValidationErrorKind
	msg  string
}

func (e *ValidationError) Error() string { return e.msg }

func newValidationError(kind ValidationErrorKind, msg string) *ValidationError {
	return &ValidationError{Kind: kind, msg: msg}
}

// Validate runs the Event Validator: required fields, hex decoding of
// id/pubkey/sig, id == sha256(canonical_serialize(event)), and a valid
// Schnorr signature of id under pubkey. It never touches the store or
// any other collaborator -- it is pure.
func (e *Event) Validate() *ValidationError {
	if e.ID == "" || e.PubKey == "" || e.Sig == "" {
		return newValidationError(ErrKindMissingField, "missing id, pubkey or sig")
	}
	// kind and content have no unambiguous zero value (kind 0 is a real
	// metadata event, empty content is a real empty note), so they are
	// left to the id-match check below -- an event signed with a field
	// omitted from the canonical serialization will fail it regardless.
	// created_at omitted from the wire JSON always unmarshals to 0,
	// which no genuine event carries, so it is safe to reject here.
	if e.CreatedAt == 0 {
		return newValidationError(ErrKindMissingField, "missing created_at")
	}
	if e.Tags == nil {
		e.Tags = nostr.Tags{}
	}

	idBytes, err := hex.DecodeString(e.ID)
	if err != nil || len(idBytes) != sha256.Size {
		return newValidationError(ErrKindMalformedField, "id is not 64 hex chars")
	}
	if pk, err := hex.DecodeString(e.PubKey); err != nil || len(pk) != 32 {
		return newValidationError(ErrKindMalformedField, "pubkey is not 64 hex chars")
	}
	if sig, err := hex.DecodeString(e.Sig); err != nil || len(sig) != 64 {
		return newValidationError(ErrKindMalformedField, "sig is not 128 hex chars")
	}
	if e.Kind < 0 || e.Kind > 65535 {
		return newValidationError(ErrKindMalformedField, "kind out of range")
	}

	sum := sha256.Sum256(e.Serialize())
	computed := hex.EncodeToString(sum[:])
	if computed != e.ID {
		return newValidationError(ErrKindIdMismatch, "computed id does not match event id")
	}

	ok, err := e.Event.CheckSignature()
	if err != nil || !ok {
		return newValidationError(ErrKindBadSignature, "signature check failed")
	}

	return nil
}

// Class is the storage-policy bucket this event's kind belongs to.
func (e *Event) Class() KindClass {
	return ClassifyKind(e.Kind)
}

// DTag is the value of the first "d" tag, or "" if absent -- the extra
// key component for parameterized-replaceable events.
func (e *Event) DTag() string {
	return e.Tags.GetD()
}

// Expired reports whether the event carries a NIP-40 "expiration" tag
// whose value is a unix timestamp at or before now.
func (e *Event) Expired(now Timestamp) bool {
	tag := e.Tags.GetFirst([]string{"expiration"})
	if tag == nil || len(*tag) < 2 {
		return false
	}
	exp, err := strconv.ParseInt(tag.Value(), 10, 64)

	return err == nil && exp <= int64(now)
}

// ToWire renders the canonical client-facing JSON shape of the event.
func (e *Event) ToWire() ([]byte, error) {
	return e.Event.MarshalJSON()
}
