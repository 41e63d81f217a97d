// SPDX-License-Identifier: ice License 1.0

package model

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrParseMessage   = errors.New("parse message")
)

// ParseMessage decodes a client frame -- a JSON array whose first
// element names the message type -- into the matching Envelope. REQ
// is decoded by the relay's own type (it needs the filter list);
// everything else is delegated to go-nostr's own envelope decoding.
func ParseMessage(message []byte) (nostr.Envelope, error) {
	firstComma := bytes.IndexByte(message, ',')
	if firstComma == -1 {
		return nil, ErrUnknownMessage
	}
	label := message[:firstComma]

	var e nostr.Envelope
	if bytes.Contains(label, []byte(EnvelopeTypeReq)) {
		env := &ReqEnvelope{}
		if err := env.UnmarshalJSON(message); err != nil {
			return nil, errors.Wrap(err, "unmarshal REQ envelope")
		}
		e = env
	} else {
		e = nostr.ParseMessage(message)
	}

	if e == nil {
		return nil, ErrParseMessage
	}

	return e, nil
}
