// SPDX-License-Identifier: ice License 1.0

package model

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

type (
	EnvelopeType string

	Envelope interface {
		nostr.Envelope
	}

	// ReqEnvelope is ["REQ", <sub_id>, <filter>...]. The relay policy
	// (every filter must carry "authors") is enforced by the session,
	// not here -- this type only knows how to round-trip the wire shape.
	ReqEnvelope struct {
		SubscriptionID string
		Filters        Filters
	}
)

const (
	EnvelopeTypeEvent  EnvelopeType = "EVENT"
	EnvelopeTypeReq    EnvelopeType = "REQ"
	EnvelopeTypeClose  EnvelopeType = "CLOSE"
	EnvelopeTypeNotice EnvelopeType = "NOTICE"
	EnvelopeTypeEOSE   EnvelopeType = "EOSE"
	EnvelopeTypeOK     EnvelopeType = "OK"
	EnvelopeTypeAuth   EnvelopeType = "AUTH"
	EnvelopeTypeClosed EnvelopeType = "CLOSED"
)

var errReqEnvelopeShape = errors.New(`REQ envelope must be ["REQ", sub_id, filter...]`)

func (*ReqEnvelope) Label() string { return string(EnvelopeTypeReq) }

func (v *ReqEnvelope) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "unmarshal REQ envelope array")
	}
	if len(raw) < 2 {
		return errReqEnvelopeShape
	}
	if err := json.Unmarshal(raw[1], &v.SubscriptionID); err != nil {
		return errors.Wrap(err, "unmarshal REQ subscription id")
	}
	v.Filters = make(Filters, len(raw)-2)
	for i := 2; i < len(raw); i++ {
		if err := json.Unmarshal(raw[i], &v.Filters[i-2]); err != nil {
			return errors.Wrapf(err, "unmarshal REQ filter %d", i-2)
		}
	}

	return nil
}

func (v *ReqEnvelope) MarshalJSON() ([]byte, error) {
	data := make([]any, 0, len(v.Filters)+2)
	data = append(data, EnvelopeTypeReq, v.SubscriptionID)
	for i := range v.Filters {
		data = append(data, &v.Filters[i])
	}

	return json.Marshal(data)
}

func (v *ReqEnvelope) String() string {
	b, _ := json.Marshal(v)

	return string(b)
}
