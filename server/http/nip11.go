// SPDX-License-Identifier: ice License 1.0

// Package http serves the relay's plain-HTTP surface alongside the
// WebSocket transport in package ws: currently just the NIP-11 relay
// information document.
package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr/nip11"

	"github.com/nostrwire/relay/cfg"
)

// supportedNIPs lists the NIPs this relay actually implements, per
// SPEC_FULL.md's module list.
var supportedNIPs = []int{1, 9, 11, 40, 42}

type nip11handler struct {
	policy *cfg.PolicyStore
}

// NewNIP11Handler serves policy.Load().Information as a NIP-11 relay
// information document, re-read on every request so edits picked up by
// PolicyStore.Watch show up without a restart.
func NewNIP11Handler(policy *cfg.PolicyStore) http.Handler {
	return &nip11handler{policy: policy}
}

func (n *nip11handler) ServeHTTP(writer http.ResponseWriter, req *http.Request) {
	if req.Header.Get("Accept") != "application/nostr+json" {
		writer.WriteHeader(http.StatusBadRequest)

		return
	}

	writer.Header().Add("Content-Type", "application/json")
	info := n.info()
	data, err := json.Marshal(info)
	if err != nil {
		log.Printf("ERROR: %v", errors.Wrapf(err, "failed to serialize NIP11 json %+v", info))

		return
	}
	if _, err = writer.Write(data); err != nil {
		log.Printf("WARN: failed to write NIP11 response: %v", err)
	}
}

func (n *nip11handler) info() nip11.RelayInformationDocument {
	cur := n.policy.Load().Information

	return nip11.RelayInformationDocument{
		Name:          cur.Name,
		Description:   cur.Description,
		PubKey:        cur.Pubkey,
		Contact:       cur.Contact,
		SupportedNIPs: supportedNIPs,
		Software:      "https://github.com/nostrwire/relay",
	}
}
