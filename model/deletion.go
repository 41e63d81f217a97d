// SPDX-License-Identifier: ice License 1.0

package model

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

// DeletionFilters turns a NIP-09 kind:5 deletion event's "e"/"a" tags
// into the filters its referenced events must match to be dropped.
// Plain "e" ids become one IDs filter; each "a" reference
// (kind:pubkey:d_tag) becomes its own kind+author(+d-tag) filter,
// following the teacher's database/query.go AcceptEvent handling of
// nostr.KindDeletion.
func DeletionFilters(tags nostr.Tags) (Filters, error) {
	var filters Filters

	var ids []string
	for _, tag := range tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "e":
			ids = append(ids, tag.Value())
		case "a":
			parts := strings.Split(tag.Value(), ":")
			if len(parts) != 3 {
				return nil, errors.Errorf("malformed 'a' tag reference %q", tag.Value())
			}
			kind, err := strconv.Atoi(parts[0])
			if err != nil {
				return nil, errors.Wrapf(err, "malformed 'a' tag kind %q", tag.Value())
			}
			f := Filter{Kinds: []int{kind}, Authors: []string{parts[1]}}
			if parts[2] != "" {
				f.Tags = TagMap{"d": {parts[2]}}
			}
			filters = append(filters, f)
		}
	}
	if len(ids) > 0 {
		filters = append(filters, Filter{IDs: ids})
	}

	return filters, nil
}
