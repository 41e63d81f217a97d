// SPDX-License-Identifier: ice License 1.0

package store

// schema is split on "--------" into individual statements, the same
// convention the teacher's embedded DDL.sql used.
const schema = `
create table if not exists events (
	id               text primary key,
	pubkey           text not null,
	kind             integer not null,
	created_at       integer not null,
	content          text not null,
	tags             text not null,
	sig              text not null,
	d_tag            text not null default '',
	system_created_at integer not null
)
--------
create index if not exists idx_events_pubkey on events(pubkey)
--------
create unique index if not exists idx_events_replaceable on events(pubkey, kind) where kind = 0 or kind = 3 or (kind >= 10000 and kind < 20000)
--------
create unique index if not exists idx_events_parameterized on events(pubkey, kind, d_tag) where kind >= 30000 and kind < 40000
--------
create index if not exists idx_events_created_at on events(created_at desc, id desc)
`
