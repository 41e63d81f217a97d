// SPDX-License-Identifier: ice License 1.0

package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nostrwire/relay/model"
)

type sqliteStore struct {
	db *sqlx.DB

	stmtCacheMx sync.RWMutex
	stmtCache   map[string]*sqlx.NamedStmt
}

// Open connects to a SQLite database at target ("file::memory:?cache=shared"
// for tests, a file path in production) and ensures the schema exists.
func Open(target string) (Store, error) {
	db, err := sqlx.Connect("sqlite3", target)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sqlite database %q", target)
	}
	db.Mapper = reflectx.NewMapperFunc("store", func(in string) string {
		switch strings.ToLower(in) {
		case "createdat":
			return "created_at"
		case "pubkey":
			return "pubkey"
		case "systemcreatedat":
			return "system_created_at"
		case "dtag":
			return "d_tag"
		default:
			return strings.ToLower(in)
		}
	})
	// SQLite allows only one writer at a time; a single pooled connection
	// avoids "database is locked" errors under concurrent Put*/Query.
	db.SetMaxOpenConns(1)

	for _, stmt := range strings.Split(schema, "--------") {
		if _, err = db.Exec(stmt); err != nil {
			return nil, errors.Wrapf(err, "failed to apply schema statement: %v", stmt)
		}
	}

	st := &sqliteStore{db: db, stmtCache: make(map[string]*sqlx.NamedStmt)}
	// insert runs inside a transaction that already holds the pool's only
	// connection, so its statement is prepared here, before any
	// transaction exists, rather than lazily through db.
	if _, err = st.prepare(context.Background(), insertEventSQL); err != nil {
		return nil, errors.Wrap(err, "failed to prepare insert statement")
	}

	return st, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) prepare(ctx context.Context, sqlText string) (*sqlx.NamedStmt, error) {
	hash := hashSQL(sqlText)

	s.stmtCacheMx.RLock()
	stmt, ok := s.stmtCache[hash]
	s.stmtCacheMx.RUnlock()
	if ok {
		return stmt, nil
	}

	s.stmtCacheMx.Lock()
	defer s.stmtCacheMx.Unlock()
	if stmt, ok = s.stmtCache[hash]; ok {
		return stmt, nil
	}
	stmt, err := s.db.PrepareNamedContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	s.stmtCache[hash] = stmt

	return stmt, nil
}

func hashSQL(sqlText string) string {
	sum := sha256.Sum256([]byte(sqlText))

	return string(sum[:])
}

// withRetry runs fn once, and once more if it fails, inside its own
// transaction each time -- the store's one-retry failure policy.
func (s *sqliteStore) withRetry(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var tx *sqlx.Tx
		if tx, err = s.db.BeginTxx(ctx, nil); err != nil {
			continue
		}
		if err = fn(tx); err != nil {
			_ = tx.Rollback()
			if errors.Is(err, ErrDuplicate) {
				return err
			}

			continue
		}
		if err = tx.Commit(); err != nil {
			continue
		}

		return nil
	}

	return errors.Wrap(ErrStore, err.Error())
}

type eventRow struct {
	ID              string
	PubKey          string
	Kind            int
	CreatedAt       int64
	Content         string
	Tags            string
	Sig             string
	DTag            string
	SystemCreatedAt int64
}

func toRow(ev *model.Event, systemCreatedAt int64) (*eventRow, error) {
	tags, err := json.Marshal(ev.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tags")
	}

	return &eventRow{
		ID:              ev.ID,
		PubKey:          ev.PubKey,
		Kind:            ev.Kind,
		CreatedAt:       int64(ev.CreatedAt),
		Content:         ev.Content,
		Tags:            string(tags),
		Sig:             ev.Sig,
		DTag:            ev.DTag(),
		SystemCreatedAt: systemCreatedAt,
	}, nil
}

func fromRow(r *eventRow) (*model.Event, error) {
	var tags model.Tags
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tags")
	}

	return &model.Event{Event: buildNostrEvent(r, tags)}, nil
}

const insertEventSQL = `insert into events
	(id, pubkey, kind, created_at, content, tags, sig, d_tag, system_created_at)
values
	(:id, :pubkey, :kind, :created_at, :content, :tags, :sig, :d_tag, :system_created_at)`

func (s *sqliteStore) insert(ctx context.Context, tx *sqlx.Tx, row *eventRow) error {
	prepared, err := s.prepare(ctx, insertEventSQL)
	if err != nil {
		return err
	}
	_, err = tx.NamedStmtContext(ctx, prepared).ExecContext(ctx, row)

	return err
}

func (s *sqliteStore) PutRegular(ctx context.Context, ev *model.Event) error {
	return s.withRetry(ctx, func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, `select count(1) from events where id = ?`, ev.ID); err != nil {
			return err
		}
		if exists > 0 {
			return ErrDuplicate
		}
		row, err := toRow(ev, nextSystemClock())
		if err != nil {
			return err
		}

		return s.insert(ctx, tx, row)
	})
}

func (s *sqliteStore) replaceKeyed(ctx context.Context, ev *model.Event, whereSQL string, args []any) error {
	return s.withRetry(ctx, func(tx *sqlx.Tx) error {
		var existing eventRow
		err := tx.GetContext(ctx, &existing, `select id, pubkey, kind, created_at, content, tags, sig, d_tag, system_created_at from events where `+whereSQL, args...)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			row, rerr := toRow(ev, nextSystemClock())
			if rerr != nil {
				return rerr
			}

			return s.insert(ctx, tx, row)
		case err != nil:
			return err
		}

		current := &model.Event{Event: buildNostrEventFromRow(&existing)}
		if !IsNewer(ev, current) {
			return nil
		}
		if _, err = tx.ExecContext(ctx, `delete from events where id = ?`, existing.ID); err != nil {
			return err
		}
		row, err := toRow(ev, nextSystemClock())
		if err != nil {
			return err
		}

		return s.insert(ctx, tx, row)
	})
}

func (s *sqliteStore) PutReplaceable(ctx context.Context, ev *model.Event) error {
	return s.replaceKeyed(ctx, ev, `pubkey = ? and kind = ?`, []any{ev.PubKey, ev.Kind})
}

func (s *sqliteStore) PutParameterized(ctx context.Context, ev *model.Event) error {
	return s.replaceKeyed(ctx, ev, `pubkey = ? and kind = ? and d_tag = ?`, []any{ev.PubKey, ev.Kind, ev.DTag()})
}

func (s *sqliteStore) AcceptEvent(ctx context.Context, ev *model.Event) error {
	switch ev.Class() {
	case model.KindClassReplaceable:
		return s.PutReplaceable(ctx, ev)
	case model.KindClassParameterizedReplaceable:
		return s.PutParameterized(ctx, ev)
	case model.KindClassEphemeral, model.KindClassAuthentication:
		return nil
	default:
		return s.PutRegular(ctx, ev)
	}
}

func (s *sqliteStore) DeleteEvents(ctx context.Context, filters model.Filters, ownerPubKey string) error {
	where, params := buildFiltersWhere(filters)
	params["ownerPubKey"] = ownerPubKey

	return s.withRetry(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, fmt.Sprintf(`delete from events where (%v) and pubkey = :ownerPubKey`, where), params)

		return err
	})
}

func (s *sqliteStore) Query(ctx context.Context, filters model.Filters, now model.Timestamp) ([]*model.Event, error) {
	where, params := buildFiltersWhere(filters)

	sqlText := `select id, pubkey, kind, created_at, content, tags, sig, d_tag, system_created_at
from events where (` + where + `) order by created_at desc, id desc`

	stmt, err := s.db.PrepareNamedContext(ctx, sqlText)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to prepare query sql: %v", sqlText)
	}
	defer stmt.Close()

	rows, err := stmt.QueryxContext(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query events")
	}
	defer rows.Close()

	limit, hasLimit := model.SmallestLimit(filters)
	results := make([]*model.Event, 0, 64)
	for rows.Next() {
		var row eventRow
		if err = rows.StructScan(&row); err != nil {
			return nil, errors.Wrap(err, "failed to scan event row")
		}
		ev, ferr := fromRow(&row)
		if ferr != nil {
			return nil, ferr
		}
		if ev.Expired(now) {
			continue
		}
		results = append(results, ev)
		if hasLimit && len(results) >= limit {
			break
		}
	}

	return results, rows.Err()
}
