// SPDX-License-Identifier: ice License 1.0

package store

import (
	"strconv"
	"strings"

	"github.com/nostrwire/relay/model"
)

// whereBuilder accumulates named parameters alongside the SQL text, the
// same shape as the teacher's query_where_builder.go.
type whereBuilder struct {
	strings.Builder
	params map[string]any
	n      int
}

func newWhereBuilder() *whereBuilder {
	return &whereBuilder{params: make(map[string]any)}
}

func newWhereBuilderAt(start int) *whereBuilder {
	return &whereBuilder{params: make(map[string]any), n: start}
}

func (w *whereBuilder) param(v any) string {
	w.n++
	name := "p" + strconv.Itoa(w.n)
	w.params[name] = v

	return name
}

func (w *whereBuilder) maybeAnd() {
	if w.Len() > 0 {
		w.WriteString(" AND ")
	}
}

func (w *whereBuilder) inClause(column string, values []string) {
	if len(values) == 0 {
		return
	}
	w.maybeAnd()
	w.WriteString(column)
	w.WriteString(" IN (")
	for i, v := range values {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteByte(':')
		w.WriteString(w.param(v))
	}
	w.WriteByte(')')
}

func (w *whereBuilder) inClauseInt(column string, values []int) {
	if len(values) == 0 {
		return
	}
	w.maybeAnd()
	w.WriteString(column)
	w.WriteString(" IN (")
	for i, v := range values {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteByte(':')
		w.WriteString(w.param(v))
	}
	w.WriteByte(')')
}

// buildFilterClause renders a single filter's predicate: all present
// fields AND-ed together (ids, authors, kinds, since, until, #tags).
// An empty filter (nothing set beyond authors) matches every event by
// that author.
func buildFilterClause(f model.Filter, paramOffset int) (string, map[string]any) {
	w := newWhereBuilderAt(paramOffset)

	w.inClause("id", f.IDs)
	w.inClause("pubkey", f.Authors)
	w.inClauseInt("kind", f.Kinds)

	if f.Since != nil {
		w.maybeAnd()
		w.WriteString("created_at >= :")
		w.WriteString(w.param(int64(*f.Since)))
	}
	if f.Until != nil {
		w.maybeAnd()
		w.WriteString("created_at <= :")
		w.WriteString(w.param(int64(*f.Until)))
	}

	for tagName, values := range f.Tags {
		if len(values) == 0 || tagName == "" {
			continue
		}
		w.maybeAnd()
		w.WriteString("EXISTS (SELECT 1 FROM json_each(events.tags) jt WHERE json_extract(jt.value,'$[0]') = :")
		tagNameParam := w.param(tagName)
		w.WriteString(tagNameParam)
		w.WriteString(" AND json_extract(jt.value,'$[1]') IN (")
		for i, v := range values {
			if i > 0 {
				w.WriteByte(',')
			}
			w.WriteByte(':')
			w.WriteString(w.param(v))
		}
		w.WriteString("))")
	}

	if w.Len() == 0 {
		return "1=1", w.params
	}

	return w.String(), w.params
}

// buildFiltersWhere renders the OR of every filter's clause, wrapping
// each in parens, plus the params needed across all of them merged
// under distinct names (each buildFilterClause call numbers its params
// from the offset it is given, and this function advances that offset
// by the previous filter's param count, so callers must go through
// this function rather than call buildFilterClause directly).
func buildFiltersWhere(filters model.Filters) (string, map[string]any) {
	if len(filters) == 0 {
		return "0=1", map[string]any{}
	}

	params := make(map[string]any)
	var clauses []string
	offset := 0
	for _, f := range filters {
		clause, p := buildFilterClause(f, offset)
		offset += len(p)
		for k, v := range p {
			params[k] = v
		}
		clauses = append(clauses, "("+clause+")")
	}

	return strings.Join(clauses, " OR "), params
}
