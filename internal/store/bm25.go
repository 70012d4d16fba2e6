package store

import (
	"context"
	"strings"

	"github.com/localdoc/docsearch/internal/xerrors"
)

// BM25Search runs a lexical query over the FTS index, pushing document
// filters into the SQL and excluding tombstoned documents.
func (s *SQLiteStore) BM25Search(ctx context.Context, query string, limit int, filters Filters) ([]BM25Result, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return []BM25Result{}, nil
	}

	sqlText := `
		SELECT f.chunk_id, bm25(chunks_fts) AS rank
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ? AND d.is_deleted = 0`
	args := []any{match}

	where, filterArgs := filterClauses(filters)
	sqlText += where
	args = append(args, filterArgs...)

	sqlText += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "bm25 search", err)
	}
	defer rows.Close()

	var results []BM25Result
	for rows.Next() {
		var r BM25Result
		var rank float64
		if err := rows.Scan(&r.ChunkID, &rank); err != nil {
			return nil, xerrors.Wrap(xerrors.KindIO, "scan bm25 result", err)
		}
		// fts5 bm25() is better-matches-lower; flip so higher is better.
		r.Score = -rank
		results = append(results, r)
	}
	if results == nil {
		results = []BM25Result{}
	}
	return results, rows.Err()
}

// buildMatchQuery quotes each term so user input cannot inject FTS syntax.
func buildMatchQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}

// filterClauses renders Filters as SQL conditions over the documents table
// (aliased d). Returns the clause text and its arguments.
func filterClauses(f Filters) (string, []any) {
	var sb strings.Builder
	var args []any

	if len(f.MediaTypes) > 0 {
		sb.WriteString(" AND d.media_type IN (" + placeholders(len(f.MediaTypes)) + ")")
		for _, mt := range f.MediaTypes {
			args = append(args, string(mt))
		}
	}
	if len(f.Extensions) > 0 {
		sb.WriteString(" AND d.extension IN (" + placeholders(len(f.Extensions)) + ")")
		for _, ext := range f.Extensions {
			args = append(args, strings.ToLower(ext))
		}
	}
	if f.PathPrefix != "" {
		sb.WriteString(" AND d.path LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(f.PathPrefix)+"%")
	}
	if f.DateFrom != nil {
		sb.WriteString(" AND d.modified_at >= ?")
		args = append(args, *f.DateFrom)
	}
	if f.DateTo != nil {
		sb.WriteString(" AND d.modified_at <= ?")
		args = append(args, *f.DateTo)
	}
	if f.MinDuration != nil {
		sb.WriteString(" AND d.duration_seconds >= ?")
		args = append(args, *f.MinDuration)
	}
	if f.MaxDuration != nil {
		sb.WriteString(" AND d.duration_seconds <= ?")
		args = append(args, *f.MaxDuration)
	}
	return sb.String(), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// FilterChunkIDs returns the subset of ids whose documents are live and
// match the filters, preserving input order. Used to apply filter
// push-down to vector results.
func (s *SQLiteStore) FilterChunkIDs(ctx context.Context, ids []string, filters Filters) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	sqlText := `
		SELECT c.id FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id IN (` + placeholders(len(ids)) + `) AND d.is_deleted = 0`
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	where, filterArgs := filterClauses(filters)
	sqlText += where
	args = append(args, filterArgs...)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "filter chunk ids", err)
	}
	defer rows.Close()

	keep := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, xerrors.Wrap(xerrors.KindIO, "scan filtered id", err)
		}
		keep[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "filter rows", err)
	}

	out := make([]string, 0, len(keep))
	for _, id := range ids {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
