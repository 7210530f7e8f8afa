package store

import (
	"context"
	"fmt"
	"strings"
)

// FTS5 operator keywords that must never reach operator position from
// free-text input.
var ftsOperators = map[string]struct{}{
	"AND": {}, "OR": {}, "NOT": {}, "NEAR": {},
}

// buildFTSQuery turns arbitrary user input into a safe FTS5 MATCH
// expression. Every token is emitted as a quoted string (internal quotes
// doubled), so no input can inject FTS syntax; operator keywords are
// thereby downgraded to ordinary terms. Tokens are joined with OR, plus
// an exact-phrase term for the full input as a ranking bonus.
//
// Inputs containing double quotes are parsed into alternating literal
// and phrase spans; a trailing unmatched quote is auto-closed.
func buildFTSQuery(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	var tokens []string
	if strings.Contains(input, `"`) {
		tokens = tokenizeQuoted(input)
	} else {
		tokens = strings.Fields(input)
	}

	seen := make(map[string]struct{}, len(tokens)+1)
	var terms []string
	appendTerm := func(tok string) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return
		}
		quoted := quoteFTS(tok)
		if _, dup := seen[quoted]; dup {
			return
		}
		seen[quoted] = struct{}{}
		terms = append(terms, quoted)
	}

	for _, tok := range tokens {
		appendTerm(tok)
	}
	// Exact-phrase bonus for the full input (sans embedded quotes).
	if full := strings.ReplaceAll(input, `"`, " "); strings.Contains(strings.TrimSpace(full), " ") {
		appendTerm(strings.Join(strings.Fields(full), " "))
	}

	return strings.Join(terms, " OR ")
}

// tokenizeQuoted splits input into phrase spans (inside double quotes)
// and whitespace-separated literal tokens (outside). An unterminated
// quote consumes the rest of the input as a phrase.
func tokenizeQuoted(input string) []string {
	var tokens []string
	inPhrase := false
	var current strings.Builder

	flush := func() {
		text := current.String()
		current.Reset()
		if inPhrase {
			if t := strings.TrimSpace(text); t != "" {
				tokens = append(tokens, t)
			}
			return
		}
		tokens = append(tokens, strings.Fields(text)...)
	}

	for _, r := range input {
		if r == '"' {
			flush()
			inPhrase = !inPhrase
			continue
		}
		current.WriteRune(r)
	}
	flush()
	return tokens
}

// quoteFTS wraps a token as an FTS5 string literal, doubling any
// embedded quotes.
func quoteFTS(tok string) string {
	return `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
}

// ftsHit is one keyword-ranked result.
type ftsHit struct {
	chunkID int64
	score   float64 // negated bm25(); higher is better
}

// ftsSearch runs the sanitized query against the version's chunks.
func (s *Store) ftsSearch(ctx context.Context, versionID int64, query string, limit int) ([]ftsHit, error) {
	match := buildFTSQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.chunk_id, bm25(chunks_fts) AS score
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.chunk_id
		JOIN pages p ON p.id = c.page_id
		WHERE chunks_fts MATCH ? AND p.version_id = ?
		ORDER BY score
		LIMIT ?`, match, versionID, limit)
	if err != nil {
		// A sanitizer gap must degrade to "no keyword results", not an
		// error surfaced to the caller.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			s.logger.Warn("fts query rejected", "query", query, "error", err.Error())
			return nil, nil
		}
		return nil, fmt.Errorf("fts search failed: %w", err)
	}
	defer rows.Close()

	var hits []ftsHit
	for rows.Next() {
		var h ftsHit
		if err := rows.Scan(&h.chunkID, &h.score); err != nil {
			return nil, err
		}
		h.score = -h.score // bm25() is negative, lower = better
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// deleteFTSByVersion drops all FTS rows belonging to a version. Must run
// before the version row cascade removes the chunks.
func (s *Store) deleteFTSByVersion(ctx context.Context, versionID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM chunks_fts WHERE chunk_id IN (
			SELECT c.id FROM chunks c
			JOIN pages p ON p.id = c.page_id
			WHERE p.version_id = ?)`, versionID)
	if err != nil {
		return fmt.Errorf("failed to delete fts rows for version %d: %w", versionID, err)
	}
	return nil
}
