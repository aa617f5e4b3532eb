package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/storefind/storefind/internal/catalog"
	serrors "github.com/storefind/storefind/internal/errors"
)

// FTS5Index is the default lexical backend, an FTS5 virtual table in the
// catalog database keyed by internal product id.
type FTS5Index struct {
	db *sql.DB
}

const fts5Schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS product_fts USING fts5(
	title,
	description,
	tags,
	vendor,
	tokenize = 'unicode61 remove_diacritics 2'
);
`

// NewFTS5Index creates the FTS5 table in the given database.
func NewFTS5Index(db *sql.DB) (*FTS5Index, error) {
	if _, err := db.Exec(fts5Schema); err != nil {
		return nil, serrors.StoreUnavailable(fmt.Errorf("create fts5 table: %w", err))
	}
	return &FTS5Index{db: db}, nil
}

// Index adds or replaces a product document, keyed by internal id.
func (f *FTS5Index) Index(ctx context.Context, p *catalog.Product) error {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return serrors.StoreUnavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM product_fts WHERE rowid = ?", p.InternalID); err != nil {
		return serrors.StoreUnavailable(fmt.Errorf("clear fts row: %w", err))
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO product_fts(rowid, title, description, tags, vendor) VALUES (?, ?, ?, ?, ?)",
		p.InternalID, p.Title, p.Description, strings.Join(p.Tags, " "), p.Vendor); err != nil {
		return serrors.StoreUnavailable(fmt.Errorf("index fts row: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return serrors.StoreUnavailable(fmt.Errorf("commit fts index: %w", err))
	}
	return nil
}

// Delete removes a product document.
func (f *FTS5Index) Delete(ctx context.Context, id int64) error {
	if _, err := f.db.ExecContext(ctx,
		"DELETE FROM product_fts WHERE rowid = ?", id); err != nil {
		return serrors.StoreUnavailable(fmt.Errorf("delete fts row: %w", err))
	}
	return nil
}

// Search matches tokens with OR semantics for recall and scores with
// BM25, normalized to (0, 1].
func (f *FTS5Index) Search(ctx context.Context, query string, limit int) ([]LexicalHit, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	// Quoted tokens keep FTS5 operators out of the match expression.
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + tok + `"`
	}
	match := strings.Join(quoted, " OR ")

	// bm25() is negative, lower is better.
	rows, err := f.db.QueryContext(ctx, `
		SELECT rowid, bm25(product_fts) AS rank
		FROM product_fts
		WHERE product_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, serrors.StoreUnavailable(fmt.Errorf("fts search: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var hits []LexicalHit
	for rows.Next() {
		var (
			id   int64
			rank float64
		)
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, serrors.StoreUnavailable(err)
		}
		bm := -rank
		hits = append(hits, LexicalHit{ID: id, Score: bm / (bm + 1)})
	}
	return hits, rows.Err()
}

// Close is a no-op; the catalog store owns the database handle.
func (f *FTS5Index) Close() error { return nil }

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
