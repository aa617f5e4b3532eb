package store

import (
	"database/sql"
	"fmt"
	"path/filepath"

	serrors "github.com/storefind/storefind/internal/errors"
)

// NewLexicalIndex builds the configured lexical backend. "fts5" shares
// the catalog database; "bleve" gets its own directory under dataDir.
func NewLexicalIndex(backend string, db *sql.DB, dataDir string) (LexicalIndex, error) {
	switch backend {
	case "", "fts5":
		return NewFTS5Index(db)
	case "bleve":
		return NewBleveIndex(filepath.Join(dataDir, "lexical.bleve"))
	default:
		return nil, serrors.New(serrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown lexical backend %q", backend), nil)
	}
}
