package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/storefind/storefind/internal/catalog"
	serrors "github.com/storefind/storefind/internal/errors"
)

// BleveIndex is the alternate lexical backend. It tolerates typos via
// fuzzy term matching, which FTS5 cannot do.
type BleveIndex struct {
	index bleve.Index
}

type bleveDoc struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
	Vendor      string `json:"vendor"`
}

// NewBleveIndex opens (or creates) a bleve index at path.
func NewBleveIndex(path string) (*BleveIndex, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return &BleveIndex{index: idx}, nil
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return nil, serrors.StoreUnavailable(fmt.Errorf("open bleve index: %w", err))
	}

	mapping := bleve.NewIndexMapping()
	mapping.DefaultAnalyzer = standard.Name

	docMapping := bleve.NewDocumentMapping()
	text := bleve.NewTextFieldMapping()
	docMapping.AddFieldMappingsAt("title", text)
	docMapping.AddFieldMappingsAt("description", text)
	docMapping.AddFieldMappingsAt("tags", text)
	docMapping.AddFieldMappingsAt("vendor", text)
	mapping.AddDocumentMapping("product", docMapping)

	idx, err = bleve.New(path, mapping)
	if err != nil {
		return nil, serrors.StoreUnavailable(fmt.Errorf("create bleve index: %w", err))
	}
	return &BleveIndex{index: idx}, nil
}

// Index adds or replaces a product document.
func (b *BleveIndex) Index(_ context.Context, p *catalog.Product) error {
	doc := bleveDoc{
		Title:       p.Title,
		Description: p.Description,
		Tags:        strings.Join(p.Tags, " "),
		Vendor:      p.Vendor,
	}
	if err := b.index.Index(strconv.FormatInt(p.InternalID, 10), doc); err != nil {
		return serrors.StoreUnavailable(fmt.Errorf("bleve index: %w", err))
	}
	return nil
}

// Delete removes a product document.
func (b *BleveIndex) Delete(_ context.Context, id int64) error {
	if err := b.index.Delete(strconv.FormatInt(id, 10)); err != nil {
		return serrors.StoreUnavailable(fmt.Errorf("bleve delete: %w", err))
	}
	return nil
}

// Search combines exact match and fuzzy (edit distance 1) queries.
// Scores normalize to (0, 1].
func (b *BleveIndex) Search(ctx context.Context, q string, limit int) ([]LexicalHit, error) {
	tokens := tokenize(q)
	if len(tokens) == 0 {
		return nil, nil
	}

	var clauses []query.Query
	for _, tok := range tokens {
		match := bleve.NewMatchQuery(tok)
		clauses = append(clauses, match)

		fuzzy := bleve.NewFuzzyQuery(tok)
		fuzzy.SetFuzziness(1)
		clauses = append(clauses, fuzzy)
	}
	boolean := bleve.NewDisjunctionQuery(clauses...)

	req := bleve.NewSearchRequestOptions(boolean, limit, 0, false)
	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, serrors.StoreUnavailable(fmt.Errorf("bleve search: %w", err))
	}

	hits := make([]LexicalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, LexicalHit{ID: id, Score: hit.Score / (hit.Score + 1)})
	}
	return hits, nil
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
