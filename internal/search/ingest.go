package search

import (
	"context"
	"log/slog"
	"strings"

	"github.com/storefind/storefind/internal/cache"
	"github.com/storefind/storefind/internal/catalog"
	"github.com/storefind/storefind/internal/config"
	"github.com/storefind/storefind/internal/embed"
	serrors "github.com/storefind/storefind/internal/errors"
	"github.com/storefind/storefind/internal/store"
)

// invalidated lists the cache namespaces a catalog write makes stale.
// Popular-query aggregates survive writes; they describe demand, not
// inventory.
var invalidated = []string{
	cache.NamespaceSemanticSearch,
	cache.NamespaceFuzzySearch,
	cache.NamespaceFacets,
}

// Ingestor runs the write path: embed, persist, index, invalidate.
type Ingestor struct {
	embedder embed.Embedder
	// fetcher may be nil; products are then indexed on text alone.
	fetcher  *embed.ImageFetcher
	products *store.CatalogStore
	vectors  store.VectorIndex
	lexical  store.LexicalIndex
	results  *cache.ResultCache
	weights  config.EmbeddingConfig
	logger   *slog.Logger
}

// NewIngestor assembles the write path.
func NewIngestor(embedder embed.Embedder, fetcher *embed.ImageFetcher,
	products *store.CatalogStore, vectors store.VectorIndex, lexical store.LexicalIndex,
	results *cache.ResultCache, weights config.EmbeddingConfig, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		embedder: embedder,
		fetcher:  fetcher,
		products: products,
		vectors:  vectors,
		lexical:  lexical,
		results:  results,
		weights:  weights,
		logger:   logger,
	}
}

// composeText builds the embedding document for a product. Field order
// is fixed so re-ingesting an unchanged product embeds identical text.
func composeText(p *catalog.Product) string {
	parts := make([]string, 0, 8)
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	add(p.Title)
	add(p.Description)
	add(p.Vendor)
	add(p.ProductType)
	add(strings.Join(p.Tags, " "))
	add(p.SEOTitle)
	add(p.SEODescription)
	return strings.Join(parts, "\n")
}

// UpsertProduct embeds, persists, and indexes one product, then
// invalidates result caches. Image embedding failures degrade to a
// text-only vector instead of failing the ingest.
func (in *Ingestor) UpsertProduct(ctx context.Context, p *catalog.Product) (int64, error) {
	if p.ExternalID == "" {
		return 0, serrors.InvalidInput("product is missing an external id")
	}
	if strings.TrimSpace(p.Title) == "" {
		return 0, serrors.InvalidInput("product is missing a title")
	}
	p.NormalizeTags()

	textVec, err := in.embedder.Embed(ctx, composeText(p))
	if err != nil {
		return 0, err
	}
	p.TextEmbedding = textVec

	p.ImageEmbedding = nil
	if p.ImageURL != "" && in.fetcher != nil {
		if vec, imgErr := in.embedImage(ctx, p.ImageURL); imgErr != nil {
			in.logger.Warn("image_embed_failed",
				slog.String("external_id", p.ExternalID),
				slog.String("image_url", p.ImageURL),
				slog.Any("error", imgErr))
		} else {
			p.ImageEmbedding = vec
		}
	}

	textWeight := in.weights.TextWeightFor(p.StoreID, p.ProductType)
	combined, err := catalog.Combine(p.TextEmbedding, p.ImageEmbedding, textWeight)
	if err != nil {
		return 0, err
	}
	p.CombinedEmbedding = combined

	id, err := in.products.Upsert(ctx, p)
	if err != nil {
		return 0, err
	}
	p.InternalID = id

	if err := in.vectors.Add(id, p.CombinedEmbedding); err != nil {
		return 0, err
	}
	if err := in.lexical.Index(ctx, p); err != nil {
		return 0, err
	}

	in.invalidate()
	in.logger.Info("product_indexed",
		slog.String("external_id", p.ExternalID),
		slog.String("store_id", p.StoreID),
		slog.Int64("internal_id", id),
		slog.Bool("has_image", p.ImageEmbedding != nil))
	return id, nil
}

// DeleteProduct removes a product from the store and both indexes.
func (in *Ingestor) DeleteProduct(ctx context.Context, storeID, externalID string) error {
	id, err := in.products.Delete(ctx, storeID, externalID)
	if err != nil {
		return err
	}
	in.vectors.Remove(id)
	if err := in.lexical.Delete(ctx, id); err != nil {
		return err
	}
	in.invalidate()
	in.logger.Info("product_removed",
		slog.String("external_id", externalID),
		slog.String("store_id", storeID),
		slog.Int64("internal_id", id))
	return nil
}

// RebuildIndexes repopulates the vector and lexical indexes from the
// persistent catalog. Called at startup; the indexes live in process.
func (in *Ingestor) RebuildIndexes(ctx context.Context) (int, error) {
	count := 0
	err := in.products.ForEach(ctx, func(p *catalog.Product) error {
		if len(p.CombinedEmbedding) > 0 {
			if err := in.vectors.Add(p.InternalID, p.CombinedEmbedding); err != nil {
				return err
			}
		}
		if err := in.lexical.Index(ctx, p); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	in.logger.Info("indexes_rebuilt", slog.Int("products", count))
	return count, nil
}

func (in *Ingestor) embedImage(ctx context.Context, url string) ([]float32, error) {
	// Fetch returns encoder-ready bytes, downscaled when oversized.
	raw, err := in.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return in.embedder.EmbedImage(ctx, raw)
}

func (in *Ingestor) invalidate() {
	for _, ns := range invalidated {
		if err := in.results.Invalidate(ns); err != nil {
			in.logger.Warn("cache_invalidate_failed",
				slog.String("namespace", ns), slog.Any("error", err))
		}
	}
}
