package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storefind/storefind/internal/adaptive"
	"github.com/storefind/storefind/internal/analytics"
	"github.com/storefind/storefind/internal/cache"
	"github.com/storefind/storefind/internal/catalog"
	"github.com/storefind/storefind/internal/embed"
	serrors "github.com/storefind/storefind/internal/errors"
	"github.com/storefind/storefind/internal/facets"
	"github.com/storefind/storefind/internal/intent"
	"github.com/storefind/storefind/internal/ratelimit"
	"github.com/storefind/storefind/internal/store"
)

// ProductStore is the slice of the catalog store the orchestrator needs.
type ProductStore interface {
	FetchByIDs(ctx context.Context, ids []int64, f catalog.Filter) ([]*catalog.Product, error)
}

// EventRecorder receives analytics events without blocking.
type EventRecorder interface {
	Record(ev analytics.Event)
}

// Service runs the search pipeline.
type Service struct {
	embedder   embed.Embedder
	fetcher    *embed.ImageFetcher
	products   ProductStore
	vectors    store.VectorIndex
	lexical    store.LexicalIndex
	flight     *cache.FlightCache
	inbound    *ratelimit.SlidingWindow
	classifier *intent.Classifier
	rescue     *adaptive.Engine
	recorder   EventRecorder
	logger     *slog.Logger

	defaultThreshold float64
	defaultPageSize  int
	maxPageSize      int
	maxQueryLength   int
	fuzzyMinScore    float64
	candidateMargin  int
	priceBuckets     []float64
}

// Config wires the service dependencies and tuning.
type Config struct {
	Embedder embed.Embedder
	// Fetcher resolves image queries. May be nil; image searches then
	// degrade to the fuzzy path.
	Fetcher    *embed.ImageFetcher
	Products   ProductStore
	Vectors    store.VectorIndex
	Lexical    store.LexicalIndex
	Flight     *cache.FlightCache
	Inbound    *ratelimit.SlidingWindow
	Classifier *intent.Classifier
	Rescue     *adaptive.Engine
	// Recorder may be nil; events are then discarded.
	Recorder EventRecorder
	Logger   *slog.Logger

	DefaultSimilarityThreshold float64
	DefaultPageSize            int
	MaxPageSize                int
	MaxQueryLength             int
	FuzzyMinScore              float64
	CandidateMargin            int

	// FacetPriceBuckets overrides the default facet price ranges.
	FacetPriceBuckets []float64
}

// NewService creates the orchestrator.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultSimilarityThreshold <= 0 {
		cfg.DefaultSimilarityThreshold = 0.3
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 25
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 256
	}
	if cfg.FuzzyMinScore <= 0 {
		cfg.FuzzyMinScore = 0.1
	}
	if cfg.CandidateMargin <= 0 {
		cfg.CandidateMargin = 25
	}
	return &Service{
		embedder:         cfg.Embedder,
		fetcher:          cfg.Fetcher,
		products:         cfg.Products,
		vectors:          cfg.Vectors,
		lexical:          cfg.Lexical,
		flight:           cfg.Flight,
		inbound:          cfg.Inbound,
		classifier:       cfg.Classifier,
		rescue:           cfg.Rescue,
		recorder:         cfg.Recorder,
		logger:           cfg.Logger,
		defaultThreshold: cfg.DefaultSimilarityThreshold,
		defaultPageSize:  cfg.DefaultPageSize,
		maxPageSize:      cfg.MaxPageSize,
		maxQueryLength:   cfg.MaxQueryLength,
		fuzzyMinScore:    cfg.FuzzyMinScore,
		candidateMargin:  cfg.CandidateMargin,
		priceBuckets:     cfg.FacetPriceBuckets,
	}
}

// Search runs the full pipeline for one request.
//
// Validation and admission run before any cache or backend work. The
// fingerprint keys both the cache and the singleflight group, so
// concurrent identical queries share one execution. A cancelled caller
// detaches without aborting the shared execution.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := s.validate(&req); err != nil {
		return nil, err
	}
	if err := s.inbound.Allow(callerKey(req.Caller)); err != nil {
		return nil, err
	}

	threshold := s.defaultThreshold
	if req.SimilarityThreshold > 0 {
		threshold = req.SimilarityThreshold
	}
	fp := fingerprint(&req, threshold)

	// The shared execution must outlive any single caller.
	execCtx := context.WithoutCancel(ctx)
	payload, _, fromCache, err := s.flight.GetOrComputeIn(ctx, fp,
		[]string{cache.NamespaceSemanticSearch, cache.NamespaceFuzzySearch},
		func() (string, []byte, error) {
			return s.execute(execCtx, &req, threshold, fp)
		})
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, serrors.New(serrors.ErrCodeEncodingFailed, "decode cached response", err)
	}
	resp.Metadata.CacheHit = fromCache
	resp.Metadata.Duration = time.Since(start)

	s.recordSearch(&req, &resp)
	s.logger.Debug("search_served",
		slog.String("fingerprint", fp),
		slog.Int("results", len(resp.Results)),
		slog.Bool("cache_hit", fromCache),
		slog.Bool("fallback", resp.Metadata.FallbackUsed),
		slog.Duration("duration", resp.Metadata.Duration))
	return &resp, nil
}

// execute is the uncached pipeline body. It returns the cache namespace
// the payload belongs in: fuzzy results expire on their own schedule.
func (s *Service) execute(ctx context.Context, req *Request, threshold float64, fp string) (string, []byte, error) {
	filter := req.Filter()
	need := req.Page*req.PageSize + s.candidateMargin

	// Intent classification and embedding are independent; overlap them.
	var (
		cls      intent.Classification
		queryVec []float32
		embedErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if req.Query != "" {
			cls = s.classifier.Classify(req.Query)
		}
		return nil
	})
	g.Go(func() error {
		switch req.SearchType {
		case SearchTypeFuzzy:
			// Lexical only, nothing to embed.
		case SearchTypeImage:
			queryVec, embedErr = s.embedImageQuery(gctx, req.ImageURL)
		default:
			queryVec, embedErr = s.embedder.Embed(gctx, req.Query)
		}
		return nil
	})
	_ = g.Wait()

	var (
		hits      []catalog.Hit
		usedFuzzy = req.SearchType == SearchTypeFuzzy
		fallback  bool
	)
	switch {
	case usedFuzzy:
		var err error
		hits, err = s.fuzzySearch(ctx, req.Query, filter, need)
		if err != nil {
			return "", nil, err
		}
	case embedErr == nil:
		var err error
		hits, err = s.vectorSearch(ctx, queryVec, filter, threshold, need)
		if err != nil {
			return "", nil, err
		}
	case serrors.CategoryOf(embedErr) == serrors.CategoryUpstream:
		// Provider exhausted or unreachable: degrade to lexical search
		// instead of failing the request. An image-only request has no
		// text to match, so it degrades to an empty result set.
		s.logger.Warn("embed_failed_using_fallback", slog.Any("error", embedErr))
		usedFuzzy, fallback = true, true
		if req.Query != "" {
			var err error
			hits, err = s.fuzzySearch(ctx, req.Query, filter, need)
			if err != nil {
				return "", nil, err
			}
		}
	default:
		return "", nil, embedErr
	}

	// A vector path with nothing found also falls through to fuzzy
	// before the rescue engine weighs in.
	if !usedFuzzy && len(hits) == 0 && req.Query != "" {
		fuzzyHits, err := s.fuzzySearch(ctx, req.Query, filter, need)
		if err == nil && len(fuzzyHits) > 0 {
			hits = fuzzyHits
			usedFuzzy, fallback = true, true
		}
	}

	outcome := s.rescue.Rescue(ctx, filter, hits, cls, func(rctx context.Context, nf catalog.Filter) ([]catalog.Hit, error) {
		if usedFuzzy {
			if req.Query == "" {
				return nil, nil
			}
			return s.fuzzySearch(rctx, req.Query, nf, need)
		}
		return s.vectorSearch(rctx, queryVec, nf, threshold, need)
	})
	hits = outcome.Hits

	searchType := req.SearchType
	if usedFuzzy {
		searchType = SearchTypeFuzzy
	}
	resp := s.assemble(req, hits, cls, outcome, searchType, threshold, fallback, fp)
	payload, err := json.Marshal(resp)
	if err != nil {
		return "", nil, serrors.New(serrors.ErrCodeEncodingFailed, "encode response", err)
	}

	namespace := cache.NamespaceSemanticSearch
	if usedFuzzy {
		namespace = cache.NamespaceFuzzySearch
	}
	return namespace, payload, nil
}

// embedImageQuery fetches the image the query URL points at and embeds
// it. An unconfigured fetcher reads as an upstream failure so the
// caller degrades to the fuzzy path.
func (s *Service) embedImageQuery(ctx context.Context, url string) ([]float32, error) {
	if s.fetcher == nil {
		return nil, serrors.UpstreamUnavailable(errors.New("image search is not configured"))
	}
	// Fetch returns encoder-ready bytes, downscaled when oversized.
	raw, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return s.embedder.EmbedImage(ctx, raw)
}

// vectorSearch retrieves nearest neighbors, applies the similarity
// threshold, and hydrates products with predicate pushdown.
func (s *Service) vectorSearch(ctx context.Context, vec []float32, f catalog.Filter, threshold float64, k int) ([]catalog.Hit, error) {
	neighbors := s.vectors.Search(vec, k)

	ids := make([]int64, 0, len(neighbors))
	simByID := make(map[int64]float64, len(neighbors))
	for _, n := range neighbors {
		if n.Similarity < threshold {
			continue
		}
		ids = append(ids, n.ID)
		simByID[n.ID] = n.Similarity
	}
	if len(ids) == 0 {
		return nil, nil
	}

	products, err := s.products.FetchByIDs(ctx, ids, f)
	if err != nil {
		return nil, err
	}
	hits := make([]catalog.Hit, 0, len(products))
	for _, p := range products {
		hits = append(hits, catalog.Hit{Product: p, Similarity: simByID[p.InternalID]})
	}
	return hits, nil
}

// fuzzySearch is the lexical path: token matching scored by the backend,
// floored at the configured minimum score.
func (s *Service) fuzzySearch(ctx context.Context, query string, f catalog.Filter, limit int) ([]catalog.Hit, error) {
	matches, err := s.lexical.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(matches))
	scoreByID := make(map[int64]float64, len(matches))
	for _, m := range matches {
		if m.Score < s.fuzzyMinScore {
			continue
		}
		ids = append(ids, m.ID)
		scoreByID[m.ID] = m.Score
	}
	if len(ids) == 0 {
		return nil, nil
	}

	products, err := s.products.FetchByIDs(ctx, ids, f)
	if err != nil {
		return nil, err
	}
	hits := make([]catalog.Hit, 0, len(products))
	for _, p := range products {
		hits = append(hits, catalog.Hit{Product: p, Similarity: scoreByID[p.InternalID]})
	}
	return hits, nil
}

// assemble paginates hits and builds the response payload.
func (s *Service) assemble(req *Request, hits []catalog.Hit, cls intent.Classification,
	outcome adaptive.Outcome, searchType string, threshold float64, fallback bool, fp string) *Response {

	total := len(hits)
	totalPages := (total + req.PageSize - 1) / req.PageSize

	startIdx := (req.Page - 1) * req.PageSize
	if startIdx > total {
		startIdx = total
	}
	endIdx := startIdx + req.PageSize
	if endIdx > total {
		endIdx = total
	}
	window := hits[startIdx:endIdx]

	results := make([]Result, 0, len(window))
	for _, h := range window {
		results = append(results, Result{
			ExternalID:  h.Product.ExternalID,
			InternalID:  h.Product.InternalID,
			Title:       h.Product.Title,
			Description: h.Product.Description,
			Vendor:      h.Product.Vendor,
			ProductType: h.Product.ProductType,
			Price:       h.Product.Price,
			Tags:        h.Product.Tags,
			ImageURL:    h.Product.ImageURL,
			Similarity:  h.Similarity,
			SearchType:  searchType,
		})
	}

	resp := &Response{
		Results: results,
		Pagination: Pagination{
			Page:         req.Page,
			PageSize:     req.PageSize,
			TotalResults: total,
			TotalPages:   totalPages,
		},
		Filters: Filters{
			MinPrice:            req.MinPrice,
			MaxPrice:            req.MaxPrice,
			StoreScope:          req.StoreID,
			SimilarityThreshold: threshold,
		},
		Metadata: Metadata{
			Query:        req.Query,
			SearchType:   searchType,
			Intent:       string(cls.Primary),
			Difficulty:   cls.Difficulty,
			FallbackUsed: fallback,
			Strategies:   outcome.Applied,
			ResultCount:  len(window),
			Fingerprint:  fp,
		},
	}

	// Facets aggregate over the full filtered set, not the page window.
	products := make([]*catalog.Product, 0, len(hits))
	for _, h := range hits {
		products = append(products, h.Product)
	}
	f := facets.Build(products, s.priceBuckets)
	resp.Facets = &f
	return resp
}

// recordSearch hands the event to the analytics pipeline. Never blocks.
func (s *Service) recordSearch(req *Request, resp *Response) {
	if s.recorder == nil {
		return
	}
	ev := analytics.NewEvent(analytics.EventSearch)
	ev.StoreID = req.StoreID
	ev.SessionID = req.SessionID
	ev.AnonymizedIP = analytics.AnonymizeIP(req.ClientIP)
	ev.UserAgent = analytics.SanitizeUserAgent(req.UserAgent)
	ev.Query = resp.Metadata.Query
	ev.SearchType = resp.Metadata.SearchType
	ev.Intent = resp.Metadata.Intent
	ev.Filters = eventFilters(req)
	ev.Page = resp.Pagination.Page
	ev.Limit = resp.Pagination.PageSize
	ev.ResultCount = resp.Pagination.TotalResults
	if len(resp.Results) > 0 {
		ev.TopScore = resp.Results[0].Similarity
		ev.Category = resp.Results[0].ProductType
	}
	ev.Duration = resp.Metadata.Duration
	ev.CacheHit = resp.Metadata.CacheHit
	ev.FallbackUsed = resp.Metadata.FallbackUsed
	ev.Strategies = resp.Metadata.Strategies
	s.recorder.Record(ev)
}

// eventFilters flattens the request constraints for the event payload.
func eventFilters(req *Request) map[string]string {
	out := map[string]string{}
	if req.MinPrice != nil {
		out["min_price"] = strconv.FormatFloat(*req.MinPrice, 'f', -1, 64)
	}
	if req.MaxPrice != nil {
		out["max_price"] = strconv.FormatFloat(*req.MaxPrice, 'f', -1, 64)
	}
	if req.InStockOnly {
		out["in_stock_only"] = "true"
	}
	for k, v := range req.Attributes {
		out["attr:"+k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// RecordClick records a result click for learning and aggregates.
func (s *Service) RecordClick(storeID, sessionID, query, productID string, position int, clientIP string) {
	if s.recorder == nil {
		return
	}
	ev := analytics.NewEvent(analytics.EventClick)
	ev.StoreID = storeID
	ev.SessionID = sessionID
	ev.AnonymizedIP = analytics.AnonymizeIP(clientIP)
	ev.Query = normalizeQuery(query)
	ev.ProductID = productID
	ev.Position = position
	s.recorder.Record(ev)
}
