package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/storefind/storefind/internal/catalog"
	serrors "github.com/storefind/storefind/internal/errors"
)

// CatalogStore persists products and their embeddings in SQLite.
// Products are addressed externally by (store_id, external_id); the
// internal rowid survives upserts so the vector index never needs
// re-keying on a product update.
type CatalogStore struct {
	db     *sql.DB
	dim    int
	logger *slog.Logger
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS products (
	internal_id        INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id        TEXT NOT NULL,
	store_id           TEXT NOT NULL DEFAULT '',
	title              TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	vendor             TEXT NOT NULL DEFAULT '',
	product_type       TEXT NOT NULL DEFAULT '',
	price              REAL NOT NULL DEFAULT 0,
	tags               TEXT NOT NULL DEFAULT '[]',
	seo_title          TEXT NOT NULL DEFAULT '',
	seo_description    TEXT NOT NULL DEFAULT '',
	attributes         TEXT NOT NULL DEFAULT '{}',
	stock_status       TEXT NOT NULL DEFAULT 'in_stock',
	sku                TEXT NOT NULL DEFAULT '',
	barcode            TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'active',
	image_url          TEXT NOT NULL DEFAULT '',
	text_embedding     BLOB,
	image_embedding    BLOB,
	combined_embedding BLOB,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL,
	UNIQUE(store_id, external_id)
);
CREATE INDEX IF NOT EXISTS idx_products_store ON products(store_id);
CREATE INDEX IF NOT EXISTS idx_products_status ON products(status);
CREATE INDEX IF NOT EXISTS idx_products_price ON products(price);
`

// NewCatalogStore opens (or creates) the catalog database at path.
// Use ":memory:" for tests.
func NewCatalogStore(path string, dim int, logger *slog.Logger) (*CatalogStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dim <= 0 {
		dim = catalog.EmbeddingDimensions
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, serrors.StoreUnavailable(err)
	}
	// Single writer connection keeps SQLITE_BUSY out of the picture.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA cache_size = -20000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, serrors.StoreUnavailable(fmt.Errorf("%s: %w", pragma, err))
		}
	}

	if _, err := db.Exec(catalogSchema); err != nil {
		_ = db.Close()
		return nil, serrors.StoreUnavailable(fmt.Errorf("create catalog schema: %w", err))
	}

	return &CatalogStore{db: db, dim: dim, logger: logger}, nil
}

// Upsert inserts or updates a product by (store_id, external_id) and
// returns its internal id. The internal id of an existing product never
// changes. The combined embedding must be unit-norm when present.
func (s *CatalogStore) Upsert(ctx context.Context, p *catalog.Product) (int64, error) {
	return s.upsertOn(ctx, s.db, p)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *CatalogStore) upsertOn(ctx context.Context, q rowQueryer, p *catalog.Product) (int64, error) {
	if p.ExternalID == "" {
		return 0, serrors.InvalidInput("product external_id is required")
	}
	if p.Title == "" {
		return 0, serrors.InvalidInput("product title is required")
	}
	if err := s.validateEmbeddings(p); err != nil {
		return 0, err
	}

	p.NormalizeTags()
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return 0, serrors.New(serrors.ErrCodeEncodingFailed, "marshal tags", err)
	}
	attrs, err := json.Marshal(orEmptyMap(p.Attributes))
	if err != nil {
		return 0, serrors.New(serrors.ErrCodeEncodingFailed, "marshal attributes", err)
	}

	now := time.Now().UnixMilli()
	row := q.QueryRowContext(ctx, `
		INSERT INTO products (
			external_id, store_id, title, description, vendor, product_type,
			price, tags, seo_title, seo_description, attributes,
			stock_status, sku, barcode, status, image_url,
			text_embedding, image_embedding, combined_embedding,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id, external_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			vendor = excluded.vendor,
			product_type = excluded.product_type,
			price = excluded.price,
			tags = excluded.tags,
			seo_title = excluded.seo_title,
			seo_description = excluded.seo_description,
			attributes = excluded.attributes,
			stock_status = excluded.stock_status,
			sku = excluded.sku,
			barcode = excluded.barcode,
			status = excluded.status,
			image_url = excluded.image_url,
			text_embedding = excluded.text_embedding,
			image_embedding = excluded.image_embedding,
			combined_embedding = excluded.combined_embedding,
			updated_at = excluded.updated_at
		RETURNING internal_id`,
		p.ExternalID, p.StoreID, p.Title, p.Description, p.Vendor, p.ProductType,
		p.Price, string(tags), p.SEOTitle, p.SEODescription, string(attrs),
		string(p.StockStatus), p.SKU, p.Barcode, string(p.Status), p.ImageURL,
		encodeVector(p.TextEmbedding), encodeVector(p.ImageEmbedding), encodeVector(p.CombinedEmbedding),
		now, now)

	var id int64
	if err := row.Scan(&id); err != nil {
		if ctx.Err() != nil {
			return 0, serrors.QueryTimeout(ctx.Err())
		}
		return 0, serrors.StoreUnavailable(fmt.Errorf("upsert product: %w", err))
	}
	p.InternalID = id
	return id, nil
}

// BulkUpsert upserts a batch inside one transaction. All or nothing.
func (s *CatalogStore) BulkUpsert(ctx context.Context, products []*catalog.Product) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serrors.StoreUnavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range products {
		if _, err := s.upsertOn(ctx, tx, p); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return serrors.StoreUnavailable(fmt.Errorf("commit bulk upsert: %w", err))
	}
	return nil
}

// Delete removes a product. Returns the internal id that was removed so
// the caller can evict it from the indexes, or ErrCodeNotFound.
func (s *CatalogStore) Delete(ctx context.Context, storeID, externalID string) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM products WHERE store_id = ? AND external_id = ? RETURNING internal_id`,
		storeID, externalID)
	var id int64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return 0, serrors.New(serrors.ErrCodeNotFound, "product not found", nil)
		}
		return 0, serrors.StoreUnavailable(fmt.Errorf("delete product: %w", err))
	}
	return id, nil
}

// Get fetches one product by internal id.
func (s *CatalogStore) Get(ctx context.Context, id int64) (*catalog.Product, error) {
	products, err := s.FetchByIDs(ctx, []int64{id}, catalog.Filter{})
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, serrors.New(serrors.ErrCodeNotFound, "product not found", nil)
	}
	return products[0], nil
}

// Count returns the number of products matching the filter.
func (s *CatalogStore) Count(ctx context.Context, f catalog.Filter) (int, error) {
	where, args := filterClause(f)
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products"+where, args...).Scan(&n)
	if err != nil {
		return 0, serrors.StoreUnavailable(fmt.Errorf("count products: %w", err))
	}
	return n, nil
}

// FetchByIDs loads products for the given internal ids, applying the
// filter as predicate pushdown. Results preserve the order of ids;
// ids that miss the filter or no longer exist are dropped.
func (s *CatalogStore) FetchByIDs(ctx context.Context, ids []int64, f catalog.Filter) ([]*catalog.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := selectProducts + " WHERE internal_id IN (" + strings.Join(placeholders, ",") + ")"
	if where, filterArgs := filterClause(f); where != "" {
		query += strings.Replace(where, " WHERE ", " AND ", 1)
		args = append(args, filterArgs...)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, serrors.QueryTimeout(ctx.Err())
		}
		return nil, serrors.StoreUnavailable(fmt.Errorf("fetch products: %w", err))
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]*catalog.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		byID[p.InternalID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, serrors.StoreUnavailable(err)
	}

	out := make([]*catalog.Product, 0, len(ids))
	for _, id := range ids {
		// Attribute constraints are JSON in SQLite, so they apply here
		// rather than in the WHERE clause.
		if p, ok := byID[id]; ok && f.Matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ForEach streams every product through fn, for index rebuilds at startup.
func (s *CatalogStore) ForEach(ctx context.Context, fn func(*catalog.Product) error) error {
	rows, err := s.db.QueryContext(ctx, selectProducts+" ORDER BY internal_id")
	if err != nil {
		return serrors.StoreUnavailable(fmt.Errorf("scan products: %w", err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close closes the database.
func (s *CatalogStore) Close() error {
	return s.db.Close()
}

// DB exposes the handle for stores that share the database file.
func (s *CatalogStore) DB() *sql.DB { return s.db }

const selectProducts = `
	SELECT internal_id, external_id, store_id, title, description, vendor,
		product_type, price, tags, seo_title, seo_description, attributes,
		stock_status, sku, barcode, status, image_url,
		text_embedding, image_embedding, combined_embedding,
		created_at, updated_at
	FROM products`

func scanProduct(rows *sql.Rows) (*catalog.Product, error) {
	var (
		p                      catalog.Product
		tags, attrs            string
		stock, status          string
		textB, imageB, combB   []byte
		createdMs, updatedMs   int64
	)
	err := rows.Scan(&p.InternalID, &p.ExternalID, &p.StoreID, &p.Title, &p.Description,
		&p.Vendor, &p.ProductType, &p.Price, &tags, &p.SEOTitle, &p.SEODescription,
		&attrs, &stock, &p.SKU, &p.Barcode, &status, &p.ImageURL,
		&textB, &imageB, &combB, &createdMs, &updatedMs)
	if err != nil {
		return nil, serrors.StoreUnavailable(fmt.Errorf("scan product row: %w", err))
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, serrors.New(serrors.ErrCodeEncodingFailed, "unmarshal tags", err)
	}
	if err := json.Unmarshal([]byte(attrs), &p.Attributes); err != nil {
		return nil, serrors.New(serrors.ErrCodeEncodingFailed, "unmarshal attributes", err)
	}
	p.StockStatus = catalog.StockStatus(stock)
	p.Status = catalog.ProductStatus(status)
	p.TextEmbedding = decodeVector(textB)
	p.ImageEmbedding = decodeVector(imageB)
	p.CombinedEmbedding = decodeVector(combB)
	p.CreatedAt = time.UnixMilli(createdMs)
	p.UpdatedAt = time.UnixMilli(updatedMs)
	return &p, nil
}

// filterClause converts a catalog.Filter into a WHERE clause. Store scope
// includes global products (empty store_id).
func filterClause(f catalog.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.StoreID != "" {
		conds = append(conds, "(store_id = ? OR store_id = '')")
		args = append(args, f.StoreID)
	}
	if f.MinPrice != nil {
		conds = append(conds, "price >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		conds = append(conds, "price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.StockStatus != "" {
		conds = append(conds, "stock_status = ?")
		args = append(args, string(f.StockStatus))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *CatalogStore) validateEmbeddings(p *catalog.Product) error {
	for name, vec := range map[string][]float32{
		"text":     p.TextEmbedding,
		"image":    p.ImageEmbedding,
		"combined": p.CombinedEmbedding,
	} {
		if vec == nil {
			continue
		}
		if len(vec) != s.dim {
			return serrors.Integrity(fmt.Sprintf(
				"%s embedding has dimension %d, index requires %d", name, len(vec), s.dim), nil)
		}
	}
	if p.CombinedEmbedding != nil {
		if err := catalog.CheckUnitNorm(p.CombinedEmbedding); err != nil {
			return serrors.Integrity("combined embedding is not unit norm", err)
		}
	}
	return nil
}

// encodeVector packs a float32 slice as a little-endian blob.
// Nil vectors encode as nil so absence is distinguishable in SQL.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
