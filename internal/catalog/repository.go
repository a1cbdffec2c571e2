package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spendscan/spendscan/internal/platform/db"
)

// ProductWithAliases bundles a product with its alias strings for similarity
// scoring.
type ProductWithAliases struct {
	Product Product
	Aliases []string
}

// Repository exposes the catalog persistence operations the resolvers and the
// maintenance jobs depend on.
type Repository interface {
	// Read paths feeding the snapshot cache.
	ProductNameCandidates(ctx context.Context) ([]string, error)
	StoreSnapshots(ctx context.Context) ([]StoreSnapshot, error)

	// Product matching.
	FindProductExact(ctx context.Context, name string, brand *string, typeID, categoryID *uuid.UUID) (*Product, error)
	FindProductByAlias(ctx context.Context, alias string) (*Product, error)
	ListProductsFiltered(ctx context.Context, typeID, categoryID *uuid.UUID) ([]ProductWithAliases, error)
	CreateProduct(ctx context.Context, product *Product, aliases []string) error
	DefaultProductTypeID(ctx context.Context) (uuid.UUID, error)

	// Store maintenance.
	ListStoresMissingNormalized(ctx context.Context) ([]Store, error)
	SetStoreNormalized(ctx context.Context, id uuid.UUID, normalized string) error
	ListNormalizedDuplicates(ctx context.Context) (map[string][]Store, error)

	// Categories.
	CreateCategory(ctx context.Context, category *Category) error
	SetCategoryParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error

	// WithTx runs fn inside one transaction; used by the merge service.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository is the transactional slice of the repository used by the store
// merge/rename service.
type TxRepository interface {
	GetStore(ctx context.Context, id uuid.UUID) (Store, error)
	FindStoreByNormalizedName(ctx context.Context, normalized string) (*Store, error)
	ReassignReceipts(ctx context.Context, fromStoreID, toStoreID uuid.UUID) (int64, error)
	ReassignLocations(ctx context.Context, fromStoreID, toStoreID uuid.UUID) error
	SetStoreChain(ctx context.Context, id uuid.UUID, chain string) error
	InsertStoreAlias(ctx context.Context, storeID uuid.UUID, aliasNormalized string) error
	UpdateStoreName(ctx context.Context, id uuid.UUID, name, normalized string) error
	DeleteStore(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed catalog repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) ProductNameCandidates(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name FROM products
		UNION
		SELECT alias FROM product_aliases`)
	if err != nil {
		return nil, fmt.Errorf("catalog: product candidates: %w", err)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("catalog: product candidates: %w", err)
		}
		candidates = append(candidates, name)
	}
	return candidates, rows.Err()
}

func (r *repository) StoreSnapshots(ctx context.Context) ([]StoreSnapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.name, s.chain, l.address, l.city, l.postal_code, l.vat_number
		FROM stores s
		LEFT JOIN LATERAL (
			SELECT address, city, postal_code, vat_number
			FROM store_locations
			WHERE store_id = s.id
			ORDER BY id
			LIMIT 1
		) l ON TRUE`)
	if err != nil {
		return nil, fmt.Errorf("catalog: store snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []StoreSnapshot
	for rows.Next() {
		var snap StoreSnapshot
		var address, city, postal, vat *string
		if err := rows.Scan(&snap.ID, &snap.Name, &snap.Chain, &address, &city, &postal, &vat); err != nil {
			return nil, fmt.Errorf("catalog: store snapshots: %w", err)
		}
		if address != nil || city != nil || postal != nil || vat != nil {
			snap.Location = &LocationSnapshot{Address: address, City: city, PostalCode: postal, VATNumber: vat}
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func (r *repository) FindProductExact(ctx context.Context, name string, brand *string, typeID, categoryID *uuid.UUID) (*Product, error) {
	query := `
		SELECT id, name, brand, gtin, product_type_id, category_id, created_at
		FROM products
		WHERE lower(name) = lower($1)`
	args := []interface{}{name}
	if brand != nil && strings.TrimSpace(*brand) != "" {
		query += ` AND brand IS NOT NULL AND lower(brand) = lower($2)`
		args = append(args, *brand)
	}
	// Prefer candidates agreeing with the predicted type/category.
	query += fmt.Sprintf(`
		ORDER BY (product_type_id = $%d)::int DESC, (category_id = $%d)::int DESC
		LIMIT 1`, len(args)+1, len(args)+2)
	args = append(args, nilUUID(typeID), nilUUID(categoryID))

	return r.scanProduct(r.pool.QueryRow(ctx, query, args...))
}

func (r *repository) FindProductByAlias(ctx context.Context, alias string) (*Product, error) {
	return r.scanProduct(r.pool.QueryRow(ctx, `
		SELECT p.id, p.name, p.brand, p.gtin, p.product_type_id, p.category_id, p.created_at
		FROM product_aliases a
		JOIN products p ON p.id = a.product_id
		WHERE lower(a.alias) = lower($1)
		LIMIT 1`, alias))
}

func (r *repository) ListProductsFiltered(ctx context.Context, typeID, categoryID *uuid.UUID) ([]ProductWithAliases, error) {
	query := `
		SELECT p.id, p.name, p.brand, p.gtin, p.product_type_id, p.category_id, p.created_at,
		       COALESCE(array_agg(a.alias) FILTER (WHERE a.alias IS NOT NULL), '{}')
		FROM products p
		LEFT JOIN product_aliases a ON a.product_id = p.id
		WHERE 1=1`
	args := []interface{}{}
	if typeID != nil {
		args = append(args, *typeID)
		query += fmt.Sprintf(" AND p.product_type_id = $%d", len(args))
	}
	if categoryID != nil {
		args = append(args, *categoryID)
		query += fmt.Sprintf(" AND p.category_id = $%d", len(args))
	}
	query += " GROUP BY p.id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	defer rows.Close()

	var out []ProductWithAliases
	for rows.Next() {
		var item ProductWithAliases
		p := &item.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Brand, &p.GTIN, &p.ProductTypeID, &p.CategoryID, &p.CreatedAt, &item.Aliases); err != nil {
			return nil, fmt.Errorf("catalog: list products: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *repository) CreateProduct(ctx context.Context, product *Product, aliases []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if product.ID == uuid.Nil {
			product.ID = uuid.New()
		}
		now := time.Now().UTC()
		product.CreatedAt = now
		_, err := tx.Exec(ctx, `
			INSERT INTO products (id, name, brand, gtin, product_type_id, category_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			product.ID, product.Name, product.Brand, product.GTIN, product.ProductTypeID, product.CategoryID, now)
		if err != nil {
			return fmt.Errorf("catalog: insert product: %w", err)
		}
		for _, alias := range aliases {
			alias = strings.TrimSpace(alias)
			if alias == "" {
				continue
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO product_aliases (id, product_id, alias)
				VALUES ($1, $2, $3)
				ON CONFLICT (product_id, alias) DO NOTHING`,
				uuid.New(), product.ID, alias); err != nil {
				return fmt.Errorf("catalog: insert product alias: %w", err)
			}
		}
		return nil
	})
}

func (r *repository) DefaultProductTypeID(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM product_types
		WHERE lower(name) IN ('generico', 'generic', 'unknown')
		LIMIT 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("catalog: default product type: %w", err)
	}
	id = uuid.New()
	if _, err := r.pool.Exec(ctx, `INSERT INTO product_types (id, name) VALUES ($1, 'Generico')`, id); err != nil {
		return uuid.Nil, fmt.Errorf("catalog: create default product type: %w", err)
	}
	return id, nil
}

func (r *repository) ListStoresMissingNormalized(ctx context.Context) ([]Store, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, COALESCE(name_normalized, ''), chain, created_at
		FROM stores
		WHERE name_normalized IS NULL OR name_normalized = ''`)
	if err != nil {
		return nil, fmt.Errorf("catalog: stores missing normalized: %w", err)
	}
	defer rows.Close()
	return scanStores(rows)
}

func (r *repository) SetStoreNormalized(ctx context.Context, id uuid.UUID, normalized string) error {
	_, err := r.pool.Exec(ctx, `UPDATE stores SET name_normalized = $2 WHERE id = $1`, id, normalized)
	if err != nil {
		return fmt.Errorf("catalog: set store normalized: %w", err)
	}
	return nil
}

func (r *repository) ListNormalizedDuplicates(ctx context.Context) (map[string][]Store, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, name_normalized, chain, created_at
		FROM stores
		WHERE name_normalized IN (
			SELECT name_normalized FROM stores
			WHERE name_normalized IS NOT NULL AND name_normalized <> ''
			GROUP BY name_normalized
			HAVING count(*) > 1
		)
		ORDER BY name_normalized, created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: normalized duplicates: %w", err)
	}
	defer rows.Close()

	stores, err := scanStores(rows)
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]Store)
	for _, s := range stores {
		groups[s.NameNormalized] = append(groups[s.NameNormalized], s)
	}
	return groups, nil
}

func (r *repository) CreateCategory(ctx context.Context, category *Category) error {
	if category.ID == uuid.Nil {
		category.ID = uuid.New()
	}
	if category.ParentID != nil {
		if err := r.checkCategoryCycle(ctx, category.ID, *category.ParentID); err != nil {
			return err
		}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO categories (id, name, parent_id) VALUES ($1, $2, $3)`,
		category.ID, category.Name, category.ParentID)
	if err != nil {
		return fmt.Errorf("catalog: insert category: %w", err)
	}
	return nil
}

func (r *repository) SetCategoryParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	if parentID != nil {
		if err := r.checkCategoryCycle(ctx, id, *parentID); err != nil {
			return err
		}
	}
	tag, err := r.pool.Exec(ctx, `UPDATE categories SET parent_id = $2 WHERE id = $1`, id, parentID)
	if err != nil {
		return fmt.Errorf("catalog: set category parent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// checkCategoryCycle walks parent links from the proposed parent; reaching the
// node being written means the assignment would close a loop.
func (r *repository) checkCategoryCycle(ctx context.Context, id, parentID uuid.UUID) error {
	current := parentID
	for i := 0; i < 128; i++ {
		if current == id {
			return ErrCategoryCycle
		}
		var next *uuid.UUID
		err := r.pool.QueryRow(ctx, `SELECT parent_id FROM categories WHERE id = $1`, current).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("catalog: category cycle check: %w", err)
		}
		if next == nil {
			return nil
		}
		current = *next
	}
	return ErrCategoryCycle
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "40001") {
		// Unique violation or serialization failure from a concurrent
		// rename/merge on the same pair; retryable.
		return ErrMergeConflict
	}
	return err
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) GetStore(ctx context.Context, id uuid.UUID) (Store, error) {
	var s Store
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, COALESCE(name_normalized, ''), chain, created_at
		FROM stores WHERE id = $1 FOR UPDATE`, id).
		Scan(&s.ID, &s.Name, &s.NameNormalized, &s.Chain, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Store{}, ErrNotFound
	}
	if err != nil {
		return Store{}, fmt.Errorf("catalog: get store: %w", err)
	}
	return s, nil
}

func (t *txRepository) FindStoreByNormalizedName(ctx context.Context, normalized string) (*Store, error) {
	var s Store
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, COALESCE(name_normalized, ''), chain, created_at
		FROM stores WHERE name_normalized = $1 FOR UPDATE`, normalized).
		Scan(&s.ID, &s.Name, &s.NameNormalized, &s.Chain, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: find store by normalized name: %w", err)
	}
	return &s, nil
}

func (t *txRepository) ReassignReceipts(ctx context.Context, fromStoreID, toStoreID uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE receipts SET store_id = $2 WHERE store_id = $1`, fromStoreID, toStoreID)
	if err != nil {
		return 0, fmt.Errorf("catalog: reassign receipts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *txRepository) ReassignLocations(ctx context.Context, fromStoreID, toStoreID uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `UPDATE store_locations SET store_id = $2 WHERE store_id = $1`, fromStoreID, toStoreID); err != nil {
		return fmt.Errorf("catalog: reassign locations: %w", err)
	}
	return nil
}

func (t *txRepository) SetStoreChain(ctx context.Context, id uuid.UUID, chain string) error {
	if _, err := t.tx.Exec(ctx, `UPDATE stores SET chain = $2 WHERE id = $1`, id, chain); err != nil {
		return fmt.Errorf("catalog: set store chain: %w", err)
	}
	return nil
}

func (t *txRepository) InsertStoreAlias(ctx context.Context, storeID uuid.UUID, aliasNormalized string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO store_aliases (id, store_id, alias_normalized)
		VALUES ($1, $2, $3)
		ON CONFLICT (store_id, alias_normalized) DO NOTHING`,
		uuid.New(), storeID, aliasNormalized)
	if err != nil {
		return fmt.Errorf("catalog: insert store alias: %w", err)
	}
	return nil
}

func (t *txRepository) UpdateStoreName(ctx context.Context, id uuid.UUID, name, normalized string) error {
	if _, err := t.tx.Exec(ctx, `UPDATE stores SET name = $2, name_normalized = $3 WHERE id = $1`, id, name, normalized); err != nil {
		return fmt.Errorf("catalog: update store name: %w", err)
	}
	return nil
}

func (t *txRepository) DeleteStore(ctx context.Context, id uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM stores WHERE id = $1`, id); err != nil {
		return fmt.Errorf("catalog: delete store: %w", err)
	}
	return nil
}

func (r *repository) scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Brand, &p.GTIN, &p.ProductTypeID, &p.CategoryID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: scan product: %w", err)
	}
	return &p, nil
}

func scanStores(rows pgx.Rows) ([]Store, error) {
	var stores []Store
	for rows.Next() {
		var s Store
		if err := rows.Scan(&s.ID, &s.Name, &s.NameNormalized, &s.Chain, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan store: %w", err)
		}
		stores = append(stores, s)
	}
	return stores, rows.Err()
}

func nilUUID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
