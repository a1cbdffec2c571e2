package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// mockRepo is an in-memory Repository with SQL-like semantics, shared by the
// resolver, matcher and merge service tests.
type mockRepo struct {
	candidates     []string
	candidateCalls int
	snapshots      []StoreSnapshot
	snapshotCalls  int

	products      []ProductWithAliases
	defaultTypeID uuid.UUID

	stores   map[uuid.UUID]*Store
	aliases  map[uuid.UUID][]string
	receipts map[uuid.UUID]uuid.UUID // receipt id -> store id

	created []createdProduct
	txErr   error
}

type createdProduct struct {
	product Product
	aliases []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		defaultTypeID: uuid.New(),
		stores:        make(map[uuid.UUID]*Store),
		aliases:       make(map[uuid.UUID][]string),
		receipts:      make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *mockRepo) ProductNameCandidates(ctx context.Context) ([]string, error) {
	m.candidateCalls++
	return m.candidates, nil
}

func (m *mockRepo) StoreSnapshots(ctx context.Context) ([]StoreSnapshot, error) {
	m.snapshotCalls++
	return m.snapshots, nil
}

func (m *mockRepo) FindProductExact(ctx context.Context, name string, brand *string, typeID, categoryID *uuid.UUID) (*Product, error) {
	var best *Product
	bestRank := -1
	for i := range m.products {
		p := m.products[i].Product
		if !strings.EqualFold(p.Name, name) {
			continue
		}
		if brand != nil && strings.TrimSpace(*brand) != "" {
			if p.Brand == nil || !strings.EqualFold(*p.Brand, *brand) {
				continue
			}
		}
		rank := 0
		if typeID != nil && p.ProductTypeID == *typeID {
			rank += 2
		}
		if categoryID != nil && p.CategoryID != nil && *p.CategoryID == *categoryID {
			rank++
		}
		if rank > bestRank {
			bestRank = rank
			clone := p
			best = &clone
		}
	}
	return best, nil
}

func (m *mockRepo) FindProductByAlias(ctx context.Context, alias string) (*Product, error) {
	for i := range m.products {
		for _, a := range m.products[i].Aliases {
			if strings.EqualFold(a, alias) {
				clone := m.products[i].Product
				return &clone, nil
			}
		}
	}
	return nil, nil
}

func (m *mockRepo) ListProductsFiltered(ctx context.Context, typeID, categoryID *uuid.UUID) ([]ProductWithAliases, error) {
	var out []ProductWithAliases
	for _, item := range m.products {
		if typeID != nil && item.Product.ProductTypeID != *typeID {
			continue
		}
		if categoryID != nil && (item.Product.CategoryID == nil || *item.Product.CategoryID != *categoryID) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (m *mockRepo) CreateProduct(ctx context.Context, product *Product, aliases []string) error {
	m.created = append(m.created, createdProduct{product: *product, aliases: aliases})
	m.products = append(m.products, ProductWithAliases{Product: *product, Aliases: aliases})
	return nil
}

func (m *mockRepo) DefaultProductTypeID(ctx context.Context) (uuid.UUID, error) {
	return m.defaultTypeID, nil
}

func (m *mockRepo) ListStoresMissingNormalized(ctx context.Context) ([]Store, error) {
	var out []Store
	for _, s := range m.stores {
		if s.NameNormalized == "" {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockRepo) SetStoreNormalized(ctx context.Context, id uuid.UUID, normalized string) error {
	if s, ok := m.stores[id]; ok {
		s.NameNormalized = normalized
	}
	return nil
}

func (m *mockRepo) ListNormalizedDuplicates(ctx context.Context) (map[string][]Store, error) {
	byNorm := make(map[string][]Store)
	for _, s := range m.stores {
		if s.NameNormalized != "" {
			byNorm[s.NameNormalized] = append(byNorm[s.NameNormalized], *s)
		}
	}
	for norm, group := range byNorm {
		if len(group) < 2 {
			delete(byNorm, norm)
		}
	}
	return byNorm, nil
}

func (m *mockRepo) CreateCategory(ctx context.Context, category *Category) error { return nil }

func (m *mockRepo) SetCategoryParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	return nil
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	return fn(ctx, &mockTxRepo{repo: m})
}

type mockTxRepo struct {
	repo *mockRepo
}

func (t *mockTxRepo) GetStore(ctx context.Context, id uuid.UUID) (Store, error) {
	s, ok := t.repo.stores[id]
	if !ok {
		return Store{}, ErrNotFound
	}
	return *s, nil
}

func (t *mockTxRepo) FindStoreByNormalizedName(ctx context.Context, normalized string) (*Store, error) {
	for _, s := range t.repo.stores {
		if s.NameNormalized == normalized {
			clone := *s
			return &clone, nil
		}
	}
	return nil, nil
}

func (t *mockTxRepo) ReassignReceipts(ctx context.Context, fromStoreID, toStoreID uuid.UUID) (int64, error) {
	var moved int64
	for receiptID, storeID := range t.repo.receipts {
		if storeID == fromStoreID {
			t.repo.receipts[receiptID] = toStoreID
			moved++
		}
	}
	return moved, nil
}

func (t *mockTxRepo) ReassignLocations(ctx context.Context, fromStoreID, toStoreID uuid.UUID) error {
	return nil
}

func (t *mockTxRepo) SetStoreChain(ctx context.Context, id uuid.UUID, chain string) error {
	if s, ok := t.repo.stores[id]; ok {
		s.Chain = &chain
	}
	return nil
}

func (t *mockTxRepo) InsertStoreAlias(ctx context.Context, storeID uuid.UUID, aliasNormalized string) error {
	for _, existing := range t.repo.aliases[storeID] {
		if existing == aliasNormalized {
			return nil
		}
	}
	t.repo.aliases[storeID] = append(t.repo.aliases[storeID], aliasNormalized)
	return nil
}

func (t *mockTxRepo) UpdateStoreName(ctx context.Context, id uuid.UUID, name, normalized string) error {
	if s, ok := t.repo.stores[id]; ok {
		s.Name = name
		s.NameNormalized = normalized
	}
	return nil
}

func (t *mockTxRepo) DeleteStore(ctx context.Context, id uuid.UUID) error {
	delete(t.repo.stores, id)
	return nil
}

func strPtr(s string) *string { return &s }
