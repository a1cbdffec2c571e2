package jobs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendscan/spendscan/internal/catalog"
)

// fakeRepo implements the slice of catalog.Repository the backfill touches;
// unused methods panic through the embedded interface.
type fakeRepo struct {
	catalog.Repository

	missing    []catalog.Store
	normalized map[uuid.UUID]string
	dups       map[string][]catalog.Store

	stores   map[uuid.UUID]*catalog.Store
	receipts map[uuid.UUID]uuid.UUID
	aliases  map[uuid.UUID][]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		normalized: make(map[uuid.UUID]string),
		stores:     make(map[uuid.UUID]*catalog.Store),
		receipts:   make(map[uuid.UUID]uuid.UUID),
		aliases:    make(map[uuid.UUID][]string),
	}
}

func (f *fakeRepo) ListStoresMissingNormalized(ctx context.Context) ([]catalog.Store, error) {
	return f.missing, nil
}

func (f *fakeRepo) SetStoreNormalized(ctx context.Context, id uuid.UUID, normalized string) error {
	f.normalized[id] = normalized
	return nil
}

func (f *fakeRepo) ListNormalizedDuplicates(ctx context.Context) (map[string][]catalog.Store, error) {
	return f.dups, nil
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, catalog.TxRepository) error) error {
	return fn(ctx, &fakeTx{repo: f})
}

type fakeTx struct {
	repo *fakeRepo
}

func (t *fakeTx) GetStore(ctx context.Context, id uuid.UUID) (catalog.Store, error) {
	s, ok := t.repo.stores[id]
	if !ok {
		return catalog.Store{}, catalog.ErrNotFound
	}
	return *s, nil
}

func (t *fakeTx) FindStoreByNormalizedName(ctx context.Context, normalized string) (*catalog.Store, error) {
	return nil, nil
}

func (t *fakeTx) ReassignReceipts(ctx context.Context, fromStoreID, toStoreID uuid.UUID) (int64, error) {
	var moved int64
	for receiptID, storeID := range t.repo.receipts {
		if storeID == fromStoreID {
			t.repo.receipts[receiptID] = toStoreID
			moved++
		}
	}
	return moved, nil
}

func (t *fakeTx) ReassignLocations(ctx context.Context, fromStoreID, toStoreID uuid.UUID) error {
	return nil
}

func (t *fakeTx) SetStoreChain(ctx context.Context, id uuid.UUID, chain string) error {
	if s, ok := t.repo.stores[id]; ok {
		s.Chain = &chain
	}
	return nil
}

func (t *fakeTx) InsertStoreAlias(ctx context.Context, storeID uuid.UUID, aliasNormalized string) error {
	t.repo.aliases[storeID] = append(t.repo.aliases[storeID], aliasNormalized)
	return nil
}

func (t *fakeTx) UpdateStoreName(ctx context.Context, id uuid.UUID, name, normalized string) error {
	return nil
}

func (t *fakeTx) DeleteStore(ctx context.Context, id uuid.UUID) error {
	delete(t.repo.stores, id)
	return nil
}

func runBackfill(t *testing.T, repo *fakeRepo, payload StoreBackfillPayload) {
	t.Helper()
	job := NewStoreBackfillJob(repo, catalog.NewStoreService(repo, nil), nil, nil)
	task, err := NewStoreBackfillTask(payload)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestStoreBackfillFillsNormalizedNames(t *testing.T) {
	repo := newFakeRepo()
	id := uuid.New()
	repo.missing = []catalog.Store{{ID: id, Name: "Carrefour  Market"}}

	runBackfill(t, repo, StoreBackfillPayload{})
	assert.Equal(t, "carrefour market", repo.normalized[id])
}

func TestStoreBackfillMergesDuplicateGroups(t *testing.T) {
	repo := newFakeRepo()
	oldest := catalog.Store{ID: uuid.New(), Name: "Coop", NameNormalized: "coop"}
	dup1 := catalog.Store{ID: uuid.New(), Name: "COOP", NameNormalized: "coop"}
	dup2 := catalog.Store{ID: uuid.New(), Name: "coop ", NameNormalized: "coop"}
	for _, s := range []catalog.Store{oldest, dup1, dup2} {
		clone := s
		repo.stores[s.ID] = &clone
	}
	r1, r2 := uuid.New(), uuid.New()
	repo.receipts[r1] = dup1.ID
	repo.receipts[r2] = dup2.ID
	repo.dups = map[string][]catalog.Store{"coop": {oldest, dup1, dup2}}

	runBackfill(t, repo, StoreBackfillPayload{})

	assert.Contains(t, repo.stores, oldest.ID)
	assert.NotContains(t, repo.stores, dup1.ID)
	assert.NotContains(t, repo.stores, dup2.ID)
	assert.Equal(t, oldest.ID, repo.receipts[r1])
	assert.Equal(t, oldest.ID, repo.receipts[r2])
}

func TestStoreBackfillDryRunWritesNothing(t *testing.T) {
	repo := newFakeRepo()
	id := uuid.New()
	repo.missing = []catalog.Store{{ID: id, Name: "Esselunga"}}
	a := catalog.Store{ID: uuid.New(), NameNormalized: "lidl"}
	b := catalog.Store{ID: uuid.New(), NameNormalized: "lidl"}
	for _, s := range []catalog.Store{a, b} {
		clone := s
		repo.stores[s.ID] = &clone
	}
	repo.dups = map[string][]catalog.Store{"lidl": {a, b}}

	runBackfill(t, repo, StoreBackfillPayload{DryRun: true})

	assert.Empty(t, repo.normalized)
	assert.Len(t, repo.stores, 2)
}

func TestStoreBackfillRejectsMalformedPayload(t *testing.T) {
	job := NewStoreBackfillJob(newFakeRepo(), nil, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskStoreBackfill, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
