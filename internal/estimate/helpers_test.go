package estimate_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dvloznov/grocery-carbon/internal/catalogue"
	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/embedding"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

// fakeStore is an in-memory estimate.Store. Func fields override the
// matching method when set.
type fakeStore struct {
	mu           sync.Mutex
	transactions map[string]*domain.Transaction
	receipts     map[string]*domain.Receipt
	merchants    map[string]*domain.Merchant
	estimates    []*domain.Estimate
	saves        int

	MerchantHistoryFunc func(ctx context.Context, q domain.HistoryQuery) (domain.MerchantHistory, error)
	// BeforeGetTransaction runs ahead of every transaction lookup; an
	// error fails the lookup.
	BeforeGetTransaction func(ctx context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		transactions: map[string]*domain.Transaction{},
		receipts:     map[string]*domain.Receipt{},
		merchants:    map[string]*domain.Merchant{},
	}
}

func (s *fakeStore) addTransaction(tx domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = &tx
}

func (s *fakeStore) addReceipt(txID string, items ...domain.ReceiptItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[txID] = &domain.Receipt{TransactionID: txID, Items: items}
}

func (s *fakeStore) deleteReceipt(txID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.receipts, txID)
}

func (s *fakeStore) addMerchant(m domain.Merchant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants[m.ID] = &m
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *fakeStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if s.BeforeGetTransaction != nil {
		if err := s.BeforeGetTransaction(ctx); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *fakeStore) GetReceipt(ctx context.Context, transactionID string) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipts[transactionID], nil
}

func (s *fakeStore) GetMerchant(ctx context.Context, id string) (*domain.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merchants[id], nil
}

func (s *fakeStore) LatestEstimate(ctx context.Context, transactionID string) (*domain.Estimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Estimate
	for _, e := range s.estimates {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	cp := *out[0]
	return &cp, nil
}

func (s *fakeStore) MerchantHistory(ctx context.Context, q domain.HistoryQuery) (domain.MerchantHistory, error) {
	if s.MerchantHistoryFunc != nil {
		return s.MerchantHistoryFunc(ctx, q)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var h domain.MerchantHistory
	for _, tx := range s.transactions {
		if tx.MerchantID != q.MerchantID || tx.ID == q.ExcludeTransactionID || tx.CO2e == nil || tx.AmountMinor <= 0 {
			continue
		}
		if q.UserID != "" && tx.UserID != q.UserID {
			continue
		}
		h.CO2e += *tx.CO2e
		h.SpendMinor += tx.AmountMinor
		h.Count++
	}
	return h, nil
}

func (s *fakeStore) SaveEstimate(ctx context.Context, est *domain.Estimate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[est.TransactionID]
	if !ok {
		return domain.ErrNotFound
	}
	cp := *est
	s.estimates = append(s.estimates, &cp)
	co2e := est.CO2e
	tx.CO2e = &co2e
	s.saves++
	return nil
}

func ptr(f float64) *float64 { return &f }

func quietContext() context.Context {
	return logger.WithContext(context.Background(), zerolog.Nop())
}

// buildCatalogue embeds entry names with p so receipt items named exactly
// like an entry match it with score 1.
func buildCatalogue(t *testing.T, p embedding.Provider, name string, unit domain.Unit, entries []catalogue.DatasetEntry) *catalogue.Catalogue {
	t.Helper()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	vs, err := p.EmbedBatch(context.Background(), names[0], names[1:]...)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	out := make([]domain.CategoryEntry, len(entries))
	for i, e := range entries {
		out[i] = domain.CategoryEntry{Dataset: name, Name: e.Name, Factor: e.Factor, Vector: vs[i], Model: p.Model()}
	}
	cat, err := catalogue.New(name, unit, p.Model(), out)
	if err != nil {
		t.Fatalf("catalogue.New() error = %v", err)
	}
	return cat
}

func testCatalogues(t *testing.T, p embedding.Provider) (items, categories *catalogue.Catalogue) {
	items = buildCatalogue(t, p, "items", domain.UnitKilogram, []catalogue.DatasetEntry{
		{Name: "Beef", Factor: 59.6},
		{Name: "Milk", Factor: 3.15},
		{Name: "Rice", Factor: 4.45},
	})
	categories = buildCatalogue(t, p, "categories", domain.UnitCurrency, []catalogue.DatasetEntry{
		{Name: "Dairy products", Factor: 0.766208},
		{Name: "Fruit and vegetables", Factor: 1.636785},
	})
	return items, categories
}

// failingProvider is an embedder whose upstream is down.
type failingProvider struct {
	*embedding.HashProvider
}

func (f *failingProvider) Embed(ctx context.Context, text string) (domain.Vector, error) {
	return nil, domain.ErrUpstreamUnavailable
}
