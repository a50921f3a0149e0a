package sqlite_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/estimate"
	"github.com/dvloznov/grocery-carbon/internal/infra/sqlite"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

func setupStore(t *testing.T) (*sqlite.Store, context.Context) {
	t.Helper()

	ctx := logger.WithContext(context.Background(), zerolog.Nop())
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "data", "carbon.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close(db) })
	return sqlite.NewStore(db), ctx
}

func ptr(f float64) *float64 { return &f }

func TestStore_TransactionRoundTrip(t *testing.T) {
	store, ctx := setupStore(t)

	when := time.Date(2024, 5, 17, 9, 30, 12, 345678000, time.UTC)
	in := &domain.Transaction{
		ID:          "tx-1",
		UserID:      "user-1",
		AmountMinor: 1299,
		Currency:    "GBP",
		MerchantID:  "m-1",
		Datetime:    when,
	}
	if err := store.UpsertTransaction(ctx, in); err != nil {
		t.Fatalf("UpsertTransaction() error = %v", err)
	}

	got, err := store.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if got.AmountMinor != 1299 || got.UserID != "user-1" || got.MerchantID != "m-1" || got.Currency != "GBP" {
		t.Errorf("GetTransaction() = %+v", got)
	}
	if !got.Datetime.Equal(when) {
		t.Errorf("Datetime = %v, want %v", got.Datetime, when)
	}
	if got.CO2e != nil {
		t.Errorf("CO2e = %v, want nil", *got.CO2e)
	}

	_, err = store.GetTransaction(ctx, "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetTransaction(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_ReceiptRoundTrip(t *testing.T) {
	store, ctx := setupStore(t)

	in := &domain.Receipt{
		TransactionID: "tx-1",
		Items: []domain.ReceiptItem{
			{Name: "Semi skimmed milk", Weight: ptr(2.272), Price: 1.65},
			{Name: "Sourdough", Price: 2.80},
			{Name: "Bananas", Weight: ptr(0.9), Price: 0.95},
		},
	}
	if err := store.SaveReceipt(ctx, in); err != nil {
		t.Fatalf("SaveReceipt() error = %v", err)
	}

	got, err := store.GetReceipt(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetReceipt() error = %v", err)
	}
	if got == nil || len(got.Items) != 3 {
		t.Fatalf("GetReceipt() = %+v, want 3 items", got)
	}
	for i, want := range in.Items {
		it := got.Items[i]
		if it.Name != want.Name || it.Price != want.Price || it.HasWeight() != want.HasWeight() {
			t.Errorf("item %d = %+v, want %+v", i, it, want)
		}
	}

	if err := store.DeleteReceipt(ctx, "tx-1"); err != nil {
		t.Fatalf("DeleteReceipt() error = %v", err)
	}
	got, err = store.GetReceipt(ctx, "tx-1")
	if err != nil || got != nil {
		t.Errorf("GetReceipt() after delete = %+v, %v, want nil, nil", got, err)
	}
}

func TestStore_Merchant(t *testing.T) {
	store, ctx := setupStore(t)

	if err := store.UpsertMerchant(ctx, &domain.Merchant{ID: "m-1", Name: "Grocer", MCC: 5411}); err != nil {
		t.Fatalf("UpsertMerchant() error = %v", err)
	}
	if err := store.UpsertMerchant(ctx, &domain.Merchant{ID: "m-1", Name: "Grocer Ltd", MCC: 5499}); err != nil {
		t.Fatalf("UpsertMerchant(update) error = %v", err)
	}

	got, err := store.GetMerchant(ctx, "m-1")
	if err != nil {
		t.Fatalf("GetMerchant() error = %v", err)
	}
	if got.Name != "Grocer Ltd" || got.MCC != 5499 {
		t.Errorf("GetMerchant() = %+v", got)
	}

	got, err = store.GetMerchant(ctx, "unknown")
	if err != nil || got != nil {
		t.Errorf("GetMerchant(unknown) = %+v, %v, want nil, nil", got, err)
	}
}

func TestStore_SaveEstimate(t *testing.T) {
	store, ctx := setupStore(t)
	if err := store.UpsertTransaction(ctx, &domain.Transaction{ID: "tx-1", AmountMinor: 1000}); err != nil {
		t.Fatalf("UpsertTransaction() error = %v", err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &domain.Estimate{ID: "e-1", TransactionID: "tx-1", Method: domain.MethodItem, CO2e: 12.5, Model: "hash-v1", CreatedAt: base}
	second := &domain.Estimate{ID: "e-2", TransactionID: "tx-1", Method: domain.MethodMCC, CO2e: 5.18, CreatedAt: base.Add(time.Microsecond)}
	for _, e := range []*domain.Estimate{first, second} {
		if err := store.SaveEstimate(ctx, e); err != nil {
			t.Fatalf("SaveEstimate(%s) error = %v", e.ID, err)
		}
	}

	latest, err := store.LatestEstimate(ctx, "tx-1")
	if err != nil {
		t.Fatalf("LatestEstimate() error = %v", err)
	}
	if latest.ID != "e-2" || latest.Method != domain.MethodMCC || !latest.CreatedAt.Equal(second.CreatedAt) {
		t.Errorf("LatestEstimate() = %+v, want e-2", latest)
	}

	tx, _ := store.GetTransaction(ctx, "tx-1")
	if tx.CO2e == nil || *tx.CO2e != 5.18 {
		t.Errorf("transaction co2e = %v, want 5.18", tx.CO2e)
	}

	all, err := store.ListEstimates(ctx, "tx-1")
	if err != nil {
		t.Fatalf("ListEstimates() error = %v", err)
	}
	if len(all) != 2 || all[1].Model != "hash-v1" {
		t.Errorf("ListEstimates() = %+v", all)
	}

	none, err := store.LatestEstimate(ctx, "tx-other")
	if err != nil || none != nil {
		t.Errorf("LatestEstimate(unknown) = %+v, %v, want nil, nil", none, err)
	}
}

func TestStore_SaveEstimateUnknownTransaction(t *testing.T) {
	store, ctx := setupStore(t)

	err := store.SaveEstimate(ctx, &domain.Estimate{ID: "e-1", TransactionID: "missing", Method: domain.MethodMCC, CO2e: 1, CreatedAt: time.Now()})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SaveEstimate() error = %v, want ErrNotFound", err)
	}
	all, err := store.ListEstimates(ctx, "missing")
	if err != nil {
		t.Fatalf("ListEstimates() error = %v", err)
	}
	if len(all) != 0 {
		t.Errorf("estimate rows = %d, want 0 after rollback", len(all))
	}
}

func TestStore_MerchantHistory(t *testing.T) {
	store, ctx := setupStore(t)

	txs := []*domain.Transaction{
		{ID: "a", UserID: "u1", MerchantID: "m", AmountMinor: 2000, CO2e: ptr(10)},
		{ID: "b", UserID: "u1", MerchantID: "m", AmountMinor: 500, CO2e: ptr(2)},
		{ID: "c", UserID: "u2", MerchantID: "m", AmountMinor: 1000, CO2e: ptr(50)},
		{ID: "d", UserID: "u1", MerchantID: "m", AmountMinor: 700},
		{ID: "e", UserID: "u1", MerchantID: "other", AmountMinor: 700, CO2e: ptr(3)},
		{ID: "refund", UserID: "u1", MerchantID: "m", AmountMinor: -300, CO2e: ptr(0)},
	}
	for _, tx := range txs {
		if err := store.UpsertTransaction(ctx, tx); err != nil {
			t.Fatalf("UpsertTransaction(%s) error = %v", tx.ID, err)
		}
	}

	tests := []struct {
		name string
		q    domain.HistoryQuery
		want domain.MerchantHistory
	}{
		{"all users", domain.HistoryQuery{MerchantID: "m"}, domain.MerchantHistory{CO2e: 62, SpendMinor: 3500, Count: 3}},
		{"scoped to user", domain.HistoryQuery{MerchantID: "m", UserID: "u1"}, domain.MerchantHistory{CO2e: 12, SpendMinor: 2500, Count: 2}},
		{"excluding transaction", domain.HistoryQuery{MerchantID: "m", UserID: "u1", ExcludeTransactionID: "a"}, domain.MerchantHistory{CO2e: 2, SpendMinor: 500, Count: 1}},
		{"unknown merchant", domain.HistoryQuery{MerchantID: "nobody"}, domain.MerchantHistory{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.MerchantHistory(ctx, tt.q)
			if err != nil {
				t.Fatalf("MerchantHistory() error = %v", err)
			}
			if got.Count != tt.want.Count || got.SpendMinor != tt.want.SpendMinor || math.Abs(got.CO2e-tt.want.CO2e) > 1e-9 {
				t.Errorf("MerchantHistory() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStore_ListTransactionIDs(t *testing.T) {
	store, ctx := setupStore(t)

	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	txs := []*domain.Transaction{
		{ID: "late", UserID: "u1", AmountMinor: 100, Datetime: base.Add(2 * time.Hour)},
		{ID: "early", UserID: "u1", AmountMinor: 100, Datetime: base},
		{ID: "done", UserID: "u1", AmountMinor: 100, Datetime: base.Add(time.Hour), CO2e: ptr(1)},
		{ID: "other", UserID: "u2", AmountMinor: 100, Datetime: base},
	}
	for _, tx := range txs {
		if err := store.UpsertTransaction(ctx, tx); err != nil {
			t.Fatalf("UpsertTransaction(%s) error = %v", tx.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter domain.TransactionFilter
		want   []string
	}{
		{"user in time order", domain.TransactionFilter{UserID: "u1"}, []string{"early", "done", "late"}},
		{"unestimated only", domain.TransactionFilter{UserID: "u1", UnestimatedOnly: true}, []string{"early", "late"}},
		{"limited", domain.TransactionFilter{UserID: "u1", Limit: 1}, []string{"early"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListTransactionIDs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTransactionIDs() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListTransactionIDs() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("ListTransactionIDs()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStore_Categories(t *testing.T) {
	store, ctx := setupStore(t)

	entries := []domain.CategoryEntry{
		{Dataset: "items", Name: "Beef", Factor: 59.6, Vector: domain.Vector{1, 0}, Model: "m1"},
		{Dataset: "items", Name: "Apples", Factor: 0.43, Vector: domain.Vector{0, 1}, Model: "m1"},
		{Dataset: "items", Name: "Beef", Factor: 59.6, Vector: domain.Vector{0.5, 0.5, 0}, Model: "m2"},
	}
	if err := store.SaveCategories(ctx, entries); err != nil {
		t.Fatalf("SaveCategories() error = %v", err)
	}
	if err := store.SaveCategories(ctx, []domain.CategoryEntry{
		{Dataset: "items", Name: "Beef", Factor: 60, Vector: domain.Vector{0.9, 0.1}, Model: "m1"},
	}); err != nil {
		t.Fatalf("SaveCategories(update) error = %v", err)
	}

	got, err := store.ListCategories(ctx, "items", "m1")
	if err != nil {
		t.Fatalf("ListCategories() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListCategories() returned %d entries, want 2", len(got))
	}
	if got[0].Name != "Apples" || got[1].Name != "Beef" {
		t.Errorf("ListCategories() order = %q, %q", got[0].Name, got[1].Name)
	}
	if got[1].Factor != 60 || got[1].Vector[0] != 0.9 {
		t.Errorf("updated Beef = %+v", got[1])
	}

	other, err := store.ListCategories(ctx, "items", "m2")
	if err != nil {
		t.Fatalf("ListCategories(m2) error = %v", err)
	}
	if len(other) != 1 || len(other[0].Vector) != 3 {
		t.Errorf("ListCategories(m2) = %+v", other)
	}
}

func TestEmbeddingCache(t *testing.T) {
	store, ctx := setupStore(t)
	cache := sqlite.NewEmbeddingCache(store.DB())

	if _, found, err := cache.Get(ctx, "k"); err != nil || found {
		t.Fatalf("Get() on empty cache = found %v, err %v", found, err)
	}
	if err := cache.Set(ctx, "k", domain.Vector{0.25, -0.5}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := cache.Set(ctx, "k", domain.Vector{0.75, 0.5}); err != nil {
		t.Fatalf("Set(update) error = %v", err)
	}

	v, found, err := cache.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || len(v) != 2 || v[0] != 0.75 {
		t.Errorf("Get() = %v, found=%v", v, found)
	}

	if _, _, err := cache.Get(ctx, " "); err == nil {
		t.Error("Get() with blank key expected error")
	}
}

func TestStore_EngineRoundTrip(t *testing.T) {
	store, ctx := setupStore(t)

	if err := store.UpsertMerchant(ctx, &domain.Merchant{ID: "m", MCC: 5411}); err != nil {
		t.Fatalf("UpsertMerchant() error = %v", err)
	}
	if err := store.UpsertTransaction(ctx, &domain.Transaction{ID: "tx", AmountMinor: 4210, MerchantID: "m"}); err != nil {
		t.Fatalf("UpsertTransaction() error = %v", err)
	}

	e, err := estimate.New(estimate.Options{Store: store, Methods: domain.DefaultMethods()})
	if err != nil {
		t.Fatalf("estimate.New() error = %v", err)
	}
	res, err := e.Estimate(ctx, "tx")
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}

	latest, err := store.LatestEstimate(ctx, "tx")
	if err != nil {
		t.Fatalf("LatestEstimate() error = %v", err)
	}
	if latest.ID != res.Estimate.ID || latest.CO2e != res.CO2e || latest.Method != domain.MethodMCC {
		t.Errorf("LatestEstimate() = %+v, want %+v", latest, res.Estimate)
	}
	if !latest.CreatedAt.Equal(res.Estimate.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", latest.CreatedAt, res.Estimate.CreatedAt)
	}

	tx, err := store.GetTransaction(ctx, "tx")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if tx.CO2e == nil || *tx.CO2e != res.CO2e {
		t.Errorf("transaction co2e = %v, want %v", tx.CO2e, res.CO2e)
	}
}
