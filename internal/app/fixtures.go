package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// Fixtures is a YAML document of merchants and transactions, with
// optional receipts, to load into a store.
type Fixtures struct {
	Merchants    []MerchantFixture    `yaml:"merchants"`
	Transactions []TransactionFixture `yaml:"transactions"`
}

type MerchantFixture struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	MCC  int    `yaml:"mcc"`
}

type TransactionFixture struct {
	ID          string        `yaml:"id"`
	UserID      string        `yaml:"user_id"`
	AmountMinor int64         `yaml:"amount_minor"`
	Currency    string        `yaml:"currency"`
	MerchantID  string        `yaml:"merchant_id"`
	Datetime    time.Time     `yaml:"datetime"`
	Receipt     []ItemFixture `yaml:"receipt"`
}

type ItemFixture struct {
	Name   string   `yaml:"name"`
	Weight *float64 `yaml:"weight"`
	Price  float64  `yaml:"price"`
}

// ImportSummary counts imported rows.
type ImportSummary struct {
	Merchants    int
	Transactions int
	Receipts     int
}

// ReadFixtures parses a fixtures file.
func ReadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ReadFixtures: %w", err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ReadFixtures: parse %s: %w: %w", path, domain.ErrInvalidInput, err)
	}
	return &f, nil
}

// Import writes fixtures to store. Merchants go first so transactions can
// reference them. Transactions without a receipt keep any stored one.
func Import(ctx context.Context, store Backend, f *Fixtures) (ImportSummary, error) {
	var s ImportSummary

	for _, m := range f.Merchants {
		if m.ID == "" {
			return s, fmt.Errorf("Import: merchant without id: %w", domain.ErrInvalidInput)
		}
		if err := store.UpsertMerchant(ctx, &domain.Merchant{ID: m.ID, Name: m.Name, MCC: m.MCC}); err != nil {
			return s, fmt.Errorf("Import: merchant %s: %w", m.ID, err)
		}
		s.Merchants++
	}

	for _, t := range f.Transactions {
		if t.ID == "" {
			return s, fmt.Errorf("Import: transaction without id: %w", domain.ErrInvalidInput)
		}
		if t.AmountMinor < 0 {
			return s, fmt.Errorf("Import: transaction %s: negative amount: %w", t.ID, domain.ErrInvalidInput)
		}
		dt := t.Datetime
		if dt.IsZero() {
			dt = time.Now().UTC()
		}
		tx := &domain.Transaction{
			ID:          t.ID,
			UserID:      t.UserID,
			AmountMinor: t.AmountMinor,
			Currency:    t.Currency,
			MerchantID:  t.MerchantID,
			Datetime:    dt,
		}
		if err := store.UpsertTransaction(ctx, tx); err != nil {
			return s, fmt.Errorf("Import: transaction %s: %w", t.ID, err)
		}
		s.Transactions++

		if len(t.Receipt) == 0 {
			continue
		}
		r := &domain.Receipt{TransactionID: t.ID, Items: make([]domain.ReceiptItem, len(t.Receipt))}
		for i, it := range t.Receipt {
			item := domain.ReceiptItem{Name: it.Name, Weight: it.Weight, Price: it.Price}
			if err := item.Validate(); err != nil {
				return s, fmt.Errorf("Import: transaction %s: %w", t.ID, err)
			}
			r.Items[i] = item
		}
		if err := store.SaveReceipt(ctx, r); err != nil {
			return s, fmt.Errorf("Import: receipt %s: %w", t.ID, err)
		}
		s.Receipts++
	}
	return s, nil
}
