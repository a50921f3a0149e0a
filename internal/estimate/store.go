package estimate

import (
	"context"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// Store is the persistence the engine reads from and writes to.
type Store interface {
	// GetTransaction returns domain.ErrNotFound for unknown ids.
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// GetReceipt returns nil, nil when the transaction has no receipt.
	GetReceipt(ctx context.Context, transactionID string) (*domain.Receipt, error)

	// GetMerchant returns nil, nil for unknown merchants.
	GetMerchant(ctx context.Context, id string) (*domain.Merchant, error)

	// LatestEstimate returns the newest estimate, or nil, nil if none exists.
	LatestEstimate(ctx context.Context, transactionID string) (*domain.Estimate, error)

	// MerchantHistory sums co2e and positive spend of a merchant's
	// estimated transactions.
	MerchantHistory(ctx context.Context, q domain.HistoryQuery) (domain.MerchantHistory, error)

	// SaveEstimate inserts est and sets the transaction's co2e in one
	// atomic write.
	SaveEstimate(ctx context.Context, est *domain.Estimate) error
}

// TransactionLister enumerates transactions for batch estimation.
type TransactionLister interface {
	ListTransactionIDs(ctx context.Context, filter domain.TransactionFilter) ([]string, error)
}
