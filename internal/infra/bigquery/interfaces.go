package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/grocery-carbon/internal/catalogue"
	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/estimate"
)

const (
	transactionsTable = "transactions"
	merchantsTable    = "merchants"
	receiptsTable     = "receipts"
	estimatesTable    = "estimates"
	categoriesTable   = "categories"
)

// Dataset names the project and dataset holding the tables.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Table returns the backquoted, fully qualified name of table.
func (d Dataset) Table(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", d.ProjectID, d.DatasetID, table)
}

// BigQueryStore is the BigQuery implementation of estimate.Store. It holds a
// shared client to avoid creating a new connection for each operation.
type BigQueryStore struct {
	client *bigquery.Client
	ds     Dataset
}

var (
	_ estimate.Store             = (*BigQueryStore)(nil)
	_ estimate.TransactionLister = (*BigQueryStore)(nil)
	_ catalogue.Repository       = (*BigQueryStore)(nil)
)

// NewBigQueryStore creates a store with its own client.
func NewBigQueryStore(ctx context.Context, projectID, datasetID string) (*BigQueryStore, error) {
	if projectID == "" || datasetID == "" {
		return nil, fmt.Errorf("NewBigQueryStore: project and dataset are required: %w", domain.ErrConfiguration)
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryStore: creating client: %w", err)
	}
	return NewBigQueryStoreWithClient(client, Dataset{ProjectID: projectID, DatasetID: datasetID}), nil
}

// NewBigQueryStoreWithClient wraps an existing client.
func NewBigQueryStoreWithClient(client *bigquery.Client, ds Dataset) *BigQueryStore {
	return &BigQueryStore{client: client, ds: ds}
}

// Close closes the BigQuery client connection.
func (s *BigQueryStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *BigQueryStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return GetTransactionWithClient(ctx, s.client, s.ds, id)
}

func (s *BigQueryStore) GetReceipt(ctx context.Context, transactionID string) (*domain.Receipt, error) {
	return GetReceiptWithClient(ctx, s.client, s.ds, transactionID)
}

func (s *BigQueryStore) GetMerchant(ctx context.Context, id string) (*domain.Merchant, error) {
	return GetMerchantWithClient(ctx, s.client, s.ds, id)
}

func (s *BigQueryStore) LatestEstimate(ctx context.Context, transactionID string) (*domain.Estimate, error) {
	return LatestEstimateWithClient(ctx, s.client, s.ds, transactionID)
}

func (s *BigQueryStore) MerchantHistory(ctx context.Context, q domain.HistoryQuery) (domain.MerchantHistory, error) {
	return MerchantHistoryWithClient(ctx, s.client, s.ds, q)
}

func (s *BigQueryStore) SaveEstimate(ctx context.Context, est *domain.Estimate) error {
	return SaveEstimateWithClient(ctx, s.client, s.ds, est)
}

func (s *BigQueryStore) ListTransactionIDs(ctx context.Context, filter domain.TransactionFilter) ([]string, error) {
	return ListTransactionIDsWithClient(ctx, s.client, s.ds, filter)
}

func (s *BigQueryStore) UpsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	return UpsertTransactionWithClient(ctx, s.client, s.ds, tx)
}

func (s *BigQueryStore) UpsertMerchant(ctx context.Context, m *domain.Merchant) error {
	return UpsertMerchantWithClient(ctx, s.client, s.ds, m)
}

func (s *BigQueryStore) SaveReceipt(ctx context.Context, r *domain.Receipt) error {
	return SaveReceiptWithClient(ctx, s.client, s.ds, r)
}

func (s *BigQueryStore) DeleteReceipt(ctx context.Context, transactionID string) error {
	return DeleteReceiptWithClient(ctx, s.client, s.ds, transactionID)
}

func (s *BigQueryStore) ListCategories(ctx context.Context, dataset, model string) ([]domain.CategoryEntry, error) {
	return ListCategoriesWithClient(ctx, s.client, s.ds, dataset, model)
}

func (s *BigQueryStore) SaveCategories(ctx context.Context, entries []domain.CategoryEntry) error {
	return SaveCategoriesWithClient(ctx, s.client, s.ds, entries)
}

// runDML runs a statement or script and waits for it to finish.
func runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
