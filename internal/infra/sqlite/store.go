package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dvloznov/grocery-carbon/internal/catalogue"
	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/estimate"
)

// datetimeLayout sorts lexically in chronological order.
const datetimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Store persists transactions, receipts, estimates and catalogue vectors in SQLite.
type Store struct {
	db *gorm.DB
}

var (
	_ estimate.Store             = (*Store)(nil)
	_ estimate.TransactionLister = (*Store)(nil)
	_ catalogue.Repository       = (*Store)(nil)
)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for components sharing the database, such as the embedding cache.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var row TransactionModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("GetTransaction: %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetTransaction: query: %w", err)
	}
	return toTransaction(row)
}

func (s *Store) GetReceipt(ctx context.Context, transactionID string) (*domain.Receipt, error) {
	var row ReceiptModel
	if err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetReceipt: query: %w", err)
	}
	items, err := domain.UnmarshalItems([]byte(row.Items))
	if err != nil {
		return nil, fmt.Errorf("GetReceipt: decode items: %w", err)
	}
	return &domain.Receipt{TransactionID: row.TransactionID, Items: items}, nil
}

func (s *Store) GetMerchant(ctx context.Context, id string) (*domain.Merchant, error) {
	var row MerchantModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetMerchant: query: %w", err)
	}
	return &domain.Merchant{ID: row.ID, Name: row.Name, MCC: row.MCC}, nil
}

func (s *Store) LatestEstimate(ctx context.Context, transactionID string) (*domain.Estimate, error) {
	var row EstimateModel
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at_us DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("LatestEstimate: query: %w", err)
	}
	return toEstimate(row), nil
}

// ListEstimates returns every estimate of a transaction, newest first.
func (s *Store) ListEstimates(ctx context.Context, transactionID string) ([]*domain.Estimate, error) {
	var rows []EstimateModel
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at_us DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ListEstimates: query: %w", err)
	}
	out := make([]*domain.Estimate, len(rows))
	for i, r := range rows {
		out[i] = toEstimate(r)
	}
	return out, nil
}

func (s *Store) MerchantHistory(ctx context.Context, q domain.HistoryQuery) (domain.MerchantHistory, error) {
	var agg struct {
		CO2e       float64 `gorm:"column:co2e"`
		SpendMinor int64   `gorm:"column:spend_minor"`
		Count      int     `gorm:"column:tx_count"`
	}
	tx := s.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Select("COALESCE(SUM(co2e), 0) AS co2e, COALESCE(SUM(amount_minor), 0) AS spend_minor, COUNT(*) AS tx_count").
		Where("merchant_id = ? AND co2e IS NOT NULL AND amount_minor > 0", q.MerchantID)
	if q.ExcludeTransactionID != "" {
		tx = tx.Where("id <> ?", q.ExcludeTransactionID)
	}
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if err := tx.Scan(&agg).Error; err != nil {
		return domain.MerchantHistory{}, fmt.Errorf("MerchantHistory: query: %w", err)
	}
	return domain.MerchantHistory{CO2e: agg.CO2e, SpendMinor: agg.SpendMinor, Count: agg.Count}, nil
}

// SaveEstimate inserts est and updates the transaction's co2e in one database transaction.
func (s *Store) SaveEstimate(ctx context.Context, est *domain.Estimate) error {
	row := EstimateModel{
		ID:            est.ID,
		TransactionID: est.TransactionID,
		Method:        string(est.Method),
		CO2e:          est.CO2e,
		Model:         est.Model,
		CreatedAtUS:   est.CreatedAt.UnixMicro(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&TransactionModel{}).Where("id = ?", est.TransactionID).Update("co2e", est.CO2e)
		if res.Error != nil {
			return fmt.Errorf("update transaction: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("transaction %s: %w", est.TransactionID, domain.ErrNotFound)
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert estimate: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("SaveEstimate: %w", err)
	}
	return nil
}

func (s *Store) ListTransactionIDs(ctx context.Context, filter domain.TransactionFilter) ([]string, error) {
	tx := s.db.WithContext(ctx).Model(&TransactionModel{})
	if filter.UserID != "" {
		tx = tx.Where("user_id = ?", filter.UserID)
	}
	if filter.UnestimatedOnly {
		tx = tx.Where("co2e IS NULL")
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}

	var ids []string
	if err := tx.Order("datetime, id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("ListTransactionIDs: query: %w", err)
	}
	return ids, nil
}

// UpsertMerchant inserts or replaces a merchant.
func (s *Store) UpsertMerchant(ctx context.Context, m *domain.Merchant) error {
	row := MerchantModel{ID: m.ID, Name: m.Name, MCC: m.MCC}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "mcc"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("UpsertMerchant: %w", err)
	}
	return nil
}

// UpsertTransaction inserts or replaces a transaction. An existing co2e is
// kept unless tx carries one.
func (s *Store) UpsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	row := fromTransaction(tx)
	cols := []string{"user_id", "amount_minor", "currency", "merchant_id", "datetime"}
	if tx.CO2e != nil {
		cols = append(cols, "co2e")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("UpsertTransaction: %w", err)
	}
	return nil
}

// SaveReceipt inserts or replaces the receipt of a transaction.
func (s *Store) SaveReceipt(ctx context.Context, r *domain.Receipt) error {
	items, err := r.MarshalItems()
	if err != nil {
		return fmt.Errorf("SaveReceipt: encode items: %w", err)
	}
	row := ReceiptModel{TransactionID: r.TransactionID, Items: string(items)}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"items"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("SaveReceipt: %w", err)
	}
	return nil
}

// DeleteReceipt removes a transaction's receipt. Estimates are left as they are.
func (s *Store) DeleteReceipt(ctx context.Context, transactionID string) error {
	if err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Delete(&ReceiptModel{}).Error; err != nil {
		return fmt.Errorf("DeleteReceipt: %w", err)
	}
	return nil
}

func toTransaction(row TransactionModel) (*domain.Transaction, error) {
	tx := &domain.Transaction{
		ID:          row.ID,
		UserID:      row.UserID,
		AmountMinor: row.AmountMinor,
		Currency:    row.Currency,
		MerchantID:  row.MerchantID,
		CO2e:        row.CO2e,
	}
	if row.Datetime != "" {
		t, err := time.Parse(datetimeLayout, row.Datetime)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: parse datetime: %w", row.ID, err)
		}
		tx.Datetime = t
	}
	return tx, nil
}

func fromTransaction(tx *domain.Transaction) TransactionModel {
	return TransactionModel{
		ID:          tx.ID,
		UserID:      tx.UserID,
		AmountMinor: tx.AmountMinor,
		Currency:    tx.Currency,
		MerchantID:  tx.MerchantID,
		Datetime:    tx.Datetime.UTC().Format(datetimeLayout),
		CO2e:        tx.CO2e,
	}
}

func toEstimate(row EstimateModel) *domain.Estimate {
	return &domain.Estimate{
		ID:            row.ID,
		TransactionID: row.TransactionID,
		Method:        domain.Method(row.Method),
		CO2e:          row.CO2e,
		Model:         row.Model,
		CreatedAt:     time.UnixMicro(row.CreatedAtUS).UTC(),
	}
}
