package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// GetTransactionWithClient reads one transaction. Unknown ids return domain.ErrNotFound.
func GetTransactionWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, id string) (*domain.Transaction, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			user_id,
			merchant_id,
			amount_minor,
			currency,
			transaction_datetime,
			co2e,
			created_ts,
			updated_ts
		FROM %s
		WHERE transaction_id = @transaction_id
		LIMIT 1
	`, ds.Table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: id},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: query read: %w", err)
	}

	var row TransactionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("GetTransaction: %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: iter next: %w", err)
	}
	return row.ToDomain(), nil
}

// listTransactionIDsQuery builds the filtered id listing ordered by time.
func listTransactionIDsQuery(ds Dataset, filter domain.TransactionFilter) (string, []bigquery.QueryParameter) {
	var where []string
	var params []bigquery.QueryParameter
	if filter.UserID != "" {
		where = append(where, "user_id = @user_id")
		params = append(params, bigquery.QueryParameter{Name: "user_id", Value: filter.UserID})
	}
	if filter.UnestimatedOnly {
		where = append(where, "co2e IS NULL")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT transaction_id FROM %s", ds.Table(transactionsTable))
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY transaction_datetime, transaction_id")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT @limit")
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: int64(filter.Limit)})
	}
	return b.String(), params
}

// ListTransactionIDsWithClient lists transaction ids matching filter.
func ListTransactionIDsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, filter domain.TransactionFilter) ([]string, error) {
	sql, params := listTransactionIDsQuery(ds, filter)
	q := client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTransactionIDs: query read: %w", err)
	}

	var ids []string
	for {
		var r struct {
			TransactionID string `bigquery:"transaction_id"`
		}
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactionIDs: iter next: %w", err)
		}
		ids = append(ids, r.TransactionID)
	}
	return ids, nil
}

// UpsertTransactionWithClient merges tx into the transactions table. An
// existing co2e is kept unless tx carries one.
func UpsertTransactionWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, tx *domain.Transaction) error {
	row := NewTransactionRow(tx)
	q := client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @transaction_id AS transaction_id) S
		ON T.transaction_id = S.transaction_id
		WHEN MATCHED THEN UPDATE SET
			user_id = @user_id,
			merchant_id = @merchant_id,
			amount_minor = @amount_minor,
			currency = @currency,
			transaction_datetime = @transaction_datetime,
			co2e = COALESCE(@co2e, T.co2e),
			updated_ts = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN INSERT (
			transaction_id,
			user_id,
			merchant_id,
			amount_minor,
			currency,
			transaction_datetime,
			co2e,
			created_ts
		) VALUES (
			@transaction_id,
			@user_id,
			@merchant_id,
			@amount_minor,
			@currency,
			@transaction_datetime,
			@co2e,
			@created_ts
		)
	`, ds.Table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: row.TransactionID},
		{Name: "user_id", Value: row.UserID},
		{Name: "merchant_id", Value: row.MerchantID},
		{Name: "amount_minor", Value: row.AmountMinor},
		{Name: "currency", Value: row.Currency},
		{Name: "transaction_datetime", Value: row.TransactionDatetime},
		{Name: "co2e", Value: row.CO2e},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("UpsertTransaction: %w", err)
	}
	return nil
}

// GetMerchantWithClient reads one merchant, or nil if it is unknown.
func GetMerchantWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, id string) (*domain.Merchant, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			merchant_id,
			canonical_name,
			mcc_code,
			created_ts
		FROM %s
		WHERE merchant_id = @merchant_id
		LIMIT 1
	`, ds.Table(merchantsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "merchant_id", Value: id},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetMerchant: query read: %w", err)
	}

	var row MerchantRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetMerchant: iter next: %w", err)
	}
	return row.ToDomain(), nil
}

// UpsertMerchantWithClient merges m into the merchants table.
func UpsertMerchantWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, m *domain.Merchant) error {
	q := client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @merchant_id AS merchant_id) S
		ON T.merchant_id = S.merchant_id
		WHEN MATCHED THEN UPDATE SET
			canonical_name = @canonical_name,
			mcc_code = @mcc_code
		WHEN NOT MATCHED THEN INSERT (merchant_id, canonical_name, mcc_code, created_ts)
		VALUES (@merchant_id, @canonical_name, @mcc_code, CURRENT_TIMESTAMP())
	`, ds.Table(merchantsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "merchant_id", Value: m.ID},
		{Name: "canonical_name", Value: m.Name},
		{Name: "mcc_code", Value: int64(m.MCC)},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("UpsertMerchant: %w", err)
	}
	return nil
}

// merchantHistoryQuery sums the estimated, positive spend of a merchant.
// An empty @user_id matches every user.
func merchantHistoryQuery(ds Dataset) string {
	return fmt.Sprintf(`
		SELECT
			COALESCE(SUM(co2e), 0) AS co2e,
			COALESCE(SUM(amount_minor), 0) AS spend_minor,
			COUNT(*) AS tx_count
		FROM %s
		WHERE merchant_id = @merchant_id
		  AND co2e IS NOT NULL
		  AND amount_minor > 0
		  AND transaction_id != @exclude_transaction_id
		  AND (@user_id = '' OR user_id = @user_id)
	`, ds.Table(transactionsTable))
}

// MerchantHistoryWithClient aggregates a merchant's estimated history.
func MerchantHistoryWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, hq domain.HistoryQuery) (domain.MerchantHistory, error) {
	q := client.Query(merchantHistoryQuery(ds))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "merchant_id", Value: hq.MerchantID},
		{Name: "exclude_transaction_id", Value: hq.ExcludeTransactionID},
		{Name: "user_id", Value: hq.UserID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return domain.MerchantHistory{}, fmt.Errorf("MerchantHistory: query read: %w", err)
	}

	var row historyRow
	err = it.Next(&row)
	if err == iterator.Done {
		return domain.MerchantHistory{}, nil
	}
	if err != nil {
		return domain.MerchantHistory{}, fmt.Errorf("MerchantHistory: iter next: %w", err)
	}
	return domain.MerchantHistory{
		CO2e:       row.CO2e,
		SpendMinor: row.SpendMinor,
		Count:      int(row.TxCount),
	}, nil
}
