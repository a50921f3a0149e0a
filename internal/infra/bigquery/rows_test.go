package bigquery

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

var testDataset = Dataset{ProjectID: "proj", DatasetID: "carbon"}

func TestDataset_Table(t *testing.T) {
	if got, want := testDataset.Table(estimatesTable), "`proj.carbon.estimates`"; got != want {
		t.Errorf("Table() = %q, want %q", got, want)
	}
}

func TestTransactionRow_RoundTrip(t *testing.T) {
	co2e := 4.2
	in := &domain.Transaction{
		ID:          "tx-1",
		UserID:      "user-1",
		AmountMinor: 1234,
		Currency:    "GBP",
		MerchantID:  "m-1",
		Datetime:    time.Date(2024, 6, 1, 18, 45, 3, 0, time.UTC),
		CO2e:        &co2e,
	}

	row := NewTransactionRow(in)
	if !row.UserID.Valid || !row.MerchantID.Valid || !row.TransactionDatetime.Valid || !row.CO2e.Valid {
		t.Fatalf("NewTransactionRow() left fields null: %+v", row)
	}
	if want := civil.DateTimeOf(in.Datetime); row.TransactionDatetime.DateTime != want {
		t.Errorf("TransactionDatetime = %v, want %v", row.TransactionDatetime.DateTime, want)
	}

	out := row.ToDomain()
	if out.ID != in.ID || out.UserID != in.UserID || out.AmountMinor != in.AmountMinor || out.MerchantID != in.MerchantID {
		t.Errorf("ToDomain() = %+v, want %+v", out, in)
	}
	if !out.Datetime.Equal(in.Datetime) {
		t.Errorf("Datetime = %v, want %v", out.Datetime, in.Datetime)
	}
	if out.CO2e == nil || *out.CO2e != co2e {
		t.Errorf("CO2e = %v, want %v", out.CO2e, co2e)
	}
}

func TestTransactionRow_Nulls(t *testing.T) {
	row := NewTransactionRow(&domain.Transaction{ID: "tx-2", AmountMinor: 50})
	if row.UserID.Valid || row.MerchantID.Valid || row.TransactionDatetime.Valid || row.CO2e.Valid {
		t.Errorf("expected null optional fields, got %+v", row)
	}

	out := row.ToDomain()
	if out.CO2e != nil || !out.Datetime.IsZero() || out.MerchantID != "" {
		t.Errorf("ToDomain() = %+v", out)
	}
}

func TestMerchantRow_ToDomain(t *testing.T) {
	row := MerchantRow{MerchantID: "m", CanonicalName: "Grocer", MCCCode: bigquery.NullInt64{Int64: 5411, Valid: true}}
	got := row.ToDomain()
	if got.ID != "m" || got.Name != "Grocer" || got.MCC != 5411 {
		t.Errorf("ToDomain() = %+v", got)
	}
}

func TestReceiptRow_ToDomain(t *testing.T) {
	row := ReceiptRow{TransactionID: "tx", Items: `{"Milk": {"weight": 1.136, "price": 1.25}, "Bread": {"weight": null, "price": 1.4}}`}
	got, err := row.ToDomain()
	if err != nil {
		t.Fatalf("ToDomain() error = %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].Name != "Milk" || got.Items[1].HasWeight() {
		t.Errorf("ToDomain() = %+v", got)
	}

	if _, err := (&ReceiptRow{Items: `[1, 2]`}).ToDomain(); err == nil {
		t.Error("expected error for non-object items")
	}
}

func TestEstimateRow_ToDomain(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC)
	row := EstimateRow{
		EstimateID:    "e",
		TransactionID: "tx",
		Method:        "item/mcc",
		CO2e:          1.5,
		Model:         bigquery.NullString{StringVal: "text-embedding-004", Valid: true},
		CreatedTS:     created,
	}
	got := row.ToDomain()
	if got.Method != domain.MethodItemMCC || got.Model != "text-embedding-004" || !got.CreatedAt.Equal(created) {
		t.Errorf("ToDomain() = %+v", got)
	}
}

func TestCategoryRows(t *testing.T) {
	now := time.Now().UTC()
	rows := newCategoryRows([]domain.CategoryEntry{
		{Dataset: "items", Name: "Beef", Factor: 59.6, Vector: domain.Vector{1, 0}, Model: "m"},
	}, now)
	if len(rows) != 1 || rows[0].UpdatedTS != now || len(rows[0].Vector) != 2 {
		t.Fatalf("newCategoryRows() = %+v", rows)
	}
	back := rows[0].ToDomain()
	if back.Name != "Beef" || back.Factor != 59.6 || back.Model != "m" {
		t.Errorf("ToDomain() = %+v", back)
	}
}

func TestSaveEstimateScript(t *testing.T) {
	sql := saveEstimateScript(testDataset)

	order := []string{
		"BEGIN TRANSACTION;",
		"ASSERT EXISTS",
		"INSERT `proj.carbon.estimates`",
		"UPDATE `proj.carbon.transactions`",
		"COMMIT TRANSACTION;",
	}
	pos := 0
	for _, want := range order {
		idx := strings.Index(sql[pos:], want)
		if idx < 0 {
			t.Fatalf("script missing %q after offset %d:\n%s", want, pos, sql)
		}
		pos += idx + len(want)
	}
}

func TestMerchantHistoryQuery(t *testing.T) {
	sql := merchantHistoryQuery(testDataset)
	for _, want := range []string{
		"FROM `proj.carbon.transactions`",
		"co2e IS NOT NULL",
		"amount_minor > 0",
		"transaction_id != @exclude_transaction_id",
		"@user_id = ''",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("query missing %q", want)
		}
	}
}

func TestListTransactionIDsQuery(t *testing.T) {
	tests := []struct {
		name       string
		filter     domain.TransactionFilter
		contains   []string
		absent     []string
		wantParams int
	}{
		{
			name:     "no filter",
			contains: []string{"ORDER BY transaction_datetime, transaction_id"},
			absent:   []string{"WHERE", "LIMIT"},
		},
		{
			name:       "all filters",
			filter:     domain.TransactionFilter{UserID: "u", UnestimatedOnly: true, Limit: 10},
			contains:   []string{"WHERE user_id = @user_id AND co2e IS NULL", "LIMIT @limit"},
			wantParams: 2,
		},
		{
			name:     "unestimated only",
			filter:   domain.TransactionFilter{UnestimatedOnly: true},
			contains: []string{"WHERE co2e IS NULL"},
			absent:   []string{"@user_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params := listTransactionIDsQuery(testDataset, tt.filter)
			for _, want := range tt.contains {
				if !strings.Contains(sql, want) {
					t.Errorf("query %q missing %q", sql, want)
				}
			}
			for _, not := range tt.absent {
				if strings.Contains(sql, not) {
					t.Errorf("query %q should not contain %q", sql, not)
				}
			}
			if len(params) != tt.wantParams {
				t.Errorf("got %d params, want %d", len(params), tt.wantParams)
			}
		})
	}
}

func TestSaveCategoriesQuery(t *testing.T) {
	sql := saveCategoriesQuery(testDataset)
	if !strings.Contains(sql, "MERGE `proj.carbon.categories`") || !strings.Contains(sql, "UNNEST(@rows)") {
		t.Errorf("unexpected query:\n%s", sql)
	}
}
