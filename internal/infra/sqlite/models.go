package sqlite

// TransactionModel is a row of the transactions table.
type TransactionModel struct {
	ID          string   `gorm:"column:id;type:text;primaryKey"`
	UserID      string   `gorm:"column:user_id;type:text;not null;default:'';index"`
	AmountMinor int64    `gorm:"column:amount_minor;not null"`
	Currency    string   `gorm:"column:currency;type:text;not null;default:''"`
	MerchantID  string   `gorm:"column:merchant_id;type:text;not null;default:'';index"`
	Datetime    string   `gorm:"column:datetime;type:text;not null"`
	CO2e        *float64 `gorm:"column:co2e"`
}

func (TransactionModel) TableName() string {
	return "transactions"
}

type MerchantModel struct {
	ID   string `gorm:"column:id;type:text;primaryKey"`
	Name string `gorm:"column:name;type:text;not null;default:''"`
	MCC  int    `gorm:"column:mcc;not null"`
}

func (MerchantModel) TableName() string {
	return "merchants"
}

// ReceiptModel stores items as an ordered name -> {weight, price} JSON object.
type ReceiptModel struct {
	TransactionID string `gorm:"column:transaction_id;type:text;primaryKey"`
	Items         string `gorm:"column:items;type:text;not null"`
}

func (ReceiptModel) TableName() string {
	return "receipts"
}

// EstimateModel keeps created_at as unix microseconds so ordering is numeric.
type EstimateModel struct {
	ID            string  `gorm:"column:id;type:text;primaryKey"`
	TransactionID string  `gorm:"column:transaction_id;type:text;not null;index:idx_estimates_tx_created,priority:1"`
	Method        string  `gorm:"column:method;type:text;not null"`
	CO2e          float64 `gorm:"column:co2e;not null"`
	Model         string  `gorm:"column:model;type:text;not null;default:''"`
	CreatedAtUS   int64   `gorm:"column:created_at_us;not null;index:idx_estimates_tx_created,priority:2"`
}

func (EstimateModel) TableName() string {
	return "estimates"
}

type CategoryModel struct {
	Dataset   string  `gorm:"column:dataset;type:text;primaryKey"`
	Name      string  `gorm:"column:name;type:text;primaryKey"`
	Model     string  `gorm:"column:model;type:text;primaryKey"`
	Factor    float64 `gorm:"column:factor;not null"`
	Vector    string  `gorm:"column:vector;type:text;not null"`
	UpdatedAt string  `gorm:"column:updated_at;type:text;not null"`
}

func (CategoryModel) TableName() string {
	return "categories"
}

type EmbeddingCacheModel struct {
	Key       string `gorm:"column:key;type:text;primaryKey"`
	Vector    string `gorm:"column:vector;type:text;not null"`
	UpdatedAt string `gorm:"column:updated_at;type:text;not null"`
}

func (EmbeddingCacheModel) TableName() string {
	return "embedding_cache"
}

func allModels() []any {
	return []any{
		&TransactionModel{},
		&MerchantModel{},
		&ReceiptModel{},
		&EstimateModel{},
		&CategoryModel{},
		&EmbeddingCacheModel{},
	}
}
