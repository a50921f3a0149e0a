package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Transaction is a card payment as supplied by the bank feed.
// The engine only reads AmountMinor, MerchantID and Datetime, and writes CO2e.
type Transaction struct {
	ID          string
	UserID      string    // optional; scopes merchant history when set
	AmountMinor int64     // minor currency units (pence)
	Currency    string    // ISO 4217, informational
	MerchantID  string    // empty when the feed carried no merchant
	Datetime    time.Time // booking time
	CO2e        *float64  // kg, nil until estimated
}

// Amount returns the transaction amount in major currency units.
func (t *Transaction) Amount() float64 {
	return float64(t.AmountMinor) / 100
}

// Merchant is the retailer a transaction was made with.
type Merchant struct {
	ID   string
	Name string
	MCC  int
}

// ReceiptItem is one line of an itemized receipt.
type ReceiptItem struct {
	Name   string
	Weight *float64 // kg, nil when the receipt did not carry a weight
	Price  float64  // major currency units
}

// HasWeight reports whether the item can be estimated by mass.
func (i ReceiptItem) HasWeight() bool {
	return i.Weight != nil && *i.Weight > 0
}

// Validate rejects items that cannot be estimated by any tier.
func (i ReceiptItem) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("receipt item: empty name: %w", ErrInvalidInput)
	}
	if math.IsNaN(i.Price) || math.IsInf(i.Price, 0) || i.Price < 0 {
		return fmt.Errorf("receipt item %q: price %v: %w", i.Name, i.Price, ErrInvalidInput)
	}
	if i.Weight != nil {
		w := *i.Weight
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("receipt item %q: weight %v: %w", i.Name, w, ErrInvalidInput)
		}
	}
	return nil
}

// Receipt is the itemized breakdown of a transaction. Items keep receipt order.
type Receipt struct {
	TransactionID string
	Items         []ReceiptItem
}

// receiptLine is the stored form of one item: {"weight": w|null, "price": p}.
type receiptLine struct {
	Weight *float64 `json:"weight"`
	Price  float64  `json:"price"`
}

// MarshalItems encodes items as the name -> {weight, price} object the stores
// persist, keeping receipt order.
func (r *Receipt) MarshalItems() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, it := range r.Items {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(it.Name)
		if err != nil {
			return nil, fmt.Errorf("MarshalItems: encoding name: %w", err)
		}
		line, err := json.Marshal(receiptLine{Weight: it.Weight, Price: it.Price})
		if err != nil {
			return nil, fmt.Errorf("MarshalItems: encoding %q: %w", it.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(line)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalItems decodes the stored item object. Items are returned in the
// order they appear in the document. A bare number in place of the line
// object is read as a price with unknown weight.
func UnmarshalItems(data []byte) ([]ReceiptItem, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("UnmarshalItems: reading object start: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("UnmarshalItems: expected object: %w", ErrInvalidInput)
	}

	var items []ReceiptItem
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("UnmarshalItems: reading key: %w", err)
		}
		name, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("UnmarshalItems: decoding %q: %w", name, err)
		}
		line, err := decodeLine(raw)
		if err != nil {
			return nil, fmt.Errorf("UnmarshalItems: decoding %q: %w", name, err)
		}
		items = append(items, ReceiptItem{Name: name, Weight: line.Weight, Price: line.Price})
	}
	return items, nil
}

// decodeLine accepts either {"weight": w|null, "price": p} or a bare price,
// which means the weight is unknown.
func decodeLine(raw json.RawMessage) (receiptLine, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] != '{' {
		var price float64
		if err := json.Unmarshal(raw, &price); err != nil {
			return receiptLine{}, fmt.Errorf("expected object or price: %w", ErrInvalidInput)
		}
		return receiptLine{Price: price}, nil
	}
	var line receiptLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return receiptLine{}, err
	}
	return line, nil
}

// TransactionFilter selects transactions for batch estimation.
type TransactionFilter struct {
	UserID          string // empty matches every user
	UnestimatedOnly bool   // only transactions without co2e
	Limit           int    // 0 means no limit
}
