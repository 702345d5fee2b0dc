package model

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices are written as JSON numbers, matching what the oracle is asked to emit.
	decimal.MarshalJSONWithoutQuotes = true
}

// Hint is the context handed to the oracle alongside a snapshot.
type Hint struct {
	ProductName string
	Retailer    string
}

// Snapshot is the output of one page capture.
type Snapshot struct {
	URL        string
	Image      []byte // PNG
	Markup     string
	CapturedAt time.Time
}

// Extraction is the validated content of one oracle answer. Price is invalid
// when no price could be determined.
type Extraction struct {
	Price    decimal.NullDecimal
	InStock  bool
	Currency string
}

// NoPrice is the sentinel returned whenever an oracle answer is unusable.
func NoPrice(defaultCurrency string) Extraction {
	return Extraction{Currency: defaultCurrency}
}

// PriceObservation is one validated price reading for a product at a retailer.
// Observations without a price never exist: they are dropped before this type
// is built.
type PriceObservation struct {
	Retailer  string          `json:"retailer"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	InStock   bool            `json:"in_stock"`
	URL       string          `json:"url"`
	Timestamp time.Time       `json:"timestamp"`
}
