package model

import "time"

// HistoryEntry is one run's batch for a product.
type HistoryEntry struct {
	Date   time.Time          `json:"date"`
	RunID  string             `json:"run_id,omitempty"`
	Prices []PriceObservation `json:"prices"`
}

// ProductPriceRecord is the accumulated state of one product.
//
// PriceHistory only grows. LatestPrices always equals the Prices of the last
// history entry once history is non-empty.
type ProductPriceRecord struct {
	LatestPrices []PriceObservation `json:"latest_prices"`
	PriceHistory []HistoryEntry     `json:"price_history"`
}

// PriceDatabase is the root persisted object.
type PriceDatabase struct {
	Products    map[ProductID]*ProductPriceRecord `json:"products"`
	LastUpdated time.Time                         `json:"last_updated"`
}

// NewPriceDatabase returns an empty database.
func NewPriceDatabase() *PriceDatabase {
	return &PriceDatabase{Products: map[ProductID]*ProductPriceRecord{}}
}

// Record returns the record for id, if any.
func (db *PriceDatabase) Record(id ProductID) (*ProductPriceRecord, bool) {
	if db == nil || db.Products == nil {
		return nil, false
	}
	rec, ok := db.Products[id]
	return rec, ok
}

// Append adds entry to the history of id, creating the record when needed,
// replaces its latest prices and moves LastUpdated to entry.Date.
func (db *PriceDatabase) Append(id ProductID, entry HistoryEntry) *ProductPriceRecord {
	if db.Products == nil {
		db.Products = map[ProductID]*ProductPriceRecord{}
	}
	if entry.Prices == nil {
		entry.Prices = []PriceObservation{}
	}
	rec, ok := db.Products[id]
	if !ok {
		rec = &ProductPriceRecord{PriceHistory: []HistoryEntry{}}
		db.Products[id] = rec
	}
	rec.PriceHistory = append(rec.PriceHistory, entry)
	rec.LatestPrices = append([]PriceObservation{}, entry.Prices...)
	db.LastUpdated = entry.Date
	return rec
}

// Normalize replaces nil slices and maps left by decoding so that a loaded
// database re-encodes identically.
func (db *PriceDatabase) Normalize() {
	if db.Products == nil {
		db.Products = map[ProductID]*ProductPriceRecord{}
	}
	for id, rec := range db.Products {
		if rec == nil {
			rec = &ProductPriceRecord{}
			db.Products[id] = rec
		}
		if rec.LatestPrices == nil {
			rec.LatestPrices = []PriceObservation{}
		}
		if rec.PriceHistory == nil {
			rec.PriceHistory = []HistoryEntry{}
		}
		for i := range rec.PriceHistory {
			if rec.PriceHistory[i].Prices == nil {
				rec.PriceHistory[i].Prices = []PriceObservation{}
			}
		}
	}
}
