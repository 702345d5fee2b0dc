package model

import "time"

// Outcome is what happened to one (product, retailer) scrape.
type Outcome string

const (
	OutcomeObserved      Outcome = "observed"
	OutcomeNoPrice       Outcome = "no_price"
	OutcomeCaptureFailed Outcome = "capture_failed"
	OutcomeOracleFailed  Outcome = "oracle_failed"
	OutcomePanicked      Outcome = "panicked"
)

// RetailerResult pairs a retailer with its outcome.
type RetailerResult struct {
	Retailer string
	URL      string
	Outcome  Outcome
}

// ProductResult is what the orchestrator returns for one product.
type ProductResult struct {
	ProductID ProductID
	Batch     []PriceObservation
	Retailers []RetailerResult
}

// Miss names a retailer that yielded nothing in a run.
type Miss struct {
	ProductID ProductID `json:"product_id"`
	Retailer  string    `json:"retailer"`
	Outcome   Outcome   `json:"outcome"`
}

// RunSummary is reported at the end of every run.
type RunSummary struct {
	RunID                string          `json:"run_id"`
	StartedAt            time.Time       `json:"started_at"`
	FinishedAt           time.Time       `json:"finished_at"`
	ProductsProcessed    int             `json:"products_processed"`
	ProductsRecorded     int             `json:"products_recorded"`
	ObservationsRecorded int             `json:"observations_recorded"`
	Outcomes             map[Outcome]int `json:"outcomes"`
	Misses               []Miss          `json:"misses"`
}

// Add folds one product result into the summary. It does not count the
// product as recorded; the controller does that after the store succeeds.
func (s *RunSummary) Add(res ProductResult) {
	if s.Outcomes == nil {
		s.Outcomes = map[Outcome]int{}
	}
	s.ProductsProcessed++
	for _, r := range res.Retailers {
		s.Outcomes[r.Outcome]++
		if r.Outcome != OutcomeObserved {
			s.Misses = append(s.Misses, Miss{ProductID: res.ProductID, Retailer: r.Retailer, Outcome: r.Outcome})
		}
	}
}
