package scrape

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/pricewatch/server/internal/pricing/model"
	logx "github.com/pricewatch/server/pkg/logger"
)

// Orchestrator scrapes every retailer of a product. Each Task is an
// independent capture session; with one task the scrape is strictly
// sequential.
type Orchestrator struct {
	tasks []*Task
}

// NewOrchestrator spreads products' retailers over tasks, one worker per task.
func NewOrchestrator(tasks ...*Task) (*Orchestrator, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("orchestrator needs at least one scrape session")
	}
	return &Orchestrator{tasks: tasks}, nil
}

// Sessions is the number of independent capture sessions.
func (o *Orchestrator) Sessions() int {
	return len(o.tasks)
}

type slot struct {
	obs     *model.PriceObservation
	outcome model.Outcome
}

// ScrapeProduct runs the retailer tasks and returns the observations in
// catalog order. A failing or panicking retailer never stops the others.
func (o *Orchestrator) ScrapeProduct(ctx context.Context, product model.Product) model.ProductResult {
	slots := make([]slot, len(product.URLs))

	workers := len(o.tasks)
	if workers > len(product.URLs) {
		workers = len(product.URLs)
	}

	if workers <= 1 {
		for i, u := range product.URLs {
			slots[i].obs, slots[i].outcome = runIsolated(ctx, o.tasks[0], product, u)
		}
	} else {
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(task *Task) {
				defer wg.Done()
				for i := range jobs {
					slots[i].obs, slots[i].outcome = runIsolated(ctx, task, product, product.URLs[i])
				}
			}(o.tasks[w])
		}
		for i := range product.URLs {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	}

	res := model.ProductResult{
		ProductID: product.ID,
		Batch:     []model.PriceObservation{},
		Retailers: make([]model.RetailerResult, 0, len(product.URLs)),
	}
	for i, u := range product.URLs {
		res.Retailers = append(res.Retailers, model.RetailerResult{Retailer: u.Retailer, URL: u.URL, Outcome: slots[i].outcome})
		if slots[i].obs != nil {
			res.Batch = append(res.Batch, *slots[i].obs)
		}
	}

	logx.Info().
		Str("product_id", product.ID.String()).
		Str("product", product.Name).
		Int("retailers", len(product.URLs)).
		Int("observations", len(res.Batch)).
		Msg("product scraped")
	return res
}

func runIsolated(ctx context.Context, task *Task, product model.Product, u model.RetailerURL) (obs *model.PriceObservation, outcome model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().
				Str("product_id", product.ID.String()).
				Str("retailer", u.Retailer).
				Str("stack", string(debug.Stack())).
				Msgf("scrape task panicked: %v", r)
			obs, outcome = nil, model.OutcomePanicked
		}
	}()
	return task.Run(ctx, product, u.Retailer, u.URL)
}
