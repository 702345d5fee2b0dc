// Package api serves the recorded price history over HTTP.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/model"
	"github.com/pricewatch/server/internal/pricing/store"
	logx "github.com/pricewatch/server/pkg/logger"
)

// Handler serves the catalog and its recorded price history.
type Handler struct {
	catalog []model.Product
	byID    map[model.ProductID]model.Product
	store   store.Store
}

// NewHandler indexes catalog by product ID for lookups.
func NewHandler(catalog []model.Product, st store.Store) *Handler {
	byID := make(map[model.ProductID]model.Product, len(catalog))
	for _, p := range catalog {
		byID[p.ID] = p
	}
	return &Handler{catalog: catalog, byID: byID, store: st}
}

type productView struct {
	model.Product
	LatestPrices []model.PriceObservation `json:"latest_prices"`
}

type recordView struct {
	Product      *model.Product           `json:"product,omitempty"`
	LatestPrices []model.PriceObservation `json:"latest_prices"`
	PriceHistory []model.HistoryEntry     `json:"price_history"`
	LastUpdated  time.Time                `json:"last_updated"`
}

// ListProducts returns the catalog in order with each product's latest prices.
func (h *Handler) ListProducts(c *gin.Context) {
	db, err := h.store.Load(c.Request.Context())
	if err != nil {
		respondError(c, "ListProducts", err)
		return
	}
	out := make([]productView, 0, len(h.catalog))
	for _, p := range h.catalog {
		v := productView{Product: p, LatestPrices: []model.PriceObservation{}}
		if rec, ok := db.Record(p.ID); ok {
			v.LatestPrices = rec.LatestPrices
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

// GetProduct returns the full record of one product. Products that left the
// catalog are still served while they have history.
func (h *Handler) GetProduct(c *gin.Context) {
	id, rec, db, ok := h.lookup(c, "GetProduct")
	if !ok {
		return
	}
	v := recordView{
		LatestPrices: rec.LatestPrices,
		PriceHistory: rec.PriceHistory,
		LastUpdated:  db.LastUpdated,
	}
	if p, ok := h.byID[id]; ok {
		v.Product = &p
	}
	c.JSON(http.StatusOK, v)
}

// GetPriceHistory returns the history entries of one product, oldest first.
func (h *Handler) GetPriceHistory(c *gin.Context) {
	_, rec, _, ok := h.lookup(c, "GetPriceHistory")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec.PriceHistory)
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) lookup(c *gin.Context, op string) (model.ProductID, *model.ProductPriceRecord, *model.PriceDatabase, bool) {
	id := model.ProductID(c.Param("id"))
	db, err := h.store.Load(c.Request.Context())
	if err != nil {
		respondError(c, op, err)
		return id, nil, nil, false
	}
	rec, ok := db.Record(id)
	if !ok {
		if _, known := h.byID[id]; !known {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return id, nil, nil, false
		}
		rec = &model.ProductPriceRecord{LatestPrices: []model.PriceObservation{}, PriceHistory: []model.HistoryEntry{}}
	}
	return id, rec, db, true
}

func respondError(c *gin.Context, op string, err error) {
	logx.Error().Err(err).Str("op", op).Msg("request failed")
	var e *errx.Error
	if errors.As(err, &e) && e.Status != 0 {
		c.JSON(e.Status, gin.H{"error": e.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": errx.SystemErrorMessage})
}
