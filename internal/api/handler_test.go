package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/model"
	"github.com/pricewatch/server/internal/pricing/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var now = time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)

var testCatalog = []model.Product{
	{ID: "1", Name: "Vortex Viper PST Gen II 5-25x50", Brand: "Vortex", URLs: model.RetailerURLs{
		{Retailer: "OpticsPlanet", URL: "https://example.com/op"},
		{Retailer: "Brownells", URL: "https://example.com/br"},
	}},
	{ID: "2", Name: "Aimpoint PRO", Brand: "Aimpoint", URLs: model.RetailerURLs{
		{Retailer: "Brownells", URL: "https://example.com/br2"},
	}},
}

func newServer(t *testing.T) *gin.Engine {
	t.Helper()
	st, err := store.NewJSONStore(filepath.Join(t.TempDir(), "price_data.json"), store.Options{RecordEmpty: true, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatal(err)
	}
	batch := []model.PriceObservation{{
		Retailer: "Brownells", Price: decimal.RequireFromString("899.99"), Currency: "USD", InStock: true,
		URL: "https://example.com/br", Timestamp: now,
	}}
	if _, err := st.Record(store.WithRunID(context.Background(), "run-1"), "1", batch); err != nil {
		t.Fatal(err)
	}
	return NewRouter(NewHandler(testCatalog, st))
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestListProducts(t *testing.T) {
	w := get(t, newServer(t), "/api/products")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var got []struct {
		ID           string            `json:"id"`
		Name         string            `json:"name"`
		URLs         map[string]string `json:"urls"`
		LatestPrices []struct {
			Retailer string  `json:"retailer"`
			Price    float64 `json:"price"`
		} `json:"latest_prices"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Fatalf("unexpected products: %s", w.Body)
	}
	if len(got[0].LatestPrices) != 1 || got[0].LatestPrices[0].Price != 899.99 {
		t.Errorf("latest prices of 1: %+v", got[0].LatestPrices)
	}
	if got[1].LatestPrices == nil || len(got[1].LatestPrices) != 0 {
		t.Errorf("unrecorded product should list no prices, got %+v", got[1].LatestPrices)
	}
	// urls keep catalog order
	if i, j := strings.Index(w.Body.String(), "OpticsPlanet"), strings.Index(w.Body.String(), `"Brownells":"https://example.com/br"`); i < 0 || j < i {
		t.Errorf("urls out of order: %s", w.Body)
	}
}

func TestGetProduct(t *testing.T) {
	w := get(t, newServer(t), "/api/products/1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var got struct {
		Product      *struct{ Name string } `json:"product"`
		PriceHistory []struct {
			RunID  string `json:"run_id"`
			Prices []any  `json:"prices"`
		} `json:"price_history"`
		LastUpdated time.Time `json:"last_updated"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Product == nil || got.Product.Name != testCatalog[0].Name {
		t.Errorf("product = %+v", got.Product)
	}
	if len(got.PriceHistory) != 1 || got.PriceHistory[0].RunID != "run-1" || len(got.PriceHistory[0].Prices) != 1 {
		t.Errorf("history = %+v", got.PriceHistory)
	}
	if !got.LastUpdated.Equal(now) {
		t.Errorf("last_updated = %s", got.LastUpdated)
	}
}

func TestGetPriceHistory(t *testing.T) {
	r := newServer(t)

	w := get(t, r, "/api/products/1/history")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var hist []model.HistoryEntry
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || !hist[0].Prices[0].Price.Equal(decimal.RequireFromString("899.99")) {
		t.Fatalf("history = %+v", hist)
	}

	w = get(t, r, "/api/products/2/history")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("catalog product without history: %d %s", w.Code, w.Body)
	}
}

func TestUnknownProduct(t *testing.T) {
	r := newServer(t)
	for _, path := range []string{"/api/products/404", "/api/products/404/history"} {
		if w := get(t, r, path); w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d", path, w.Code)
		}
	}
}

type brokenStore struct{}

func (brokenStore) Record(context.Context, model.ProductID, []model.PriceObservation) (*model.ProductPriceRecord, error) {
	return nil, errx.Persistence(errors.New("disk gone"))
}

func (brokenStore) Load(context.Context) (*model.PriceDatabase, error) {
	return nil, errx.Persistence(errors.New("disk gone"))
}

func (brokenStore) Close() error { return nil }

func TestStoreFailure(t *testing.T) {
	r := NewRouter(NewHandler(testCatalog, brokenStore{}))
	w := get(t, r, "/api/products")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"error": errx.PersistenceErrorMessage}, body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestHealthz(t *testing.T) {
	if w := get(t, NewRouter(NewHandler(nil, brokenStore{})), "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
