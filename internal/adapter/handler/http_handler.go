package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/tilvera/stockcore/internal/core/domain"
	"github.com/tilvera/stockcore/internal/core/service"
)

// OrderPlacer is the slice of the coordinator the HTTP layer needs.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) service.PlaceOrderResult
}

// InventoryReader is the slice of the ledger the HTTP layer needs.
type InventoryReader interface {
	CheckAvailability(ctx context.Context, storeID, productID string, required int) (domain.Availability, error)
	Summary(ctx context.Context, storeID string) (domain.Summary, error)
	LowStock(ctx context.Context, storeID string, threshold *int) ([]domain.StockRecord, error)
}

type HTTPHandler struct {
	placer    OrderPlacer
	inventory InventoryReader
}

func NewHTTPHandler(placer OrderPlacer, inventory InventoryReader) *HTTPHandler {
	return &HTTPHandler{placer: placer, inventory: inventory}
}

// Register wires the routes onto the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/api/orders", h.PlaceOrder)
	mux.HandleFunc("/api/inventory/availability", h.Availability)
	mux.HandleFunc("/api/inventory/summary", h.Summary)
	mux.HandleFunc("/api/inventory/low-stock", h.LowStock)
}

type lineItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type placeOrderRequest struct {
	StoreID        string            `json:"store_id"`
	CustomerID     string            `json:"customer_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Items          []lineItemRequest `json:"items"`
}

type shortageResponse struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Shortage  int    `json:"shortage"`
}

type lineItemResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type orderResponse struct {
	ID         string             `json:"id"`
	StoreID    string             `json:"store_id"`
	CustomerID string             `json:"customer_id"`
	Items      []lineItemResponse `json:"items"`
	Total      string             `json:"total"`
	Status     string             `json:"status"`
	CreatedAt  string             `json:"created_at"`
}

type placeOrderResponse struct {
	Outcome   string             `json:"outcome"`
	Order     *orderResponse     `json:"order,omitempty"`
	Shortages []shortageResponse `json:"shortages,omitempty"`
	Details   []string           `json:"details,omitempty"`
	Message   string             `json:"message,omitempty"`
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, placeOrderResponse{
			Outcome: string(service.OutcomeInvalidRequest),
			Details: []string{"invalid request body"},
		})
		return
	}

	items := make([]domain.LineItem, 0, len(req.Items))
	for _, li := range req.Items {
		items = append(items, domain.LineItem{
			ProductID: li.ProductID,
			Quantity:  li.Quantity,
			UnitPrice: li.UnitPrice,
		})
	}

	result := h.placer.PlaceOrder(r.Context(), service.PlaceOrderRequest{
		StoreID:        req.StoreID,
		CustomerID:     req.CustomerID,
		IdempotencyKey: req.IdempotencyKey,
		Items:          items,
	})

	resp := placeOrderResponse{Outcome: string(result.Outcome)}
	if result.Order != nil {
		resp.Order = toOrderResponse(result.Order)
	}
	for _, s := range result.Shortages {
		resp.Shortages = append(resp.Shortages, shortageResponse(s))
	}
	resp.Details = result.Details
	if result.Err != nil {
		resp.Message = result.Err.Error()
	}
	writeJSON(w, statusFor(result.Outcome), resp)
}

func statusFor(outcome service.Outcome) int {
	switch outcome {
	case service.OutcomeCommitted:
		return http.StatusCreated
	case service.OutcomeInvalidRequest:
		return http.StatusBadRequest
	case service.OutcomeInsufficientStock:
		return http.StatusConflict
	case service.OutcomeUnavailable:
		return http.StatusServiceUnavailable
	case service.OutcomeOrderPersistenceFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type availabilityResponse struct {
	ProductID    string `json:"product_id"`
	Available    bool   `json:"available"`
	CurrentStock int    `json:"current_stock"`
	Shortage     int    `json:"shortage"`
}

func (h *HTTPHandler) Availability(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")
	productID := r.URL.Query().Get("product_id")
	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if storeID == "" || productID == "" || err != nil || quantity <= 0 {
		http.Error(w, "store_id, product_id and positive quantity are required", http.StatusBadRequest)
		return
	}

	av, err := h.inventory.CheckAvailability(r.Context(), storeID, productID, quantity)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "inventory unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		ProductID:    av.ProductID,
		Available:    av.Available,
		CurrentStock: av.CurrentStock,
		Shortage:     av.Shortage,
	})
}

type summaryResponse struct {
	StoreID        string `json:"store_id"`
	TotalProducts  int    `json:"total_products"`
	TotalUnits     int    `json:"total_units"`
	LowStockCount  int    `json:"low_stock_count"`
	InventoryValue string `json:"inventory_value"`
	GeneratedAt    string `json:"generated_at"`
}

func (h *HTTPHandler) Summary(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		http.Error(w, "store_id is required", http.StatusBadRequest)
		return
	}
	s, err := h.inventory.Summary(r.Context(), storeID)
	if err != nil {
		http.Error(w, "inventory unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		StoreID:        s.StoreID,
		TotalProducts:  s.TotalProducts,
		TotalUnits:     s.TotalUnits,
		LowStockCount:  s.LowStockCount,
		InventoryValue: s.InventoryValue.StringFixed(2),
		GeneratedAt:    s.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

type lowStockItem struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	CurrentStock  int    `json:"current_stock"`
	MinStockLevel int    `json:"min_stock_level"`
}

func (h *HTTPHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		http.Error(w, "store_id is required", http.StatusBadRequest)
		return
	}
	var threshold *int
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "threshold must be a non-negative integer", http.StatusBadRequest)
			return
		}
		threshold = &n
	}

	records, err := h.inventory.LowStock(r.Context(), storeID, threshold)
	if err != nil {
		http.Error(w, "inventory unavailable", http.StatusServiceUnavailable)
		return
	}
	items := make([]lowStockItem, 0, len(records))
	for _, rec := range records {
		items = append(items, lowStockItem{
			ProductID:     rec.ProductID,
			ProductName:   rec.ProductName,
			CurrentStock:  rec.CurrentStock,
			MinStockLevel: rec.MinStockLevel,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"store_id": storeID, "items": items})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toOrderResponse(o *domain.Order) *orderResponse {
	items := make([]lineItemResponse, 0, len(o.Items))
	for _, li := range o.Items {
		items = append(items, lineItemResponse{
			ProductID: li.ProductID,
			Quantity:  li.Quantity,
			UnitPrice: li.UnitPrice.StringFixed(2),
		})
	}
	return &orderResponse{
		ID:         o.ID,
		StoreID:    o.StoreID,
		CustomerID: o.CustomerID,
		Items:      items,
		Total:      o.Total.StringFixed(2),
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
