// internal/service/inventory/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"stockpile/internal/pkg/logger"
	"stockpile/internal/service/inventory/application"
	"stockpile/internal/service/inventory/domain"
)

// ReservationService 是处理器对预约协调器的要求
type ReservationService interface {
	AddToCart(ctx context.Context, cartID string, productID int64, quantity int) error
	UpdateCartItem(ctx context.Context, cartID string, productID int64, newQuantity int) error
	RemoveFromCart(ctx context.Context, cartID string, productID int64) error
	GetCart(ctx context.Context, cartID string) (*application.CartView, error)
	ClearCart(ctx context.Context, cartID string) error
}

// CatalogService 是处理器对商品管理的要求
type CatalogService interface {
	CreateProduct(ctx context.Context, name, description string, price float64, stock int) (*application.ProductView, error)
	GetProduct(ctx context.Context, id int64) (*application.ProductView, error)
	ListProducts(ctx context.Context) ([]application.ProductView, error)
	UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (*application.ProductView, error)
	DeleteProduct(ctx context.Context, id int64) error
}

// InventoryHandler 封装了库存预约服务的 HTTP 处理器
type InventoryHandler struct {
	reservations ReservationService
	catalog      CatalogService
}

// NewInventoryHandler 创建一个新的 HTTP 处理器实例
func NewInventoryHandler(reservations ReservationService, catalog CatalogService) *InventoryHandler {
	return &InventoryHandler{reservations: reservations, catalog: catalog}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /products", h.handleCreateProduct)
	mux.HandleFunc("GET /products", h.handleListProducts)
	mux.HandleFunc("GET /products/{id}", h.handleGetProduct)
	mux.HandleFunc("PUT /products/{id}", h.handleUpdateProduct)
	mux.HandleFunc("DELETE /products/{id}", h.handleDeleteProduct)

	mux.HandleFunc("GET /cart/{cartId}", h.handleGetCart)
	mux.HandleFunc("POST /cart/{cartId}/items", h.handleAddToCart)
	mux.HandleFunc("PUT /cart/{cartId}/items/{productId}", h.handleUpdateCartItem)
	mux.HandleFunc("DELETE /cart/{cartId}/items/{productId}", h.handleRemoveFromCart)
	mux.HandleFunc("DELETE /cart/{cartId}", h.handleClearCart)
}

type createProductRequest struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Stock       int     `json:"stock"`
}

type updateProductRequest struct {
	Name        *string  `json:"name"`
	Price       *float64 `json:"price"`
	Description *string  `json:"description"`
	Stock       *int     `json:"stock"`
}

type cartItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

func (h *InventoryHandler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)

	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	view, err := h.catalog.CreateProduct(ctx, req.Name, req.Description, req.Price, req.Stock)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *InventoryHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)
	views, err := h.catalog.ListProducts(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *InventoryHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid product id", http.StatusBadRequest)
		return
	}
	view, err := h.catalog.GetProduct(ctx, id)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *InventoryHandler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid product id", http.StatusBadRequest)
		return
	}
	var req updateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	view, err := h.catalog.UpdateProduct(ctx, id, domain.ProductPatch{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		TotalStock:  req.Stock,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *InventoryHandler) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid product id", http.StatusBadRequest)
		return
	}
	if err := h.catalog.DeleteProduct(ctx, id); err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Product deleted successfully"})
}

func (h *InventoryHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)
	view, err := h.reservations.GetCart(ctx, r.PathValue("cartId"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *InventoryHandler) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)
	cartID := r.PathValue("cartId")

	var req cartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	err := h.reservations.AddToCart(ctx, cartID, req.ProductID, req.Quantity)
	observeReservation("add", err)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Item added to cart successfully"})
}

func (h *InventoryHandler) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)
	cartID := r.PathValue("cartId")
	productID, err := pathID(r, "productId")
	if err != nil {
		http.Error(w, "Invalid product id", http.StatusBadRequest)
		return
	}

	var req cartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	err = h.reservations.UpdateCartItem(ctx, cartID, productID, req.Quantity)
	observeReservation("update", err)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Cart item updated successfully"})
}

func (h *InventoryHandler) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)
	cartID := r.PathValue("cartId")
	productID, err := pathID(r, "productId")
	if err != nil {
		http.Error(w, "Invalid product id", http.StatusBadRequest)
		return
	}
	err = h.reservations.RemoveFromCart(ctx, cartID, productID)
	observeReservation("remove", err)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Item removed from cart successfully"})
}

func (h *InventoryHandler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)
	if err := h.reservations.ClearCart(ctx, r.PathValue("cartId")); err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Cart cleared successfully"})
}

// extractCtx 从请求头恢复链路上下文
func extractCtx(r *http.Request) context.Context {
	propagator := otel.GetTextMapPropagator()
	return propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 根据错误类型返回不同的 HTTP 状态码
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var insufficientErr *domain.InsufficientStockError
	var policyErr *domain.PolicyViolationError

	switch {
	case errors.As(err, &insufficientErr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":     insufficientErr.Error(),
			"available": insufficientErr.Available,
			"requested": insufficientErr.Requested,
		})
	case errors.As(err, &policyErr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  policyErr.Error(),
			"policy": policyErr.Policy,
		})
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrReservationNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrProductReserved),
		errors.Is(err, domain.ErrConflictRetryExhausted):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Ctx(ctx).Error().Err(err).Msg("unhandled error in http handler")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
