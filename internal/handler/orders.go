package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/roomdesk/api/internal/auth"
	"github.com/roomdesk/api/internal/middleware"
	"github.com/roomdesk/api/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.Order, error)
	GetOrder(ctx context.Context, id string) (*service.Order, error)
	ListOrders(ctx context.Context, f service.ListOrdersFilter) ([]service.Order, error)
	UpdateOrder(ctx context.Context, id string, req service.UpdateOrderRequest) (*service.Order, error)
	UpdateOrderStatus(ctx context.Context, id, status string) (*service.Order, error)
	DeleteOrder(ctx context.Context, id string) error
	AddItem(ctx context.Context, orderID string, in service.ItemInput) (*service.Order, error)
	RemoveItem(ctx context.Context, orderID string, itemID uuid.UUID) (*service.Order, error)
	UpdateItemStatus(ctx context.Context, orderID string, itemID uuid.UUID, status string) (*service.Order, error)
	Checkout(ctx context.Context, id string, req service.CheckoutRequest) (*service.Order, error)
	CompleteOrder(ctx context.Context, id string, req service.CompleteRequest) (*service.Order, error)
	CancelOrder(ctx context.Context, id, reason string) (*service.Order, error)
	HandOver(ctx context.Context, req service.HandOverRequest) ([]service.Order, error)
	OrderProfit(ctx context.Context, id string) (*service.ProfitReport, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc    OrderServicer
	logger *zap.Logger
	loc    *time.Location
}

// NewOrderHandler creates a new OrderHandler. loc is the business timezone
// used to interpret date filters.
func NewOrderHandler(svc OrderServicer, logger *zap.Logger, loc *time.Location) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &OrderHandler{svc: svc, logger: logger, loc: loc}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted behind middleware.Authenticate at /orders.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.With(middleware.Require(auth.Staff.CanHandOver)).Post("/handover", h.HandOver)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
		r.Patch("/status", h.UpdateStatus)
		r.Post("/items", h.AddItem)
		r.Delete("/items/{itemID}", h.RemoveItem)
		r.Patch("/items/{itemID}/status", h.UpdateItemStatus)
		r.Post("/checkout", h.Checkout)
		r.Post("/complete", h.Complete)
		r.Post("/cancel", h.Cancel)
		r.Get("/profit", h.Profit)
	})
}

// --- Request types ---

type itemRequest struct {
	ID                      *uuid.UUID       `json:"id"`
	ServiceID               uuid.UUID        `json:"service_id"`
	ServiceName             string           `json:"service_name"`
	TechnicianID            *uuid.UUID       `json:"technician_id"`
	Price                   *decimal.Decimal `json:"price"`
	TechnicianCommission    *decimal.Decimal `json:"technician_commission"`
	CompanyCommissionRuleID *uuid.UUID       `json:"company_commission_rule_id"`
	Status                  string           `json:"status"`
}

type createOrderRequest struct {
	RoomID         uuid.UUID        `json:"room_id"`
	CustomerName   string           `json:"customer_name"`
	CustomerPhone  string           `json:"customer_phone"`
	Items          []itemRequest    `json:"items"`
	TotalAmount    *decimal.Decimal `json:"total_amount"`
	ReceivedAmount *decimal.Decimal `json:"received_amount"`
	Notes          string           `json:"notes"`
	Occupy         bool             `json:"occupy"`
}

type updateOrderRequest struct {
	RoomID        *uuid.UUID       `json:"room_id"`
	CustomerName  *string          `json:"customer_name"`
	CustomerPhone *string          `json:"customer_phone"`
	Notes         *string          `json:"notes"`
	TotalAmount   *decimal.Decimal `json:"total_amount"`
	Items         []itemRequest    `json:"items"`
	Version       *int32           `json:"version"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type checkoutRequest struct {
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	SalespersonID  *uuid.UUID      `json:"salesperson_id"`
}

type completeRequest struct {
	ReceivedAmount *decimal.Decimal `json:"received_amount"`
	SalespersonID  *uuid.UUID       `json:"salesperson_id"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type handoverRequest struct {
	OrderIDs []string `json:"order_ids"`
}

// orderListResponse wraps a list of orders with pagination metadata.
type orderListResponse struct {
	Orders []service.Order `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func toItemInput(in itemRequest) service.ItemInput {
	return service.ItemInput{
		ID:                      in.ID,
		ServiceID:               in.ServiceID,
		ServiceName:             in.ServiceName,
		TechnicianID:            in.TechnicianID,
		Price:                   in.Price,
		TechnicianCommission:    in.TechnicianCommission,
		CompanyCommissionRuleID: in.CompanyCommissionRuleID,
		Status:                  in.Status,
	}
}

func toItemInputs(items []itemRequest) []service.ItemInput {
	if items == nil {
		return nil
	}
	out := make([]service.ItemInput, len(items))
	for i, it := range items {
		out[i] = toItemInput(it)
	}
	return out
}

// --- Handlers ---

// Create handles POST /orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), service.CreateOrderRequest{
		RoomID:         req.RoomID,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		Items:          toItemInputs(req.Items),
		TotalAmount:    req.TotalAmount,
		ReceivedAmount: req.ReceivedAmount,
		Notes:          req.Notes,
		Occupy:         req.Occupy,
	})
	if err != nil {
		h.writeError(w, r, "create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// List handles GET /orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if s := q.Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 200 {
		limit = 200
	}
	offset := 0
	if s := q.Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	f := service.ListOrdersFilter{
		Status:         q.Get("status"),
		HandoverStatus: q.Get("handover_status"),
		Limit:          int32(limit),
		Offset:         int32(offset),
	}
	if s := q.Get("room_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room_id"})
			return
		}
		f.RoomID = &id
	}
	if s := q.Get("start_date"); s != "" {
		t, err := time.ParseInLocation("2006-01-02", s, h.loc)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start_date format, use YYYY-MM-DD"})
			return
		}
		f.From = &t
	}
	if s := q.Get("end_date"); s != "" {
		t, err := time.ParseInLocation("2006-01-02", s, h.loc)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid end_date format, use YYYY-MM-DD"})
			return
		}
		// end_date is inclusive
		t = t.AddDate(0, 0, 1)
		f.To = &t
	}

	orders, err := h.svc.ListOrders(r.Context(), f)
	if err != nil {
		h.writeError(w, r, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, orderListResponse{Orders: orders, Limit: limit, Offset: offset})
}

// Get handles GET /orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Update handles PATCH /orders/{id}.
func (h *OrderHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	order, err := h.svc.UpdateOrder(r.Context(), chi.URLParam(r, "id"), service.UpdateOrderRequest{
		RoomID:          req.RoomID,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		Notes:           req.Notes,
		TotalAmount:     req.TotalAmount,
		Items:           toItemInputs(req.Items),
		ExpectedVersion: req.Version,
	})
	if err != nil {
		h.writeError(w, r, "update order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateStatus handles PATCH /orders/{id}/status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	order, err := h.svc.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeError(w, r, "update order status", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Delete handles DELETE /orders/{id}.
func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, "delete order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem handles POST /orders/{id}/items.
func (h *OrderHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	order, err := h.svc.AddItem(r.Context(), chi.URLParam(r, "id"), toItemInput(req))
	if err != nil {
		h.writeError(w, r, "add order item", err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// RemoveItem handles DELETE /orders/{id}/items/{itemID}.
func (h *OrderHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item ID"})
		return
	}

	order, err := h.svc.RemoveItem(r.Context(), chi.URLParam(r, "id"), itemID)
	if err != nil {
		h.writeError(w, r, "remove order item", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateItemStatus handles PATCH /orders/{id}/items/{itemID}/status.
func (h *OrderHandler) UpdateItemStatus(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item ID"})
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	order, err := h.svc.UpdateItemStatus(r.Context(), chi.URLParam(r, "id"), itemID, req.Status)
	if err != nil {
		h.writeError(w, r, "update order item status", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Checkout handles POST /orders/{id}/checkout.
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	order, err := h.svc.Checkout(r.Context(), chi.URLParam(r, "id"), service.CheckoutRequest{
		ReceivedAmount: req.ReceivedAmount,
		SalespersonID:  req.SalespersonID,
	})
	if err != nil {
		h.writeError(w, r, "checkout order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Complete handles POST /orders/{id}/complete. The body is optional.
func (h *OrderHandler) Complete(w http.ResponseWriter, r *http.Request) {
	// The body is optional; a chunked empty body decodes to io.EOF.
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	order, err := h.svc.CompleteOrder(r.Context(), chi.URLParam(r, "id"), service.CompleteRequest{
		ReceivedAmount: req.ReceivedAmount,
		SalespersonID:  req.SalespersonID,
	})
	if err != nil {
		h.writeError(w, r, "complete order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Cancel handles POST /orders/{id}/cancel.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	order, err := h.svc.CancelOrder(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Profit handles GET /orders/{id}/profit.
func (h *OrderHandler) Profit(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.OrderProfit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "order profit", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandOver handles POST /orders/handover.
func (h *OrderHandler) HandOver(w http.ResponseWriter, r *http.Request) {
	var req handoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	staff, ok := middleware.StaffFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	orders, err := h.svc.HandOver(r.Context(), service.HandOverRequest{
		OrderIDs:  req.OrderIDs,
		StaffID:   staff.ID,
		StaffName: staff.Name,
	})
	if err != nil {
		h.writeError(w, r, "hand over orders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// --- Helpers ---

// writeError maps service errors to HTTP statuses. Unknown errors are logged
// and reported as 500.
func (h *OrderHandler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrItemNotFound),
		errors.Is(err, service.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrOrderClosed):
		return http.StatusConflict
	case errors.Is(err, service.ErrRoomRequired),
		errors.Is(err, service.ErrInvalidReceivedAmount),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidItemStatus),
		errors.Is(err, service.ErrReasonRequired),
		errors.Is(err, service.ErrTotalMismatch),
		errors.Is(err, service.ErrInvalidItem),
		errors.Is(err, service.ErrSalespersonNotFound),
		errors.Is(err, service.ErrTechnicianServiceNotFound),
		errors.Is(err, service.ErrTechnicianNotFound),
		errors.Is(err, service.ErrNoOrderIDs),
		errors.Is(err, service.ErrStaffRequired):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
