package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/gridledger/internal/auth"
	"github.com/xtrntr/gridledger/internal/exchange"
	"github.com/xtrntr/gridledger/internal/logger"
	"github.com/xtrntr/gridledger/internal/models"
)

// History serves a participant's persisted order and trade history
type History interface {
	GetParticipantOrders(ctx context.Context, participant models.ParticipantID) ([]models.OrderStatusChanged, error)
	GetParticipantTrades(ctx context.Context, participant models.ParticipantID) ([]models.Trade, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	History     History
	Exchange    *exchange.Exchange
	AuthService *auth.AuthService
	// FeedKey authenticates the grid snapshot feed
	FeedKey string
}

// NewHandler creates a new handler
func NewHandler(history History, ex *exchange.Exchange, authService *auth.AuthService, feedKey string) *Handler {
	return &Handler{History: history, Exchange: ex, AuthService: authService, FeedKey: feedKey}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles participant registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "Username and password required")
		return
	}

	p, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		logger.Warn(r.Context(), "registration failed", zap.String("username", req.Username), zap.Error(err))
		writeMessage(w, http.StatusBadRequest, "Failed to register participant")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       p.ID,
		"username": p.Username,
	})
}

// Login handles participant login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type orderRequest struct {
	Side          string           `json:"side"`
	Kind          string           `json:"kind"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Amount        decimal.Decimal  `json:"amount_kwh"`
	Zone          models.Zone      `json:"zone"`
	WindowStart   *time.Time       `json:"window_start,omitempty"`
	RenewableOnly bool             `json:"renewable_only"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
}

func (req orderRequest) order(participant models.ParticipantID) (models.Order, error) {
	side, err := models.ParseSide(req.Side)
	if err != nil {
		return models.Order{}, err
	}
	kind, err := models.ParseKind(req.Kind, req.Price)
	if err != nil {
		return models.Order{}, err
	}
	o := models.Order{
		ParticipantID: participant,
		Side:          side,
		Kind:          kind,
		Amount:        req.Amount,
		Zone:          req.Zone,
		RenewableOnly: req.RenewableOnly,
		ExpiresAt:     req.ExpiresAt,
	}
	if req.WindowStart != nil {
		o.Window.Start = *req.WindowStart
	}
	return o, nil
}

// PlaceOrder submits an order to the book of its zone and window
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	participant, ok := participantFrom(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	order, err := req.order(participant)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.Exchange.SubmitOrder(r.Context(), order)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":  "Order placed",
		"order_id": id,
	})
}

// GetOrder returns the current state of one of the caller's orders
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	participant, ok := participantFrom(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, err := orderID(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	o, status, err := h.Exchange.GetOrder(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if o.ID == 0 {
		// Terminal orders leave the book; only the status is kept
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": status})
		return
	}
	if o.ParticipantID != participant {
		writeError(w, r, models.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CancelOrder cancels an open order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	participant, ok := participantFrom(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, err := orderID(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	if err := h.Exchange.CancelOrder(r.Context(), id, participant); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Order cancelled"})
}

// GetParticipantOrders retrieves the persisted order history of the caller
func (h *Handler) GetParticipantOrders(w http.ResponseWriter, r *http.Request) {
	participant, ok := participantFrom(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orders, err := h.History.GetParticipantOrders(r.Context(), participant)
	if err != nil {
		logger.Error(r.Context(), "order history lookup failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to retrieve orders")
		return
	}
	if orders == nil {
		orders = []models.OrderStatusChanged{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetParticipantTrades retrieves the persisted trade history of the caller
func (h *Handler) GetParticipantTrades(w http.ResponseWriter, r *http.Request) {
	participant, ok := participantFrom(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	trades, err := h.History.GetParticipantTrades(r.Context(), participant)
	if err != nil {
		logger.Error(r.Context(), "trade history lookup failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to retrieve trades")
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetBalance returns the caller's settled token and energy position
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	participant, ok := participantFrom(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, h.Exchange.Balance(participant))
}

// GetOrderBook returns the depth of a zone's book. The window query
// parameter selects the window containing that instant, default now.
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	var window models.Window
	if at := r.URL.Query().Get("window"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "window must be an RFC 3339 time")
			return
		}
		window.Start = t
	}

	depth, err := h.Exchange.OrderBookSnapshot(models.Zone(chi.URLParam(r, "zone")), window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, depth)
}

// IngestSnapshot accepts a grid snapshot from the operator feed
func (h *Handler) IngestSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap models.GridSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	applied, err := h.Exchange.UpdateGridSnapshot(r.Context(), snap)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"applied": applied})
}

// ApplyOverride executes a signed authority override
func (h *Handler) ApplyOverride(w http.ResponseWriter, r *http.Request) {
	var o models.AuthorityOverride
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.Exchange.ApplyAuthorityOverride(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func orderID(r *http.Request) (models.OrderID, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, err
	}
	return models.OrderID(id), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError reports err with its reason code and the matching status
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(r.Context(), "request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{
		"error":  err.Error(),
		"reason": models.ReasonCode(err),
	})
}

func statusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrUnverifiedAuthority):
		return http.StatusForbidden
	case errors.Is(err, models.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyTerminal), errors.Is(err, models.ErrZoneHalted):
		return http.StatusConflict
	case errors.Is(err, models.ErrBookFaulted), errors.Is(err, models.ErrStaleSnapshot),
		errors.Is(err, models.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
