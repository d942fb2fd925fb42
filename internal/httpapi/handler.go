package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/walkin-service/internal/metrics"
	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	store store.TicketStore
}

func NewHandler(ticketStore store.TicketStore) *Handler {
	return &Handler{store: ticketStore}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/tickets", h.handleCreateTicket)
	mux.HandleFunc("/api/tickets/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tickets/", h.handleTicketSubroutes)
	mux.HandleFunc("/api/queue", h.handleQueueOverview)
	mux.HandleFunc("/api/display", h.handleDisplay)
	mux.HandleFunc("/api/categories", h.handleCategories)
	mux.HandleFunc("/api/windows", h.handleWindows)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

type createTicketRequest struct {
	CategoryID string `json:"category_id"`
	ClientName string `json:"client_name"`
	ClientType string `json:"client_type"`
	Phone      string `json:"phone"`
	Note       string `json:"note"`
}

type callNextRequest struct {
	WindowID   string `json:"window_id"`
	CategoryID string `json:"category_id"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.CategoryID = strings.TrimSpace(req.CategoryID)
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientType = strings.TrimSpace(req.ClientType)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Note = strings.TrimSpace(req.Note)

	if req.CategoryID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "category_id is required")
		return
	}
	if !isValidUUID(req.CategoryID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "category_id must be a UUID")
		return
	}
	if req.ClientType == "" {
		req.ClientType = models.ClientTypeStudent
	}
	if !models.IsValidClientType(req.ClientType) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown client_type")
		return
	}
	if req.Phone != "" && !isValidPhone(req.Phone) {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone must be 8-16 digits")
		return
	}

	ticket, err := h.store.CreateTicket(r.Context(), store.CreateTicketInput{
		CategoryID: req.CategoryID,
		ClientName: req.ClientName,
		ClientType: req.ClientType,
		Phone:      req.Phone,
		Note:       req.Note,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	metrics.TicketIssued(ticket.ClientType)
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.WindowID = strings.TrimSpace(req.WindowID)
	req.CategoryID = strings.TrimSpace(req.CategoryID)

	if req.WindowID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "window_id is required")
		return
	}
	if !isValidUUID(req.WindowID) || (req.CategoryID != "" && !isValidUUID(req.CategoryID)) {
		writeError(w, http.StatusBadRequest, "invalid_request", "window_id and category_id must be UUIDs")
		return
	}

	ticket, dispatched, err := h.store.CallNext(r.Context(), store.CallNextInput{
		WindowID:   req.WindowID,
		CategoryID: req.CategoryID,
		CalledAt:   time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNoTicket) {
			writeError(w, http.StatusConflict, "queue_empty", "no tickets available")
			return
		}
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	if dispatched {
		metrics.TicketCalled(ticket.ClientType)
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 3 && parts[1] == "actions":
		h.handleTicketAction(w, r, parts[0], parts[2])
	case len(parts) == 2 && parts[1] == "status":
		h.handleTicketStatus(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "logs":
		h.handleTicketLogs(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	input := store.TicketActionInput{
		TicketID:   ticketID,
		OccurredAt: time.Now().UTC(),
	}

	var ticket models.Ticket
	var err error
	switch action {
	case "skip":
		ticket, err = h.store.SkipTicket(r.Context(), input)
	case "recall":
		ticket, err = h.store.RecallTicket(r.Context(), input)
	case "complete":
		ticket, err = h.store.CompleteTicket(r.Context(), input)
	case "reinstate":
		ticket, err = h.store.ReinstateTicket(r.Context(), input)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	metrics.TicketAction(action)
	writeJSON(w, http.StatusOK, ticket)
}

type ticketStatusResponse struct {
	TicketNumber      string  `json:"ticket_number"`
	Status            string  `json:"status"`
	ClientName        string  `json:"client_name,omitempty"`
	ClientType        string  `json:"client_type"`
	IsPriority        bool    `json:"is_priority"`
	CategoryID        string  `json:"category_id"`
	Position          *int    `json:"position"`
	WaitingAhead      *int    `json:"waiting_ahead"`
	CalledAhead       *int    `json:"called_ahead"`
	QueuesAhead       *int    `json:"queues_ahead"`
	EtaMinutes        *int    `json:"eta_minutes"`
	EstimatedServedAt *string `json:"estimated_served_at"`
	CreatedAt         string  `json:"created_at"`
}

// handleTicketStatus serves the client-facing poll endpoint, keyed by
// the printed ticket number.
func (h *Handler) handleTicketStatus(w http.ResponseWriter, r *http.Request, ticketNumber string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ticket, found, err := h.store.GetTicketByNumber(r.Context(), ticketNumber)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "ticket_not_found", "ticket not found")
		return
	}

	resp := ticketStatusResponse{
		TicketNumber: ticket.TicketNumber,
		Status:       ticket.Status,
		ClientName:   ticket.ClientName,
		ClientType:   ticket.ClientType,
		IsPriority:   ticket.IsPriority(),
		CategoryID:   ticket.CategoryID,
		CreatedAt:    ticket.CreatedAt.Format(time.RFC3339),
	}

	estimate, ok, err := h.store.ResolvePositionAndEta(r.Context(), ticket.TicketID)
	if err != nil && !errors.Is(err, store.ErrTicketNotFound) {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if ok {
		servedAt := estimate.EstimatedServedAt.Format(time.RFC3339)
		resp.Position = &estimate.Position
		resp.WaitingAhead = &estimate.WaitingAhead
		resp.CalledAhead = &estimate.CalledAhead
		resp.QueuesAhead = &estimate.QueuesAhead
		resp.EtaMinutes = &estimate.EtaMinutes
		resp.EstimatedServedAt = &servedAt
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTicketLogs(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	logs, err := h.store.ListTicketLogs(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) handleQueueOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	categoryID := strings.TrimSpace(r.URL.Query().Get("category_id"))
	if categoryID != "" && !isValidUUID(categoryID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "category_id must be a UUID")
		return
	}

	overview, err := h.store.QueueOverview(r.Context(), categoryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	metrics.SetQueueDepth(overview.TotalWaiting)
	writeJSON(w, http.StatusOK, overview)
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snapshot, err := h.store.DisplaySnapshot(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	categories, err := h.store.ListCategories(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) handleWindows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	windows, err := h.store.ListWindows(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	afterRaw := strings.TrimSpace(r.URL.Query().Get("after"))
	var after time.Time
	if afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrCategoryNotFound):
		return http.StatusNotFound, "category_not_found", "category not found"
	case errors.Is(err, store.ErrWindowNotFound):
		return http.StatusNotFound, "window_not_found", "window not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrDailyCapReached):
		return http.StatusConflict, "daily_cap_reached", "daily ticket cap reached for this category"
	case errors.Is(err, store.ErrSequenceExhausted):
		return http.StatusInternalServerError, "sequence_exhausted", "ticket sequence exhausted"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
