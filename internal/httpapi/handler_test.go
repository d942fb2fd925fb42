package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"
)

type fakeStore struct {
	createFn      func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error)
	getTicketFn   func(ctx context.Context, ticketID string) (models.Ticket, bool, error)
	getByNumberFn func(ctx context.Context, ticketNumber string) (models.Ticket, bool, error)
	callFn        func(ctx context.Context, input store.CallNextInput) (models.Ticket, bool, error)
	skipFn        func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error)
	recallFn      func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error)
	completeFn    func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error)
	reinstateFn   func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error)
	estimateFn    func(ctx context.Context, ticketID string) (int, bool, error)
	positionFn    func(ctx context.Context, ticketID string) (store.PositionEstimate, bool, error)
	overviewFn    func(ctx context.Context, categoryID string) (store.QueueOverview, error)
	displayFn     func(ctx context.Context) (store.DisplaySnapshot, error)
	categoriesFn  func(ctx context.Context) ([]models.Category, error)
	windowsFn     func(ctx context.Context) ([]models.Window, error)
	logsFn        func(ctx context.Context, ticketID string) ([]store.TicketLog, error)
	outboxFn      func(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error)
}

func (f fakeStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if f.createFn == nil {
		return models.Ticket{}, nil
	}
	return f.createFn(ctx, input)
}

func (f fakeStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
	if f.getTicketFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.getTicketFn(ctx, ticketID)
}

func (f fakeStore) GetTicketByNumber(ctx context.Context, ticketNumber string) (models.Ticket, bool, error) {
	if f.getByNumberFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.getByNumberFn(ctx, ticketNumber)
}

func (f fakeStore) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, bool, error) {
	if f.callFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.callFn(ctx, input)
}

func (f fakeStore) SkipTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	if f.skipFn == nil {
		return models.Ticket{}, nil
	}
	return f.skipFn(ctx, input)
}

func (f fakeStore) RecallTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	if f.recallFn == nil {
		return models.Ticket{}, nil
	}
	return f.recallFn(ctx, input)
}

func (f fakeStore) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	if f.completeFn == nil {
		return models.Ticket{}, nil
	}
	return f.completeFn(ctx, input)
}

func (f fakeStore) ReinstateTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	if f.reinstateFn == nil {
		return models.Ticket{}, nil
	}
	return f.reinstateFn(ctx, input)
}

func (f fakeStore) EstimateWaitMinutes(ctx context.Context, ticketID string) (int, bool, error) {
	if f.estimateFn == nil {
		return 0, false, nil
	}
	return f.estimateFn(ctx, ticketID)
}

func (f fakeStore) ResolvePositionAndEta(ctx context.Context, ticketID string) (store.PositionEstimate, bool, error) {
	if f.positionFn == nil {
		return store.PositionEstimate{}, false, nil
	}
	return f.positionFn(ctx, ticketID)
}

func (f fakeStore) QueueOverview(ctx context.Context, categoryID string) (store.QueueOverview, error) {
	if f.overviewFn == nil {
		return store.QueueOverview{}, nil
	}
	return f.overviewFn(ctx, categoryID)
}

func (f fakeStore) DisplaySnapshot(ctx context.Context) (store.DisplaySnapshot, error) {
	if f.displayFn == nil {
		return store.DisplaySnapshot{}, nil
	}
	return f.displayFn(ctx)
}

func (f fakeStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	if f.categoriesFn == nil {
		return nil, nil
	}
	return f.categoriesFn(ctx)
}

func (f fakeStore) ListWindows(ctx context.Context) ([]models.Window, error) {
	if f.windowsFn == nil {
		return nil, nil
	}
	return f.windowsFn(ctx)
}

func (f fakeStore) ListTicketLogs(ctx context.Context, ticketID string) ([]store.TicketLog, error) {
	if f.logsFn == nil {
		return nil, nil
	}
	return f.logsFn(ctx, ticketID)
}

func (f fakeStore) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if f.outboxFn == nil {
		return nil, nil
	}
	return f.outboxFn(ctx, after, limit)
}

func TestCreateTicketSuccess(t *testing.T) {
	createdAt := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	st := fakeStore{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
			return models.Ticket{
				TicketID:     "ticket-1",
				TicketNumber: "T-001",
				CategoryID:   input.CategoryID,
				Status:       models.StatusWaiting,
				ClientType:   input.ClientType,
				CreatedAt:    createdAt,
			}, nil
		},
	}

	h := NewHandler(st)

	payload := map[string]string{
		"category_id": "11111111-1111-1111-1111-111111111111",
		"client_name": "Ana",
		"client_type": models.ClientTypeStudent,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var ticket models.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ticket.TicketNumber != "T-001" || ticket.Status != models.StatusWaiting {
		t.Fatalf("unexpected ticket response: %+v", ticket)
	}
}

func TestCreateTicketMissingCategory(t *testing.T) {
	h := NewHandler(fakeStore{})

	payload := map[string]string{"client_name": "Ana"}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCreateTicketUnknownClientType(t *testing.T) {
	h := NewHandler(fakeStore{})

	payload := map[string]string{
		"category_id": "11111111-1111-1111-1111-111111111111",
		"client_type": "robot",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCreateTicketCategoryNotFound(t *testing.T) {
	st := fakeStore{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrCategoryNotFound
		},
	}
	h := NewHandler(st)

	payload := map[string]string{
		"category_id": "11111111-1111-1111-1111-111111111111",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}

	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "category_not_found" {
		t.Fatalf("expected error code category_not_found, got %s", errResp.Error.Code)
	}
}

func TestCreateTicketDailyCapReached(t *testing.T) {
	st := fakeStore{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrDailyCapReached
		},
	}
	h := NewHandler(st)

	payload := map[string]string{
		"category_id": "11111111-1111-1111-1111-111111111111",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestCallNextSuccess(t *testing.T) {
	windowID := "55555555-5555-5555-5555-555555555555"
	st := fakeStore{
		callFn: func(ctx context.Context, input store.CallNextInput) (models.Ticket, bool, error) {
			return models.Ticket{
				TicketID:     "ticket-2",
				TicketNumber: "T-002",
				Status:       models.StatusCalled,
				WindowID:     &input.WindowID,
			}, true, nil
		},
	}
	h := NewHandler(st)

	payload := map[string]string{"window_id": windowID}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/actions/call-next", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var ticket models.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ticket.Status != models.StatusCalled || ticket.WindowID == nil || *ticket.WindowID != windowID {
		t.Fatalf("unexpected ticket response: %+v", ticket)
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	st := fakeStore{
		callFn: func(ctx context.Context, input store.CallNextInput) (models.Ticket, bool, error) {
			return models.Ticket{}, false, store.ErrNoTicket
		},
	}
	h := NewHandler(st)

	payload := map[string]string{"window_id": "55555555-5555-5555-5555-555555555555"}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/actions/call-next", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}

	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "queue_empty" {
		t.Fatalf("expected error code queue_empty, got %s", errResp.Error.Code)
	}
}

func TestCallNextMissingWindow(t *testing.T) {
	h := NewHandler(fakeStore{})

	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/actions/call-next", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestTicketActionInvalidState(t *testing.T) {
	st := fakeStore{
		skipFn: func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrInvalidState
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/skip", bytes.NewReader(nil))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}

	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "invalid_state" {
		t.Fatalf("expected error code invalid_state, got %s", errResp.Error.Code)
	}
}

func TestTicketActionUnknownAction(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/explode", bytes.NewReader(nil))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestReinstateSuccess(t *testing.T) {
	st := fakeStore{
		reinstateFn: func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
			return models.Ticket{
				TicketID:   input.TicketID,
				Status:     models.StatusWaiting,
				Reinstated: true,
			}, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/reinstate", bytes.NewReader(nil))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var ticket models.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ticket.Status != models.StatusWaiting || !ticket.Reinstated {
		t.Fatalf("unexpected ticket response: %+v", ticket)
	}
}

func TestTicketStatusWaiting(t *testing.T) {
	servedAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	st := fakeStore{
		getByNumberFn: func(ctx context.Context, ticketNumber string) (models.Ticket, bool, error) {
			return models.Ticket{
				TicketID:     "ticket-3",
				TicketNumber: ticketNumber,
				CategoryID:   "11111111-1111-1111-1111-111111111111",
				Status:       models.StatusWaiting,
				ClientType:   models.ClientTypeSeniorCitizen,
				CreatedAt:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			}, true, nil
		},
		positionFn: func(ctx context.Context, ticketID string) (store.PositionEstimate, bool, error) {
			return store.PositionEstimate{
				Position:          2,
				WaitingAhead:      1,
				CalledAhead:       0,
				QueuesAhead:       1,
				EtaMinutes:        3,
				EstimatedServedAt: servedAt,
			}, true, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/P-002/status", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var status ticketStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !status.IsPriority {
		t.Fatalf("expected priority ticket, got %+v", status)
	}
	if status.Position == nil || *status.Position != 2 {
		t.Fatalf("expected position 2, got %+v", status.Position)
	}
	if status.EtaMinutes == nil || *status.EtaMinutes != 3 {
		t.Fatalf("expected eta 3, got %+v", status.EtaMinutes)
	}
}

func TestTicketStatusNotWaiting(t *testing.T) {
	st := fakeStore{
		getByNumberFn: func(ctx context.Context, ticketNumber string) (models.Ticket, bool, error) {
			return models.Ticket{
				TicketID:     "ticket-4",
				TicketNumber: ticketNumber,
				Status:       models.StatusCompleted,
				ClientType:   models.ClientTypeStudent,
			}, true, nil
		},
		positionFn: func(ctx context.Context, ticketID string) (store.PositionEstimate, bool, error) {
			return store.PositionEstimate{}, false, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/T-004/status", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var status ticketStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.Position != nil || status.EtaMinutes != nil {
		t.Fatalf("expected nil estimates for completed ticket, got %+v", status)
	}
}

func TestTicketStatusNotFound(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/T-999/status", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestQueueOverview(t *testing.T) {
	st := fakeStore{
		overviewFn: func(ctx context.Context, categoryID string) (store.QueueOverview, error) {
			return store.QueueOverview{
				Waiting: []store.WaitingEntry{
					{Ticket: models.Ticket{TicketNumber: "P-001"}, IsPriority: true, EstimatedWaitMins: 0},
					{Ticket: models.Ticket{TicketNumber: "T-001"}, EstimatedWaitMins: 5},
				},
				TotalWaiting: 2,
			}, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var overview store.QueueOverview
	if err := json.NewDecoder(resp.Body).Decode(&overview); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if overview.TotalWaiting != 2 || len(overview.Waiting) != 2 {
		t.Fatalf("unexpected overview: %+v", overview)
	}
}

func TestQueueOverviewBadCategory(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/queue?category_id=not-a-uuid", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestDisplaySnapshot(t *testing.T) {
	st := fakeStore{
		displayFn: func(ctx context.Context) (store.DisplaySnapshot, error) {
			current := models.Ticket{TicketNumber: "T-003", Status: models.StatusCalled}
			return store.DisplaySnapshot{
				Windows: []store.DisplayWindow{
					{Window: models.Window{WindowID: "w1", Name: "Window 1", Active: true}, Current: &current},
				},
				Next:      []models.Ticket{{TicketNumber: "T-004"}},
				Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/display", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var snapshot store.DisplaySnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(snapshot.Windows) != 1 || snapshot.Windows[0].Current == nil {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestEventsBadAfter(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/events?after=yesterday", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodDelete, "/api/queue", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", resp.Code)
	}
}
