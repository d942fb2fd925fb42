package store

import (
	"context"
	"encoding/json"
	"time"

	"qms/walkin-service/internal/models"
)

type CreateTicketInput struct {
	CategoryID  string
	ClientName  string
	ClientType  string
	Phone       string
	Note        string
	PerformedBy string
	CreatedAt   time.Time
}

type CallNextInput struct {
	WindowID    string
	CategoryID  string
	PerformedBy string
	CalledAt    time.Time
}

type TicketActionInput struct {
	TicketID    string
	PerformedBy string
	OccurredAt  time.Time
}

// PositionEstimate is the simulated-order answer for a waiting ticket.
type PositionEstimate struct {
	Position          int       `json:"position"`
	WaitingAhead      int       `json:"waiting_ahead"`
	CalledAhead       int       `json:"called_ahead"`
	QueuesAhead       int       `json:"queues_ahead"`
	EtaMinutes        int       `json:"eta_minutes"`
	EstimatedServedAt time.Time `json:"estimated_served_at"`
}

// WaitingEntry is a waiting ticket decorated for the front-desk listing.
type WaitingEntry struct {
	models.Ticket
	IsPriority        bool `json:"is_priority"`
	EstimatedWaitMins int  `json:"estimated_wait_minutes"`
}

type QueueOverview struct {
	Waiting             []WaitingEntry `json:"waiting"`
	TotalWaiting        int            `json:"total_waiting"`
	TotalCompletedToday int            `json:"total_completed_today"`
}

// DisplayWindow pairs a window with the ticket it is currently serving.
type DisplayWindow struct {
	models.Window
	Current *models.Ticket `json:"current,omitempty"`
}

type DisplaySnapshot struct {
	Windows   []DisplayWindow `json:"windows"`
	Next      []models.Ticket `json:"next"`
	Timestamp time.Time       `json:"timestamp"`
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// TicketStore is the queue core as seen by the web-layer collaborators.
//
// Lifecycle actions report guard violations and missing tickets through
// ErrInvalidState and ErrTicketNotFound so stale client retries stay
// harmless. The bool result of CallNext is false when the window already
// had a called ticket and that ticket was returned unchanged.
type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, bool, error)
	GetTicketByNumber(ctx context.Context, ticketNumber string) (models.Ticket, bool, error)
	CallNext(ctx context.Context, input CallNextInput) (models.Ticket, bool, error)
	SkipTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	RecallTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	CompleteTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	ReinstateTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	EstimateWaitMinutes(ctx context.Context, ticketID string) (int, bool, error)
	ResolvePositionAndEta(ctx context.Context, ticketID string) (PositionEstimate, bool, error)
	QueueOverview(ctx context.Context, categoryID string) (QueueOverview, error)
	DisplaySnapshot(ctx context.Context) (DisplaySnapshot, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	ListWindows(ctx context.Context) ([]models.Window, error)
	ListTicketLogs(ctx context.Context, ticketID string) ([]TicketLog, error)
	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
}
