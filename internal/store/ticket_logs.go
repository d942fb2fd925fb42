package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/walkin-service/internal/models"
)

// Log actions, mirroring the ticket lifecycle.
const (
	LogActionCalled     = "called"
	LogActionSkipped    = "skipped"
	LogActionRecalled   = "recalled"
	LogActionCompleted  = "completed"
	LogActionReinstated = "reinstated"
)

// TicketLog is one append-only audit entry. Entries form a per-ticket
// hash chain so tampering with history is detectable.
type TicketLog struct {
	TicketID    string          `json:"ticket_id"`
	TicketSeq   int             `json:"ticket_seq"`
	Action      string          `json:"action"`
	PerformedBy string          `json:"performed_by,omitempty"`
	Meta        json.RawMessage `json:"meta,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	PrevHash    string          `json:"prev_hash"`
	Hash        string          `json:"hash"`
}

func ComputeTicketLogHash(prevHash, ticketID, action string, meta json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, action, createdAt.UTC().Format(time.RFC3339Nano), seq, meta)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTicketLogChain checks hash continuity over a ticket's entries in
// sequence order.
func VerifyTicketLogChain(entries []TicketLog) error {
	prev := ""
	for _, entry := range entries {
		expected := ComputeTicketLogHash(prev, entry.TicketID, entry.Action, entry.Meta, entry.CreatedAt, entry.TicketSeq)
		if entry.Hash != expected {
			return fmt.Errorf("ticket %s log seq %d: hash mismatch", entry.TicketID, entry.TicketSeq)
		}
		if entry.PrevHash != prev {
			return fmt.Errorf("ticket %s log seq %d: broken chain", entry.TicketID, entry.TicketSeq)
		}
		prev = entry.Hash
	}
	return nil
}

// ServiceDuration reads the recorded duration from a completed log entry,
// falling back to the ticket timestamps.
func ServiceDuration(ticket models.Ticket, entry TicketLog) time.Duration {
	var meta struct {
		DurationSeconds int `json:"duration_seconds"`
	}
	if len(entry.Meta) > 0 {
		if err := json.Unmarshal(entry.Meta, &meta); err == nil && meta.DurationSeconds > 0 {
			return time.Duration(meta.DurationSeconds) * time.Second
		}
	}
	if ticket.StartedAt != nil && ticket.EndedAt != nil {
		return ticket.EndedAt.Sub(*ticket.StartedAt)
	}
	return 0
}
