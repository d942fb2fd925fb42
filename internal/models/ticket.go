package models

import "time"

type Ticket struct {
	TicketID     string     `json:"ticket_id"`
	TicketNumber string     `json:"ticket_number"`
	CategoryID   string     `json:"category_id"`
	Status       string     `json:"status"`
	ClientType   string     `json:"client_type"`
	ClientName   string     `json:"client_name,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Note         string     `json:"note,omitempty"`
	WindowID     *string    `json:"window_id,omitempty"`
	SkipCount    int        `json:"skip_count"`
	Reinstated   bool       `json:"is_reinstated"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusSkipped   = "skipped"
	StatusCompleted = "completed"
)

const (
	ClientTypeStudent       = "student"
	ClientTypeParent        = "parent"
	ClientTypeVisitor       = "visitor"
	ClientTypeSeniorCitizen = "senior_citizen"
	ClientTypeHighPriority  = "high_priority"
)

var priorityClientTypes = []string{ClientTypeSeniorCitizen, ClientTypeHighPriority}

func IsPriorityClientType(clientType string) bool {
	for _, priority := range priorityClientTypes {
		if clientType == priority {
			return true
		}
	}
	return false
}

// PriorityClientTypes returns the client types served from the priority
// queue, for use as a query parameter.
func PriorityClientTypes() []string {
	types := make([]string, len(priorityClientTypes))
	copy(types, priorityClientTypes)
	return types
}

func IsValidClientType(clientType string) bool {
	switch clientType {
	case ClientTypeStudent, ClientTypeParent, ClientTypeVisitor, ClientTypeSeniorCitizen, ClientTypeHighPriority:
		return true
	default:
		return false
	}
}

func (t Ticket) IsPriority() bool {
	return IsPriorityClientType(t.ClientType)
}
