package models

type Window struct {
	WindowID   string  `json:"window_id"`
	Name       string  `json:"name"`
	OperatorID *string `json:"operator_id,omitempty"`
	Active     bool    `json:"active"`
}
