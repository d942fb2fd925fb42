package store

import "errors"

var (
	ErrCategoryNotFound  = errors.New("category not found")
	ErrWindowNotFound    = errors.New("window not found")
	ErrNoTicket          = errors.New("no ticket available")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrInvalidState      = errors.New("invalid ticket state")
	ErrDailyCapReached   = errors.New("daily ticket cap reached")
	ErrSequenceExhausted = errors.New("ticket sequence exhausted")
)
