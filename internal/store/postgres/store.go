package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/scheduling"
	"qms/walkin-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketNumberPad = 3

const ticketColumns = `ticket_id, ticket_number, category_id, status, client_type, client_name, phone, note, window_id, skip_count, is_reinstated, started_at, ended_at, created_at, updated_at`

type Store struct {
	pool                     *pgxpool.Pool
	sequenceRetryLimit       int
	defaultAvgServiceSeconds int
}

type Options struct {
	SequenceRetryLimit       int
	DefaultAvgServiceSeconds int
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	retryLimit := options.SequenceRetryLimit
	if retryLimit <= 0 {
		retryLimit = 1000
	}
	avgSeconds := options.DefaultAvgServiceSeconds
	if avgSeconds <= 0 {
		avgSeconds = 300
	}
	return &Store{
		pool:                     pool,
		sequenceRetryLimit:       retryLimit,
		defaultAvgServiceSeconds: avgSeconds,
	}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	category, err := getCategory(ctx, tx, input.CategoryID)
	if err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	state, err := lockCounter(ctx, tx, createdAt, input.CategoryID)
	if err != nil {
		return models.Ticket{}, err
	}

	if category.MaxPerDay > 0 && state.LastNumber >= int64(category.MaxPerDay) {
		err = store.ErrDailyCapReached
		return models.Ticket{}, err
	}

	seq, ticketNumber, err := s.nextTicketNumber(ctx, tx, category.Prefix, state.LastNumber)
	if err != nil {
		return models.Ticket{}, err
	}

	windowID, err := assignWindow(ctx, tx, state.LastAssignedWindowID)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = updateCounter(ctx, tx, createdAt, input.CategoryID, seq, windowID, state.RegularServedInCycle); err != nil {
		return models.Ticket{}, err
	}

	clientType := input.ClientType
	if clientType == "" {
		clientType = models.ClientTypeStudent
	}

	ticketID := uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, ticket_number, category_id, status, client_type,
			client_name, phone, note, window_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		RETURNING `+ticketColumns+`
	`, ticketID, ticketNumber, input.CategoryID, models.StatusWaiting, clientType,
		input.ClientName, input.Phone, input.Note, nullIfEmptyPtr(windowID), createdAt)

	var ticket models.Ticket
	if ticket, err = scanTicket(row); err != nil {
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.created", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// nextTicketNumber issues the next free sequence value for the category
// prefix. Collisions with existing records are skipped rather than
// surfaced, bounded by the retry limit.
func (s *Store) nextTicketNumber(ctx context.Context, tx pgx.Tx, prefix string, lastNumber int64) (int64, string, error) {
	seq := lastNumber
	for attempt := 0; attempt < s.sequenceRetryLimit; attempt++ {
		seq++
		candidate := fmt.Sprintf("%s-%0*d", prefix, ticketNumberPad, seq)
		var exists bool
		row := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_number = $1)
		`, candidate)
		if err := row.Scan(&exists); err != nil {
			return 0, "", err
		}
		if !exists {
			return seq, candidate, nil
		}
	}
	return 0, "", store.ErrSequenceExhausted
}

// assignWindow picks the least-loaded candidate window, breaking ties by
// rotating past the counter cursor. Returns empty when no window exists.
func assignWindow(ctx context.Context, tx pgx.Tx, lastAssigned string) (string, error) {
	candidates, err := listWindowIDs(ctx, tx, true)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		if candidates, err = listWindowIDs(ctx, tx, false); err != nil {
			return "", err
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	loads := make(map[string]int, len(candidates))
	rows, err := tx.Query(ctx, `
		SELECT window_id, COUNT(*)
		FROM tickets
		WHERE status IN ('waiting', 'called') AND window_id::text = ANY($1)
		GROUP BY window_id
	`, candidates)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	for rows.Next() {
		var windowID string
		var count int
		if err := rows.Scan(&windowID, &count); err != nil {
			return "", err
		}
		loads[windowID] = count
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	minLoad := loads[candidates[0]]
	for _, id := range candidates[1:] {
		if loads[id] < minLoad {
			minLoad = loads[id]
		}
	}
	var leastLoaded []string
	for _, id := range candidates {
		if loads[id] == minLoad {
			leastLoaded = append(leastLoaded, id)
		}
	}

	ordered := scheduling.RotateAfter(leastLoaded, lastAssigned)
	return ordered[0], nil
}

func listWindowIDs(ctx context.Context, tx pgx.Tx, requireOperator bool) ([]string, error) {
	query := `SELECT window_id FROM service_windows WHERE active = TRUE`
	if requireOperator {
		query += ` AND operator_id IS NOT NULL`
	}
	query += ` ORDER BY window_id ASC`

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) GetTicketByNumber(ctx context.Context, ticketNumber string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE ticket_number = $1
	`, ticketNumber)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) SkipTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	occurredAt := occurredOrNow(input.OccurredAt)
	return s.applyTicketAction(ctx, input, "skip", models.StatusCalled, store.LogActionSkipped, "ticket.skipped", `
		UPDATE tickets
		SET status = 'skipped',
			skip_count = skip_count + 1,
			window_id = NULL,
			ended_at = $2,
			updated_at = $2
		WHERE ticket_id = $1 AND status = 'called'
		RETURNING `+ticketColumns, occurredAt, nil)
}

func (s *Store) RecallTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	occurredAt := occurredOrNow(input.OccurredAt)
	metaFn := func(ticket models.Ticket) map[string]interface{} {
		meta := map[string]interface{}{}
		if ticket.WindowID != nil {
			meta["window_id"] = *ticket.WindowID
		}
		return meta
	}
	// Recall re-announces; the ticket stays called at its window.
	return s.applyTicketAction(ctx, input, "recall", models.StatusCalled, store.LogActionRecalled, "ticket.recalled", `
		UPDATE tickets
		SET updated_at = $2
		WHERE ticket_id = $1 AND status = 'called'
		RETURNING `+ticketColumns, occurredAt, metaFn)
}

func (s *Store) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	occurredAt := occurredOrNow(input.OccurredAt)
	metaFn := func(ticket models.Ticket) map[string]interface{} {
		duration := 0
		if ticket.StartedAt != nil && ticket.EndedAt != nil {
			duration = int(ticket.EndedAt.Sub(*ticket.StartedAt).Seconds())
		}
		return map[string]interface{}{"duration_seconds": duration}
	}
	return s.applyTicketAction(ctx, input, "complete", models.StatusCalled, store.LogActionCompleted, "ticket.completed", `
		UPDATE tickets
		SET status = 'completed',
			started_at = COALESCE(started_at, $2),
			ended_at = $2,
			updated_at = $2
		WHERE ticket_id = $1 AND status = 'called'
		RETURNING `+ticketColumns, occurredAt, metaFn)
}

func (s *Store) ReinstateTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	occurredAt := occurredOrNow(input.OccurredAt)
	return s.applyTicketAction(ctx, input, "reinstate", models.StatusSkipped, store.LogActionReinstated, "ticket.reinstated", `
		UPDATE tickets
		SET status = 'waiting',
			is_reinstated = TRUE,
			window_id = NULL,
			started_at = NULL,
			ended_at = NULL,
			updated_at = $2
		WHERE ticket_id = $1 AND status = 'skipped' AND skip_count = 1 AND is_reinstated = FALSE
		RETURNING `+ticketColumns, occurredAt, nil)
}

// applyTicketAction runs one guarded transition: a conditional UPDATE
// whose WHERE clause encodes the guard, then the audit log entry and the
// outbox event. A zero-row update is resolved into ErrTicketNotFound or
// ErrInvalidState.
func (s *Store) applyTicketAction(ctx context.Context, input store.TicketActionInput, transition, fromStatus, action, eventType, query string, occurredAt time.Time, metaFn func(models.Ticket) map[string]interface{}) (models.Ticket, error) {
	if !store.ValidTransition(transition, fromStatus) {
		return models.Ticket{}, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, query, input.TicketID, occurredAt)
	var ticket models.Ticket
	if ticket, err = scanTicket(row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			existsRow := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1)`, input.TicketID)
			if err = existsRow.Scan(&exists); err != nil {
				return models.Ticket{}, err
			}
			if !exists {
				err = store.ErrTicketNotFound
			} else {
				err = store.ErrInvalidState
			}
			return models.Ticket{}, err
		}
		return models.Ticket{}, err
	}

	var meta map[string]interface{}
	if metaFn != nil {
		meta = metaFn(ticket)
	}
	if err = insertTicketLog(ctx, tx, ticket.TicketID, action, input.PerformedBy, meta); err != nil {
		return models.Ticket{}, err
	}
	if err = insertOutboxEvent(ctx, tx, eventType, ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

type counterState struct {
	LastNumber           int64
	LastAssignedWindowID string
	RegularServedInCycle int
}

// lockCounter acquires the exclusive row lock on the (date, category)
// sequence counter, creating the row lazily on the first ticket of the
// day. The empty categoryID addresses the global row.
func lockCounter(ctx context.Context, tx pgx.Tx, at time.Time, categoryID string) (counterState, error) {
	day := at.UTC().Truncate(24 * time.Hour)
	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_counters (counter_date, category_id)
		VALUES ($1, $2)
		ON CONFLICT (counter_date, category_id) DO NOTHING
	`, day, nullIfEmptyPtr(categoryID))
	if err != nil {
		return counterState{}, err
	}

	var state counterState
	var lastWindow sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT last_number, last_assigned_window_id, regular_served_in_cycle
		FROM ticket_counters
		WHERE counter_date = $1 AND category_id IS NOT DISTINCT FROM $2
		FOR UPDATE
	`, day, nullIfEmptyPtr(categoryID))
	if err := row.Scan(&state.LastNumber, &lastWindow, &state.RegularServedInCycle); err != nil {
		return counterState{}, err
	}
	if lastWindow.Valid {
		state.LastAssignedWindowID = lastWindow.String
	}
	return state, nil
}

func updateCounter(ctx context.Context, tx pgx.Tx, at time.Time, categoryID string, lastNumber int64, lastWindow string, cycle int) error {
	day := at.UTC().Truncate(24 * time.Hour)
	_, err := tx.Exec(ctx, `
		UPDATE ticket_counters
		SET last_number = $3,
			last_assigned_window_id = COALESCE($4, last_assigned_window_id),
			regular_served_in_cycle = $5
		WHERE counter_date = $1 AND category_id IS NOT DISTINCT FROM $2
	`, day, nullIfEmptyPtr(categoryID), lastNumber, nullIfEmptyPtr(lastWindow), cycle)
	return err
}

func updateCounterCycle(ctx context.Context, tx pgx.Tx, at time.Time, categoryID string, cycle int) error {
	day := at.UTC().Truncate(24 * time.Hour)
	_, err := tx.Exec(ctx, `
		UPDATE ticket_counters
		SET regular_served_in_cycle = $3
		WHERE counter_date = $1 AND category_id IS NOT DISTINCT FROM $2
	`, day, nullIfEmptyPtr(categoryID), cycle)
	return err
}

func getCategory(ctx context.Context, tx pgx.Tx, categoryID string) (models.Category, error) {
	var category models.Category
	row := tx.QueryRow(ctx, `
		SELECT category_id, name, prefix, description, max_per_day, avg_service_seconds
		FROM service_categories
		WHERE category_id = $1
	`, categoryID)
	if err := row.Scan(&category.CategoryID, &category.Name, &category.Prefix, &category.Description, &category.MaxPerDay, &category.AvgServiceSeconds); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Category{}, store.ErrCategoryNotFound
		}
		return models.Category{}, err
	}
	return category, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket) error {
	payload := map[string]interface{}{
		"ticket_id":     ticket.TicketID,
		"ticket_number": ticket.TicketNumber,
		"category_id":   ticket.CategoryID,
		"status":        ticket.Status,
		"client_type":   ticket.ClientType,
		"window_id":     ticket.WindowID,
		"skip_count":    ticket.SkipCount,
		"is_reinstated": ticket.Reinstated,
		"started_at":    ticket.StartedAt,
		"ended_at":      ticket.EndedAt,
		"created_at":    ticket.CreatedAt,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payloadJSON, time.Now().UTC())
	return err
}

// insertTicketLog appends one hash-chained audit entry for the ticket.
// The advisory lock serializes writers on the same chain.
func insertTicketLog(ctx context.Context, tx pgx.Tx, ticketID, action, performedBy string, meta map[string]interface{}) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticketID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_logs
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
		FOR UPDATE
	`, ticketID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}

	var metaJSON []byte
	if len(meta) > 0 {
		encoded, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		metaJSON = encoded
	}

	// timestamptz keeps microseconds, so hash over the stored precision.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	hash := store.ComputeTicketLogHash(prev, ticketID, action, metaJSON, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_logs (ticket_id, ticket_seq, action, performed_by, meta, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ticketID, nextSeq, action, nullIfEmptyPtr(performedBy), nullIfEmptyPtr(string(metaJSON)), createdAt, prev, hash)
	return err
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var windowID sql.NullString
	var startedAt sql.NullTime
	var endedAt sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.TicketNumber, &ticket.CategoryID, &ticket.Status,
		&ticket.ClientType, &ticket.ClientName, &ticket.Phone, &ticket.Note, &windowID,
		&ticket.SkipCount, &ticket.Reinstated, &startedAt, &endedAt, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return models.Ticket{}, err
	}
	ticket.WindowID = nullStringPtr(windowID)
	ticket.StartedAt = nullTimePtr(startedAt)
	ticket.EndedAt = nullTimePtr(endedAt)
	return ticket, nil
}

func occurredOrNow(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at
}

func nullIfEmptyPtr(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
