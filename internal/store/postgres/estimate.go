package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/scheduling"
	"qms/walkin-service/internal/store"

	"github.com/jackc/pgx/v5"
)

// EstimateWaitMinutes is the weighted-count heuristic: same-category
// tickets ahead of the target, weighted by class, spread over the
// staffed windows. The second result is false for non-waiting tickets.
func (s *Store) EstimateWaitMinutes(ctx context.Context, ticketID string) (int, bool, error) {
	ticket, found, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, store.ErrTicketNotFound
	}
	if ticket.Status != models.StatusWaiting {
		return 0, false, nil
	}

	var regularAhead, priorityAhead int
	row := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE NOT (client_type = ANY($3))),
			COUNT(*) FILTER (WHERE client_type = ANY($3))
		FROM tickets
		WHERE status = 'waiting' AND category_id = $1 AND created_at < $2
	`, ticket.CategoryID, ticket.CreatedAt, models.PriorityClientTypes())
	if err := row.Scan(&regularAhead, &priorityAhead); err != nil {
		return 0, false, err
	}

	var calledAhead int
	row = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets WHERE status = 'called' AND category_id = $1
	`, ticket.CategoryID)
	if err := row.Scan(&calledAhead); err != nil {
		return 0, false, err
	}

	avgSeconds, err := s.categoryAvgSeconds(ctx, ticket.CategoryID)
	if err != nil {
		return 0, false, err
	}
	windows, err := s.staffedWindowCount(ctx)
	if err != nil {
		return 0, false, err
	}

	slots := scheduling.SlotsAhead(ticket.IsPriority(), regularAhead, priorityAhead, calledAhead)
	return scheduling.EtaMinutes(slots, avgSeconds, windows), true, nil
}

// ResolvePositionAndEta replays the fair-selection rule over the whole
// waiting set, starting from the live cycle state of the global counter,
// and reports the target's exact dispatch position.
func (s *Store) ResolvePositionAndEta(ctx context.Context, ticketID string) (store.PositionEstimate, bool, error) {
	ticket, found, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return store.PositionEstimate{}, false, err
	}
	if !found {
		return store.PositionEstimate{}, false, store.ErrTicketNotFound
	}
	if ticket.Status != models.StatusWaiting {
		return store.PositionEstimate{}, false, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, client_type
		FROM tickets
		WHERE status = 'waiting'
		ORDER BY created_at ASC, ticket_id ASC
	`)
	if err != nil {
		return store.PositionEstimate{}, false, err
	}
	defer rows.Close()

	var entrants []scheduling.Entrant
	for rows.Next() {
		var id, clientType string
		if err := rows.Scan(&id, &clientType); err != nil {
			return store.PositionEstimate{}, false, err
		}
		entrants = append(entrants, scheduling.Entrant{ID: id, Priority: models.IsPriorityClientType(clientType)})
	}
	if err := rows.Err(); err != nil {
		return store.PositionEstimate{}, false, err
	}

	cycle, err := s.globalCycleState(ctx)
	if err != nil {
		return store.PositionEstimate{}, false, err
	}

	position := scheduling.Position(entrants, ticket.TicketID, cycle)
	if position == 0 {
		return store.PositionEstimate{}, false, nil
	}

	var calledAhead int
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE status = 'called'`)
	if err := row.Scan(&calledAhead); err != nil {
		return store.PositionEstimate{}, false, err
	}

	avgSeconds, err := s.categoryAvgSeconds(ctx, ticket.CategoryID)
	if err != nil {
		return store.PositionEstimate{}, false, err
	}
	windows, err := s.staffedWindowCount(ctx)
	if err != nil {
		return store.PositionEstimate{}, false, err
	}

	waitingAhead := position - 1
	queuesAhead := waitingAhead + calledAhead
	eta := scheduling.EtaMinutes(float64(queuesAhead), avgSeconds, windows)

	return store.PositionEstimate{
		Position:          position,
		WaitingAhead:      waitingAhead,
		CalledAhead:       calledAhead,
		QueuesAhead:       queuesAhead,
		EtaMinutes:        eta,
		EstimatedServedAt: time.Now().UTC().Add(time.Duration(eta) * time.Minute),
	}, true, nil
}

// globalCycleState reads the fairness cursor from today's global counter
// row without locking. A missing row means a fresh cycle.
func (s *Store) globalCycleState(ctx context.Context) (int, error) {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	var cycle int
	row := s.pool.QueryRow(ctx, `
		SELECT regular_served_in_cycle
		FROM ticket_counters
		WHERE counter_date = $1 AND category_id IS NULL
	`, day)
	if err := row.Scan(&cycle); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return cycle, nil
}

func (s *Store) categoryAvgSeconds(ctx context.Context, categoryID string) (int, error) {
	var avgSeconds int
	row := s.pool.QueryRow(ctx, `
		SELECT avg_service_seconds FROM service_categories WHERE category_id = $1
	`, categoryID)
	if err := row.Scan(&avgSeconds); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.defaultAvgServiceSeconds, nil
		}
		return 0, err
	}
	if avgSeconds <= 0 {
		avgSeconds = s.defaultAvgServiceSeconds
	}
	return avgSeconds, nil
}

func (s *Store) calledCountsByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category_id, COUNT(*)
		FROM tickets
		WHERE status = 'called'
		GROUP BY category_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var categoryID string
		var count int
		if err := rows.Scan(&categoryID, &count); err != nil {
			return nil, err
		}
		counts[categoryID] = count
	}
	return counts, rows.Err()
}

func (s *Store) avgSecondsByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category_id, avg_service_seconds FROM service_categories
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	averages := map[string]int{}
	for rows.Next() {
		var categoryID string
		var avgSeconds int
		if err := rows.Scan(&categoryID, &avgSeconds); err != nil {
			return nil, err
		}
		averages[categoryID] = avgSeconds
	}
	return averages, rows.Err()
}

// staffedWindowCount counts active windows with an operator, falling
// back to all active windows, with a floor of one.
func (s *Store) staffedWindowCount(ctx context.Context) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM service_windows WHERE active = TRUE AND operator_id IS NOT NULL
	`)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	if count >= 1 {
		return count, nil
	}
	row = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM service_windows WHERE active = TRUE`)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	if count < 1 {
		count = 1
	}
	return count, nil
}

func (s *Store) QueueOverview(ctx context.Context, categoryID string) (store.QueueOverview, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE status = 'waiting'
	`
	args := []interface{}{models.PriorityClientTypes()}
	if categoryID != "" {
		args = append(args, categoryID)
		query += ` AND category_id = $2`
	}
	query += `
		ORDER BY CASE WHEN client_type = ANY($1) THEN 0 ELSE 1 END,
			created_at ASC
	`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return store.QueueOverview{}, err
	}
	defer rows.Close()

	var waiting []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return store.QueueOverview{}, err
		}
		waiting = append(waiting, ticket)
	}
	if err := rows.Err(); err != nil {
		return store.QueueOverview{}, err
	}

	calledByCategory, err := s.calledCountsByCategory(ctx)
	if err != nil {
		return store.QueueOverview{}, err
	}
	avgByCategory, err := s.avgSecondsByCategory(ctx)
	if err != nil {
		return store.QueueOverview{}, err
	}
	windows, err := s.staffedWindowCount(ctx)
	if err != nil {
		return store.QueueOverview{}, err
	}

	overview := store.QueueOverview{}
	for _, ticket := range waiting {
		// Ahead-counts come from the waiting set already in hand; the
		// set always holds the ticket's whole category.
		var regularAhead, priorityAhead int
		for _, other := range waiting {
			if other.CategoryID != ticket.CategoryID || !other.CreatedAt.Before(ticket.CreatedAt) {
				continue
			}
			if other.IsPriority() {
				priorityAhead++
			} else {
				regularAhead++
			}
		}
		avgSeconds, ok := avgByCategory[ticket.CategoryID]
		if !ok || avgSeconds <= 0 {
			avgSeconds = s.defaultAvgServiceSeconds
		}
		slots := scheduling.SlotsAhead(ticket.IsPriority(), regularAhead, priorityAhead, calledByCategory[ticket.CategoryID])
		overview.Waiting = append(overview.Waiting, store.WaitingEntry{
			Ticket:            ticket,
			IsPriority:        ticket.IsPriority(),
			EstimatedWaitMins: scheduling.EtaMinutes(slots, avgSeconds, windows),
		})
	}

	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE status = 'waiting'`)
	if err := row.Scan(&overview.TotalWaiting); err != nil {
		return store.QueueOverview{}, err
	}
	row = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets WHERE status = 'completed' AND created_at::date = $1::date
	`, time.Now().UTC().Truncate(24*time.Hour))
	if err := row.Scan(&overview.TotalCompletedToday); err != nil {
		return store.QueueOverview{}, err
	}
	return overview, nil
}

func (s *Store) DisplaySnapshot(ctx context.Context) (store.DisplaySnapshot, error) {
	windows, err := s.ListWindows(ctx)
	if err != nil {
		return store.DisplaySnapshot{}, err
	}

	snapshot := store.DisplaySnapshot{Timestamp: time.Now().UTC()}
	for _, window := range windows {
		if !window.Active {
			continue
		}
		entry := store.DisplayWindow{Window: window}
		row := s.pool.QueryRow(ctx, `
			SELECT `+ticketColumns+`
			FROM tickets
			WHERE window_id = $1 AND status = 'called'
			ORDER BY started_at DESC
			LIMIT 1
		`, window.WindowID)
		ticket, err := scanTicket(row)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return store.DisplaySnapshot{}, err
			}
		} else {
			entry.Current = &ticket
		}
		snapshot.Windows = append(snapshot.Windows, entry)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE status = 'waiting'
		ORDER BY CASE WHEN client_type = ANY($1) THEN 0 ELSE 1 END,
			created_at ASC
		LIMIT 10
	`, models.PriorityClientTypes())
	if err != nil {
		return store.DisplaySnapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return store.DisplaySnapshot{}, err
		}
		snapshot.Next = append(snapshot.Next, ticket)
	}
	if err := rows.Err(); err != nil {
		return store.DisplaySnapshot{}, err
	}
	return snapshot, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category_id, name, prefix, description, max_per_day, avg_service_seconds
		FROM service_categories
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var category models.Category
		if err := rows.Scan(&category.CategoryID, &category.Name, &category.Prefix, &category.Description, &category.MaxPerDay, &category.AvgServiceSeconds); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

func (s *Store) ListWindows(ctx context.Context) ([]models.Window, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT window_id, name, operator_id, active
		FROM service_windows
		ORDER BY window_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []models.Window
	for rows.Next() {
		var window models.Window
		var operatorID sql.NullString
		if err := rows.Scan(&window.WindowID, &window.Name, &operatorID, &window.Active); err != nil {
			return nil, err
		}
		window.OperatorID = nullStringPtr(operatorID)
		windows = append(windows, window)
	}
	return windows, rows.Err()
}

func (s *Store) ListTicketLogs(ctx context.Context, ticketID string) ([]store.TicketLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, action, performed_by, meta, created_at, prev_hash, hash
		FROM ticket_logs
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.TicketLog
	for rows.Next() {
		var entry store.TicketLog
		var performedBy sql.NullString
		if err := rows.Scan(&entry.TicketID, &entry.TicketSeq, &entry.Action, &performedBy, &entry.Meta, &entry.CreatedAt, &entry.PrevHash, &entry.Hash); err != nil {
			return nil, err
		}
		if performedBy.Valid {
			entry.PerformedBy = performedBy.String
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
	`
	args := []interface{}{}
	if !after.IsZero() {
		args = append(args, after)
		query += ` WHERE created_at > $1 ORDER BY created_at ASC LIMIT $2`
		args = append(args, limit)
	} else {
		query += ` ORDER BY created_at ASC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
