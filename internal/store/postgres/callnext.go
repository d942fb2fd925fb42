package postgres

import (
	"context"
	"errors"
	"time"

	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/scheduling"
	"qms/walkin-service/internal/store"

	"github.com/jackc/pgx/v5"
)

// CallNext dispatches the next waiting ticket to the window, preferring
// the window's own queue and falling back to the global pool. The second
// result is false when the window already had a called ticket and that
// ticket is returned unchanged.
func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = ensureWindowExists(ctx, tx, input.WindowID); err != nil {
		return models.Ticket{}, false, err
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	// The fairness cycle lives on the global counter row; the category
	// filter only narrows the candidate set. The counter lock also
	// serializes the called-ticket check below, so two dispatchers on
	// the same window cannot both observe an idle window.
	state, err := lockCounter(ctx, tx, calledAt, "")
	if err != nil {
		return models.Ticket{}, false, err
	}

	active, found, err := activeCalledTicket(ctx, tx, input.WindowID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return active, false, nil
	}

	ticket, cycle, ok, err := selectNextTicket(ctx, tx, input.WindowID, input.CategoryID, state.RegularServedInCycle, calledAt)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if !ok {
		err = store.ErrNoTicket
		return models.Ticket{}, false, err
	}

	if err = updateCounterCycle(ctx, tx, calledAt, "", cycle); err != nil {
		return models.Ticket{}, false, err
	}

	meta := map[string]interface{}{"window_id": input.WindowID}
	if err = insertTicketLog(ctx, tx, ticket.TicketID, store.LogActionCalled, input.PerformedBy, meta); err != nil {
		return models.Ticket{}, false, err
	}
	if err = insertOutboxEvent(ctx, tx, "ticket.called", ticket); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// selectNextTicket applies the fairness rule to the window-scoped queue,
// then to the global pool. A global winner is re-attached to the window.
func selectNextTicket(ctx context.Context, tx pgx.Tx, windowID, categoryID string, cycle int, calledAt time.Time) (models.Ticket, int, bool, error) {
	entrants, err := lockWaitingEntrants(ctx, tx, windowID, categoryID)
	if err != nil {
		return models.Ticket{}, cycle, false, err
	}
	chosenID, nextCycle, ok := pickFromEntrants(entrants, cycle)

	if !ok {
		entrants, err = lockWaitingEntrants(ctx, tx, "", categoryID)
		if err != nil {
			return models.Ticket{}, cycle, false, err
		}
		chosenID, nextCycle, ok = pickFromEntrants(entrants, cycle)
	}
	if !ok {
		return models.Ticket{}, cycle, false, nil
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = 'called',
			window_id = $2,
			started_at = $3,
			updated_at = $3
		WHERE ticket_id = $1 AND status = 'waiting'
		RETURNING `+ticketColumns, chosenID, windowID, calledAt)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, cycle, false, err
	}
	return ticket, nextCycle, true, nil
}

func pickFromEntrants(entrants []scheduling.Entrant, cycle int) (string, int, bool) {
	var priority, regular []string
	for _, e := range entrants {
		if e.Priority {
			priority = append(priority, e.ID)
		} else {
			regular = append(regular, e.ID)
		}
	}
	return scheduling.PickNext(priority, regular, cycle)
}

// lockWaitingEntrants fetches the waiting set in creation order, locking
// the rows so concurrent dispatchers skip past each other. An empty
// windowID widens the scope to the global pool.
func lockWaitingEntrants(ctx context.Context, tx pgx.Tx, windowID, categoryID string) ([]scheduling.Entrant, error) {
	query := `
		SELECT ticket_id, client_type
		FROM tickets
		WHERE status = 'waiting'
	`
	args := []interface{}{}
	if windowID != "" {
		args = append(args, windowID)
		query += ` AND window_id = $1`
	}
	if categoryID != "" {
		args = append(args, categoryID)
		if len(args) == 1 {
			query += ` AND category_id = $1`
		} else {
			query += ` AND category_id = $2`
		}
	}
	query += `
		ORDER BY created_at ASC, ticket_id ASC
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entrants []scheduling.Entrant
	for rows.Next() {
		var id, clientType string
		if err := rows.Scan(&id, &clientType); err != nil {
			return nil, err
		}
		entrants = append(entrants, scheduling.Entrant{ID: id, Priority: models.IsPriorityClientType(clientType)})
	}
	return entrants, rows.Err()
}

func activeCalledTicket(ctx context.Context, tx pgx.Tx, windowID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE window_id = $1 AND status = 'called'
		ORDER BY started_at DESC
		LIMIT 1
	`, windowID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func ensureWindowExists(ctx context.Context, tx pgx.Tx, windowID string) error {
	var exists bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM service_windows WHERE window_id = $1)
	`, windowID)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrWindowNotFound
	}
	return nil
}
