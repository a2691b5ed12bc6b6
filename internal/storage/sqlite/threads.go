package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plouffe/rdv/internal/core"
)

const threadColumns = `id, mail_thread_id, requester, subject, state, duration_minutes,
	proposed_slots, selected_slot, calendar_event_id, meeting_mode, clarifications,
	created_at, updated_at`

func (s *Store) CreateThread(ctx context.Context, th core.Thread) (core.Thread, error) {
	if th.ID == "" {
		th.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if th.CreatedAt.IsZero() {
		th.CreatedAt = now
	}
	if th.UpdatedAt.IsZero() {
		th.UpdatedAt = now
	}
	if th.State == "" {
		th.State = core.StateNew
	}

	proposed, err := json.Marshal(th.ProposedSlots)
	if err != nil {
		return core.Thread{}, fmt.Errorf("marshal proposed slots: %w", err)
	}
	selected, err := marshalSelected(th.SelectedSlot)
	if err != nil {
		return core.Thread{}, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO threads (`+threadColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		th.ID, th.MailThreadID, th.Requester, th.Subject, string(th.State),
		int(th.Duration/time.Minute), string(proposed), selected,
		th.CalendarEventID, th.MeetingMode, th.Clarifications,
		th.CreatedAt.Format(time.RFC3339Nano), th.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return core.Thread{}, fmt.Errorf("create thread: %w", err)
	}
	return th, nil
}

func (s *Store) GetThread(ctx context.Context, id string) (core.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = ?`, id)
	return scanThread(row)
}

func (s *Store) LatestThreadByMailID(ctx context.Context, mailThreadID string) (core.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads
		 WHERE mail_thread_id = ?
		 ORDER BY created_at DESC LIMIT 1`, mailThreadID)
	return scanThread(row)
}

func (s *Store) ListThreads(ctx context.Context, state core.ThreadState, limit int) ([]core.Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []core.Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// UpdateThread applies mutate inside a transaction, but only while the
// thread is still in the expected state. The WHERE clause on the final
// UPDATE re-checks the state so a lost race surfaces as ErrStateConflict
// rather than a double write.
func (s *Store) UpdateThread(ctx context.Context, id string, from core.ThreadState, mutate func(*core.Thread) error) (core.Thread, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return core.Thread{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = ?`, id)
	th, err := scanThread(row)
	if err != nil {
		return core.Thread{}, err
	}
	if th.State != from {
		return core.Thread{}, core.ErrStateConflict
	}
	if err := mutate(&th); err != nil {
		return core.Thread{}, err
	}
	th.UpdatedAt = time.Now().UTC()

	proposed, err := json.Marshal(th.ProposedSlots)
	if err != nil {
		return core.Thread{}, fmt.Errorf("marshal proposed slots: %w", err)
	}
	selected, err := marshalSelected(th.SelectedSlot)
	if err != nil {
		return core.Thread{}, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE threads SET state = ?, duration_minutes = ?, proposed_slots = ?,
		 selected_slot = ?, calendar_event_id = ?, meeting_mode = ?,
		 clarifications = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		string(th.State), int(th.Duration/time.Minute), string(proposed), selected,
		th.CalendarEventID, th.MeetingMode, th.Clarifications,
		th.UpdatedAt.Format(time.RFC3339Nano), id, string(from),
	)
	if err != nil {
		return core.Thread{}, fmt.Errorf("update thread: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Thread{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return core.Thread{}, core.ErrStateConflict
	}
	if err := tx.Commit(); err != nil {
		return core.Thread{}, fmt.Errorf("commit: %w", err)
	}
	return th, nil
}

func (s *Store) ExpireStale(ctx context.Context, olderThan time.Time) ([]core.Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+threadColumns+` FROM threads
		 WHERE state IN (?, ?, ?) AND updated_at < ?`,
		string(core.StateNew), string(core.StateAwaitingSelection), string(core.StateAwaitingConfirmation),
		olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale threads: %w", err)
	}
	var stale []core.Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, th)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	var expired []core.Thread
	for _, th := range stale {
		updated, err := s.UpdateThread(ctx, th.ID, th.State, func(t *core.Thread) error {
			t.State = core.StateExpired
			return nil
		})
		if errors.Is(err, core.ErrStateConflict) {
			// The thread moved on while we were sweeping; leave it alone.
			continue
		}
		if err != nil {
			return expired, err
		}
		expired = append(expired, updated)
	}
	return expired, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev core.Event) (core.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, type, thread_id, state, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.ThreadID, string(ev.State), ev.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return core.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

func (s *Store) ListEvents(ctx context.Context, threadID string, limit int) ([]core.Event, error) {
	query := `SELECT id, type, thread_id, state, created_at FROM events`
	var args []any
	if threadID != "" {
		query += ` WHERE thread_id = ?`
		args = append(args, threadID)
	}
	query += ` ORDER BY cursor ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		var (
			ev        core.Event
			evType    string
			state     string
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &evType, &ev.ThreadID, &state, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = core.EventType(evType)
		ev.State = core.ThreadState(state)
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (core.Thread, error) {
	var (
		th              core.Thread
		state           string
		durationMinutes int
		proposedJSON    string
		selectedJSON    sql.NullString
		createdAt       string
		updatedAt       string
	)
	err := row.Scan(&th.ID, &th.MailThreadID, &th.Requester, &th.Subject, &state,
		&durationMinutes, &proposedJSON, &selectedJSON, &th.CalendarEventID,
		&th.MeetingMode, &th.Clarifications, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Thread{}, core.ErrNotFound
	}
	if err != nil {
		return core.Thread{}, fmt.Errorf("scan thread: %w", err)
	}

	th.State = core.ThreadState(state)
	th.Duration = time.Duration(durationMinutes) * time.Minute
	if err := json.Unmarshal([]byte(proposedJSON), &th.ProposedSlots); err != nil {
		return core.Thread{}, fmt.Errorf("unmarshal proposed slots: %w", err)
	}
	if selectedJSON.Valid && selectedJSON.String != "" {
		var slot core.Slot
		if err := json.Unmarshal([]byte(selectedJSON.String), &slot); err != nil {
			return core.Thread{}, fmt.Errorf("unmarshal selected slot: %w", err)
		}
		th.SelectedSlot = &slot
	}
	th.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	th.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return th, nil
}

func marshalSelected(slot *core.Slot) (any, error) {
	if slot == nil {
		return nil, nil
	}
	data, err := json.Marshal(slot)
	if err != nil {
		return nil, fmt.Errorf("marshal selected slot: %w", err)
	}
	return string(data), nil
}
