package store

import (
	"database/sql"
	"fmt"
	"time"
)

const outboxColumns = `id, client_msg_id, ticket_id, contact_channel_id, body, status,
	error_message, server_msg_id, attempts, created_at`

// QueueOutbox records a new optimistic send as pending.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	res, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, ticket_id, contact_channel_id, body, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', 1, ?, ?)`,
		e.ClientMsgID, e.TicketID, e.ContactChannelID, e.Body, e.CreatedAt, now)
	if err != nil {
		return err
	}
	e.ID, _ = res.LastInsertId()
	e.Status = OutboxPending
	e.Attempts = 1
	return nil
}

// MarkOutboxSent records that the backend accepted the send.
func (db *DB) MarkOutboxSent(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, OutboxSent, "")
}

// MarkOutboxFailed records a transport failure for the send.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	return db.setOutboxStatus(clientMsgID, OutboxFailed, errMsg)
}

// MarkOutboxRetrying moves a failed entry back to pending and counts the attempt.
func (db *DB) MarkOutboxRetrying(clientMsgID string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE outbox SET status = 'pending', error_message = '', attempts = attempts + 1, updated_at = ?
		WHERE client_msg_id = ? AND status = 'failed'`, now, clientMsgID)
	if err != nil {
		return err
	}
	return expectOne(res, clientMsgID)
}

// MarkOutboxConfirmed records the server id adopted from the echo.
func (db *DB) MarkOutboxConfirmed(clientMsgID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET status = 'confirmed', server_msg_id = ?, error_message = '', updated_at = ?
		WHERE client_msg_id = ?`, serverMsgID, now, clientMsgID)
	return err
}

// GetOutbox returns an entry by client id, or nil if it does not exist.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	row := db.QueryRow(`SELECT `+outboxColumns+` FROM outbox WHERE client_msg_id = ?`, clientMsgID)
	e, err := scanOutbox(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// UnconfirmedOutbox returns a ticket's entries that have not been confirmed by
// an echo, oldest first.
func (db *DB) UnconfirmedOutbox(ticketID int64) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT `+outboxColumns+`
		FROM outbox WHERE ticket_id = ? AND status != 'confirmed'
		ORDER BY created_at ASC, id ASC`, ticketID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// PruneOutbox deletes confirmed entries last updated before the cutoff (ms).
func (db *DB) PruneOutbox(before int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM outbox WHERE status = 'confirmed' AND updated_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// setOutboxStatus never overwrites a confirmed entry: the echo may confirm a
// send before the backend's reply is recorded.
func (db *DB) setOutboxStatus(clientMsgID, status, errMsg string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE outbox SET status = ?, error_message = ?, updated_at = ?
		WHERE client_msg_id = ? AND status != 'confirmed'`,
		status, errMsg, now, clientMsgID)
	if err != nil {
		return err
	}
	if err := expectOne(res, clientMsgID); err != nil {
		if e, getErr := db.GetOutbox(clientMsgID); getErr == nil && e != nil && e.Status == OutboxConfirmed {
			return nil
		}
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutbox(r rowScanner) (*OutboxEntry, error) {
	var e OutboxEntry
	if err := r.Scan(&e.ID, &e.ClientMsgID, &e.TicketID, &e.ContactChannelID, &e.Body, &e.Status,
		&e.ErrorMessage, &e.ServerMsgID, &e.Attempts, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func expectOne(res sql.Result, clientMsgID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("outbox entry %q: %w", clientMsgID, sql.ErrNoRows)
	}
	return nil
}
