package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ShellSession records one remote shell connection from connect to close.
type ShellSession struct {
	ID            int64      `json:"id"`
	UUID          string     `json:"uuid"`
	Address       string     `json:"address"`
	Username      string     `json:"username"`
	OpenedBy      string     `json:"opened_by"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	CloseReason   string     `json:"close_reason"`
	CommandsSent  int64      `json:"commands_sent"`
	BytesReceived int64      `json:"bytes_received"`
}

const shellSessionColumns = `id, session_uuid, address, username, opened_by, opened_at, closed_at, close_reason, commands_sent, bytes_received`

// OpenShellSession inserts a new open session and returns it with its
// generated id and uuid.
func (db *DB) OpenShellSession(address, username, openedBy string) (*ShellSession, error) {
	s := &ShellSession{
		UUID:     uuid.New().String(),
		Address:  address,
		Username: username,
		OpenedBy: openedBy,
	}
	id, err := db.insertID(`INSERT INTO shell_sessions (session_uuid, address, username, opened_by) VALUES (?, ?, ?, ?)`,
		s.UUID, s.Address, s.Username, s.OpenedBy)
	if err != nil {
		return nil, fmt.Errorf("open shell session: %w", err)
	}
	s.ID = id
	return db.GetShellSession(id)
}

// CloseShellSession stamps closed_at and the final counters. Closing an
// already closed session keeps the first close.
func (db *DB) CloseShellSession(id int64, reason string, commandsSent, bytesReceived int64) error {
	_, err := db.Exec(db.Q(`UPDATE shell_sessions SET closed_at=datetime('now','localtime'), close_reason=?, commands_sent=?, bytes_received=? WHERE id=? AND closed_at IS NULL`),
		reason, commandsSent, bytesReceived, id)
	if err != nil {
		return fmt.Errorf("close shell session: %w", err)
	}
	return nil
}

// CloseStaleShellSessions closes sessions left open by a previous run.
func (db *DB) CloseStaleShellSessions() (int64, error) {
	res, err := db.Exec(db.Q(`UPDATE shell_sessions SET closed_at=datetime('now','localtime'), close_reason='hub restart' WHERE closed_at IS NULL`))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) GetShellSession(id int64) (*ShellSession, error) {
	row := db.QueryRow(db.Q(`SELECT `+shellSessionColumns+` FROM shell_sessions WHERE id=?`), id)
	return scanShellSession(row)
}

func (db *DB) ListShellSessions(limit int) ([]*ShellSession, error) {
	rows, err := db.Query(db.Q(`SELECT `+shellSessionColumns+` FROM shell_sessions ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ShellSession
	for rows.Next() {
		s, err := scanShellSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanShellSession(row interface{ Scan(dest ...any) error }) (*ShellSession, error) {
	var s ShellSession
	var openedAt, closedAt any
	err := row.Scan(&s.ID, &s.UUID, &s.Address, &s.Username, &s.OpenedBy, &openedAt, &closedAt,
		&s.CloseReason, &s.CommandsSent, &s.BytesReceived)
	if err != nil {
		return nil, err
	}
	s.OpenedAt = parseTime(openedAt)
	s.ClosedAt = parseTimePtr(closedAt)
	return &s, nil
}

// insertID runs an INSERT and returns the new row id. PostgreSQL has no
// LastInsertId, so the query gets a RETURNING clause there.
func (db *DB) insertID(query string, args ...any) (int64, error) {
	if db.driver == "postgres" {
		var id int64
		err := db.QueryRow(db.Q(query)+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := db.Exec(db.Q(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
