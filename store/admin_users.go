package store

import (
	"time"
)

// AdminUser is an operator allowed to drive the robot from the dashboard.
type AdminUser struct {
	ID            int64      `json:"id"`
	Username      string     `json:"username"`
	PasswordHash  string     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	LastLoginFrom string     `json:"last_login_from,omitempty"`
	LoginCount    int64      `json:"login_count"`
}

const adminUserColumns = `id, username, password_hash, created_at, last_login_at, last_login_from, login_count`

func scanAdminUser(row interface{ Scan(...any) error }) (*AdminUser, error) {
	var u AdminUser
	var createdAt, lastLogin any
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt, &lastLogin, &u.LastLoginFrom, &u.LoginCount); err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	u.LastLoginAt = parseTimePtr(lastLogin)
	return &u, nil
}

func (db *DB) CreateAdminUser(username, passwordHash string) error {
	_, err := db.Exec(db.Q(`INSERT INTO admin_users (username, password_hash) VALUES (?, ?)`), username, passwordHash)
	return err
}

func (db *DB) GetAdminUser(username string) (*AdminUser, error) {
	return scanAdminUser(db.QueryRow(db.Q(`SELECT `+adminUserColumns+` FROM admin_users WHERE username=?`), username))
}

// RecordLogin stamps a successful login with its time and remote address.
func (db *DB) RecordLogin(username, from string) error {
	_, err := db.Exec(db.Q(`UPDATE admin_users
		SET last_login_at=`+db.dialect.Now()+`, last_login_from=?, login_count=login_count+1
		WHERE username=?`), from, username)
	return err
}

func (db *DB) ListAdminUsers() ([]*AdminUser, error) {
	rows, err := db.Query(`SELECT ` + adminUserColumns + ` FROM admin_users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*AdminUser
	for rows.Next() {
		u, err := scanAdminUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *DB) AdminUserExists() (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM admin_users`).Scan(&count)
	return count > 0, err
}
