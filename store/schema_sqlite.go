package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS admin_users (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    username        TEXT NOT NULL UNIQUE,
    password_hash   TEXT NOT NULL,
    created_at      TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    last_login_at   TEXT,
    last_login_from TEXT NOT NULL DEFAULT '',
    login_count     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS audit_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL,
    entity_id   INTEGER NOT NULL DEFAULT 0,
    action      TEXT NOT NULL,
    old_value   TEXT NOT NULL DEFAULT '',
    new_value   TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT 'system',
    created_at  TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);

CREATE TABLE IF NOT EXISTS shell_sessions (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    session_uuid   TEXT NOT NULL UNIQUE,
    address        TEXT NOT NULL,
    username       TEXT NOT NULL,
    opened_by      TEXT NOT NULL DEFAULT 'system',
    opened_at      TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    closed_at      TEXT,
    close_reason   TEXT NOT NULL DEFAULT '',
    commands_sent  INTEGER NOT NULL DEFAULT 0,
    bytes_received INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_shell_sessions_open ON shell_sessions(closed_at);
`
