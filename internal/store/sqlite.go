// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// db wraps the sessions.db handle holding Session and Message records,
// opened in WAL mode with a bounded connection pool.
type db struct {
	conn *sql.DB
}

func openDB(path string) (*db, error) {
	if path == "" {
		return nil, fmt.Errorf("sessions.db path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := path + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sessions.db: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY;
	// reads share the same pool.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping sessions.db: %w", err)
	}

	d := &db{conn: conn}
	if err := d.initSchema(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *db) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		repo_id           TEXT,
		directory         TEXT,
		has_git           INTEGER NOT NULL DEFAULT 0,
		state             TEXT NOT NULL,
		name              TEXT,
		created_at        INTEGER NOT NULL,
		started_at        INTEGER,
		last_activity_at  INTEGER NOT NULL,
		ended_at          INTEGER,
		exit_code         INTEGER,
		header            TEXT,
		runner_session_id TEXT,
		adapter           TEXT,
		external_agent    TEXT,
		platform          TEXT,
		workdir_managed   INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		timestamp  INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	_, err := d.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (d *db) close() error { return d.conn.Close() }

func newSessionID() string { return uuid.New().String() }

func unixOrZero(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timeFromUnix(v int64) time.Time { return time.UnixMilli(v) }

func (d *db) upsertSession(s *Session) error {
	extAgent, _ := json.Marshal(s.ExternalAgent)
	platform, _ := json.Marshal(s.Platform)
	_, err := d.conn.Exec(`
		INSERT INTO sessions (id, repo_id, directory, has_git, state, name, created_at,
			started_at, last_activity_at, ended_at, exit_code, header, runner_session_id,
			adapter, external_agent, platform, workdir_managed)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			repo_id=excluded.repo_id, directory=excluded.directory, has_git=excluded.has_git,
			state=excluded.state, name=excluded.name, started_at=excluded.started_at,
			last_activity_at=excluded.last_activity_at, ended_at=excluded.ended_at,
			exit_code=excluded.exit_code, header=excluded.header,
			runner_session_id=excluded.runner_session_id, adapter=excluded.adapter,
			external_agent=excluded.external_agent, platform=excluded.platform,
			workdir_managed=excluded.workdir_managed
	`,
		s.ID, s.RepoID, s.Directory, boolToInt(s.HasGit), string(s.State), s.Name,
		s.CreatedAt.UnixMilli(), unixOrZero(s.StartedAt), s.LastActivityAt.UnixMilli(),
		unixOrZero(s.EndedAt), s.ExitCode, s.Header, s.RunnerSessionID, s.Adapter,
		string(extAgent), string(platform), boolToInt(s.WorkdirManaged),
	)
	return err
}

func (d *db) deleteSession(id string) error {
	if _, err := d.conn.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	_, err := d.conn.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (d *db) loadSessions() ([]*Session, error) {
	rows, err := d.conn.Query(`SELECT id, repo_id, directory, has_git, state, name, created_at,
		started_at, last_activity_at, ended_at, exit_code, header, runner_session_id,
		adapter, external_agent, platform, workdir_managed FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var s Session
		var hasGit, managed int
		var createdAt, lastActivity int64
		var startedAt, endedAt sql.NullInt64
		var exitCode sql.NullInt64
		var extAgentRaw, platformRaw sql.NullString
		if err := rows.Scan(&s.ID, &s.RepoID, &s.Directory, &hasGit, &s.State, &s.Name,
			&createdAt, &startedAt, &lastActivity, &endedAt, &exitCode, &s.Header,
			&s.RunnerSessionID, &s.Adapter, &extAgentRaw, &platformRaw, &managed); err != nil {
			return nil, err
		}
		s.HasGit = hasGit != 0
		s.WorkdirManaged = managed != 0
		s.CreatedAt = timeFromUnix(createdAt)
		s.LastActivityAt = timeFromUnix(lastActivity)
		if startedAt.Valid {
			t := timeFromUnix(startedAt.Int64)
			s.StartedAt = &t
		}
		if endedAt.Valid {
			t := timeFromUnix(endedAt.Int64)
			s.EndedAt = &t
		}
		if exitCode.Valid {
			v := int(exitCode.Int64)
			s.ExitCode = &v
		}
		if extAgentRaw.Valid && extAgentRaw.String != "null" && extAgentRaw.String != "" {
			var ea ExternalAgent
			if json.Unmarshal([]byte(extAgentRaw.String), &ea) == nil {
				s.ExternalAgent = &ea
			}
		}
		if platformRaw.Valid && platformRaw.String != "null" && platformRaw.String != "" {
			var pb PlatformBinding
			if json.Unmarshal([]byte(platformRaw.String), &pb) == nil {
				s.Platform = &pb
			}
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (d *db) insertMessage(m Message) error {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("marshal message content: %w", err)
	}
	_, err = d.conn.Exec(`INSERT INTO messages (session_id, seq, role, content, timestamp)
		VALUES (?,?,?,?,?)`, m.SessionID, m.Seq, string(m.Role), string(content), m.Timestamp.UnixMilli())
	return err
}

func (d *db) loadMessages(sessionID string) ([]Message, error) {
	rows, err := d.conn.Query(`SELECT seq, role, content, timestamp FROM messages
		WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var content string
		var ts int64
		if err := rows.Scan(&m.Seq, &m.Role, &content, &ts); err != nil {
			return nil, err
		}
		m.SessionID = sessionID
		m.Timestamp = timeFromUnix(ts)
		json.Unmarshal([]byte(content), &m.Content)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (d *db) clearMessages(sessionID string) error {
	_, err := d.conn.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}

func (d *db) messageCount(sessionID string) (int, error) {
	var n int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
