package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"notifyrelay/internal/notify"
	"notifyrelay/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
  id     TEXT PRIMARY KEY,
  active INTEGER NOT NULL,
  doc    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS groups (
  id     TEXT PRIMARY KEY,
  active INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS group_members (
  group_id   TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
  position   INTEGER NOT NULL,
  contact_id TEXT NOT NULL,
  active     INTEGER NOT NULL,
  PRIMARY KEY (group_id, position)
);`

// SQLite keeps contacts as JSON documents and groups as ordered member rows.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string, busy time.Duration) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := storage.OpenSQLiteDB(path, busy)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("directory schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) PutContact(ctx context.Context, c notify.Contact) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts(id, active, doc) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET active=excluded.active, doc=excluded.doc`,
		c.ID, boolInt(c.Active), string(doc))
	return err
}

func (s *SQLite) PutGroup(ctx context.Context, g notify.Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO groups(id, active) VALUES(?,?) ON CONFLICT(id) DO UPDATE SET active=excluded.active`,
		g.ID, boolInt(g.Active)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, g.ID); err != nil {
		return err
	}
	for i, m := range g.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members(group_id, position, contact_id, active) VALUES(?,?,?,?)`,
			g.ID, i, m.ContactID, boolInt(m.Active)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Import writes a whole seed in one pass.
func (s *SQLite) Import(ctx context.Context, seed Seed) error {
	for _, c := range seed.Contacts {
		if err := s.PutContact(ctx, c); err != nil {
			return fmt.Errorf("contact %s: %w", c.ID, err)
		}
	}
	for _, g := range seed.Groups {
		if err := s.PutGroup(ctx, g); err != nil {
			return fmt.Errorf("group %s: %w", g.ID, err)
		}
	}
	return nil
}

func (s *SQLite) GetContact(ctx context.Context, id string) (notify.Contact, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM contacts WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Contact{}, fmt.Errorf("%w: contact %q", notify.ErrNotFound, id)
	}
	if err != nil {
		return notify.Contact{}, err
	}
	var c notify.Contact
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return notify.Contact{}, fmt.Errorf("contact %q: %w", id, err)
	}
	return c, nil
}

func (s *SQLite) GetActiveGroupMembers(ctx context.Context, id string) ([]string, error) {
	var active int
	err := s.db.QueryRowContext(ctx, `SELECT active FROM groups WHERE id = ?`, id).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: group %q", notify.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if active == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT contact_id FROM group_members WHERE group_id = ? AND active = 1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, err
		}
		out = append(out, cid)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
