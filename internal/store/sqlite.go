package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "remindbot/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	partition TEXT    NOT NULL,
	seq       INTEGER NOT NULL,
	item_json TEXT    NOT NULL,
	PRIMARY KEY (partition, seq)
);
`

// sqliteDriver stores one row per item, ordered by (partition, seq).
// Save replaces the whole document in a single transaction, which mirrors
// the file driver's whole-document semantics.
type sqliteDriver struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Driver, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteDriver{db: db, log: log}, nil
}

func (d *sqliteDriver) Load() (map[string][]Item, error) {
	rows, err := d.db.Query(`SELECT partition, item_json FROM items ORDER BY partition, seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	doc := map[string][]Item{}
	for rows.Next() {
		var partition, raw string
		if err := rows.Scan(&partition, &raw); err != nil {
			return nil, err
		}
		var it Item
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			d.log.Warn("skipping undecodable item row", logx.String("partition", partition), logx.Err(err))
			continue
		}
		doc[partition] = append(doc[partition], it)
	}
	return doc, rows.Err()
}

func (d *sqliteDriver) Save(doc map[string][]Item) error {
	ctx := context.Background()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO items(partition, seq, item_json) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for partition, items := range doc {
		for seq, it := range items {
			b, err := json.Marshal(it)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, partition, seq, string(b)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (d *sqliteDriver) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}
