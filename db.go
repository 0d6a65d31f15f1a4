package main

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	statusOK     = "ok"
	statusFailed = "failed"
)

// DB wraps sql.DB with the embed journal queries.
type DB struct {
	*sql.DB
}

// EmbedEntry is one journaled embed, from the HTTP API or a batch run.
type EmbedEntry struct {
	ID            int64           `json:"id"`
	RequestID     string          `json:"requestId"`
	Source        string          `json:"source"`
	InputHash     string          `json:"inputHash"`
	OutputHash    string          `json:"outputHash,omitempty"`
	Size          int64           `json:"size"`
	Fields        json.RawMessage `json:"fields"`
	Enriched      bool            `json:"enriched"`
	ArchiveKey    string          `json:"archiveKey,omitempty"`
	Status        string          `json:"status"`
	Error         string          `json:"error,omitempty"`
	ThumbnailPath string          `json:"thumbnailPath,omitempty"`
	CreatedAt     string          `json:"createdAt"`
}

func openAndInitDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	db := &DB{sqlDB}

	schema := `
CREATE TABLE IF NOT EXISTS embeds (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	input_hash TEXT NOT NULL DEFAULT '',
	output_hash TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	fields JSON NOT NULL DEFAULT '{}',
	enriched INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeds_input_hash ON embeds(input_hash);`
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, err
	}

	// Columns added after the first release.
	for _, col := range []struct{ name, def string }{
		{"archive_key", "TEXT DEFAULT ''"},
		{"thumbnail_path", "TEXT DEFAULT ''"},
	} {
		if err := db.ensureColumn("embeds", col.name, col.def); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}
	return db, nil
}

func (db *DB) ensureColumn(table, name, def string) error {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, name).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err := db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + name + ` ` + def)
	return err
}

func (db *DB) clearDBTables() error {
	_, err := db.Exec(`DELETE FROM embeds`)
	return err
}

func (db *DB) insertEmbed(e *EmbedEntry) (int64, error) {
	if e.CreatedAt == "" {
		e.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	fields := string(e.Fields)
	if fields == "" {
		fields = "{}"
	}
	enriched := 0
	if e.Enriched {
		enriched = 1
	}

	var id int64
	err := withBusyRetry(func() error {
		res, err := db.Exec(
			`INSERT INTO embeds (request_id, source, input_hash, output_hash, size, fields, enriched, archive_key, status, error, thumbnail_path, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.RequestID, e.Source, e.InputHash, e.OutputHash, e.Size, fields, enriched,
			e.ArchiveKey, e.Status, nullable(e.Error), e.ThumbnailPath, e.CreatedAt,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

// findEmbedded reports whether inputHash was already embedded successfully with
// exactly these fields.
func (db *DB) findEmbedded(inputHash string, fields []byte) (bool, error) {
	var id int64
	err := db.QueryRow(`SELECT id FROM embeds WHERE input_hash = ? AND fields = ? AND status = ? LIMIT 1`,
		inputHash, string(fields), statusOK).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const embedColumns = `id, request_id, source, input_hash, output_hash, size, fields, enriched, IFNULL(archive_key,''), status, IFNULL(error,''), IFNULL(thumbnail_path,''), created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEmbed(s scanner) (*EmbedEntry, error) {
	var (
		e        EmbedEntry
		fields   string
		enriched int
	)
	if err := s.Scan(&e.ID, &e.RequestID, &e.Source, &e.InputHash, &e.OutputHash, &e.Size, &fields,
		&enriched, &e.ArchiveKey, &e.Status, &e.Error, &e.ThumbnailPath, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Fields = json.RawMessage(fields)
	e.Enriched = enriched == 1
	return &e, nil
}

func (db *DB) listEmbeds(offset, limit int64) ([]EmbedEntry, error) {
	rows, err := db.Query(`SELECT `+embedColumns+` FROM embeds ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []EmbedEntry{}
	for rows.Next() {
		e, err := scanEmbed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (db *DB) getEmbed(id int64) (*EmbedEntry, error) {
	e, err := scanEmbed(db.QueryRow(`SELECT `+embedColumns+` FROM embeds WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// withBusyRetry retries fn while sqlite reports the database as locked.
func withBusyRetry(fn func() error) error {
	var err error
	for i := 0; i < 3; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if msg := err.Error(); !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "SQLITE_BUSY") {
			return err
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return err
}
