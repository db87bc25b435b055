// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/relabs-tech/ground_station/internal/schema"
)

const sqlTimeout = 5 * time.Second

// SQLMirror inserts every committed row into a table with one TEXT column
// per schema field. Each run starts a fresh table; the previous one is kept
// under <table>_<unix seconds>.
type SQLMirror struct {
	db     *sql.DB
	table  string
	width  int
	insert *sql.Stmt
	log    *zap.Logger
}

// OpenSQLMirror opens the database at dsn and rotates the table.
func OpenSQLMirror(ctx context.Context, dsn, table string, s *schema.Schema, logger *zap.Logger) (*SQLMirror, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// single writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	m := &SQLMirror{db: db, table: table, width: s.Len(), log: logger.Named("sqlmirror")}
	if err := m.rotate(ctx, s, time.Now()); err != nil {
		db.Close()
		return nil, err
	}

	cols := make([]string, s.Len())
	marks := make([]string, s.Len())
	for i, name := range s.Names() {
		cols[i] = quoteIdent(name)
		marks[i] = "?"
	}
	stmt, err := db.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	m.insert = stmt
	return m, nil
}

func (m *SQLMirror) rotate(ctx context.Context, s *schema.Schema, now time.Time) error {
	var existing string
	err := m.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", m.table).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("look up table %s: %w", m.table, err)
	default:
		archived := fmt.Sprintf("%s_%d", m.table, now.Unix())
		if _, err := m.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
			quoteIdent(m.table), quoteIdent(archived))); err != nil {
			return fmt.Errorf("archive table %s: %w", m.table, err)
		}
		m.log.Info("previous table archived", zap.String("table", archived))
	}

	cols := []string{"id INTEGER PRIMARY KEY AUTOINCREMENT"}
	for _, name := range s.Names() {
		cols = append(cols, quoteIdent(name)+" TEXT")
	}
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)",
		quoteIdent(m.table), strings.Join(cols, ", "))); err != nil {
		return fmt.Errorf("create table %s: %w", m.table, err)
	}
	m.log.Info("table created", zap.String("table", m.table), zap.Int("columns", s.Len()))
	return nil
}

func (m *SQLMirror) Name() string { return "sqlmirror" }

// Handle inserts the row.
func (m *SQLMirror) Handle(ev Event) error {
	if len(ev.Row) != m.width {
		return fmt.Errorf("row has %d values, table has %d columns", len(ev.Row), m.width)
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlTimeout)
	defer cancel()

	args := make([]any, len(ev.Row))
	for i, v := range ev.Row {
		args[i] = v
	}
	if _, err := m.insert.ExecContext(ctx, args...); err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	return nil
}

// DB exposes the handle for read-side queries.
func (m *SQLMirror) DB() *sql.DB { return m.db }

// Close releases the statement and the database.
func (m *SQLMirror) Close() error {
	if m.insert != nil {
		m.insert.Close()
	}
	return m.db.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
