package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"

	"gridassist/internal/domain"
)

// Store implements domain.DocumentStore on SQLite. Document metadata lives in
// _meta_* tables; each user table is a real SQLite table with an implicit
// integer `id` primary key. Writers are serialized by a store-level mutex;
// each ApplyUserActions batch runs in a single transaction.
type Store struct {
	mu     sync.Mutex // serializes mutation batches
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) a document database at path and runs the schema
// migration. An empty path opens an in-memory document.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = "file:gridassist?mode=memory&cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open document db: %w", err)
	}
	// A single connection keeps in-memory documents alive and makes the
	// writer mutex the only serialization point.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate document db: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _meta_tables (
			table_id TEXT PRIMARY KEY
		);
		CREATE TABLE IF NOT EXISTS _meta_columns (
			table_id       TEXT NOT NULL,
			col_id         TEXT NOT NULL,
			label          TEXT NOT NULL DEFAULT '',
			col_type       TEXT NOT NULL,
			formula        TEXT NOT NULL DEFAULT '',
			widget_options TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (table_id, col_id)
		);
		CREATE TABLE IF NOT EXISTS _meta_pages (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS _meta_widgets (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			page_id            INTEGER NOT NULL,
			table_id           TEXT NOT NULL,
			widget_type        TEXT NOT NULL,
			title              TEXT NOT NULL DEFAULT '',
			link_src_widget_id INTEGER NOT NULL DEFAULT 0,
			link_src_col_id    TEXT NOT NULL DEFAULT '',
			link_target_col_id TEXT NOT NULL DEFAULT ''
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ListTables implements domain.DocumentStore.
func (s *Store) ListTables(ctx context.Context) ([]domain.TableMeta, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT table_id FROM _meta_tables ORDER BY table_id")
	if err != nil {
		return nil, domain.WrapOp("Store.ListTables", err)
	}
	defer rows.Close()

	var tables []domain.TableMeta
	for rows.Next() {
		var t domain.TableMeta
		if err := rows.Scan(&t.ID); err != nil {
			return nil, domain.WrapOp("Store.ListTables", err)
		}
		t.RowIDCol = "id"
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// GetTableColumns implements domain.DocumentStore.
func (s *Store) GetTableColumns(ctx context.Context, tableID string) ([]domain.ColumnMeta, error) {
	if ok, err := s.tableExists(ctx, tableID); err != nil {
		return nil, err
	} else if !ok {
		return nil, domain.NewDomainError("Store.GetTableColumns", domain.ErrTableNotFound, tableID)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT col_id, label, col_type, formula, widget_options FROM _meta_columns WHERE table_id = ? ORDER BY rowid",
		tableID,
	)
	if err != nil {
		return nil, domain.WrapOp("Store.GetTableColumns", err)
	}
	defer rows.Close()

	var cols []domain.ColumnMeta
	for rows.Next() {
		var c domain.ColumnMeta
		if err := rows.Scan(&c.ID, &c.Label, &c.Type, &c.Formula, &c.WidgetOptions); err != nil {
			return nil, domain.WrapOp("Store.GetTableColumns", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// ListPages implements domain.DocumentStore.
func (s *Store) ListPages(ctx context.Context) ([]domain.PageMeta, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM _meta_pages ORDER BY id")
	if err != nil {
		return nil, domain.WrapOp("Store.ListPages", err)
	}
	defer rows.Close()

	var pages []domain.PageMeta
	for rows.Next() {
		var p domain.PageMeta
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, domain.WrapOp("Store.ListPages", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// ListWidgets implements domain.DocumentStore. A pageID of 0 lists widgets
// across all pages.
func (s *Store) ListWidgets(ctx context.Context, pageID int64) ([]domain.WidgetMeta, error) {
	query := `SELECT id, page_id, table_id, widget_type, title,
		link_src_widget_id, link_src_col_id, link_target_col_id
		FROM _meta_widgets`
	var args []any
	if pageID != 0 {
		query += " WHERE page_id = ?"
		args = append(args, pageID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapOp("Store.ListWidgets", err)
	}
	defer rows.Close()

	var widgets []domain.WidgetMeta
	for rows.Next() {
		var w domain.WidgetMeta
		if err := rows.Scan(&w.ID, &w.PageID, &w.TableID, &w.Type, &w.Title,
			&w.LinkSrcWidgetID, &w.LinkSrcColID, &w.LinkTargetColID); err != nil {
			return nil, domain.WrapOp("Store.ListWidgets", err)
		}
		widgets = append(widgets, w)
	}
	return widgets, rows.Err()
}

func (s *Store) tableExists(ctx context.Context, tableID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM _meta_tables WHERE table_id = ?", tableID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, domain.WrapOp("Store.tableExists", err)
	}
	return true, nil
}

func tableExistsTx(ctx context.Context, tx *sql.Tx, tableID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM _meta_tables WHERE table_id = ?", tableID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func columnExistsTx(ctx context.Context, tx *sql.Tx, tableID, colID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM _meta_columns WHERE table_id = ? AND col_id = ?", tableID, colID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
