package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"gridassist/internal/domain"
)

// ApplyUserActions implements domain.DocumentStore. The whole batch runs in
// one transaction: a rejected action rolls back everything applied before it.
func (s *Store) ApplyUserActions(ctx context.Context, actions []domain.UserAction) (*domain.ApplyResult, error) {
	if len(actions) == 0 {
		return &domain.ApplyResult{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.WrapOp("Store.ApplyUserActions", err)
	}
	defer tx.Rollback()

	result := &domain.ApplyResult{}
	for _, action := range actions {
		ret, implied, err := s.applyOne(ctx, tx, action)
		if err != nil {
			return nil, err
		}
		result.RetValues = append(result.RetValues, ret)
		result.Applied = append(result.Applied, domain.AppliedAction{Action: action, RetValue: ret})
		result.Applied = append(result.Applied, implied...)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.WrapOp("Store.ApplyUserActions", err)
	}

	if s.logger != nil {
		s.logger.Debug("document actions applied", "count", len(actions))
	}
	return result, nil
}

// applyOne executes a single action. It returns the action's ret value plus
// any implied applied actions (e.g. a page removed by a widget cascade).
func (s *Store) applyOne(ctx context.Context, tx *sql.Tx, a domain.UserAction) (any, []domain.AppliedAction, error) {
	switch a.Name {
	case domain.ActionAddTable:
		ret, err := s.addTable(ctx, tx, a.Args)
		return ret, nil, err
	case domain.ActionRenameTable:
		return nil, nil, s.renameTable(ctx, tx, a.Args)
	case domain.ActionRemoveTable:
		return nil, nil, s.removeTable(ctx, tx, a.Args)
	case domain.ActionAddColumn:
		ret, err := s.addColumn(ctx, tx, a.Args)
		return ret, nil, err
	case domain.ActionRenameColumn:
		return nil, nil, s.renameColumn(ctx, tx, a.Args)
	case domain.ActionModifyColumn:
		return nil, nil, s.modifyColumn(ctx, tx, a.Args)
	case domain.ActionRemoveColumn:
		return nil, nil, s.removeColumn(ctx, tx, a.Args)
	case domain.ActionAddPage:
		return s.addPage(ctx, tx, a.Args)
	case domain.ActionRemovePage:
		return nil, nil, s.removePage(ctx, tx, a.Args)
	case domain.ActionAddWidget:
		ret, err := s.addWidget(ctx, tx, a.Args)
		return ret, nil, err
	case domain.ActionRemoveWidget:
		return s.removeWidget(ctx, tx, a.Args)
	case domain.ActionSetWidgetLinking:
		return nil, nil, s.setWidgetLinking(ctx, tx, a.Args)
	case domain.ActionBulkAddRecord:
		ret, err := s.bulkAddRecord(ctx, tx, a.Args)
		return ret, nil, err
	case domain.ActionBulkUpdateRecord:
		ret, err := s.bulkUpdateRecord(ctx, tx, a.Args)
		return ret, nil, err
	case domain.ActionBulkRemoveRecord:
		ret, err := s.bulkRemoveRecord(ctx, tx, a.Args)
		return ret, nil, err
	default:
		return nil, nil, domain.Sandboxf("unknown action %q", a.Name)
	}
}

// --- argument decoding helpers ---

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", domain.Sandboxf("action argument %q is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", domain.Sandboxf("action argument %q must be a string", key)
	}
	return s, nil
}

func argInt(args map[string]any, key string) (int64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, domain.Sandboxf("action argument %q is required", key)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, domain.Sandboxf("action argument %q must be an integer", key)
		}
		return int64(n), nil
	default:
		return 0, domain.Sandboxf("action argument %q must be an integer", key)
	}
}

func argColumns(args map[string]any, key string) ([]domain.ColumnMeta, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, domain.Sandboxf("action argument %q must be a list of column definitions", key)
	}
	cols := make([]domain.ColumnMeta, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, domain.Sandboxf("column definition must be an object")
		}
		col := domain.ColumnMeta{Type: domain.ColTypeAny}
		if id, ok := m["col_id"].(string); ok {
			col.ID = id
		}
		if label, ok := m["label"].(string); ok {
			col.Label = label
		}
		if typ, ok := m["type"].(string); ok && typ != "" {
			col.Type = typ
		}
		if f, ok := m["formula"].(string); ok {
			col.Formula = f
		}
		if w, ok := m["widget_options"].(string); ok {
			col.WidgetOptions = w
		}
		if col.ID == "" {
			return nil, domain.Sandboxf("column definition is missing col_id")
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func argColInfo(args map[string]any, key string) (domain.ColumnMeta, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return domain.ColumnMeta{}, domain.Sandboxf("action argument %q is required", key)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return domain.ColumnMeta{}, domain.Sandboxf("action argument %q must be an object", key)
	}
	var col domain.ColumnMeta
	if label, ok := m["label"].(string); ok {
		col.Label = label
	}
	if typ, ok := m["type"].(string); ok {
		col.Type = typ
	}
	if f, ok := m["formula"].(string); ok {
		col.Formula = f
	}
	if w, ok := m["widget_options"].(string); ok {
		col.WidgetOptions = w
	}
	return col, nil
}

func argRecords(args map[string]any, key string) ([]map[string]any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, domain.Sandboxf("action argument %q is required", key)
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, domain.Sandboxf("action argument %q must be a list of records", key)
	}
	records := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, domain.Sandboxf("record must be an object")
		}
		records = append(records, m)
	}
	return records, nil
}

// --- schema actions ---

func (s *Store) addTable(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	tableID, err := argString(args, "table_id")
	if err != nil {
		return nil, err
	}
	if err := validIdent(tableID); err != nil {
		return nil, err
	}
	if exists, err := tableExistsTx(ctx, tx, tableID); err != nil {
		return nil, err
	} else if exists {
		return nil, domain.Sandboxf("table %q already exists", tableID)
	}
	cols, err := argColumns(args, "columns")
	if err != nil {
		return nil, err
	}

	ddl := make([]string, 0, len(cols)+1)
	ddl = append(ddl, "id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, col := range cols {
		if err := validColID(col.ID); err != nil {
			return nil, err
		}
		if err := checkRefTargetTx(ctx, tx, col.Type, tableID); err != nil {
			return nil, err
		}
		ddl = append(ddl, columnDDL(col))
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE %s (%s)", quoteIdent(tableID), strings.Join(ddl, ", "),
	)); err != nil {
		return nil, domain.WrapOp("Store.addTable", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO _meta_tables (table_id) VALUES (?)", tableID,
	); err != nil {
		return nil, domain.WrapOp("Store.addTable", err)
	}
	for _, col := range cols {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO _meta_columns (table_id, col_id, label, col_type, formula, widget_options) VALUES (?, ?, ?, ?, ?, ?)",
			tableID, col.ID, col.Label, col.Type, col.Formula, col.WidgetOptions,
		); err != nil {
			return nil, domain.WrapOp("Store.addTable", err)
		}
	}
	return tableID, nil
}

func (s *Store) renameTable(ctx context.Context, tx *sql.Tx, args map[string]any) error {
	tableID, err := argString(args, "table_id")
	if err != nil {
		return err
	}
	newID, err := argString(args, "new_table_id")
	if err != nil {
		return err
	}
	if err := validIdent(newID); err != nil {
		return err
	}
	if exists, err := tableExistsTx(ctx, tx, tableID); err != nil {
		return err
	} else if !exists {
		return domain.Sandboxf("table %q not found", tableID)
	}
	if exists, err := tableExistsTx(ctx, tx, newID); err != nil {
		return err
	} else if exists {
		return domain.Sandboxf("table %q already exists", newID)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"ALTER TABLE %s RENAME TO %s", quoteIdent(tableID), quoteIdent(newID),
	)); err != nil {
		return domain.WrapOp("Store.renameTable", err)
	}
	stmts := []struct {
		query string
		args  []any
	}{
		{"UPDATE _meta_tables SET table_id = ? WHERE table_id = ?", []any{newID, tableID}},
		{"UPDATE _meta_columns SET table_id = ? WHERE table_id = ?", []any{newID, tableID}},
		{"UPDATE _meta_widgets SET table_id = ? WHERE table_id = ?", []any{newID, tableID}},
		// Repoint reference column types at the renamed table.
		{"UPDATE _meta_columns SET col_type = ? WHERE col_type = ?", []any{"Ref:" + newID, "Ref:" + tableID}},
		{"UPDATE _meta_columns SET col_type = ? WHERE col_type = ?", []any{"RefList:" + newID, "RefList:" + tableID}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return domain.WrapOp("Store.renameTable", err)
		}
	}
	return nil
}

func (s *Store) removeTable(ctx context.Context, tx *sql.Tx, args map[string]any) error {
	tableID, err := argString(args, "table_id")
	if err != nil {
		return err
	}
	if exists, err := tableExistsTx(ctx, tx, tableID); err != nil {
		return err
	} else if !exists {
		return domain.Sandboxf("table %q not found", tableID)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", quoteIdent(tableID))); err != nil {
		return domain.WrapOp("Store.removeTable", err)
	}
	for _, query := range []string{
		"DELETE FROM _meta_tables WHERE table_id = ?",
		"DELETE FROM _meta_columns WHERE table_id = ?",
		"DELETE FROM _meta_widgets WHERE table_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, query, tableID); err != nil {
			return domain.WrapOp("Store.removeTable", err)
		}
	}
	return nil
}

func (s *Store) addColumn(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	tableID, err := argString(args, "table_id")
	if err != nil {
		return nil, err
	}
	colID, err := argString(args, "col_id")
	if err != nil {
		return nil, err
	}
	if err := validColID(colID); err != nil {
		return nil, err
	}
	info, err := argColInfo(args, "col_info")
	if err != nil {
		return nil, err
	}
	if info.Type == "" {
		info.Type = domain.ColTypeAny
	}
	if exists, err := tableExistsTx(ctx, tx, tableID); err != nil {
		return nil, err
	} else if !exists {
		return nil, domain.Sandboxf("table %q not found", tableID)
	}
	if exists, err := columnExistsTx(ctx, tx, tableID, colID); err != nil {
		return nil, err
	} else if exists {
		return nil, domain.Sandboxf("column %q already exists in table %q", colID, tableID)
	}
	if err := checkRefTargetTx(ctx, tx, info.Type, tableID); err != nil {
		return nil, err
	}

	info.ID = colID
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"ALTER TABLE %s ADD COLUMN %s", quoteIdent(tableID), columnDDL(info),
	)); err != nil {
		return nil, domain.WrapOp("Store.addColumn", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO _meta_columns (table_id, col_id, label, col_type, formula, widget_options) VALUES (?, ?, ?, ?, ?, ?)",
		tableID, colID, info.Label, info.Type, info.Formula, info.WidgetOptions,
	); err != nil {
		return nil, domain.WrapOp("Store.addColumn", err)
	}
	return colID, nil
}

func (s *Store) renameColumn(ctx context.Context, tx *sql.Tx, args map[string]any) error {
	tableID, err := argString(args, "table_id")
	if err != nil {
		return err
	}
	colID, err := argString(args, "col_id")
	if err != nil {
		return err
	}
	newID, err := argString(args, "new_col_id")
	if err != nil {
		return err
	}
	if err := validColID(newID); err != nil {
		return err
	}
	if exists, err := columnExistsTx(ctx, tx, tableID, colID); err != nil {
		return err
	} else if !exists {
		return domain.Sandboxf("column %q not found in table %q", colID, tableID)
	}
	if exists, err := columnExistsTx(ctx, tx, tableID, newID); err != nil {
		return err
	} else if exists {
		return domain.Sandboxf("column %q already exists in table %q", newID, tableID)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"ALTER TABLE %s RENAME COLUMN %s TO %s",
		quoteIdent(tableID), quoteIdent(colID), quoteIdent(newID),
	)); err != nil {
		return domain.WrapOp("Store.renameColumn", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE _meta_columns SET col_id = ? WHERE table_id = ? AND col_id = ?",
		newID, tableID, colID,
	); err != nil {
		return domain.WrapOp("Store.renameColumn", err)
	}
	return nil
}

func (s *Store) modifyColumn(ctx context.Context, tx *sql.Tx, args map[string]any) error {
	tableID, err := argString(args, "table_id")
	if err != nil {
		return err
	}
	colID, err := argString(args, "col_id")
	if err != nil {
		return err
	}
	info, err := argColInfo(args, "col_info")
	if err != nil {
		return err
	}
	if exists, err := columnExistsTx(ctx, tx, tableID, colID); err != nil {
		return err
	} else if !exists {
		return domain.Sandboxf("column %q not found in table %q", colID, tableID)
	}

	// Storage affinity is loose in SQLite, so a type change is metadata-only.
	sets := make([]string, 0, 4)
	vals := make([]any, 0, 6)
	if info.Type != "" {
		if err := checkRefTargetTx(ctx, tx, info.Type, tableID); err != nil {
			return err
		}
		sets = append(sets, "col_type = ?")
		vals = append(vals, info.Type)
	}
	if info.Label != "" {
		sets = append(sets, "label = ?")
		vals = append(vals, info.Label)
	}
	if info.Formula != "" {
		sets = append(sets, "formula = ?")
		vals = append(vals, info.Formula)
	}
	if info.WidgetOptions != "" {
		sets = append(sets, "widget_options = ?")
		vals = append(vals, info.WidgetOptions)
	}
	if len(sets) == 0 {
		return nil
	}
	vals = append(vals, tableID, colID)
	if _, err := tx.ExecContext(ctx,
		"UPDATE _meta_columns SET "+strings.Join(sets, ", ")+" WHERE table_id = ? AND col_id = ?",
		vals...,
	); err != nil {
		return domain.WrapOp("Store.modifyColumn", err)
	}
	return nil
}

func (s *Store) removeColumn(ctx context.Context, tx *sql.Tx, args map[string]any) error {
	tableID, err := argString(args, "table_id")
	if err != nil {
		return err
	}
	colID, err := argString(args, "col_id")
	if err != nil {
		return err
	}
	if exists, err := columnExistsTx(ctx, tx, tableID, colID); err != nil {
		return err
	} else if !exists {
		return domain.Sandboxf("column %q not found in table %q", colID, tableID)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"ALTER TABLE %s DROP COLUMN %s", quoteIdent(tableID), quoteIdent(colID),
	)); err != nil {
		return domain.WrapOp("Store.removeColumn", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM _meta_columns WHERE table_id = ? AND col_id = ?", tableID, colID,
	); err != nil {
		return domain.WrapOp("Store.removeColumn", err)
	}
	return nil
}

// --- page and widget actions ---

func (s *Store) addPage(ctx context.Context, tx *sql.Tx, args map[string]any) (any, []domain.AppliedAction, error) {
	name, err := argString(args, "name")
	if err != nil {
		return nil, nil, err
	}
	res, err := tx.ExecContext(ctx, "INSERT INTO _meta_pages (name) VALUES (?)", name)
	if err != nil {
		return nil, nil, domain.WrapOp("Store.addPage", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, nil, domain.WrapOp("Store.addPage", err)
	}
	return id, nil, nil
}

func (s *Store) removePage(ctx context.Context, tx *sql.Tx, args map[string]any) error {
	pageID, err := argInt(args, "page_id")
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM _meta_pages WHERE id = ?", pageID)
	if err != nil {
		return domain.WrapOp("Store.removePage", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Sandboxf("page %d not found", pageID)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM _meta_widgets WHERE page_id = ?", pageID); err != nil {
		return domain.WrapOp("Store.removePage", err)
	}
	return nil
}

func (s *Store) addWidget(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	pageID, err := argInt(args, "page_id")
	if err != nil {
		return nil, err
	}
	tableID, err := argString(args, "table_id")
	if err != nil {
		return nil, err
	}
	widgetType, err := argString(args, "widget_type")
	if err != nil {
		return nil, err
	}
	if !validWidgetTypes[widgetType] {
		return nil, domain.Sandboxf("unknown widget type %q", widgetType)
	}
	title, _ := args["title"].(string)

	var one int
	if err := tx.QueryRowContext(ctx, "SELECT 1 FROM _meta_pages WHERE id = ?", pageID).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.Sandboxf("page %d not found", pageID)
		}
		return nil, domain.WrapOp("Store.addWidget", err)
	}
	if exists, err := tableExistsTx(ctx, tx, tableID); err != nil {
		return nil, err
	} else if !exists {
		return nil, domain.Sandboxf("table %q not found", tableID)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO _meta_widgets (page_id, table_id, widget_type, title) VALUES (?, ?, ?, ?)",
		pageID, tableID, widgetType, title,
	)
	if err != nil {
		return nil, domain.WrapOp("Store.addWidget", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, domain.WrapOp("Store.addWidget", err)
	}
	return id, nil
}

// removeWidget deletes a widget. Removing the last widget on a page removes
// the page too; the implied RemovePage shows up in the applied-action list.
func (s *Store) removeWidget(ctx context.Context, tx *sql.Tx, args map[string]any) (any, []domain.AppliedAction, error) {
	widgetID, err := argInt(args, "widget_id")
	if err != nil {
		return nil, nil, err
	}

	var pageID int64
	if err := tx.QueryRowContext(ctx,
		"SELECT page_id FROM _meta_widgets WHERE id = ?", widgetID,
	).Scan(&pageID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, domain.Sandboxf("widget %d not found", widgetID)
		}
		return nil, nil, domain.WrapOp("Store.removeWidget", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM _meta_widgets WHERE id = ?", widgetID); err != nil {
		return nil, nil, domain.WrapOp("Store.removeWidget", err)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM _meta_widgets WHERE page_id = ?", pageID,
	).Scan(&remaining); err != nil {
		return nil, nil, domain.WrapOp("Store.removeWidget", err)
	}
	if remaining > 0 {
		return nil, nil, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM _meta_pages WHERE id = ?", pageID); err != nil {
		return nil, nil, domain.WrapOp("Store.removeWidget", err)
	}
	implied := []domain.AppliedAction{{
		Action: domain.UserAction{
			Name: domain.ActionRemovePage,
			Args: map[string]any{"page_id": pageID},
		},
	}}
	return nil, implied, nil
}

func (s *Store) setWidgetLinking(ctx context.Context, tx *sql.Tx, args map[string]any) error {
	widgetID, err := argInt(args, "widget_id")
	if err != nil {
		return err
	}
	srcWidgetID, err := argInt(args, "src_widget_id")
	if err != nil {
		return err
	}
	srcColID, _ := args["src_col_id"].(string)
	targetColID, _ := args["target_col_id"].(string)

	if srcWidgetID != 0 {
		var one int
		if err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM _meta_widgets WHERE id = ?", srcWidgetID,
		).Scan(&one); err != nil {
			if err == sql.ErrNoRows {
				return domain.Sandboxf("source widget %d not found", srcWidgetID)
			}
			return domain.WrapOp("Store.setWidgetLinking", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE _meta_widgets SET link_src_widget_id = ?, link_src_col_id = ?, link_target_col_id = ? WHERE id = ?",
		srcWidgetID, srcColID, targetColID, widgetID,
	)
	if err != nil {
		return domain.WrapOp("Store.setWidgetLinking", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Sandboxf("widget %d not found", widgetID)
	}
	return nil
}

// --- record actions ---

func (s *Store) bulkAddRecord(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	tableID, err := argString(args, "table_id")
	if err != nil {
		return nil, err
	}
	records, err := argRecords(args, "records")
	if err != nil {
		return nil, err
	}
	colTypes, err := s.columnTypes(ctx, tx, tableID)
	if err != nil {
		return nil, err
	}

	rowIDs := make([]int64, 0, len(records))
	for _, rec := range records {
		cols := make([]string, 0, len(rec))
		marks := make([]string, 0, len(rec))
		vals := make([]any, 0, len(rec))
		for colID, value := range rec {
			colType, ok := colTypes[colID]
			if !ok {
				return nil, domain.Sandboxf("column %q not found in table %q", colID, tableID)
			}
			stored, err := encodeValue(colType, value)
			if err != nil {
				return nil, err
			}
			cols = append(cols, quoteIdent(colID))
			marks = append(marks, "?")
			vals = append(vals, stored)
		}
		var res sql.Result
		if len(cols) == 0 {
			res, err = tx.ExecContext(ctx, fmt.Sprintf(
				"INSERT INTO %s DEFAULT VALUES", quoteIdent(tableID),
			))
		} else {
			res, err = tx.ExecContext(ctx, fmt.Sprintf(
				"INSERT INTO %s (%s) VALUES (%s)",
				quoteIdent(tableID), strings.Join(cols, ", "), strings.Join(marks, ", "),
			), vals...)
		}
		if err != nil {
			return nil, domain.WrapOp("Store.bulkAddRecord", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, domain.WrapOp("Store.bulkAddRecord", err)
		}
		rowIDs = append(rowIDs, id)
	}
	return rowIDs, nil
}

func (s *Store) bulkUpdateRecord(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	tableID, err := argString(args, "table_id")
	if err != nil {
		return nil, err
	}
	records, err := argRecords(args, "records")
	if err != nil {
		return nil, err
	}
	colTypes, err := s.columnTypes(ctx, tx, tableID)
	if err != nil {
		return nil, err
	}

	updated := 0
	for _, rec := range records {
		rowID, err := argInt(rec, "id")
		if err != nil {
			return nil, domain.Sandboxf("record update requires an integer id")
		}
		sets := make([]string, 0, len(rec))
		vals := make([]any, 0, len(rec))
		for colID, value := range rec {
			if colID == "id" {
				continue
			}
			colType, ok := colTypes[colID]
			if !ok {
				return nil, domain.Sandboxf("column %q not found in table %q", colID, tableID)
			}
			stored, err := encodeValue(colType, value)
			if err != nil {
				return nil, err
			}
			sets = append(sets, quoteIdent(colID)+" = ?")
			vals = append(vals, stored)
		}
		if len(sets) == 0 {
			continue
		}
		vals = append(vals, rowID)
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE %s SET %s WHERE id = ?", quoteIdent(tableID), strings.Join(sets, ", "),
		), vals...)
		if err != nil {
			return nil, domain.WrapOp("Store.bulkUpdateRecord", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil, domain.Sandboxf("row %d not found in table %q", rowID, tableID)
		}
		updated++
	}
	return updated, nil
}

func (s *Store) bulkRemoveRecord(ctx context.Context, tx *sql.Tx, args map[string]any) (any, error) {
	tableID, err := argString(args, "table_id")
	if err != nil {
		return nil, err
	}
	if exists, err := tableExistsTx(ctx, tx, tableID); err != nil {
		return nil, err
	} else if !exists {
		return nil, domain.Sandboxf("table %q not found", tableID)
	}
	raw, ok := args["row_ids"].([]any)
	if !ok {
		return nil, domain.Sandboxf("action argument %q must be a list of row ids", "row_ids")
	}

	removed := 0
	for _, item := range raw {
		rowID, err := argInt(map[string]any{"row_id": item}, "row_id")
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE id = ?", quoteIdent(tableID),
		), rowID)
		if err != nil {
			return nil, domain.WrapOp("Store.bulkRemoveRecord", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil, domain.Sandboxf("row %d not found in table %q", rowID, tableID)
		}
		removed++
	}
	return removed, nil
}

// columnTypes loads col_id -> col_type for a table, failing with a sandbox
// error when the table does not exist.
func (s *Store) columnTypes(ctx context.Context, tx *sql.Tx, tableID string) (map[string]string, error) {
	if exists, err := tableExistsTx(ctx, tx, tableID); err != nil {
		return nil, err
	} else if !exists {
		return nil, domain.Sandboxf("table %q not found", tableID)
	}
	rows, err := tx.QueryContext(ctx,
		"SELECT col_id, col_type FROM _meta_columns WHERE table_id = ?", tableID,
	)
	if err != nil {
		return nil, domain.WrapOp("Store.columnTypes", err)
	}
	defer rows.Close()

	types := make(map[string]string)
	for rows.Next() {
		var id, typ string
		if err := rows.Scan(&id, &typ); err != nil {
			return nil, domain.WrapOp("Store.columnTypes", err)
		}
		types[id] = typ
	}
	return types, rows.Err()
}

// encodeValue converts a JSON-decoded cell value into its storage form.
// Lists and objects are stored as JSON text.
func encodeValue(colType string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch baseColType(colType) {
	case domain.ColTypeInt, domain.ColTypeRef:
		switch n := value.(type) {
		case float64:
			if n != math.Trunc(n) {
				return nil, domain.Sandboxf("value %v is not an integer", n)
			}
			return int64(n), nil
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		}
		return nil, domain.Sandboxf("value %v is not valid for type %s", value, colType)
	case domain.ColTypeBool:
		if b, ok := value.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return nil, domain.Sandboxf("value %v is not a boolean", value)
	case domain.ColTypeNumeric:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		}
		return nil, domain.Sandboxf("value %v is not numeric", value)
	case domain.ColTypeDate:
		if s, ok := value.(string); ok {
			if _, err := time.Parse("2006-01-02", s); err != nil {
				return nil, domain.Sandboxf("value %q is not a YYYY-MM-DD date", s)
			}
			return s, nil
		}
		if n, ok := numericValue(value); ok {
			return n, nil
		}
		return nil, domain.Sandboxf("value %v is not a date", value)
	case domain.ColTypeDateTime:
		if s, ok := value.(string); ok {
			if err := validDateTime(s); err != nil {
				return nil, err
			}
			return s, nil
		}
		if n, ok := numericValue(value); ok {
			return n, nil
		}
		return nil, domain.Sandboxf("value %v is not a datetime", value)
	default:
		switch v := value.(type) {
		case string:
			return v, nil
		case []any, map[string]any:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, domain.Sandboxf("value is not encodable: %v", err)
			}
			return string(data), nil
		case float64, bool:
			return fmt.Sprintf("%v", v), nil
		}
		return nil, domain.Sandboxf("unsupported value %v", value)
	}
}

var validWidgetTypes = map[string]bool{
	domain.WidgetRecord: true,
	domain.WidgetSingle: true,
	domain.WidgetChart:  true,
	domain.WidgetCustom: true,
	domain.WidgetForm:   true,
}

// checkRefTargetTx rejects a Ref/RefList column type whose target table does
// not exist. selfID is the table the column lives on, so self-references in a
// table being created still pass.
func checkRefTargetTx(ctx context.Context, tx *sql.Tx, colType, selfID string) error {
	target := refTarget(colType)
	if target == "" || target == selfID {
		return nil
	}
	exists, err := tableExistsTx(ctx, tx, target)
	if err != nil {
		return err
	}
	if !exists {
		return domain.Sandboxf("reference target table %q not found", target)
	}
	return nil
}

// numericValue reports a JSON-decoded number as float64. Date and DateTime
// columns also accept raw epoch values alongside their string forms.
func numericValue(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// datetimeLayouts are the accepted DateTime cell forms: RFC 3339 with an
// offset, or a bare local timestamp interpreted in the column's timezone.
var datetimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05"}

func validDateTime(s string) error {
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return nil
		}
	}
	return domain.Sandboxf("value %q is not an ISO 8601 datetime", s)
}
