package doctool

import (
	"context"
	"encoding/json"
	"fmt"

	"gridassist/internal/domain"
)

// columnTypeEnum constrains the "type" property of column tools.
const columnTypeEnum = `["Any", "Text", "Numeric", "Int", "Bool", "Date", "DateTime", "Choice", "ChoiceList", "Ref", "RefList"]`

// columnOptionProps are the optional per-column style and typing flags shared
// by the column tools. They are folded into the column's stored type string
// and widget options during translation.
const columnOptionProps = `
		"label": {"type": "string", "description": "Human-facing column label."},
		"type": {"type": "string", "enum": ` + columnTypeEnum + `},
		"reference_table_id": {"type": "string", "description": "Target table for Ref and RefList columns."},
		"timezone": {"type": "string", "description": "IANA timezone for DateTime columns, e.g. Europe/Paris."},
		"formula": {"type": "string", "description": "Formula for computed columns."},
		"choices": {"type": "array", "items": {"type": "string"}, "description": "Allowed values for Choice and ChoiceList columns."},
		"date_format": {"type": "string", "enum": ["YYYY-MM-DD", "MM/DD/YYYY", "DD/MM/YYYY", "DD-MM-YYYY", "MMMM Do, YYYY"]},
		"time_format": {"type": "string", "enum": ["h:mma", "HH:mm", "HH:mm:ss"]},
		"alignment": {"type": "string", "enum": ["left", "center", "right"]},
		"wrap": {"type": "boolean", "description": "Wrap long cell text."},
		"number_format": {"type": "string", "enum": ["text", "currency", "decimal", "percent", "scientific"]},
		"decimals": {"type": "integer", "minimum": 0, "maximum": 20},
		"currency": {"type": "string", "description": "ISO 4217 currency code for currency-formatted columns."}`

const widgetTypeEnum = `["record", "single", "chart", "custom", "form"]`

func schemaTools() []toolDef {
	return []toolDef{
		{
			name: "add_table",
			description: "Create a new table. When columns is null, default columns A, B and C are created. " +
				"Column and table ids must be valid identifiers (letters, digits, underscores).",
			params: `{
				"type": "object",
				"properties": {
					"table_id": {"type": "string", "description": "Id of the new table."},
					"columns": {
						"type": ["array", "null"],
						"items": {
							"type": "object",
							"properties": {
								"col_id": {"type": "string"},` + columnOptionProps + `
							},
							"required": ["col_id"],
							"additionalProperties": false
						}
					}
				},
				"required": ["table_id", "columns"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleAddTable,
		},
		{
			name:        "rename_table",
			description: "Rename a table. References to the table are repointed automatically.",
			params: `{
				"type": "object",
				"properties": {
					"table_id": {"type": "string"},
					"new_table_id": {"type": "string"}
				},
				"required": ["table_id", "new_table_id"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleRenameTable,
		},
		{
			name:        "remove_table",
			description: "Remove a table and all of its records and widgets.",
			params:      tableIDOnlySchema,
			mutating:    true,
			handler:     handleRemoveTable,
		},
		{
			name:        "add_table_column",
			description: "Add a column to a table. Ref and RefList columns require reference_table_id.",
			params: `{
				"type": "object",
				"properties": {
					"table_id": {"type": "string"},
					"col_id": {"type": "string"},` + columnOptionProps + `
				},
				"required": ["table_id", "col_id"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleAddColumn,
		},
		{
			name: "update_table_column",
			description: "Update a column's type, label, formula or display options. " +
				"Changing a column to Ref or RefList requires reference_table_id unless the column already references a table.",
			params: `{
				"type": "object",
				"properties": {
					"table_id": {"type": "string"},
					"col_id": {"type": "string"},` + columnOptionProps + `
				},
				"required": ["table_id", "col_id"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleUpdateColumn,
		},
		{
			name:        "rename_table_column",
			description: "Rename a column of a table. The column keeps its type, data and options.",
			params: `{
				"type": "object",
				"properties": {
					"table_id": {"type": "string"},
					"col_id": {"type": "string"},
					"new_col_id": {"type": "string"}
				},
				"required": ["table_id", "col_id", "new_col_id"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleRenameColumn,
		},
		{
			name:        "remove_table_column",
			description: "Remove a column from a table, including its data.",
			params: `{
				"type": "object",
				"properties": {
					"table_id": {"type": "string"},
					"col_id": {"type": "string"}
				},
				"required": ["table_id", "col_id"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleRemoveColumn,
		},
		{
			name:        "add_page",
			description: "Add a new empty page to the document.",
			params: `{
				"type": "object",
				"properties": {
					"name": {"type": "string", "description": "Display name of the page."}
				},
				"required": ["name"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleAddPage,
		},
		{
			name:        "remove_page",
			description: "Remove a page and the widgets on it. Table data is not affected.",
			params: `{
				"type": "object",
				"properties": {
					"page_id": {"type": "integer"}
				},
				"required": ["page_id"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleRemovePage,
		},
		{
			name:        "add_page_widget",
			description: "Add a widget showing a table to a page.",
			params: `{
				"type": "object",
				"properties": {
					"page_id": {"type": "integer"},
					"table_id": {"type": "string"},
					"widget_type": {"type": "string", "enum": ` + widgetTypeEnum + `},
					"title": {"type": "string"}
				},
				"required": ["page_id", "table_id", "widget_type"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleAddWidget,
		},
		{
			name: "remove_page_widget",
			description: "Remove a widget from its page. Removing the last widget on a page " +
				"removes the page as well.",
			params: `{
				"type": "object",
				"properties": {
					"widget_id": {"type": "integer"}
				},
				"required": ["widget_id"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleRemoveWidget,
		},
		{
			name: "set_widget_linking",
			description: "Link a widget to a source widget so it filters by the source's selected row. " +
				"Pass src_widget_id 0 to clear the link.",
			params: `{
				"type": "object",
				"properties": {
					"widget_id": {"type": "integer"},
					"src_widget_id": {"type": "integer"},
					"src_col_id": {"type": "string"},
					"target_col_id": {"type": "string"}
				},
				"required": ["widget_id", "src_widget_id"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleSetWidgetLinking,
		},
	}
}

// buildColumnMeta folds the tool's optional column flags into the stored
// column form: the type string gains the reference-target or timezone suffix
// and the style flags become a widget-options JSON blob. existing is the
// current column when updating, nil when adding.
func buildColumnMeta(ctx context.Context, doc domain.DocumentStore, args map[string]any, existing *domain.ColumnMeta) (domain.ColumnMeta, error) {
	col := domain.ColumnMeta{}
	if existing != nil {
		col = *existing
	}
	if label, ok := args["label"].(string); ok {
		col.Label = label
	}
	if formula, ok := args["formula"].(string); ok {
		col.Formula = formula
	}

	typ, typeGiven := args["type"].(string)
	if !typeGiven {
		if existing == nil {
			typ = domain.ColTypeAny
		} else {
			typ = existing.Type
		}
	}

	switch stripTypeSuffix(typ) {
	case domain.ColTypeRef, domain.ColTypeRefList:
		target, _ := args["reference_table_id"].(string)
		if target == "" {
			target = typeSuffix(typ)
		}
		if target == "" && existing != nil {
			target = typeSuffix(existing.Type)
		}
		if target == "" {
			return col, fmt.Errorf("%w: column type %s requires reference_table_id", domain.ErrMissingReferenceTarget, stripTypeSuffix(typ))
		}
		if err := checkTableExists(ctx, doc, target); err != nil {
			return col, err
		}
		col.Type = stripTypeSuffix(typ) + ":" + target
	case domain.ColTypeDateTime:
		tz, _ := args["timezone"].(string)
		if tz == "" {
			tz = typeSuffix(typ)
		}
		if tz != "" {
			col.Type = domain.ColTypeDateTime + ":" + tz
		} else {
			col.Type = domain.ColTypeDateTime
		}
	default:
		col.Type = typ
	}

	opts := widgetOptionsFromArgs(args, existing)
	if opts != "" {
		col.WidgetOptions = opts
	}
	return col, nil
}

// widgetOptionsFromArgs assembles the display-option JSON from whichever
// style flags the call supplied, merged over the existing options on update.
func widgetOptionsFromArgs(args map[string]any, existing *domain.ColumnMeta) string {
	opts := map[string]any{}
	if existing != nil && existing.WidgetOptions != "" {
		// Best effort; malformed stored options are replaced.
		_ = json.Unmarshal([]byte(existing.WidgetOptions), &opts)
	}

	touched := false
	set := func(key string, value any) {
		opts[key] = value
		touched = true
	}
	if choices, ok := args["choices"].([]any); ok {
		set("choices", choices)
	}
	for _, key := range []string{"date_format", "time_format", "alignment", "number_format", "currency"} {
		if v, ok := args[key].(string); ok {
			set(key, v)
		}
	}
	if v, ok := args["wrap"].(bool); ok {
		set("wrap", v)
	}
	if v, ok := args["decimals"]; ok {
		set("decimals", toInt64(v))
	}

	if !touched {
		if existing != nil {
			return existing.WidgetOptions
		}
		return ""
	}
	data, err := json.Marshal(opts)
	if err != nil {
		return ""
	}
	return string(data)
}

func checkTableExists(ctx context.Context, doc domain.DocumentStore, tableID string) error {
	tables, err := doc.ListTables(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if t.ID == tableID {
			return nil
		}
	}
	return fmt.Errorf("%w: reference target table %q not found", domain.ErrMissingReferenceTarget, tableID)
}

func columnToActionArgs(col domain.ColumnMeta) map[string]any {
	return map[string]any{
		"label":          col.Label,
		"type":           col.Type,
		"formula":        col.Formula,
		"widget_options": col.WidgetOptions,
	}
}

func handleAddTable(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	tableID := args["table_id"].(string)

	var colDefs []any
	if raw, ok := args["columns"].([]any); ok {
		colDefs = raw
	} else {
		// Null columns create a usable default layout instead of an empty table.
		for _, id := range []string{"A", "B", "C"} {
			colDefs = append(colDefs, map[string]any{"col_id": id})
		}
	}

	cols := make([]any, 0, len(colDefs))
	for _, item := range colDefs {
		colArgs, ok := item.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("%w: column definition must be an object", domain.ErrInvalidArguments)
		}
		colID, _ := colArgs["col_id"].(string)
		meta, err := buildColumnMeta(ctx, doc, colArgs, nil)
		if err != nil {
			return nil, nil, err
		}
		if meta.Label == "" {
			meta.Label = colID
		}
		cols = append(cols, map[string]any{
			"col_id":         colID,
			"label":          meta.Label,
			"type":           meta.Type,
			"formula":        meta.Formula,
			"widget_options": meta.WidgetOptions,
		})
	}

	return applySingle(ctx, doc, domain.UserAction{
		Name: domain.ActionAddTable,
		Args: map[string]any{"table_id": tableID, "columns": cols},
	})
}

func handleRenameTable(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	return applySingle(ctx, doc, domain.UserAction{
		Name: domain.ActionRenameTable,
		Args: map[string]any{
			"table_id":     args["table_id"].(string),
			"new_table_id": args["new_table_id"].(string),
		},
	})
}

func handleRemoveTable(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	return applySingle(ctx, doc, domain.UserAction{
		Name: domain.ActionRemoveTable,
		Args: map[string]any{"table_id": args["table_id"].(string)},
	})
}

func handleAddColumn(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	tableID := args["table_id"].(string)
	colID := args["col_id"].(string)
	meta, err := buildColumnMeta(ctx, doc, args, nil)
	if err != nil {
		return nil, nil, err
	}
	if meta.Label == "" {
		meta.Label = colID
	}
	return applySingle(ctx, doc, domain.UserAction{
		Name: domain.ActionAddColumn,
		Args: map[string]any{
			"table_id": tableID,
			"col_id":   colID,
			"col_info": columnToActionArgs(meta),
		},
	})
}

func handleUpdateColumn(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	tableID := args["table_id"].(string)
	colID := args["col_id"].(string)

	cols, err := doc.GetTableColumns(ctx, tableID)
	if err != nil {
		return nil, nil, err
	}
	var existing *domain.ColumnMeta
	for i := range cols {
		if cols[i].ID == colID {
			existing = &cols[i]
			break
		}
	}
	if existing == nil {
		return nil, nil, fmt.Errorf("%w: column %q in table %q", domain.ErrColumnNotFound, colID, tableID)
	}

	meta, err := buildColumnMeta(ctx, doc, args, existing)
	if err != nil {
		return nil, nil, err
	}
	return applySingle(ctx, doc, domain.UserAction{
		Name: domain.ActionModifyColumn,
		Args: map[string]any{
			"table_id": tableID,
			"col_id":   colID,
			"col_info": columnToActionArgs(meta),
		},
	})
}

func handleRenameColumn(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	return applySingle(ctx, doc, domain.UserAction{
		Name: domain.ActionRenameColumn,
		Args: map[string]any{
			"table_id":   args["table_id"].(string),
			"col_id":     args["col_id"].(string),
			"new_col_id": args["new_col_id"].(string),
		},
	})
}

func handleRemoveColumn(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	return applySingle(ctx, doc, domain.UserAction{
		Name: domain.ActionRemoveColumn,
		Args: map[string]any{
			"table_id": args["table_id"].(string),
			"col_id":   args["col_id"].(string),
		},
	})
}

func handleAddPage(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	return applySingle(ctx, doc, domain.UserAction{
		Name: domain.ActionAddPage,
		Args: map[string]any{"name": args["name"].(string)},
	})
}

func handleRemovePage(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	return applySingle(ctx, doc, domain.UserAction{
		Name: domain.ActionRemovePage,
		Args: map[string]any{"page_id": toInt64(args["page_id"])},
	})
}

func handleAddWidget(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	actionArgs := map[string]any{
		"page_id":     toInt64(args["page_id"]),
		"table_id":    args["table_id"].(string),
		"widget_type": args["widget_type"].(string),
	}
	if title, ok := args["title"].(string); ok {
		actionArgs["title"] = title
	}
	return applySingle(ctx, doc, domain.UserAction{
		Name: domain.ActionAddWidget,
		Args: actionArgs,
	})
}

func handleRemoveWidget(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	return applySingle(ctx, doc, domain.UserAction{
		Name: domain.ActionRemoveWidget,
		Args: map[string]any{"widget_id": toInt64(args["widget_id"])},
	})
}

func handleSetWidgetLinking(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	actionArgs := map[string]any{
		"widget_id":     toInt64(args["widget_id"]),
		"src_widget_id": toInt64(args["src_widget_id"]),
	}
	if v, ok := args["src_col_id"].(string); ok {
		actionArgs["src_col_id"] = v
	}
	if v, ok := args["target_col_id"].(string); ok {
		actionArgs["target_col_id"] = v
	}
	return applySingle(ctx, doc, domain.UserAction{
		Name: domain.ActionSetWidgetLinking,
		Args: actionArgs,
	})
}
