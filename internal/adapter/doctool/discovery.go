package doctool

import (
	"context"

	"gridassist/internal/domain"
)

const emptyObjectSchema = `{
	"type": "object",
	"properties": {},
	"additionalProperties": false
}`

const tableIDOnlySchema = `{
	"type": "object",
	"properties": {
		"table_id": {"type": "string", "description": "Id of the table."}
	},
	"required": ["table_id"],
	"additionalProperties": false
}`

func discoveryTools() []toolDef {
	return []toolDef{
		{
			name:        "get_tables",
			description: "List the tables in the document with their ids.",
			params:      emptyObjectSchema,
			handler:     handleGetTables,
		},
		{
			name:        "get_table_columns",
			description: "List the columns of a table: id, label, type, formula and display options.",
			params:      tableIDOnlySchema,
			handler:     handleGetTableColumns,
		},
		{
			name:        "get_pages",
			description: "List the pages of the document with their ids.",
			params:      emptyObjectSchema,
			handler:     handleGetPages,
		},
		{
			name: "get_page_widgets",
			description: "List the widgets on a page: id, table, widget type, title and linking. " +
				"Pass page_id 0 to list widgets on every page.",
			params: `{
				"type": "object",
				"properties": {
					"page_id": {"type": "integer", "description": "Id of the page, or 0 for all pages."}
				},
				"required": ["page_id"],
				"additionalProperties": false
			}`,
			handler: handleGetPageWidgets,
		},
	}
}

func handleGetTables(ctx context.Context, doc domain.DocumentStore, _ map[string]any) (any, []domain.AppliedAction, error) {
	tables, err := doc.ListTables(ctx)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"tables": tables}, nil, nil
}

func handleGetTableColumns(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	tableID := args["table_id"].(string)
	cols, err := doc.GetTableColumns(ctx, tableID)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"table_id": tableID, "columns": cols}, nil, nil
}

func handleGetPages(ctx context.Context, doc domain.DocumentStore, _ map[string]any) (any, []domain.AppliedAction, error) {
	pages, err := doc.ListPages(ctx)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"pages": pages}, nil, nil
}

func handleGetPageWidgets(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	pageID := toInt64(args["page_id"])
	widgets, err := doc.ListWidgets(ctx, pageID)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"widgets": widgets}, nil, nil
}
