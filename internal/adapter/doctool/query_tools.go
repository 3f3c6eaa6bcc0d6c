package doctool

import (
	"context"

	"gridassist/internal/domain"
)

func queryTools() []toolDef {
	return []toolDef{
		{
			name: "query_document",
			description: "Run a read-only SQL SELECT against the document. Table and column ids are the " +
				"SQL names; every table has an integer id column. Use ? placeholders with args for values.",
			params: `{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "A single SELECT statement."},
					"args": {
						"type": "array",
						"items": {"type": ["string", "number", "boolean", "null"]},
						"description": "Positional values for ? placeholders."
					}
				},
				"required": ["query"],
				"additionalProperties": false
			}`,
			handler: handleQueryDocument,
		},
		{
			name:        "get_access_rules_reference",
			description: "Return the reference documentation for the document's access-rule syntax.",
			params:      emptyObjectSchema,
			handler:     handleAccessRulesReference,
		},
	}
}

// maxQueryRows caps the rows echoed back to the model.
const maxQueryRows = 100

func handleQueryDocument(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	query := args["query"].(string)
	var params []any
	if raw, ok := args["args"].([]any); ok {
		params = raw
	}

	rows, err := doc.QueryReadOnly(ctx, query, params)
	if err != nil {
		return nil, nil, err
	}
	truncated := false
	if len(rows) > maxQueryRows {
		rows = rows[:maxQueryRows]
		truncated = true
	}
	result := map[string]any{"rows": rows, "row_count": len(rows)}
	if truncated {
		result["truncated"] = true
	}
	return result, nil, nil
}

// accessRulesReference is a static help text; it never reads the document.
const accessRulesReference = `Access rules grant or deny permissions per table using condition formulas.

Each rule has: a table (or *SPECIAL scopes), a condition formula, and a
permission set. Permissions: R (read), U (update), C (create), D (delete),
S (schema). Prefix + grants, - denies; e.g. +R-UCD.

Condition formulas are Python-like expressions over:
  user  - the acting user: user.Email, user.Name, user.Access (owners,
          editors, viewers), user.UserID, plus any user attribute columns.
  rec   - the record being accessed: rec.ColumnId for any column.
  newRec - the record as it would be after the change (update/create only).

Examples:
  user.Access == "owners"                  full control for owners
  rec.Owner == user.Email                  row-level: only the assignee
  user.Access != "viewers" and rec.Done    editors, but only finished rows
  newRec.Budget <= 10000                   cap values on create and update

Rules are evaluated top to bottom; the first matching rule decides. A final
default rule applies when nothing matches. Schema permissions (S) only apply
to rules on *SPECIAL:SchemaEdit.`

func handleAccessRulesReference(_ context.Context, _ domain.DocumentStore, _ map[string]any) (any, []domain.AppliedAction, error) {
	return map[string]any{"reference": accessRulesReference}, nil, nil
}
