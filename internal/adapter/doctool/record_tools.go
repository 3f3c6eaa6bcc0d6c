package doctool

import (
	"context"

	"gridassist/internal/domain"
)

func recordTools() []toolDef {
	return []toolDef{
		{
			name: "add_records",
			description: "Add a batch of records to one table. Each record maps column ids to values. " +
				"Returns the new row ids in order.",
			params: `{
				"type": "object",
				"properties": {
					"table_id": {"type": "string"},
					"records": {
						"type": "array",
						"minItems": 1,
						"items": {"type": "object"}
					}
				},
				"required": ["table_id", "records"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleAddRecords,
		},
		{
			name: "update_records",
			description: "Update a batch of records in one table. Each record must carry its integer id " +
				"plus the column values to change.",
			params: `{
				"type": "object",
				"properties": {
					"table_id": {"type": "string"},
					"records": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"properties": {
								"id": {"type": "integer"}
							},
							"required": ["id"]
						}
					}
				},
				"required": ["table_id", "records"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleUpdateRecords,
		},
		{
			name:        "remove_records",
			description: "Remove a batch of records from one table by row id.",
			params: `{
				"type": "object",
				"properties": {
					"table_id": {"type": "string"},
					"row_ids": {
						"type": "array",
						"minItems": 1,
						"items": {"type": "integer"}
					}
				},
				"required": ["table_id", "row_ids"],
				"additionalProperties": false
			}`,
			mutating: true,
			handler:  handleRemoveRecords,
		},
	}
}

func handleAddRecords(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	res, err := doc.ApplyUserActions(ctx, []domain.UserAction{{
		Name: domain.ActionBulkAddRecord,
		Args: map[string]any{
			"table_id": args["table_id"].(string),
			"records":  args["records"],
		},
	}})
	if err != nil {
		return nil, nil, err
	}
	result := map[string]any{}
	if len(res.RetValues) > 0 {
		result["row_ids"] = res.RetValues[0]
	}
	return result, res.Applied, nil
}

func handleUpdateRecords(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	res, err := doc.ApplyUserActions(ctx, []domain.UserAction{{
		Name: domain.ActionBulkUpdateRecord,
		Args: map[string]any{
			"table_id": args["table_id"].(string),
			"records":  args["records"],
		},
	}})
	if err != nil {
		return nil, nil, err
	}
	result := map[string]any{}
	if len(res.RetValues) > 0 {
		result["updated"] = res.RetValues[0]
	}
	return result, res.Applied, nil
}

func handleRemoveRecords(ctx context.Context, doc domain.DocumentStore, args map[string]any) (any, []domain.AppliedAction, error) {
	res, err := doc.ApplyUserActions(ctx, []domain.UserAction{{
		Name: domain.ActionBulkRemoveRecord,
		Args: map[string]any{
			"table_id": args["table_id"].(string),
			"row_ids":  args["row_ids"],
		},
	}})
	if err != nil {
		return nil, nil, err
	}
	result := map[string]any{}
	if len(res.RetValues) > 0 {
		result["removed"] = res.RetValues[0]
	}
	return result, res.Applied, nil
}
