// Package assistant holds the conversation loop: prompt construction,
// completion orchestration, bounded tool dispatch and state handling.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gridassist/internal/domain"
)

// PromptBuilder produces the system prompt from live document state. The
// prompt is rebuilt on every turn because the schema may have changed since
// the previous one; it is never reused from conversation history.
type PromptBuilder struct {
	version string
	now     func() time.Time
}

// NewPromptBuilder creates a builder. now is injectable for tests; nil uses
// the wall clock.
func NewPromptBuilder(version string, now func() time.Time) *PromptBuilder {
	if now == nil {
		now = time.Now
	}
	return &PromptBuilder{version: version, now: now}
}

// Version reports the prompt format version recorded in conversation state.
func (b *PromptBuilder) Version() string { return b.version }

// Build assembles the full transcript for one completion turn: regenerated
// system message, prior history with any stale system message stripped, and
// the user's text last.
func (b *PromptBuilder) Build(ctx context.Context, doc domain.DocumentStore, req domain.AssistanceRequest) ([]domain.Message, error) {
	system, err := b.systemMessage(ctx, doc, req)
	if err != nil {
		return nil, domain.WrapOp("PromptBuilder.Build", err)
	}

	messages := []domain.Message{system}
	if req.State != nil {
		// The caller owns the incoming state; the loop appends to the
		// transcript, so it must not share backing storage with it.
		state := req.State.Clone()
		messages = append(messages, state.History()...)
	}
	if req.Text != "" {
		messages = append(messages, domain.Message{
			Role:      domain.RoleUser,
			Content:   req.Text,
			Timestamp: b.now().UTC(),
		})
	}
	return messages, nil
}

const promptIdentity = `You are an assistant embedded in a collaborative spreadsheet document.
You help the user inspect and modify the document using only the tools provided.

Rules:
- Discover ids first: call get_tables, get_table_columns, get_pages or
  get_page_widgets before referring to a table, column, page or widget id.
- If a tool reports that something was not found, re-check the schema with the
  discovery tools before trying again; the document may have changed.
- Before any tool call that modifies the document, describe the change and set
  confirmation_required to true, then wait for the user to confirm. Only call
  mutating tools after the user has confirmed.
- Prefer query_document for questions about data; it is read-only.
- Reply with a JSON object {"response_text": string, "confirmation_required": boolean}
  and nothing else.`

const promptValueEncoding = `Column value encoding:
| Column type | Cell value |
|---|---|
| Text, Choice | string |
| Numeric | number |
| Int | integer |
| Bool | true or false |
| Date | "YYYY-MM-DD" string |
| DateTime | ISO 8601 string in the column's timezone |
| Ref | integer row id in the referenced table |
| RefList | list with leading marker, e.g. ["L", 2, 5] |
| ChoiceList | list with leading marker, e.g. ["L", "Red", "Blue"] |`

const promptWorkedExample = `Worked example:
User: "How many open tasks are assigned to Ann, and close them."
1. get_table_columns {"table_id": "Tasks"}
2. query_document {"query": "SELECT id FROM Tasks WHERE Assignee = ? AND Done = 0", "args": ["Ann"]}
3. Reply {"response_text": "Ann has 4 open tasks. Mark all 4 as done?", "confirmation_required": true}
4. After the user confirms: update_records {"table_id": "Tasks", "records": [{"id": 7, "Done": true}, ...]}
5. Reply {"response_text": "Done. 4 tasks closed.", "confirmation_required": false}`

func (b *PromptBuilder) systemMessage(ctx context.Context, doc domain.DocumentStore, req domain.AssistanceRequest) (domain.Message, error) {
	var sb strings.Builder
	sb.WriteString(promptIdentity)
	sb.WriteString("\n\n")
	sb.WriteString(promptValueEncoding)
	sb.WriteString("\n\n")
	sb.WriteString(promptWorkedExample)
	sb.WriteString("\n\n")

	schema, err := schemaSummary(ctx, doc)
	if err != nil {
		return domain.Message{}, err
	}
	sb.WriteString(schema)

	fmt.Fprintf(&sb, "\nToday's date: %s.\n", b.now().UTC().Format("2006-01-02"))
	if req.Context.ViewID != "" {
		fmt.Fprintf(&sb, "The user is currently looking at: %s.\n", req.Context.ViewID)
	}

	return domain.Message{
		Role:      domain.RoleSystem,
		Content:   sb.String(),
		Timestamp: b.now().UTC(),
	}, nil
}

// schemaSummary renders the live table layout so the model can reference ids
// without a discovery round-trip on simple requests.
func schemaSummary(ctx context.Context, doc domain.DocumentStore) (string, error) {
	tables, err := doc.ListTables(ctx)
	if err != nil {
		return "", err
	}
	if len(tables) == 0 {
		return "The document has no tables yet.\n", nil
	}

	var sb strings.Builder
	sb.WriteString("Document tables:\n")
	for _, table := range tables {
		cols, err := doc.GetTableColumns(ctx, table.ID)
		if err != nil {
			return "", err
		}
		parts := make([]string, 0, len(cols))
		for _, col := range cols {
			parts = append(parts, col.ID+" ("+col.Type+")")
		}
		fmt.Fprintf(&sb, "- %s: %s\n", table.ID, strings.Join(parts, ", "))
	}
	return sb.String(), nil
}
