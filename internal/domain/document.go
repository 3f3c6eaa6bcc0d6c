package domain

import (
	"context"
	"fmt"
)

// Column type constants. Reference and datetime types carry a suffix in the
// stored type string: "Ref:<table_id>", "RefList:<table_id>", "DateTime:<tz>".
const (
	ColTypeAny        = "Any"
	ColTypeText       = "Text"
	ColTypeNumeric    = "Numeric"
	ColTypeInt        = "Int"
	ColTypeBool       = "Bool"
	ColTypeDate       = "Date"
	ColTypeDateTime   = "DateTime"
	ColTypeChoice     = "Choice"
	ColTypeChoiceList = "ChoiceList"
	ColTypeRef        = "Ref"
	ColTypeRefList    = "RefList"
)

// Widget type constants (storage keys).
const (
	WidgetRecord = "record"
	WidgetSingle = "single"
	WidgetChart  = "chart"
	WidgetCustom = "custom"
	WidgetForm   = "form"
)

// UserAction is the document store's native atomic mutation primitive.
// Args hold the action-specific payload; the store validates them.
type UserAction struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// User action names understood by the document store.
const (
	ActionAddTable         = "AddTable"
	ActionRenameTable      = "RenameTable"
	ActionRemoveTable      = "RemoveTable"
	ActionAddColumn        = "AddVisibleColumn"
	ActionRenameColumn     = "RenameColumn"
	ActionModifyColumn     = "ModifyColumn"
	ActionRemoveColumn     = "RemoveColumn"
	ActionAddPage          = "AddPage"
	ActionRemovePage       = "RemovePage"
	ActionAddWidget        = "AddWidget"
	ActionRemoveWidget     = "RemoveWidget"
	ActionSetWidgetLinking = "SetWidgetLinking"
	ActionBulkAddRecord    = "BulkAddRecord"
	ActionBulkUpdateRecord = "BulkUpdateRecord"
	ActionBulkRemoveRecord = "BulkRemoveRecord"
)

// AppliedAction records one action the store actually applied, for audit/undo.
// RetValue carries action-specific results (e.g. new row ids).
type AppliedAction struct {
	Action   UserAction `json:"action"`
	RetValue any        `json:"ret_value,omitempty"`
}

// ApplyResult is the outcome of a successful ApplyUserActions call.
type ApplyResult struct {
	RetValues []any           `json:"ret_values"`
	Applied   []AppliedAction `json:"applied"`
}

// TableMeta describes one user table.
type TableMeta struct {
	ID      string `json:"id"`
	RowIDCol string `json:"row_id_col,omitempty"`
}

// ColumnMeta describes one column of a user table.
type ColumnMeta struct {
	ID            string `json:"id"`
	Label         string `json:"label,omitempty"`
	Type          string `json:"type"`
	Formula       string `json:"formula,omitempty"`
	WidgetOptions string `json:"widget_options,omitempty"`
}

// PageMeta describes one page (view) of the document.
type PageMeta struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// WidgetMeta describes one widget (view section) on a page.
type WidgetMeta struct {
	ID      int64  `json:"id"`
	PageID  int64  `json:"page_id"`
	TableID string `json:"table_id"`
	Type    string `json:"type"`
	Title   string `json:"title,omitempty"`
	// Linking: source widget/column this widget filters by, if any.
	LinkSrcWidgetID int64  `json:"link_src_widget_id,omitempty"`
	LinkSrcColID    string `json:"link_src_col_id,omitempty"`
	LinkTargetColID string `json:"link_target_col_id,omitempty"`
}

// Row is one result row of a read-only query.
type Row map[string]any

// DocumentStore is the live document collaborator. Mutations go through
// ApplyUserActions, which applies the batch transactionally: either every
// action in the batch is applied or none are. Conflicting writers are
// serialized by the store.
type DocumentStore interface {
	ApplyUserActions(ctx context.Context, actions []UserAction) (*ApplyResult, error)
	ListTables(ctx context.Context) ([]TableMeta, error)
	GetTableColumns(ctx context.Context, tableID string) ([]ColumnMeta, error)
	ListPages(ctx context.Context) ([]PageMeta, error)
	ListWidgets(ctx context.Context, pageID int64) ([]WidgetMeta, error)
	// QueryReadOnly runs a parameterized SELECT against the document's
	// relational view with no side effects.
	QueryReadOnly(ctx context.Context, query string, args []any) ([]Row, error)
}

// SandboxError is a validation rejection from the document store. The tool
// dispatcher converts it to a failed tool result instead of aborting the turn.
type SandboxError struct {
	Message string
}

func (e *SandboxError) Error() string { return "sandbox: " + e.Message }

// Sandboxf builds a SandboxError with a formatted message.
func Sandboxf(format string, args ...any) *SandboxError {
	return &SandboxError{Message: fmt.Sprintf(format, args...)}
}
