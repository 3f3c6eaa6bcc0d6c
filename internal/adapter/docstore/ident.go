package docstore

import (
	"fmt"
	"regexp"
	"strings"

	"gridassist/internal/domain"
)

// identRegex constrains table and column identifiers so they are always safe
// to interpolate as quoted SQL identifiers.
var identRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// reserved column ids that clash with the implicit row id.
var reservedColIDs = map[string]bool{"id": true, "rowid": true, "oid": true}

func validIdent(id string) error {
	if !identRegex.MatchString(id) {
		return domain.Sandboxf("invalid identifier %q: must match [A-Za-z][A-Za-z0-9_]*", id)
	}
	if strings.HasPrefix(id, "_meta_") {
		return domain.Sandboxf("identifier %q uses a reserved prefix", id)
	}
	return nil
}

func validColID(id string) error {
	if err := validIdent(id); err != nil {
		return err
	}
	if reservedColIDs[strings.ToLower(id)] {
		return domain.Sandboxf("column id %q is reserved", id)
	}
	return nil
}

// quoteIdent wraps a validated identifier in double quotes.
func quoteIdent(id string) string {
	return `"` + id + `"`
}

// sqliteAffinity maps a document column type (possibly suffixed, e.g.
// "Ref:People" or "DateTime:UTC") to a SQLite column affinity.
func sqliteAffinity(colType string) string {
	switch baseColType(colType) {
	case domain.ColTypeNumeric:
		return "REAL"
	case domain.ColTypeDate, domain.ColTypeDateTime:
		// Cells hold "YYYY-MM-DD" / ISO 8601 strings or raw epoch numbers;
		// NUMERIC affinity keeps each form as written.
		return "NUMERIC"
	case domain.ColTypeInt, domain.ColTypeBool, domain.ColTypeRef:
		return "INTEGER"
	default:
		// Text, Choice, ChoiceList, RefList, Any: list values are stored as
		// JSON-encoded text.
		return "TEXT"
	}
}

// baseColType strips any reference/timezone suffix from a column type.
func baseColType(colType string) string {
	if i := strings.IndexByte(colType, ':'); i >= 0 {
		return colType[:i]
	}
	return colType
}

// refTarget returns the reference target table for a Ref/RefList type, or "".
func refTarget(colType string) string {
	base := baseColType(colType)
	if base != domain.ColTypeRef && base != domain.ColTypeRefList {
		return ""
	}
	if i := strings.IndexByte(colType, ':'); i >= 0 {
		return colType[i+1:]
	}
	return ""
}

// columnDDL renders one column definition for CREATE TABLE / ALTER TABLE.
func columnDDL(col domain.ColumnMeta) string {
	return fmt.Sprintf("%s %s", quoteIdent(col.ID), sqliteAffinity(col.Type))
}
