package doctool

import (
	"context"
	"strings"

	"gridassist/internal/domain"
)

// toInt64 narrows a JSON-decoded number. Schema validation has already
// rejected non-integers by the time this runs.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// stripTypeSuffix drops the ":<target>" part of a stored column type.
func stripTypeSuffix(typ string) string {
	if i := strings.IndexByte(typ, ':'); i >= 0 {
		return typ[:i]
	}
	return typ
}

// typeSuffix returns the ":<target>" part of a stored column type, if any.
func typeSuffix(typ string) string {
	if i := strings.IndexByte(typ, ':'); i >= 0 {
		return typ[i+1:]
	}
	return ""
}

// applySingle runs one document action and shapes the store's outcome into a
// tool result value.
func applySingle(ctx context.Context, doc domain.DocumentStore, action domain.UserAction) (any, []domain.AppliedAction, error) {
	res, err := doc.ApplyUserActions(ctx, []domain.UserAction{action})
	if err != nil {
		return nil, nil, err
	}
	result := map[string]any{"applied": len(res.Applied)}
	if len(res.RetValues) > 0 && res.RetValues[0] != nil {
		result["ret"] = res.RetValues[0]
	}
	return result, res.Applied, nil
}
