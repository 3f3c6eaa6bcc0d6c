package docstore

import (
	"context"
	"strings"

	"gridassist/internal/domain"
)

// QueryReadOnly runs a single SELECT statement against the document and
// returns the result rows as maps. Anything that is not a plain SELECT
// (or a WITH ... SELECT) is rejected with domain.ErrReadOnlyQuery before
// it reaches the database, and the statement runs with query_only set so
// writes smuggled past the syntactic check (e.g. WITH ... INSERT) fail
// inside SQLite instead of mutating the document.
func (s *Store) QueryReadOnly(ctx context.Context, query string, args []any) ([]domain.Row, error) {
	if err := checkReadOnly(query); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, domain.WrapOp("Store.QueryReadOnly", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only=ON"); err != nil {
		return nil, domain.WrapOp("Store.QueryReadOnly", err)
	}
	// The store runs on a single pooled connection, so the pragma must be
	// lifted again even when ctx is already canceled.
	defer conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only=OFF")

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Sandboxf("query failed: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, domain.WrapOp("Store.QueryReadOnly", err)
	}

	var out []domain.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, domain.WrapOp("Store.QueryReadOnly", err)
		}
		row := make(domain.Row, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	// A write attempt inside a CTE only surfaces when the statement steps,
	// so it can arrive here rather than from QueryContext.
	if err := rows.Err(); err != nil {
		return nil, domain.Sandboxf("query failed: %v", err)
	}
	return out, nil
}

// checkReadOnly accepts a single SELECT or WITH statement and nothing else.
// The check is syntactic; the database connection still applies its own
// constraints when the statement runs.
func checkReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return domain.WrapOp("Store.QueryReadOnly", domain.ErrReadOnlyQuery)
	}
	// Reject multiple statements. A trailing semicolon is tolerated.
	if i := strings.IndexByte(trimmed, ';'); i >= 0 && strings.TrimSpace(trimmed[i+1:]) != "" {
		return domain.WrapOp("Store.QueryReadOnly", domain.ErrReadOnlyQuery)
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return domain.WrapOp("Store.QueryReadOnly", domain.ErrReadOnlyQuery)
	}
	return nil
}
