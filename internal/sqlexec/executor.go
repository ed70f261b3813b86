package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	errx "github.com/chative-support/server/internal/core/error"
	logx "github.com/chative-support/server/pkg/logger"
)

// Executor runs vetted read-only statements and flattens their result rows.
type Executor struct {
	db *gorm.DB
}

func NewExecutor(db *gorm.DB) *Executor {
	return &Executor{db: db}
}

// Execute runs query inside a read-only transaction that is always rolled
// back, and returns the rows rendered by FormatRows.
func (e *Executor) Execute(ctx context.Context, query string) (string, error) {
	tx := e.db.WithContext(ctx).Begin(&sql.TxOptions{ReadOnly: true})
	if tx.Error != nil {
		return "", errx.WrapDB(tx.Error)
	}
	defer tx.Rollback()

	rows, err := tx.Raw(query).Rows()
	if err != nil {
		return "", errx.WrapDB(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", errx.WrapDB(err)
	}

	var result [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", errx.WrapDB(err)
		}
		result = append(result, vals)
	}
	if err := rows.Err(); err != nil {
		return "", errx.WrapDB(err)
	}

	logx.Debug().Int("rows", len(result)).Msg("Executed generated query")
	return FormatRows(cols, result), nil
}

// FormatRows renders each row as "col: val" pairs joined by ", " and rows
// joined by newlines. NULL values print as NULL.
func FormatRows(cols []string, rows [][]any) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		parts := make([]string, len(cols))
		for i, col := range cols {
			var v any
			if i < len(row) {
				v = row[i]
			}
			parts[i] = fmt.Sprintf("%s: %s", col, formatValue(v))
		}
		lines = append(lines, strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.Format(time.DateTime)
	default:
		return fmt.Sprint(x)
	}
}
