package sqlexec

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gorm.io/gorm"

	errx "github.com/chative-support/server/internal/core/error"
)

// JoinKey is the only column two tables may be joined on.
type JoinKey struct {
	Left   string
	Right  string
	Column string
}

// JoinKeys are rendered into the schema description and define the join
// paths generated queries are expected to use.
var JoinKeys = []JoinKey{
	{Left: "customers", Right: "orders", Column: "customer_id"},
	{Left: "orders", Right: "order_items", Column: "order_id"},
	{Left: "products", Right: "order_items", Column: "product_id"},
}

// ForbiddenJoinColumns may never appear in a join condition.
var ForbiddenJoinColumns = []string{"email", "name"}

type Column struct {
	Name     string
	Type     string
	Nullable bool
}

type Table struct {
	Name    string
	Columns []Column
}

// Inspect reads table and column metadata through the gorm migrator. With no
// table names it describes every table in the database.
func Inspect(ctx context.Context, db *gorm.DB, tables ...string) ([]Table, error) {
	m := db.WithContext(ctx).Migrator()
	if len(tables) == 0 {
		all, err := m.GetTables()
		if err != nil {
			return nil, errx.WrapDB(err)
		}
		tables = all
	}
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)

	out := make([]Table, 0, len(sorted))
	for _, name := range sorted {
		cols, err := m.ColumnTypes(name)
		if err != nil {
			return nil, errx.WrapDB(fmt.Errorf("columns of %s: %w", name, err))
		}
		t := Table{Name: name}
		for _, c := range cols {
			nullable, _ := c.Nullable()
			t.Columns = append(t.Columns, Column{
				Name:     c.Name(),
				Type:     strings.ToLower(c.DatabaseTypeName()),
				Nullable: nullable,
			})
		}
		out = append(out, t)
	}
	return out, nil
}

// Describe renders tables and join rules as the text block handed to the
// query-generation prompt.
func Describe(tables []Table) string {
	var b strings.Builder
	b.WriteString("Tables:\n")
	for _, t := range tables {
		fmt.Fprintf(&b, "- %s\n", t.Name)
		for _, c := range t.Columns {
			null := "not null"
			if c.Nullable {
				null = "nullable"
			}
			fmt.Fprintf(&b, "  - %s: %s (%s)\n", c.Name, c.Type, null)
		}
	}
	b.WriteString("\n")
	b.WriteString(JoinRules())
	return b.String()
}

// JoinRules renders JoinKeys and ForbiddenJoinColumns as numbered rules.
func JoinRules() string {
	var b strings.Builder
	b.WriteString("Join rules:\n")
	n := 1
	for _, k := range JoinKeys {
		fmt.Fprintf(&b, "%d. Join %s and %s only on %s (%s.%s = %s.%s).\n",
			n, k.Left, k.Right, k.Column, k.Left, k.Column, k.Right, k.Column)
		n++
	}
	fmt.Fprintf(&b, "%d. Never join on %s columns.\n", n, strings.Join(ForbiddenJoinColumns, " or "))
	n++
	fmt.Fprintf(&b, "%d. To filter by customer, use WHERE customers.email = '<user identifier>'.\n", n)
	n++
	fmt.Fprintf(&b, "%d. Queries over %s must be a single SELECT with no OR, subqueries or UNION.\n",
		n, strings.Join(ScopedTables, ", "))
	n++
	fmt.Fprintf(&b, "%d. If no such query is possible, return: %s\n", n, EmptyResultQuery)
	return b.String()
}

// LoadDescription returns the contents of a prepared schema file when path is
// set, and otherwise describes the live database.
func LoadDescription(ctx context.Context, db *gorm.DB, path string, tables ...string) (string, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read schema file: %w", err)
		}
		return string(raw), nil
	}
	info, err := Inspect(ctx, db, tables...)
	if err != nil {
		return "", err
	}
	return Describe(info), nil
}
