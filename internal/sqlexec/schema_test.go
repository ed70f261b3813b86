package sqlexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectAndDescribe(t *testing.T) {
	db := newTestDB(t)

	tables, err := Inspect(context.Background(), db, "customers")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "customers", tables[0].Name)

	names := make([]string, 0, len(tables[0].Columns))
	for _, c := range tables[0].Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"customer_id", "name", "email", "phone"}, names)

	desc := Describe(tables)
	assert.Contains(t, desc, "- customers\n")
	assert.Contains(t, desc, "  - customer_id: integer")
	assert.Contains(t, desc, "Join customers and orders only on customer_id (customers.customer_id = orders.customer_id).")
	assert.Contains(t, desc, "Never join on email or name columns.")
	assert.Contains(t, desc, "Queries over customers, orders, order_items must be a single SELECT")
	assert.Contains(t, desc, EmptyResultQuery)
}

func TestLoadDescriptionPrefersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.txt")
	require.NoError(t, os.WriteFile(path, []byte("Tables:\n- customers\n"), 0o600))

	desc, err := LoadDescription(context.Background(), nil, path)
	require.NoError(t, err)
	assert.Equal(t, "Tables:\n- customers\n", desc)

	_, err = LoadDescription(context.Background(), nil, filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestLoadDescriptionFromDatabase(t *testing.T) {
	desc, err := LoadDescription(context.Background(), newTestDB(t), "")
	require.NoError(t, err)
	assert.Contains(t, desc, "- customers\n")
}
