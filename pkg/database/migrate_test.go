package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNamesEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_schema.sql", names[0])
}

func TestPending(t *testing.T) {
	all := []string{"001_schema.sql", "002_index.sql", "003_ledger.sql"}
	assert.Equal(t, all, pending(all, nil))
	assert.Equal(t, []string{"002_index.sql"}, pending(all, []string{"003_ledger.sql", "001_schema.sql"}))
	assert.Empty(t, pending(all, all))
}
