//go:build integration

package migrations

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrator_upDownUp(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	m, err := New(dbURL)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Up())
	v, dirty, err := m.Version()
	require.NoError(t, err)
	require.False(t, dirty)
	require.EqualValues(t, 2, v)

	require.NoError(t, m.Down())
	v, _, err = m.Version()
	require.NoError(t, err)
	require.EqualValues(t, 0, v)

	require.NoError(t, m.Up())
}
