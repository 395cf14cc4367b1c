package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesTables(t *testing.T) {
	db := NewTestDB(t)

	for _, table := range []string{"encounters", "analyses", "settings"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := NewTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, db.Migrate(context.Background()))
}

func TestAnalyses_UniqueEncounter(t *testing.T) {
	db := NewTestDB(t)
	now := time.Now().UTC()

	_, err := db.Exec(`INSERT INTO encounters (id, created_at, updated_at) VALUES ('e1', ?, ?)`, now, now)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO analyses (id, encounter_id, created_at, updated_at) VALUES ('a1', 'e1', ?, ?)`, now, now)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO analyses (id, encounter_id, created_at, updated_at) VALUES ('a2', 'e1', ?, ?)`, now, now)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestAnalyses_ForeignKey(t *testing.T) {
	db := NewTestDB(t)
	now := time.Now().UTC()

	_, err := db.Exec(`INSERT INTO analyses (id, encounter_id, created_at, updated_at) VALUES ('a1', 'missing', ?, ?)`, now, now)
	require.Error(t, err)
	assert.True(t, IsForeignKeyViolation(err))
}

func TestConstraintHelpers_Nil(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsForeignKeyViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("disk I/O error")))
}
