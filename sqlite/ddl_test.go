package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-daraja/core/schema"
)

func TestCreateTableSQL(t *testing.T) {
	backend := New(nil, nil, nil)

	stmt, err := backend.createTableSQL(ticketObject())
	require.NoError(t, err)

	// Stored fields in sorted order, computed fields skipped, enum values
	// constrained, primary key declared.
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "ticket" (
    "archived" INTEGER DEFAULT 0,
    "assignee" TEXT,
    "hours" REAL,
    "id" TEXT NOT NULL,
    "labels" TEXT,
    "ref" TEXT UNIQUE,
    "state" TEXT DEFAULT 'new' CHECK("state" IN ('new', 'open', 'closed')),
    "subject" TEXT NOT NULL,
    PRIMARY KEY ("id")
);`, stmt)
}

func TestCreateTableSQLRefusesVirtualOnlyObjects(t *testing.T) {
	obj := &schema.Object{
		Name:       "ghost",
		Version:    "1.0.0",
		PrimaryKey: "id",
		Fields: map[string]*schema.FieldDefinition{
			"shadow": {Name: "shadow", Type: schema.FieldTypeString, Computed: &schema.ComputedField{
				Expression: "1", DependsOn: nil,
			}},
		},
	}
	_, err := New(nil, nil, nil).createTableSQL(obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stored fields")
}

func TestCreateIndexSQL(t *testing.T) {
	backend := New(nil, nil, nil)
	obj := ticketObject()

	t.Run("normal index", func(t *testing.T) {
		stmt, err := backend.createIndexSQL(obj, obj.Indexes[0])
		require.NoError(t, err)
		assert.Equal(t, `CREATE INDEX IF NOT EXISTS "ticket_state_idx" ON "ticket" ("state");`, stmt)
	})

	t.Run("unique index", func(t *testing.T) {
		stmt, err := backend.createIndexSQL(obj, obj.Indexes[1])
		require.NoError(t, err)
		assert.Equal(t, `CREATE UNIQUE INDEX IF NOT EXISTS "ticket_ref_uniq" ON "ticket" ("ref");`, stmt)
	})

	t.Run("full text indexes are skipped", func(t *testing.T) {
		stmt, err := backend.createIndexSQL(obj, obj.Indexes[2])
		require.NoError(t, err)
		assert.Empty(t, stmt)
	})

	t.Run("primary indexes are skipped", func(t *testing.T) {
		stmt, err := backend.createIndexSQL(obj, schema.IndexDefinition{
			Name: "ticket_pk", Fields: []string{"id"}, Type: schema.IndexTypePrimary,
		})
		require.NoError(t, err)
		assert.Empty(t, stmt)
	})

	t.Run("unnamed indexes derive a name", func(t *testing.T) {
		stmt, err := backend.createIndexSQL(obj, schema.IndexDefinition{
			Fields: []string{"assignee", "state"}, Type: schema.IndexTypeNormal,
		})
		require.NoError(t, err)
		assert.Equal(t,
			`CREATE INDEX IF NOT EXISTS "idx_ticket_assignee_state" ON "ticket" ("assignee", "state");`,
			stmt)
	})

	t.Run("unknown fields are refused", func(t *testing.T) {
		_, err := backend.createIndexSQL(obj, schema.IndexDefinition{
			Name: "bad", Fields: []string{"severity"}, Type: schema.IndexTypeNormal,
		})
		require.Error(t, err)
	})
}
