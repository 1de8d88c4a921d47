//go:build integration

package store

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/msklv/inn-smsp-registry/internal/registry"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("registry"),
		tcpostgres.WithUsername("registry"),
		tcpostgres.WithPassword("registry"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		panic("failed to start postgres container: " + err.Error())
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		panic("failed to get postgres connection string: " + err.Error())
	}

	testDB, err = sql.Open("postgres", dsn)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		panic(err)
	}

	code := m.Run()

	_ = testDB.Close()
	_ = testcontainers.TerminateContainer(container)
	os.Exit(code)
}

// newStore gives each test its own table.
func newStore(t *testing.T, table string) *Store {
	t.Helper()
	s, err := New(testDB, table, strings.ReplaceAll(table, ".", "_")+"_inn_idx")
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(context.Background()))
	t.Cleanup(func() {
		_, _ = testDB.Exec("DROP TABLE IF EXISTS " + s.Table())
	})
	return s
}

type row struct {
	Type, Region, Source string
	UpdatedAt            time.Time
}

func readRow(t *testing.T, s *Store, inn string) row {
	t.Helper()
	var r row
	err := testDB.QueryRow("SELECT inn_type, kodregion, source_file, updated_at FROM "+s.Table()+" WHERE inn = $1", inn).
		Scan(&r.Type, &r.Region, &r.Source, &r.UpdatedAt)
	require.NoError(t, err)
	return r
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	s := newStore(t, "schema_twice")
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestUpsertInsertsThenOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "upsert_converge")

	first := registry.Record{Identifier: "123456789012", Type: registry.Individual, Region: "77", SourceFile: "a.xml"}
	n, err := s.UpsertBatch(ctx, []registry.Record{first})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	before := readRow(t, s, first.Identifier)

	// same tuple again: still one row
	_, err = s.UpsertBatch(ctx, []registry.Record{first})
	require.NoError(t, err)

	second := registry.Record{Identifier: "123456789012", Type: registry.LegalEntity, Region: "50", SourceFile: "b.xml"}
	_, err = s.UpsertBatch(ctx, []registry.Record{second})
	require.NoError(t, err)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	after := readRow(t, s, first.Identifier)
	assert.Equal(t, "UL", after.Type)
	assert.Equal(t, "50", after.Region)
	assert.Equal(t, "b.xml", after.Source)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))
}

func TestUpsertDuplicatesInOneBatchLastWins(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "upsert_dupes")

	n, err := s.UpsertBatch(ctx, []registry.Record{
		{Identifier: "7707083893", Type: registry.LegalEntity, Region: "77", SourceFile: "a.xml"},
		{Identifier: "500100732259", Type: registry.Individual, Region: "50", SourceFile: "a.xml"},
		{Identifier: "7707083893", Type: registry.LegalEntity, Region: "78", SourceFile: "b.xml"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	assert.Equal(t, "78", readRow(t, s, "7707083893").Region)
}

func TestUpsertRollsBackWholeBatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "upsert_rollback")

	_, err := s.UpsertBatch(ctx, []registry.Record{
		{Identifier: "111111111111", Type: registry.Individual, Region: "01", SourceFile: "a.xml"},
		{Identifier: "222222222222", Type: registry.Individual, Region: "", SourceFile: "a.xml"}, // violates CHECK
	})
	require.Error(t, err)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "lookup")

	_, err := s.UpsertBatch(ctx, []registry.Record{
		{Identifier: "123456789012", Type: registry.Individual, Region: "77", SourceFile: "a.xml"},
		{Identifier: "000000000001", Type: registry.Individual, Region: "01", SourceFile: "a.xml"},
	})
	require.NoError(t, err)

	got, err := s.Lookup(ctx, []string{"123456789012", "999999999999", "000000000001"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"123456789012": "77", "000000000001": "01"}, got)

	empty, err := s.Lookup(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCreateIndexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "with_index")

	require.NoError(t, s.CreateIndex(ctx))
	require.NoError(t, s.CreateIndex(ctx))

	var valid bool
	err := testDB.QueryRow(`SELECT i.indisvalid FROM pg_index i WHERE i.indexrelid = to_regclass('with_index_inn_idx')`).Scan(&valid)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestSchemaQualifiedTable(t *testing.T) {
	ctx := context.Background()
	_, err := testDB.Exec(`CREATE SCHEMA IF NOT EXISTS fns`)
	require.NoError(t, err)

	s := newStore(t, "fns.qualified")
	_, err = s.UpsertBatch(ctx, []registry.Record{
		{Identifier: "7707083893", Type: registry.LegalEntity, Region: "77", SourceFile: "a.xml"},
	})
	require.NoError(t, err)
	require.NoError(t, s.CreateIndex(ctx))

	got, err := s.Lookup(ctx, []string{"7707083893"})
	require.NoError(t, err)
	assert.Equal(t, "77", got["7707083893"])
}
