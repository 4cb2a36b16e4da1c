package lakectlcmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.lakehouse.dev/core/host"
	"go.lakehouse.dev/core/iceberg"
	mbp "go.lakehouse.dev/core/mainboilerplate"
	"go.lakehouse.dev/core/stores"
	"go.lakehouse.dev/core/stores/fs"
	"go.lakehouse.dev/core/stores/providers"
	"go.lakehouse.dev/core/tablespace"
)

var engine = iceberg.New()

func TestParseScript(t *testing.T) {
	var script, err = ParseScript([]byte(`
session: demo
steps:
  - op: create_tablespace
    name: lake
    location: warehouse
    with: {protocol: s3, bucket: my-lake-bucket, autovacuum: null}
  - op: scan
    table: events
    expect: {rows: 2}
`))
	require.NoError(t, err)
	require.Equal(t, "demo", script.Session)
	require.Len(t, script.Steps, 2)
	require.Equal(t, []tablespace.RawOption{
		tablespace.Raw("protocol", "s3"),
		tablespace.Raw("bucket", "my-lake-bucket"),
		tablespace.Bare("autovacuum"),
	}, rawOptions(script.Steps[0].With))
	require.Equal(t, 2, *script.Steps[1].Expect.Rows)
	require.Nil(t, script.Steps[1].Expect.Exists)

	_, err = ParseScript([]byte("steps: [{op: truncate}]"))
	require.EqualError(t, err, `step 0: unknown op "truncate"`)

	_, err = ParseScript([]byte("steps: [{op: begin, colour: red}]"))
	require.Error(t, err)
}

func TestRunScriptSavepointsAndStorage(t *testing.T) {
	var h = newTestHost(t)
	var script, err = ParseScript([]byte(`
steps:
  - op: begin
  - op: create_table
    table: kept
    columns: [id, body]
    using: iceberg
  - op: savepoint
    name: a
  - op: create_table
    table: discarded
    columns: [id]
    using: iceberg
    expect: {exists: true}
  - op: insert
    table: kept
    rows: [["1", "one"], ["2", "two"]]
  - op: rollback_to
    name: a
  - op: exists
    table: discarded
    expect: {exists: false}
  - op: scan
    table: kept
    expect: {rows: 0}
  - op: insert
    table: kept
    rows: [["3", "three"]]
  - op: commit
  - op: scan
    table: kept
    expect: {rows: 1}
  - op: analyze
    table: kept
    limit: 10
    expect: {rows: 1}
  - op: drop_table
    table: kept
    expect: {exists: false}
`))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, RunScript(context.Background(), h, script, &out))
	require.Contains(t, out.String(), "CREATE TABLE kept (16384)")
	require.Contains(t, out.String(), "INSERT 1")
	require.Contains(t, out.String(), "ANALYZE kept sampled 1 rows")

	rels, err := h.Relations(context.Background())
	require.NoError(t, err)
	require.Empty(t, rels)
}

func TestRunScriptExpectedErrors(t *testing.T) {
	var h = newTestHost(t)
	var script, err = ParseScript([]byte(`
steps:
  - op: begin
  - op: create_tablespace
    name: lake
    location: warehouse
    expect: {error: "25001"}
  - op: drop_table
    table: missing
    expect: {error: "25P02"}
  - op: rollback
  - op: create_tablespace
    name: lake
    location: warehouse
    with: {protocol: s3, region: us-east-1}
    expect: {error: "22023"}
  - op: create_tablespace
    name: pg_lake
    location: warehouse
    expect: {error: "42939"}
`))
	require.NoError(t, err)
	require.NoError(t, RunScript(context.Background(), h, script, new(bytes.Buffer)))

	// An unmet expectation fails the script.
	script, err = ParseScript([]byte(`
steps:
  - op: drop_table
    table: missing
    if_exists: true
    expect: {error: "42P01"}
`))
	require.NoError(t, err)
	require.EqualError(t, RunScript(context.Background(), h, script, new(bytes.Buffer)),
		"step 0 (drop_table): expected error 42P01, but step succeeded")

	// As does a failed step without an expectation.
	script, err = ParseScript([]byte(`
steps:
  - op: scan
    table: missing
`))
	require.NoError(t, err)
	require.EqualError(t, RunScript(context.Background(), h, script, new(bytes.Buffer)),
		`step 0 (scan): pq: relation "missing" does not exist`)
}

func TestRunScriptDistributedTablespace(t *testing.T) {
	var h = newTestHost(t)
	var script, err = ParseScript([]byte(`
steps:
  - op: create_tablespace
    name: lake
    location: warehouse
    with: {protocol: s3, bucket: my-lake-bucket, region: us-east-1}
  - op: create_table
    table: events
    columns: [id]
    using: iceberg
    tablespace: lake
    with: {compression: snappy}
    expect: {exists: true}
  - op: insert
    table: events
    rows: [["1"], ["2"], ["3"]]
  - op: scan
    table: events
    expect: {rows: 3}
  - op: drop_tablespace
    name: lake
    expect: {error: "55000"}
  - op: drop_table
    table: events
    expect: {exists: false}
  - op: drop_tablespace
    name: lake
`))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, RunScript(context.Background(), h, script, &out))
	require.Contains(t, out.String(),
		"CREATE TABLESPACE lake WITH (protocol=s3, bucket=my-lake-bucket, region=us-east-1)")

	spcs, err := h.Tablespaces(context.Background())
	require.NoError(t, err)
	require.Len(t, spcs, 2)
}

func newTestHost(t *testing.T) *host.Host {
	var prevFS, prevProviders = fs.FileSystem, stores.GetProviders()
	t.Cleanup(func() {
		fs.FileSystem = prevFS
		stores.RegisterProviders(prevProviders)
	})
	fs.FileSystem = afero.NewMemMapFs()
	require.NoError(t, fs.FileSystem.MkdirAll("/pgdata", 0750))

	providers.Register()
	stores.RegisterProviders(map[string]stores.Constructor{"s3": stores.NewMemoryConstructor()})

	var _, err = iceberg.Register(engine)
	require.NoError(t, err)

	h, db, err := mbp.OpenHost(context.Background(),
		mbp.CatalogConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "lake.db")},
		mbp.HostConfig{DataDir: "/pgdata", MajorVersion: 16, CatalogVersion: 202307071})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return h
}
