package iceberg

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/catalog"
	"go.lakehouse.dev/core/codecs"
	"go.lakehouse.dev/core/lifecycle"
	"go.lakehouse.dev/core/stores"
	"go.lakehouse.dev/core/tamerr"
	"go.lakehouse.dev/core/xact"
)

func TestCreateWritesInitialMetadata(t *testing.T) {
	var f = newFixture(t)
	var rel = f.rel(16384, "compression=zstd", "format_version=1")

	require.NoError(t, f.engine.CreateStorage(f.ctx, rel))
	require.Equal(t, lifecycle.PendingCreate, f.lc.State(16384))

	var fm, ok, err = f.catalog.GetFormatMetadata(f.ctx, f.tx, 16384)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "metadata/v1.metadata.json", fm.MetadataLocation)

	md, err := MetadataOf(f.ctx, rel)
	require.NoError(t, err)
	require.Equal(t, 1, md.FormatVersion)
	require.Equal(t, "base/5/16384", md.Location)
	require.Equal(t, []string{"id", "name"}, md.Columns)
	require.Equal(t, map[string]string{"compression": "zstd", "format_version": "1"}, md.Properties)
	require.Empty(t, md.DataFiles())

	require.Equal(t, []string{
		"base/5/16384/" + stores.PrefixMarker,
		"base/5/16384/metadata/v1.metadata.json",
	}, f.keys())
}

func TestInsertScanAndFetchAcrossCodecs(t *testing.T) {
	for _, codec := range codecs.Codecs {
		t.Run(string(codec), func(t *testing.T) {
			var f = newFixture(t)
			var rel = f.rel(16384, "compression="+string(codec))
			require.NoError(t, f.engine.CreateStorage(f.ctx, rel))

			var tid, err = f.engine.Insert(f.ctx, rel, []string{"1", "one"})
			require.NoError(t, err)
			require.Equal(t, am.MakeTID(1, 0), tid)

			tids, err := f.engine.BulkInsert(f.ctx, rel, [][]string{{"2", "two"}, {"3", "three"}})
			require.NoError(t, err)
			require.Equal(t, []am.TID{am.MakeTID(2, 0), am.MakeTID(2, 1)}, tids)

			md, err := MetadataOf(f.ctx, rel)
			require.NoError(t, err)
			require.Equal(t, 3, md.Sequence)
			require.Len(t, md.Snapshots, 2)
			require.Len(t, md.DataFiles(), 2)
			for _, df := range md.DataFiles() {
				require.Equal(t, codec, df.Codec)
				require.True(t, strings.HasSuffix(df.Path, ".jsonl"+codec.Extension()))
			}

			require.Equal(t, [][]string{{"1", "one"}, {"2", "two"}, {"3", "three"}}, f.scanAll(rel))

			tuple, ok, err := f.engine.Fetch(f.ctx, rel, am.MakeTID(2, 1))
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []string{"3", "three"}, tuple.Values)

			for _, missing := range []am.TID{am.MakeTID(0, 0), am.MakeTID(3, 0), am.MakeTID(2, 2)} {
				_, ok, err = f.engine.Fetch(f.ctx, rel, missing)
				require.NoError(t, err)
				require.False(t, ok)
			}
		})
	}
}

func TestInsertValidatesRowWidth(t *testing.T) {
	var f = newFixture(t)
	var rel = f.rel(16384)
	require.NoError(t, f.engine.CreateStorage(f.ctx, rel))

	var _, err = f.engine.Insert(f.ctx, rel, []string{"1"})
	require.True(t, tamerr.IsValidation(err))
	require.EqualError(t, err, `relation "t16384" (16384) has 2 columns, but row has 1 values`)

	tids, err := f.engine.BulkInsert(f.ctx, rel, nil)
	require.NoError(t, err)
	require.Empty(t, tids)
}

func TestAbortedInsertIsInvisible(t *testing.T) {
	var f = newFixture(t)
	var rel = f.rel(16384)
	require.NoError(t, f.engine.CreateStorage(f.ctx, rel))
	var _, err = f.engine.Insert(f.ctx, rel, []string{"1", "one"})
	require.NoError(t, err)
	f.commit()

	// A second transaction inserts and rolls back.
	f.begin()
	rel = f.rel(16384)
	_, err = f.engine.Insert(f.ctx, rel, []string{"2", "two"})
	require.NoError(t, err)
	require.Len(t, f.scanAll(rel), 2)
	f.rollback()

	f.begin()
	rel = f.rel(16384)
	require.Equal(t, [][]string{{"1", "one"}}, f.scanAll(rel))
}

func TestSampleIsBoundedAndStable(t *testing.T) {
	var f = newFixture(t)
	var rel = f.rel(16384)
	rel.IOConcurrency = 2
	require.NoError(t, f.engine.CreateStorage(f.ctx, rel))

	for i := 0; i != 5; i++ {
		var _, err = f.engine.BulkInsert(f.ctx, rel, [][]string{{"a", "b"}, {"c", "d"}, {"e", "f"}})
		require.NoError(t, err)
	}
	var all, err = f.engine.Sample(f.ctx, rel, 100)
	require.NoError(t, err)
	require.Len(t, all, 15)

	s1, err := f.engine.Sample(f.ctx, rel, 4)
	require.NoError(t, err)
	s2, err := f.engine.Sample(f.ctx, rel, 4)
	require.NoError(t, err)
	require.Len(t, s1, 4)
	require.Equal(t, s1, s2)
}

func TestDropIsDeferredUntilCommit(t *testing.T) {
	var f = newFixture(t)
	var rel = f.rel(16384)
	require.NoError(t, f.engine.CreateStorage(f.ctx, rel))
	f.commit()

	f.begin()
	rel = f.rel(16384)
	require.NoError(t, f.engine.DropStorage(f.ctx, rel))
	require.Equal(t, lifecycle.PendingDelete, f.lc.State(16384))
	require.NotEmpty(t, f.keys())

	f.commit()
	require.Empty(t, f.keys())

	var _, ok, err = f.catalog.GetFormatMetadata(f.ctx, f.db, 16384)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateAndDropInOneTransactionLeavesNothing(t *testing.T) {
	var f = newFixture(t)
	var rel = f.rel(16384)
	require.NoError(t, f.engine.CreateStorage(f.ctx, rel))
	var _, err = f.engine.Insert(f.ctx, rel, []string{"1", "one"})
	require.NoError(t, err)

	require.NoError(t, f.engine.DropStorage(f.ctx, rel))
	require.Equal(t, lifecycle.Coalesced, f.lc.State(16384))
	require.Empty(t, f.keys())
	f.commit()
}

func TestScanOfRelationWithoutMetadata(t *testing.T) {
	var f = newFixture(t)
	var _, err = f.engine.BeginScan(f.ctx, f.rel(16390))
	require.True(t, tamerr.IsInconsistent(err))
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	db      *sql.DB
	tx      *sql.Tx
	cb      *xact.Callbacks
	lc      *lifecycle.Manager
	catalog *catalog.Store
	mem     *stores.MemoryStore
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	var db, err = sql.Open("sqlite3", filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var f = &fixture{
		t:       t,
		ctx:     context.Background(),
		db:      db,
		catalog: catalog.NewStore(catalog.SQLite),
		mem:     stores.NewMemoryStore(nil),
		engine: &Engine{Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		}},
	}
	require.NoError(t, f.catalog.Bootstrap(f.ctx, db))
	f.begin()
	return f
}

func (f *fixture) begin() {
	var err error
	f.tx, err = f.db.Begin()
	require.NoError(f.t, err)

	f.cb, f.lc = new(xact.Callbacks), lifecycle.NewManager()
	f.lc.Register(f.cb)
}

func (f *fixture) commit() {
	require.NoError(f.t, f.cb.FireXact(f.ctx, xact.PreCommit))
	require.NoError(f.t, f.tx.Commit())
	require.NoError(f.t, f.cb.FireXact(f.ctx, xact.Commit))
}

func (f *fixture) rollback() {
	require.NoError(f.t, f.tx.Rollback())
	require.NoError(f.t, f.cb.FireXact(f.ctx, xact.Abort))
}

func (f *fixture) rel(id am.RelID, options ...string) *am.Relation {
	return &am.Relation{
		ID:           id,
		Name:         fmt.Sprintf("t%d", id),
		AccessMethod: Name,
		Location:     fmt.Sprintf("base/5/%d", id),
		Columns:      []string{"id", "name"},
		Options:      options,
		Store:        f.mem,
		Tx:           f.tx,
		Catalog:      f.catalog,
		Lifecycle:    f.lc,
	}
}

func (f *fixture) scanAll(rel *am.Relation) [][]string {
	var s, err = f.engine.BeginScan(f.ctx, rel)
	require.NoError(f.t, err)
	defer s.Close()

	var out [][]string
	for {
		var t, ok, err = s.Next(f.ctx)
		require.NoError(f.t, err)
		if !ok {
			return out
		}
		out = append(out, t.Values)
	}
}

func (f *fixture) keys() []string {
	var out []string
	require.NoError(f.t, f.mem.List(f.ctx, "", func(path string, _ time.Time) error {
		out = append(out, path)
		return nil
	}))
	return out
}
