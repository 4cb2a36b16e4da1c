package host

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.lakehouse.dev/core/bridge"
	"go.lakehouse.dev/core/stores/fs"
	"go.lakehouse.dev/core/tablespace"
)

func TestTopLevelCreateAndDrop(t *testing.T) {
	var f = newFixture(t)
	var s = f.session()

	var _, err = s.CreateTable(f.ctx, f.table("t"))
	require.NoError(t, err)
	var path = f.relationPath(s, "t")
	require.Equal(t, "/pgdata/base/5/16384", path)
	require.True(t, f.statExists(path))

	require.NoError(t, s.DropTable(f.ctx, "t", false))
	require.False(t, f.statExists(path))
}

func TestSubtransactionCreateRolledBack(t *testing.T) {
	var f = newFixture(t)
	var s = f.session()

	require.NoError(t, s.Begin(f.ctx))
	require.NoError(t, s.Savepoint(f.ctx, "sp"))
	var _, err = s.CreateTable(f.ctx, f.table("t"))
	require.NoError(t, err)

	var path = f.relationPath(s, "t")
	require.True(t, f.statExists(path))

	require.NoError(t, s.RollbackTo(f.ctx, "sp"))
	require.NoError(t, s.Commit(f.ctx))
	require.False(t, f.statExists(path))
}

func TestSubtransactionDropRolledBack(t *testing.T) {
	var f = newFixture(t)
	var s = f.session()

	var _, err = s.CreateTable(f.ctx, f.table("t"))
	require.NoError(t, err)
	var path = f.relationPath(s, "t")

	require.NoError(t, s.Begin(f.ctx))
	require.NoError(t, s.Savepoint(f.ctx, "sp"))
	require.NoError(t, s.DropTable(f.ctx, "t", false))
	require.True(t, f.statExists(path)) // Deferred until commit.

	require.NoError(t, s.RollbackTo(f.ctx, "sp"))
	require.NoError(t, s.Commit(f.ctx))
	require.True(t, f.statExists(path))

	// The table is intact.
	_, err = s.Insert(f.ctx, "t", []string{"1", "one"})
	require.NoError(t, err)
}

func TestSubtransactionDropReleased(t *testing.T) {
	var f = newFixture(t)
	var s = f.session()

	var _, err = s.CreateTable(f.ctx, f.table("t"))
	require.NoError(t, err)
	var path = f.relationPath(s, "t")

	require.NoError(t, s.Begin(f.ctx))
	require.NoError(t, s.Savepoint(f.ctx, "sp"))
	require.NoError(t, s.DropTable(f.ctx, "t", false))
	require.NoError(t, s.Release(f.ctx, "sp"))
	require.True(t, f.statExists(path))

	require.NoError(t, s.Commit(f.ctx))
	require.False(t, f.statExists(path))
}

func TestReleaseOfDropOverCreateDefersRemoval(t *testing.T) {
	var f = newFixture(t)
	var s = f.session()

	require.NoError(t, s.Begin(f.ctx))
	var _, err = s.CreateTable(f.ctx, f.table("t"))
	require.NoError(t, err)
	_, err = s.Insert(f.ctx, "t", []string{"1", "one"})
	require.NoError(t, err)
	var path = f.relationPath(s, "t")

	require.NoError(t, s.Savepoint(f.ctx, "a"))
	require.NoError(t, s.Savepoint(f.ctx, "b"))
	require.NoError(t, s.DropTable(f.ctx, "t", false))

	// Releasing touches no storage, so it succeeds on a read-only file system.
	var rw = fs.FileSystem
	fs.FileSystem = afero.NewReadOnlyFs(rw)
	require.NoError(t, s.Release(f.ctx, "b"))
	require.True(t, f.statExists(path))

	// Rolling back the enclosing savepoint resurrects the table intact.
	require.NoError(t, s.RollbackTo(f.ctx, "a"))
	require.Equal(t, [][]string{{"1", "one"}}, f.scan(s, "t"))
	fs.FileSystem = rw

	require.NoError(t, s.DropTable(f.ctx, "t", false))
	require.NoError(t, s.Release(f.ctx, "a"))
	require.True(t, f.statExists(path))
	require.NoError(t, s.Commit(f.ctx))
	require.False(t, f.statExists(path))
	require.Empty(t, s.Lifecycle().Orphans())
}

func TestCreateTablespaceValidatesAndEchoesOptions(t *testing.T) {
	var f = newFixture(t)
	var s = f.session()

	var opts, err = s.CreateTablespace(f.ctx, "t", "p", []tablespace.RawOption{
		tablespace.Raw("protocol", "s3"),
		tablespace.Raw("bucket", "my-lake-bucket"),
		tablespace.Raw("region", "us-east-1"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"protocol=s3", "bucket=my-lake-bucket", "region=us-east-1"}, opts.Strings())

	_, err = s.CreateTablespace(f.ctx, "t2", "p", []tablespace.RawOption{
		tablespace.Raw("protocol", "s3"),
		tablespace.Raw("region", "us-east-1"),
	})
	require.Equal(t, bridge.CodeInvalidParameter, Code(err))
	require.EqualError(t, err, `pq: protocol "s3" requires option "bucket"`)
}

func (f *fixture) relationPath(s *Session, name string) string {
	var path, err = s.RelationPath(f.ctx, name)
	require.NoError(f.t, err)
	return path
}

func (f *fixture) statExists(path string) bool {
	var fi, err = f.host.Stat(path, true)
	require.NoError(f.t, err)
	return fi != nil
}
