package host

import (
	"context"
	"encoding/json"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/bridge"
	"go.lakehouse.dev/core/stores"
	"go.lakehouse.dev/core/stores/fs"
)

// TablespaceInfo is a row of the tablespace catalog view.
type TablespaceInfo struct {
	ID          uint32
	Name        string
	Location    string
	Options     []string
	Distributed bool
	// StoreURL of a distributed tablespace.
	StoreURL string
}

// RelationInfo is a row of the relation catalog view.
type RelationInfo struct {
	ID           am.RelID
	Name         string
	AccessMethod string
	Tablespace   uint32
	Location     string
	Columns      []string
	Options      []string
}

// Tablespaces returns committed tablespaces, ordered on ID.
func (h *Host) Tablespaces(ctx context.Context) ([]TablespaceInfo, error) {
	var rows, err = h.db.QueryContext(ctx,
		`SELECT spcid, name, location, options FROM host_tablespaces ORDER BY spcid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TablespaceInfo
	for rows.Next() {
		var ts TablespaceInfo
		var opts string
		if err = rows.Scan(&ts.ID, &ts.Name, &ts.Location, &opts); err != nil {
			return nil, err
		} else if err = json.Unmarshal([]byte(opts), &ts.Options); err != nil {
			return nil, errors.WithMessagef(err, "decoding options of tablespace %d", ts.ID)
		}
		out = append(out, ts)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		var parsed, err = h.tablespaceOptions(ctx, h.db, out[i].ID)
		if err != nil {
			return nil, err
		}
		if out[i].Distributed = parsed.Distributed(); out[i].Distributed {
			out[i].StoreURL, _ = parsed.StoreURL(out[i].Location)
		}
	}
	return out, nil
}

// Relations returns committed relations, ordered on ID.
func (h *Host) Relations(ctx context.Context) ([]RelationInfo, error) {
	var rows, err = h.db.QueryContext(ctx,
		`SELECT `+relationColumns+` FROM host_relations ORDER BY relid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RelationInfo
	for rows.Next() {
		var r, err = scanRelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, RelationInfo{
			ID:           r.ID,
			Name:         r.Name,
			AccessMethod: r.AccessMethod,
			Tablespace:   r.Tablespace,
			Columns:      r.Columns,
			Options:      r.Options,
		})
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		var opts, err = h.tablespaceOptions(ctx, h.db, out[i].Tablespace)
		if err != nil {
			return nil, err
		}
		out[i].Location = h.cfg.Layout.Location(out[i].Tablespace, h.cfg.Database, uint32(out[i].ID), opts.Distributed())
	}
	return out, nil
}

// RelationPath returns the path of relation |name|: an absolute path under
// the data directory, or a URL within the store of its tablespace.
func (s *Session) RelationPath(ctx context.Context, name string) (out string, err error) {
	err = s.statement(ctx, func() error {
		var rel, err = s.relationNamed(ctx, name)
		if err != nil {
			return err
		}
		if as, ok := rel.Store.(*stores.ActiveStore); ok && as.Provider() != "fs" {
			out = strings.TrimSuffix(as.Label, "/") + "/" + rel.Location
		} else {
			out = path.Join(s.host.cfg.DataDir, rel.Location)
		}
		return nil
	})
	return out, err
}

// RelationExists returns whether the storage of relation |name| exists.
func (s *Session) RelationExists(ctx context.Context, name string) (bool, error) {
	var ref, ok, err = s.RelationStorage(ctx, name)
	if err != nil {
		return false, err
	} else if !ok {
		return false, hostError(CodeUndefinedTable, "relation %q does not exist", name)
	}
	return ref.Exists(ctx)
}

// StorageRef locates the resources of a relation within its store.
// It remains valid after the relation is dropped.
type StorageRef struct {
	Store    stores.Store
	Location string
}

// Exists returns whether any resource exists under the StorageRef.
func (r StorageRef) Exists(ctx context.Context) (bool, error) {
	var exists, err = stores.PrefixExists(ctx, r.Store, r.Location)
	if err != nil {
		return false, hostError(bridge.CodeIOError, "could not check storage of %q: %s", r.Location, err)
	}
	return exists, nil
}

// RelationStorage returns the StorageRef of relation |name|. If the
// relation doesn't exist, RelationStorage returns !ok and no error.
func (s *Session) RelationStorage(ctx context.Context, name string) (out StorageRef, ok bool, err error) {
	err = s.statement(ctx, func() error {
		var rel, err = s.relationNamed(ctx, name)
		if Code(err) == CodeUndefinedTable {
			return nil
		} else if err != nil {
			return err
		}
		out, ok = StorageRef{Store: rel.Store, Location: rel.Location}, true
		return nil
	})
	return out, ok, err
}

// Stat returns the FileInfo of local |path|. If |missingOK| and |path|
// doesn't exist, Stat returns nil and no error.
func (h *Host) Stat(path string, missingOK bool) (os.FileInfo, error) {
	var fi, err = fs.FileSystem.Stat(path)
	if os.IsNotExist(err) && missingOK {
		return nil, nil
	} else if err != nil {
		return nil, hostError(bridge.CodeIOError, "could not stat file %q: %s", path, err)
	}
	return fi, nil
}

func (s *Session) relationNamed(ctx context.Context, name string) (*am.Relation, error) {
	var r, err = s.relationByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.host.relation(ctx, s.tx, r)
}
