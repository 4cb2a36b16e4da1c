package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
)

// FormatMetadata is the format metadata record of a relation managed by an
// open-table-format engine.
type FormatMetadata struct {
	RelID                    uint32
	MetadataLocation         string
	PreviousMetadataLocation string
	DefaultSpecID            int
}

// PutFormatMetadata inserts or replaces the FormatMetadata of its relation.
func (s *Store) PutFormatMetadata(ctx context.Context, q Querier, md FormatMetadata) error {
	var query = s.Dialect.Rebind(fmt.Sprintf(`
		INSERT INTO %s (relid, metadata_location, previous_metadata_location, default_spec_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (relid) DO UPDATE SET
			metadata_location = excluded.metadata_location,
			previous_metadata_location = excluded.previous_metadata_location,
			default_spec_id = excluded.default_spec_id`,
		s.Dialect.Table(IcebergMetadataTable)))

	if _, err := q.ExecContext(ctx, query, int64(md.RelID), nullString(md.MetadataLocation),
		nullString(md.PreviousMetadataLocation), md.DefaultSpecID); err != nil {
		return errors.WithMessagef(err, "writing format metadata of relation %d", md.RelID)
	}
	return nil
}

// GetFormatMetadata returns the FormatMetadata of |relid|, and whether a
// record exists.
func (s *Store) GetFormatMetadata(ctx context.Context, q Querier, relid uint32) (FormatMetadata, bool, error) {
	var query = s.Dialect.Rebind(fmt.Sprintf(`
		SELECT metadata_location, previous_metadata_location, default_spec_id
		FROM %s WHERE relid = ?`, s.Dialect.Table(IcebergMetadataTable)))

	var md = FormatMetadata{RelID: relid}
	var cur, prev sql.NullString

	var err = q.QueryRowContext(ctx, query, int64(relid)).Scan(&cur, &prev, &md.DefaultSpecID)
	if err == sql.ErrNoRows {
		return FormatMetadata{}, false, nil
	} else if err != nil {
		return FormatMetadata{}, false, errors.WithMessagef(err, "reading format metadata of relation %d", relid)
	}
	md.MetadataLocation, md.PreviousMetadataLocation = cur.String, prev.String
	return md, true, nil
}

// UpdateMetadataLocation moves the current metadata location of |relid| to
// its previous location, and sets |location| as current. It fails if the
// relation has no FormatMetadata record.
func (s *Store) UpdateMetadataLocation(ctx context.Context, q Querier, relid uint32, location string) error {
	var query = s.Dialect.Rebind(fmt.Sprintf(`
		UPDATE %s SET
			previous_metadata_location = metadata_location,
			metadata_location = ?
		WHERE relid = ?`, s.Dialect.Table(IcebergMetadataTable)))

	var res, err = q.ExecContext(ctx, query, location, int64(relid))
	if err != nil {
		return errors.WithMessagef(err, "updating metadata location of relation %d", relid)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("relation %d has no format metadata", relid)
	}
	return nil
}

// DeleteFormatMetadata removes the FormatMetadata of |relid|, if any.
func (s *Store) DeleteFormatMetadata(ctx context.Context, q Querier, relid uint32) error {
	var query = s.Dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE relid = ?`,
		s.Dialect.Table(IcebergMetadataTable)))

	if _, err := q.ExecContext(ctx, query, int64(relid)); err != nil {
		return errors.WithMessagef(err, "deleting format metadata of relation %d", relid)
	}
	return nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }
