// Package iceberg is a reference access method which stores a relation as
// an open table format: immutable, optionally compressed data files of
// newline-delimited JSON rows, and versioned metadata files listing them.
// The catalog tracks each relation's current metadata file, so that a
// commit of new data is atomic with the host transaction.
package iceberg

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/catalog"
	"go.lakehouse.dev/core/codecs"
	"go.lakehouse.dev/core/tablespace"
	"go.lakehouse.dev/core/tamerr"
	"golang.org/x/sync/errgroup"
)

// Name of the access method.
const Name = "iceberg"

// DefaultFormatVersion is used when the format_version table option is unset.
const DefaultFormatVersion = 2

// Engine implements am.Engine and its scan, point lookup, insert, bulk
// insert and analyze operations.
type Engine struct {
	// Now returns the commit time of new snapshots. Defaults to time.Now.
	Now func() time.Time
}

// New returns a new Engine.
func New() *Engine { return &Engine{Now: time.Now} }

// Register the Engine under Name.
func Register(e *Engine) (*am.Handle, error) { return am.Register(Name, e) }

func (e *Engine) Name() string { return Name }

func (e *Engine) Capabilities() am.Capabilities {
	return am.Caps(am.OpScan, am.OpPointLookup, am.OpInsert, am.OpBulkInsert, am.OpAnalyze)
}

func (e *Engine) TableOptionDefs() []tablespace.Def { return tablespace.TableDefs }

// CreateStorage registers creation of the relation's location, and writes
// its initial metadata file and catalog record.
func (e *Engine) CreateStorage(ctx context.Context, rel *am.Relation) error {
	var formatVersion, err = formatVersionOf(rel)
	if err != nil {
		return err
	}
	if err = rel.Lifecycle.RegisterCreate(ctx, rel); err != nil {
		return err
	}

	var md = newMetadata(rel, formatVersion, e.Now())
	rp, err := writeMetadata(ctx, rel, &md)
	if err != nil {
		return &tamerr.ResourceIOError{Op: "create", Relation: rel.String(), Location: rel.Location, Err: err}
	}
	if err = rel.Catalog.PutFormatMetadata(ctx, rel.Tx, catalog.FormatMetadata{
		RelID:            uint32(rel.ID),
		MetadataLocation: rp,
	}); err != nil {
		return errors.WithMessage(err, "recording format metadata")
	}

	log.WithFields(log.Fields{
		"rel":           rel.ID,
		"location":      rel.Location,
		"formatVersion": formatVersion,
		"tableUUID":     md.TableUUID,
	}).Info("created table")

	return nil
}

// DropStorage registers deletion of the relation's location, and removes
// its catalog record. Files are removed only if the transaction commits.
func (e *Engine) DropStorage(ctx context.Context, rel *am.Relation) error {
	if err := rel.Lifecycle.RegisterDelete(ctx, rel); err != nil {
		return err
	}
	return errors.WithMessage(
		rel.Catalog.DeleteFormatMetadata(ctx, rel.Tx, uint32(rel.ID)),
		"removing format metadata")
}

func (e *Engine) Insert(ctx context.Context, rel *am.Relation, values []string) (am.TID, error) {
	var tids, err = e.BulkInsert(ctx, rel, [][]string{values})
	if err != nil {
		return 0, err
	}
	return tids[0], nil
}

// BulkInsert writes |rows| as a single new data file, and commits a new
// metadata version which references it.
func (e *Engine) BulkInsert(ctx context.Context, rel *am.Relation, rows [][]string) ([]am.TID, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	for _, row := range rows {
		if len(rel.Columns) != 0 && len(row) != len(rel.Columns) {
			return nil, tamerr.NewValidationError("",
				"relation %s has %d columns, but row has %d values", rel, len(rel.Columns), len(row))
		}
	}
	var md, err = load(ctx, rel)
	if err != nil {
		return nil, err
	}
	var codec = codecs.None
	if v, ok := rel.Option(tablespace.OptCompression); ok {
		codec = codecs.Codec(v)
	}

	df, err := writeDataFile(ctx, rel, codec, rows)
	if err != nil {
		return nil, err
	}
	var next = md.appendFile(df, e.Now())

	rp, err := writeMetadata(ctx, rel, &next)
	if err != nil {
		return nil, err
	}
	if err = rel.Catalog.UpdateMetadataLocation(ctx, rel.Tx, uint32(rel.ID), rp); err != nil {
		return nil, errors.WithMessage(err, "updating metadata location")
	}

	var file = uint32(len(next.DataFiles()))
	var tids = make([]am.TID, len(rows))
	for i := range rows {
		tids[i] = am.MakeTID(file, uint32(i))
	}

	log.WithFields(log.Fields{
		"rel":      rel.ID,
		"dataFile": df.Path,
		"rows":     len(rows),
		"metadata": rp,
	}).Debug("appended data file")

	return tids, nil
}

func (e *Engine) BeginScan(ctx context.Context, rel *am.Relation) (am.Scan, error) {
	var md, err = load(ctx, rel)
	if err != nil {
		return nil, err
	}
	return &scan{rel: rel, files: md.DataFiles()}, nil
}

func (e *Engine) Fetch(ctx context.Context, rel *am.Relation, tid am.TID) (am.Tuple, bool, error) {
	var md, err = load(ctx, rel)
	if err != nil {
		return am.Tuple{}, false, err
	}
	var files = md.DataFiles()
	if tid.File() == 0 || int(tid.File()) > len(files) {
		return am.Tuple{}, false, nil
	}
	rows, err := readDataFile(ctx, rel, files[tid.File()-1])
	if err != nil {
		return am.Tuple{}, false, err
	} else if int(tid.Row()) >= len(rows) {
		return am.Tuple{}, false, nil
	}
	return am.Tuple{TID: tid, Values: rows[tid.Row()]}, true, nil
}

// Sample returns up to |n| tuples chosen uniformly by reservoir sampling.
// Data files are read in parallel, bounded by the relation's IOConcurrency.
// Sampling is seeded by the relation ID, and is stable for unchanged tables.
func (e *Engine) Sample(ctx context.Context, rel *am.Relation, n int) ([]am.Tuple, error) {
	var md, err = load(ctx, rel)
	if err != nil {
		return nil, err
	}
	var files = md.DataFiles()
	var contents = make([][][]string, len(files))

	var group, groupCtx = errgroup.WithContext(ctx)
	if rel.IOConcurrency > 0 {
		group.SetLimit(rel.IOConcurrency)
	}
	for i := range files {
		i := i
		group.Go(func() (err error) {
			contents[i], err = readDataFile(groupCtx, rel, files[i])
			return err
		})
	}
	if err = group.Wait(); err != nil {
		return nil, err
	}

	var rnd = rand.New(rand.NewSource(int64(rel.ID)))
	var out []am.Tuple
	var seen int

	for f, rows := range contents {
		for r, row := range rows {
			var t = am.Tuple{TID: am.MakeTID(uint32(f+1), uint32(r)), Values: row}

			if seen++; len(out) < n {
				out = append(out, t)
			} else if j := rnd.Intn(seen); j < n {
				out[j] = t
			}
		}
	}
	return out, nil
}

// MetadataOf returns the current Metadata of |rel|.
func MetadataOf(ctx context.Context, rel *am.Relation) (*Metadata, error) { return load(ctx, rel) }

func load(ctx context.Context, rel *am.Relation) (*Metadata, error) {
	var fm, ok, err = rel.Catalog.GetFormatMetadata(ctx, rel.Tx, uint32(rel.ID))
	if err != nil {
		return nil, errors.WithMessage(err, "reading format metadata")
	} else if !ok {
		return nil, tamerr.NewInconsistentState(rel.String(), "relation has no format metadata")
	}
	return readMetadata(ctx, rel, fm.MetadataLocation)
}

func formatVersionOf(rel *am.Relation) (int, error) {
	var v, ok = rel.Option(tablespace.OptFormatVersion)
	if !ok {
		return DefaultFormatVersion, nil
	}
	var n, err = strconv.Atoi(v)
	if err != nil {
		return 0, tamerr.NewValidationError(tablespace.OptFormatVersion, "invalid format_version %q", v)
	}
	return n, nil
}

func writeDataFile(ctx context.Context, rel *am.Relation, codec codecs.Codec, rows [][]string) (DataFile, error) {
	var buf bytes.Buffer
	var cw, err = codecs.NewCodecWriter(&buf, codec)
	if err != nil {
		return DataFile{}, tamerr.NewValidationError(tablespace.OptCompression, "%s", err)
	}
	var enc = json.NewEncoder(cw)
	for _, row := range rows {
		if err = enc.Encode(row); err != nil {
			return DataFile{}, errors.WithMessage(err, "encoding row")
		}
	}
	if err = cw.Close(); err != nil {
		return DataFile{}, errors.WithMessage(err, "closing compressor")
	}

	var df = DataFile{
		Path:        "data/" + uuid.New().String() + ".jsonl" + codec.Extension(),
		Codec:       codec,
		RecordCount: len(rows),
	}
	if err = rel.Store.Put(ctx, path.Join(rel.Location, df.Path),
		bytes.NewReader(buf.Bytes()), int64(buf.Len()), codec.ContentEncoding()); err != nil {
		return DataFile{}, errors.WithMessagef(err, "writing %s", df.Path)
	}
	return df, nil
}

func readDataFile(ctx context.Context, rel *am.Relation, df DataFile) ([][]string, error) {
	var rc, err = rel.Store.Get(ctx, path.Join(rel.Location, df.Path))
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %s", df.Path)
	}
	defer rc.Close()

	dr, err := codecs.NewCodecReader(rc, df.Codec)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %s", df.Path)
	}
	defer dr.Close()

	var out = make([][]string, 0, df.RecordCount)
	var dec = json.NewDecoder(dr)
	for {
		var row []string
		if err = dec.Decode(&row); err == io.EOF {
			return out, nil
		} else if err != nil {
			return nil, errors.WithMessagef(err, "decoding %s", df.Path)
		}
		out = append(out, row)
	}
}
