package iceberg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/codecs"
)

// Metadata is the table metadata file of a relation. Each commit writes a
// new Metadata file, and the catalog tracks which file is current.
type Metadata struct {
	FormatVersion     int               `json:"format-version"`
	TableUUID         string            `json:"table-uuid"`
	Location          string            `json:"location"`
	LastUpdatedMillis int64             `json:"last-updated-ms"`
	Columns           []string          `json:"columns"`
	Properties        map[string]string `json:"properties,omitempty"`
	CurrentSnapshotID int64             `json:"current-snapshot-id"`
	Snapshots         []Snapshot        `json:"snapshots,omitempty"`
	// Sequence of the metadata file, starting at 1.
	Sequence int `json:"sequence"`
}

// Snapshot is the table state as of a commit.
type Snapshot struct {
	SnapshotID      int64 `json:"snapshot-id"`
	SequenceNumber  int64 `json:"sequence-number"`
	TimestampMillis int64 `json:"timestamp-ms"`
	// DataFiles of the table, in order. A TID's File is a 1-based index into DataFiles.
	DataFiles []DataFile `json:"data-files"`
}

// DataFile is an immutable file of newline-delimited JSON rows.
type DataFile struct {
	Path        string       `json:"path"`
	Codec       codecs.Codec `json:"codec"`
	RecordCount int          `json:"record-count"`
}

// Current returns the current Snapshot, or nil if the table is empty.
func (m *Metadata) Current() *Snapshot {
	for i := range m.Snapshots {
		if m.Snapshots[i].SnapshotID == m.CurrentSnapshotID {
			return &m.Snapshots[i]
		}
	}
	return nil
}

// DataFiles of the current Snapshot.
func (m *Metadata) DataFiles() []DataFile {
	if s := m.Current(); s != nil {
		return s.DataFiles
	}
	return nil
}

// newMetadata returns the initial Metadata of |rel|.
func newMetadata(rel *am.Relation, formatVersion int, now time.Time) Metadata {
	var props = make(map[string]string)
	for _, o := range rel.Options {
		var name, value, _ = strings.Cut(o, "=")
		props[name] = value
	}
	return Metadata{
		FormatVersion:     formatVersion,
		TableUUID:         uuid.New().String(),
		Location:          rel.Location,
		LastUpdatedMillis: now.UnixMilli(),
		Columns:           append([]string(nil), rel.Columns...),
		Properties:        props,
		Sequence:          1,
	}
}

// appendFile returns the next Metadata, having a new Snapshot which adds |df|.
func (m Metadata) appendFile(df DataFile, now time.Time) Metadata {
	var files = append(append([]DataFile(nil), m.DataFiles()...), df)
	var seq = int64(len(m.Snapshots) + 1)

	var next = m
	next.Sequence = m.Sequence + 1
	next.LastUpdatedMillis = now.UnixMilli()
	next.CurrentSnapshotID = now.UnixNano()
	next.Snapshots = append(append([]Snapshot(nil), m.Snapshots...), Snapshot{
		SnapshotID:      next.CurrentSnapshotID,
		SequenceNumber:  seq,
		TimestampMillis: now.UnixMilli(),
		DataFiles:       files,
	})
	return next
}

// metadataPath returns the path of the Metadata file, relative to the
// table location. The first file is always "metadata/v1.metadata.json".
// Later files carry a UUID, as a version written by an aborted transaction
// may be written again.
func (m *Metadata) metadataPath() string {
	if m.Sequence == 1 {
		return "metadata/v1.metadata.json"
	}
	return fmt.Sprintf("metadata/v%d-%s.metadata.json", m.Sequence, uuid.New())
}

func writeMetadata(ctx context.Context, rel *am.Relation, md *Metadata) (string, error) {
	var b, err = json.MarshalIndent(md, "", "  ")
	if err != nil {
		return "", errors.WithMessage(err, "encoding metadata")
	}
	var rp = md.metadataPath()

	if err = rel.Store.Put(ctx, path.Join(rel.Location, rp), bytes.NewReader(b), int64(len(b)), ""); err != nil {
		return "", errors.WithMessagef(err, "writing %s", rp)
	}
	return rp, nil
}

func readMetadata(ctx context.Context, rel *am.Relation, rp string) (*Metadata, error) {
	var rc, err = rel.Store.Get(ctx, path.Join(rel.Location, rp))
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %s", rp)
	}
	defer rc.Close()

	var md Metadata
	if err = json.NewDecoder(rc).Decode(&md); err != nil {
		return nil, errors.WithMessagef(err, "decoding %s", rp)
	}
	return &md, nil
}
