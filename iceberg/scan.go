package iceberg

import (
	"context"

	"go.lakehouse.dev/core/am"
)

// scan reads data files of a snapshot in order, one file at a time.
type scan struct {
	rel   *am.Relation
	files []DataFile

	file int // 1-based index of the loaded file.
	rows [][]string
	row  int
}

func (s *scan) Next(ctx context.Context) (am.Tuple, bool, error) {
	for s.row == len(s.rows) {
		if s.file == len(s.files) {
			return am.Tuple{}, false, nil
		}
		var rows, err = readDataFile(ctx, s.rel, s.files[s.file])
		if err != nil {
			return am.Tuple{}, false, err
		}
		s.file, s.rows, s.row = s.file+1, rows, 0
	}
	var t = am.Tuple{TID: am.MakeTID(uint32(s.file), uint32(s.row)), Values: s.rows[s.row]}
	s.row++
	return t, true, nil
}

func (s *scan) Close() error {
	s.rows, s.files = nil, nil
	return nil
}
