package tablespace

import "fmt"

// Well-known tablespace IDs of the host.
const (
	DefaultTablespaceID uint32 = 1663
	GlobalTablespaceID  uint32 = 1664
)

// Layout computes the locations of relation resources.
type Layout struct {
	MajorVersion   int
	CatalogVersion int
}

// VersionDirectory is the per-version directory beneath a local
// tablespace's pg_tblspc link.
func (l Layout) VersionDirectory() string {
	return fmt.Sprintf("PG_%d_%d", l.MajorVersion, l.CatalogVersion)
}

// Location returns the resource location of relation |rel| of database |db|
// in tablespace |spc|, relative to the root of the tablespace's store.
// Local relations follow the host's own directory structure. Distributed
// relations are nested under their tablespace and database IDs.
func (l Layout) Location(spc, db, rel uint32, distributed bool) string {
	switch {
	case distributed:
		return fmt.Sprintf("%d/%d/%d", spc, db, rel)
	case spc == DefaultTablespaceID:
		return fmt.Sprintf("base/%d/%d", db, rel)
	case spc == GlobalTablespaceID:
		return fmt.Sprintf("global/%d", rel)
	default:
		return fmt.Sprintf("pg_tblspc/%d/%s/%d/%d", spc, l.VersionDirectory(), db, rel)
	}
}
