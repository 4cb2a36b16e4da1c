package bridge

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"
	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/catalog"
	"go.lakehouse.dev/core/lifecycle"
	"go.lakehouse.dev/core/tamerr"
	"go.lakehouse.dev/core/xact"
)

// Host is the boundary of the host database, as seen by a Session.
type Host interface {
	// Relation resolves the relation |id| as visible to the current
	// transaction. Its Tx, Catalog and Lifecycle are set by the Session.
	Relation(ctx context.Context, id am.RelID) (*am.Relation, error)
	// Querier returns the current transaction.
	Querier() catalog.Querier
	// CurrentSubID returns the innermost open (sub)transaction.
	CurrentSubID() xact.SubID
}

// Binding associates a relation with the Handle of its access method.
type Binding struct {
	Relation *am.Relation
	Handle   *am.Handle
	Routine  *Routine
}

// ScanID identifies an open scan of a Session.
type ScanID uint64

type openScan struct {
	rel   am.RelID
	scan  am.Scan
	owner xact.SubID
}

// Session is the per-connection state of the bridge: lazily created
// relation Bindings, and the scans opened by each (sub)transaction.
// It's not safe for concurrent use.
type Session struct {
	host      Host
	lifecycle *lifecycle.Manager
	catalog   *catalog.Store

	bindings map[am.RelID]*Binding
	scans    map[ScanID]*openScan
	nextScan ScanID
}

// NewSession returns a Session of the Host.
func NewSession(host Host, lc *lifecycle.Manager, cat *catalog.Store) *Session {
	return &Session{
		host:      host,
		lifecycle: lc,
		catalog:   cat,
		bindings:  make(map[am.RelID]*Binding),
		scans:     make(map[ScanID]*openScan),
		nextScan:  1,
	}
}

// Register the Session as an observer of |cb|. The Session must be
// registered before its lifecycle.Manager, so that scans are released
// before resources are removed.
func (s *Session) Register(cb *xact.Callbacks) {
	cb.RegisterXactCallback(s.onXact)
	cb.RegisterSubXactCallback(s.onSubXact)
}

// Lifecycle returns the lifecycle.Manager of the Session.
func (s *Session) Lifecycle() *lifecycle.Manager { return s.lifecycle }

// Binding returns the Binding of relation |id|, creating it on first access.
func (s *Session) Binding(ctx context.Context, id am.RelID) (*Binding, error) {
	if b, ok := s.bindings[id]; ok {
		return b, nil
	}
	var rel, err = s.host.Relation(ctx, id)
	if err != nil {
		return nil, err
	}
	var h, ok = am.Lookup(rel.AccessMethod)
	if !ok {
		return nil, tamerr.NewValidationError("", "access method %q does not exist", rel.AccessMethod)
	}
	var b = &Binding{Relation: rel, Handle: h, Routine: BuildRoutine(h)}
	s.bindings[id] = b

	log.WithFields(log.Fields{
		"rel":          id,
		"accessMethod": h.Name,
	}).Debug("bound relation")

	return b, nil
}

// Forget the Binding of relation |id|, which is re-resolved on next access.
func (s *Session) Forget(id am.RelID) { delete(s.bindings, id) }

// OpenScans returns the IDs of open scans, in order.
func (s *Session) OpenScans() []ScanID {
	var out = make([]ScanID, 0, len(s.scans))
	for id := range s.scans {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// relation returns a copy of the Binding's Relation for a single call,
// attached to the current transaction.
func (s *Session) relation(b *Binding) *am.Relation {
	var rel = *b.Relation
	rel.Tx = s.host.Querier()
	rel.Catalog = s.catalog
	rel.Lifecycle = s.lifecycle
	return &rel
}

func (s *Session) trackScan(rel am.RelID, scan am.Scan) ScanID {
	var id = s.nextScan
	s.nextScan++
	s.scans[id] = &openScan{rel: rel, scan: scan, owner: s.host.CurrentSubID()}
	return id
}

func (s *Session) onSubXact(_ context.Context, ev xact.SubEvent, sub, parent xact.SubID) error {
	switch ev {
	case xact.CommitSub:
		for _, sc := range s.scans {
			if sc.owner == sub {
				sc.owner = parent
			}
		}
	case xact.AbortSub:
		s.release(func(sc *openScan) bool { return sc.owner == sub }, "subtransaction abort")
		// Bindings may describe relations created or altered by the aborted scope.
		s.bindings = make(map[am.RelID]*Binding)
	}
	return nil
}

func (s *Session) onXact(_ context.Context, ev xact.Event) error {
	switch ev {
	case xact.PreCommit:
		for id, sc := range s.scans {
			log.WithFields(log.Fields{"scan": id, "rel": sc.rel}).Warn("scan leaked at commit")
		}
		s.release(func(*openScan) bool { return true }, "commit")
	case xact.Commit:
		s.release(func(*openScan) bool { return true }, "commit")
		// Other sessions may alter bound relations once this transaction ends.
		s.bindings = make(map[am.RelID]*Binding)
	case xact.Abort:
		s.release(func(*openScan) bool { return true }, "abort")
		s.bindings = make(map[am.RelID]*Binding)
	}
	return nil
}

// release closes open scans matched by |fn|. Close errors are logged, as
// the owning scope is already ending.
func (s *Session) release(fn func(*openScan) bool, cause string) {
	for id, sc := range s.scans {
		if !fn(sc) {
			continue
		}
		if err := sc.scan.Close(); err != nil {
			log.WithFields(log.Fields{
				"scan":  id,
				"rel":   sc.rel,
				"cause": cause,
				"err":   err,
			}).Warn("failed to close scan")
		}
		delete(s.scans, id)
	}
}
