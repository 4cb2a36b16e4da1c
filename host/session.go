package host

import (
	"context"
	"database/sql"
	"fmt"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/bridge"
	"go.lakehouse.dev/core/catalog"
	"go.lakehouse.dev/core/lifecycle"
	"go.lakehouse.dev/core/xact"
)

// Session is a connection of the Host. Statements run within an explicit
// transaction block opened by Begin, or otherwise in a transaction of
// their own. It's not safe for concurrent use.
type Session struct {
	Name string

	host      *Host
	cb        xact.Callbacks
	lifecycle *lifecycle.Manager
	bridge    *bridge.Session

	tx      *sql.Tx
	block   bool // Within an explicit transaction block.
	failed  bool // A statement of the block failed.
	subs    []savepoint
	nextSub xact.SubID
	cursors map[string]cursor
}

type savepoint struct {
	id   xact.SubID
	name string
}

type cursor struct {
	scan    bridge.ScanID
	routine *bridge.Routine
	owner   xact.SubID
}

// NewSession returns a Session of the Host. If |name| is empty, one is generated.
func (h *Host) NewSession(name string) *Session {
	if name == "" {
		name = petname.Generate(2, "-")
	}
	var s = &Session{
		Name:      name,
		host:      h,
		lifecycle: lifecycle.NewManager(),
		cursors:   make(map[string]cursor),
	}
	s.bridge = bridge.NewSession(s, s.lifecycle, h.catalog)

	// Scans are released before resources are removed.
	s.bridge.Register(&s.cb)
	s.lifecycle.Register(&s.cb)

	return s
}

// Lifecycle returns the lifecycle.Manager of the Session.
func (s *Session) Lifecycle() *lifecycle.Manager { return s.lifecycle }

// InBlock returns whether the Session is within a transaction block.
func (s *Session) InBlock() bool { return s.block }

// Failed returns whether the Session's transaction block has failed.
func (s *Session) Failed() bool { return s.failed }

// Relation implements bridge.Host.
func (s *Session) Relation(ctx context.Context, id am.RelID) (*am.Relation, error) {
	if s.tx == nil {
		return nil, hostError(CodeNoActiveTransaction, "relation %d accessed outside of a transaction", id)
	}
	var r, err = scanRelation(s.tx.QueryRowContext(ctx,
		`SELECT `+relationColumns+` FROM host_relations WHERE relid = ?`, id))
	if err == sql.ErrNoRows {
		return nil, hostError(CodeUndefinedTable, "relation with OID %d does not exist", id)
	} else if err != nil {
		return nil, err
	}
	return s.host.relation(ctx, s.tx, r)
}

// Querier implements bridge.Host.
func (s *Session) Querier() catalog.Querier { return s.tx }

// CurrentSubID implements bridge.Host.
func (s *Session) CurrentSubID() xact.SubID {
	if len(s.subs) == 0 {
		return xact.TopSubID
	}
	return s.subs[len(s.subs)-1].id
}

// Begin a transaction block.
func (s *Session) Begin(ctx context.Context) error {
	if s.block {
		log.WithField("session", s.Name).Warn("there is already a transaction in progress")
		return nil
	}
	if err := s.begin(ctx); err != nil {
		return err
	}
	s.block = true
	return nil
}

// Commit the transaction block. Open savepoints are released first. If the
// block failed, it's rolled back instead, as with PostgreSQL.
func (s *Session) Commit(ctx context.Context) error {
	if !s.block {
		log.WithField("session", s.Name).Warn("there is no transaction in progress")
		return nil
	} else if s.failed {
		log.WithField("session", s.Name).Info("failed transaction block rolled back at commit")
		s.abort(ctx)
		return nil
	}
	return s.commit(ctx)
}

// Rollback the transaction block.
func (s *Session) Rollback(ctx context.Context) error {
	if !s.block {
		log.WithField("session", s.Name).Warn("there is no transaction in progress")
		return nil
	}
	s.abort(ctx)
	return nil
}

// Savepoint establishes a named savepoint, beginning a subtransaction.
func (s *Session) Savepoint(ctx context.Context, name string) error {
	if !s.block {
		return hostError(CodeNoActiveTransaction, "SAVEPOINT can only be used in transaction blocks")
	} else if s.failed {
		return errInFailedTransaction
	}
	if err := s.startSub(ctx, name); err != nil {
		s.failed = true
		return err
	}
	return nil
}

// RollbackTo rolls back the subtransaction of savepoint |name| and those
// nested within it. The savepoint itself remains established, as a new
// subtransaction. RollbackTo is permitted within a failed block, and clears
// its failure.
func (s *Session) RollbackTo(ctx context.Context, name string) error {
	if !s.block {
		return hostError(CodeNoActiveTransaction, "ROLLBACK TO SAVEPOINT can only be used in transaction blocks")
	}
	var k = s.findSavepoint(name)
	if k == -1 {
		s.failed = true
		return hostError(CodeInvalidSavepoint, "savepoint %q does not exist", name)
	}
	var sp = s.subs[k]

	var err error
	for i := len(s.subs) - 1; i >= k; i-- {
		if cbErr := s.cb.FireSubXact(ctx, xact.AbortSub, s.subs[i].id, s.parentOf(i)); cbErr != nil && err == nil {
			err = cbErr
		}
		s.reassignCursors(s.subs[i].id, 0)
	}
	s.subs = s.subs[:k]

	if err == nil {
		err = s.exec(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT sp_%d", sp.id))
	}
	if err == nil {
		err = s.exec(ctx, fmt.Sprintf("RELEASE SAVEPOINT sp_%d", sp.id))
	}
	if err == nil {
		err = s.startSub(ctx, name)
	}
	if err != nil {
		s.failed = true
		return toHostError(err)
	}
	s.failed = false
	return nil
}

// Release the savepoint |name|, committing its subtransaction and those
// nested within it into the parent.
func (s *Session) Release(ctx context.Context, name string) error {
	if !s.block {
		return hostError(CodeNoActiveTransaction, "RELEASE SAVEPOINT can only be used in transaction blocks")
	} else if s.failed {
		return errInFailedTransaction
	}
	var k = s.findSavepoint(name)
	if k == -1 {
		s.failed = true
		return hostError(CodeInvalidSavepoint, "savepoint %q does not exist", name)
	}
	var id = s.subs[k].id

	for i := len(s.subs) - 1; i >= k; i-- {
		if err := s.cb.FireSubXact(ctx, xact.CommitSub, s.subs[i].id, s.parentOf(i)); err != nil {
			s.subs = s.subs[:i+1]
			s.failed = true
			return toHostError(err)
		}
		s.reassignCursors(s.subs[i].id, s.parentOf(i))
		s.subs = s.subs[:i]
	}
	if err := s.exec(ctx, fmt.Sprintf("RELEASE SAVEPOINT sp_%d", id)); err != nil {
		s.failed = true
		return toHostError(err)
	}
	return nil
}

// statement runs |fn| as a statement of the Session. Outside of a block,
// |fn| runs in its own transaction which commits if |fn| succeeds. Within
// a block, failure of |fn| fails the block.
func (s *Session) statement(ctx context.Context, fn func() error) error {
	if !s.block {
		if err := s.begin(ctx); err != nil {
			return err
		}
		if err := fn(); err != nil {
			s.abort(ctx)
			return toHostError(err)
		}
		return s.commit(ctx)
	}
	if s.failed {
		return errInFailedTransaction
	}
	if err := fn(); err != nil {
		s.failed = true
		return toHostError(err)
	}
	return nil
}

func (s *Session) begin(ctx context.Context) error {
	var tx, err = s.host.db.BeginTx(ctx, nil)
	if err != nil {
		return toHostError(errors.WithMessage(err, "beginning transaction"))
	}
	s.tx, s.failed, s.subs, s.nextSub = tx, false, nil, xact.TopSubID+1

	log.WithField("session", s.Name).Debug("began transaction")
	return nil
}

func (s *Session) commit(ctx context.Context) error {
	for i := len(s.subs) - 1; i >= 0; i-- {
		if err := s.cb.FireSubXact(ctx, xact.CommitSub, s.subs[i].id, s.parentOf(i)); err != nil {
			s.abort(ctx)
			return toHostError(err)
		}
		s.subs = s.subs[:i]
	}
	if err := s.cb.FireXact(ctx, xact.PreCommit); err != nil {
		s.abort(ctx)
		return toHostError(err)
	}
	if err := s.tx.Commit(); err != nil {
		s.abort(ctx)
		return toHostError(errors.WithMessage(err, "committing"))
	}
	var err = s.cb.FireXact(ctx, xact.Commit)
	s.reset()

	log.WithField("session", s.Name).Debug("committed transaction")
	return toHostError(err)
}

// abort rolls back the transaction, notifying observers of each open
// subtransaction (innermost first) and then the transaction itself.
func (s *Session) abort(ctx context.Context) {
	for i := len(s.subs) - 1; i >= 0; i-- {
		if err := s.cb.FireSubXact(ctx, xact.AbortSub, s.subs[i].id, s.parentOf(i)); err != nil {
			log.WithFields(log.Fields{"session": s.Name, "sub": s.subs[i].id, "err": err}).
				Warn("subtransaction abort callback failed")
		}
	}
	s.subs = nil

	if err := s.tx.Rollback(); err != nil {
		log.WithFields(log.Fields{"session": s.Name, "err": err}).Warn("rollback failed")
	}
	if err := s.cb.FireXact(ctx, xact.Abort); err != nil {
		log.WithFields(log.Fields{"session": s.Name, "err": err}).Warn("abort callback failed")
	}
	s.reset()

	log.WithField("session", s.Name).Debug("aborted transaction")
}

func (s *Session) reset() {
	s.tx, s.block, s.failed, s.subs = nil, false, false, nil
	s.cursors = make(map[string]cursor)
}

func (s *Session) startSub(ctx context.Context, name string) error {
	var id, parent = s.nextSub, s.CurrentSubID()
	s.nextSub++

	if err := s.exec(ctx, fmt.Sprintf("SAVEPOINT sp_%d", id)); err != nil {
		return toHostError(err)
	}
	s.subs = append(s.subs, savepoint{id: id, name: name})

	return toHostError(s.cb.FireSubXact(ctx, xact.StartSub, id, parent))
}

// reassignCursors of subtransaction |sub| to |parent|, or drops them if
// |parent| is zero. The bridge closes the scans of aborted subtransactions.
func (s *Session) reassignCursors(sub, parent xact.SubID) {
	for name, c := range s.cursors {
		if c.owner != sub {
			continue
		} else if parent == 0 {
			delete(s.cursors, name)
		} else {
			c.owner = parent
			s.cursors[name] = c
		}
	}
}

func (s *Session) exec(ctx context.Context, stmt string) error {
	var _, err = s.tx.ExecContext(ctx, stmt)
	return errors.WithMessagef(err, "executing %q", stmt)
}

// findSavepoint returns the index of the innermost savepoint |name|, or -1.
func (s *Session) findSavepoint(name string) int {
	for i := len(s.subs) - 1; i >= 0; i-- {
		if s.subs[i].name == name {
			return i
		}
	}
	return -1
}

func (s *Session) parentOf(i int) xact.SubID {
	if i == 0 {
		return xact.TopSubID
	}
	return s.subs[i-1].id
}
