// Package lifecycle ties the physical resources of relations to the outcome
// of the transaction which created or dropped them.
//
// Creation takes effect immediately, so that the creating transaction can
// use the resource, and is inverted if the creating (sub)transaction aborts.
// Deletion is deferred until the top-level transaction commits, because an
// aborting ancestor must be able to resurrect what a descendant dropped.
// A deletion following a creation within the same open scope cancels it.
//
// A Manager keeps a stack of scopes mirroring the session's transaction and
// savepoints. It's driven by transaction events, which must arrive strictly
// nested and in the order the host emits them.
package lifecycle

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/tamerr"
	"go.lakehouse.dev/core/xact"
)

// State of a relation's resource slot.
type State int

const (
	// Clean has no pending action.
	Clean State = iota
	// PendingCreate was physically created, and is removed on abort.
	PendingCreate
	// PendingDelete is physically removed on top-level commit.
	PendingDelete
	// Coalesced was created and then deleted within one scope.
	Coalesced
)

func (s State) String() string {
	switch s {
	case Clean:
		return "CLEAN"
	case PendingCreate:
		return "PENDING_CREATE"
	case PendingDelete:
		return "PENDING_DELETE"
	case Coalesced:
		return "COALESCED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Action is a pending resource action of a relation, recorded in the scope
// which registered it.
type Action struct {
	Rel      am.RelID
	Relation string
	Location string
	State    State
	// Scope is the SubID of the scope holding the Action.
	Scope xact.SubID

	res Resources
	// owed is set on a Coalesced Action formed by a subtransaction commit.
	// Its resource is removed when the holding scope ends, either way.
	owed bool
}

// Orphan is a resource which could not be removed when its transaction
// ended, and which requires out-of-band cleanup.
type Orphan struct {
	Rel      am.RelID
	Relation string
	Location string
	Err      error
}

type scope struct {
	id      xact.SubID
	actions []Action
}

// Manager is the resource lifecycle manager of a session.
// It's not safe for concurrent use.
type Manager struct {
	// ResourcesOf maps a Relation to its Resources.
	// If nil, package function ResourcesOf is used.
	ResourcesOf func(*am.Relation) Resources

	scopes  []scope
	orphans []Orphan
}

// NewManager returns an empty Manager.
func NewManager() *Manager { return new(Manager) }

// Register the Manager as an observer of |cb|.
func (m *Manager) Register(cb *xact.Callbacks) {
	cb.RegisterXactCallback(m.OnXact)
	cb.RegisterSubXactCallback(m.OnSubXact)
}

// Depth returns the number of open scopes, including the root.
func (m *Manager) Depth() int { return len(m.scopes) }

// State returns the effective State of relation |rel|, which is that of its
// innermost Action.
func (m *Manager) State(rel am.RelID) State {
	if s, a := m.find(rel); s != -1 {
		return m.scopes[s].actions[a].State
	}
	return Clean
}

// Actions returns all pending Actions, outermost scope first.
func (m *Manager) Actions() []Action {
	var out []Action
	for _, s := range m.scopes {
		out = append(out, s.actions...)
	}
	return out
}

// Orphans returns resources which could not be removed as their
// transactions ended.
func (m *Manager) Orphans() []Orphan { return append([]Orphan(nil), m.orphans...) }

// RegisterCreate physically creates the resource of |rel| and records it as
// reversible within the current scope. The Action is recorded even if the
// creation fails, so that abort removes any partial state, and the failure
// is returned as a ResourceIOError. Creating a relation having a pending
// creation is a no-op.
func (m *Manager) RegisterCreate(ctx context.Context, rel *am.Relation) error {
	m.ensureRoot()

	if s, a := m.find(rel.ID); s != -1 {
		switch st := m.scopes[s].actions[a].State; st {
		case PendingCreate:
			registrationsTotal.WithLabelValues("create", outcomeNoop).Inc()
			return nil
		default:
			registrationsTotal.WithLabelValues("create", outcomeFailed).Inc()
			return tamerr.NewInconsistentState(rel.String(), "create of resource in state %s", st)
		}
	}

	var res = m.resourcesOf(rel)
	var entry = log.WithFields(log.Fields{
		"rel":      rel.ID,
		"location": rel.Location,
		"scope":    m.top().id,
	})

	if exists, err := res.Exists(ctx, rel.Location); err == nil && exists {
		entry.Warn("resource of new relation already exists; adopting it")
	}
	var err = res.Create(ctx, rel.Location)
	observePhysical("create", "register", err)

	m.push(Action{
		Rel:      rel.ID,
		Relation: rel.String(),
		Location: rel.Location,
		State:    PendingCreate,
		res:      res,
	})

	if err != nil {
		registrationsTotal.WithLabelValues("create", outcomeFailed).Inc()
		return &tamerr.ResourceIOError{Op: "create", Relation: rel.String(), Location: rel.Location, Err: err}
	}
	registrationsTotal.WithLabelValues("create", outcomeRecorded).Inc()
	entry.Info("created relation resource")

	return nil
}

// RegisterDelete records the deletion of the resource of |rel|. Deletion
// of a resource created within the current scope cancels the pair and
// removes it now. Otherwise, deletion is deferred until top-level commit.
// Deleting a relation having a pending deletion is a no-op.
func (m *Manager) RegisterDelete(ctx context.Context, rel *am.Relation) error {
	m.ensureRoot()

	var s, a = m.find(rel.ID)
	if s == -1 {
		m.push(Action{
			Rel:      rel.ID,
			Relation: rel.String(),
			Location: rel.Location,
			State:    PendingDelete,
			res:      m.resourcesOf(rel),
		})
		registrationsTotal.WithLabelValues("delete", outcomeRecorded).Inc()
		return nil
	}

	var act = &m.scopes[s].actions[a]

	switch act.State {
	case PendingDelete:
		registrationsTotal.WithLabelValues("delete", outcomeNoop).Inc()
		return nil

	case PendingCreate:
		if s != len(m.scopes)-1 {
			// Created by an ancestor, which must be able to resurrect it.
			m.push(Action{
				Rel:      rel.ID,
				Relation: act.Relation,
				Location: act.Location,
				State:    PendingDelete,
				res:      act.res,
			})
			registrationsTotal.WithLabelValues("delete", outcomeRecorded).Inc()
			return nil
		}
		if err := m.coalesce(ctx, act, "register"); err != nil {
			registrationsTotal.WithLabelValues("delete", outcomeFailed).Inc()
			return err
		}
		registrationsTotal.WithLabelValues("delete", outcomeCoalesced).Inc()
		return nil

	default:
		registrationsTotal.WithLabelValues("delete", outcomeFailed).Inc()
		return tamerr.NewInconsistentState(act.Relation, "delete of resource in state %s", act.State)
	}
}

// OnSubXact processes a subtransaction event.
func (m *Manager) OnSubXact(ctx context.Context, ev xact.SubEvent, sub, parent xact.SubID) error {
	m.ensureRoot()

	switch ev {
	case xact.StartSub:
		if top := m.top().id; top != parent {
			return tamerr.NewInconsistentState("",
				"subtransaction %d started with parent %d, but current scope is %d", sub, parent, top)
		}
		m.scopes = append(m.scopes, scope{id: sub})
		openScopes.Inc()
		log.WithFields(log.Fields{"sub": sub, "depth": len(m.scopes)}).Debug("pushed scope")
		return nil

	case xact.CommitSub, xact.AbortSub:
		if len(m.scopes) < 2 || m.top().id != sub {
			return tamerr.NewInconsistentState("",
				"%s of subtransaction %d, but current scope is %d", ev, sub, m.top().id)
		}
		if ev == xact.CommitSub {
			// A scope which can't merge stays open, to be aborted.
			if err := m.checkMerge(m.top(), &m.scopes[len(m.scopes)-2]); err != nil {
				return err
			}
		}
		var child = m.pop()
		log.WithFields(log.Fields{"sub": sub, "event": ev, "actions": len(child.actions)}).Debug("popped scope")

		if ev == xact.AbortSub {
			m.invert(ctx, child)
		} else {
			m.merge(child)
		}
		return nil

	default:
		return tamerr.NewInconsistentState("", "unknown subtransaction event %s", ev)
	}
}

// OnXact processes a top-level transaction event.
func (m *Manager) OnXact(ctx context.Context, ev xact.Event) error {
	switch ev {
	case xact.PreCommit:
		if len(m.scopes) > 1 {
			return tamerr.NewInconsistentState("",
				"commit with %d open subtransactions", len(m.scopes)-1)
		}
		return nil

	case xact.Commit:
		var err error
		if len(m.scopes) > 1 {
			err = tamerr.NewInconsistentState("",
				"commit with %d open subtransactions", len(m.scopes)-1)

			for _, act := range m.Actions() {
				m.orphan(act, "commit", err)
			}
		} else if len(m.scopes) == 1 {
			for _, act := range m.scopes[0].actions {
				if act.State != PendingDelete && !act.owed {
					continue
				}
				var rmErr = act.res.Remove(ctx, act.Location)
				observePhysical("remove", "commit", rmErr)

				if rmErr != nil {
					m.orphan(act, "remove", rmErr)
				} else {
					log.WithFields(log.Fields{
						"rel":      act.Rel,
						"location": act.Location,
					}).Info("removed dropped relation resource")
				}
			}
		}
		m.reset()
		return err

	case xact.Abort:
		for len(m.scopes) != 0 {
			m.invert(ctx, m.pop())
		}
		return nil

	default:
		return tamerr.NewInconsistentState("", "unknown transaction event %s", ev)
	}
}

// checkMerge returns an error if |child| can't merge into |parent|.
func (m *Manager) checkMerge(child, parent *scope) error {
	for _, act := range child.actions {
		var a = m.indexOf(len(m.scopes)-2, act.Rel)
		if a == -1 {
			continue
		} else if into := parent.actions[a]; into.State != PendingCreate || act.State != PendingDelete {
			return tamerr.NewInconsistentState(act.Relation,
				"cannot merge %s into %s of scope %d", act.State, into.State, parent.id)
		}
	}
	return nil
}

// merge Actions of a committed |child| into its parent scope, which is now
// the top of the stack. A child PendingDelete over a parent PendingCreate
// coalesces. Its removal is owed by the parent, and happens when the
// parent's transaction ends.
func (m *Manager) merge(child scope) {
	var parent = len(m.scopes) - 1

	for _, act := range child.actions {
		if a := m.indexOf(parent, act.Rel); a == -1 {
			m.push(act)
		} else {
			var into = &m.scopes[parent].actions[a]
			into.State, into.owed = Coalesced, true

			log.WithFields(log.Fields{
				"rel":      act.Rel,
				"location": act.Location,
				"scope":    m.scopes[parent].id,
			}).Debug("coalesced released delete with create of parent")
		}
	}
}

// invert undoes the Actions of |s| in reverse order of registration.
func (m *Manager) invert(ctx context.Context, s scope) {
	for i := len(s.actions) - 1; i >= 0; i-- {
		var act = s.actions[i]
		if act.State != PendingCreate && !act.owed {
			continue // PendingDelete is discarded, and Coalesced has nothing to undo.
		}
		var err = act.res.Remove(ctx, act.Location)
		observePhysical("remove", "abort", err)

		if err != nil {
			m.orphan(act, "remove", err)
		} else {
			log.WithFields(log.Fields{
				"rel":      act.Rel,
				"location": act.Location,
				"scope":    s.id,
			}).Info("removed resource of aborted relation")
		}
	}
}

// coalesce removes the resource of PendingCreate |act| and marks it
// Coalesced. If removal fails, |act| remains PendingCreate so that abort
// retries the removal.
func (m *Manager) coalesce(ctx context.Context, act *Action, cause string) error {
	var err = act.res.Remove(ctx, act.Location)
	observePhysical("remove", cause, err)

	if err != nil {
		return &tamerr.ResourceIOError{Op: "remove", Relation: act.Relation, Location: act.Location, Err: err}
	}
	act.State = Coalesced

	log.WithFields(log.Fields{
		"rel":      act.Rel,
		"location": act.Location,
	}).Info("coalesced create and delete of relation resource")

	return nil
}

func (m *Manager) orphan(act Action, op string, err error) {
	m.orphans = append(m.orphans, Orphan{
		Rel:      act.Rel,
		Relation: act.Relation,
		Location: act.Location,
		Err:      err,
	})
	orphansTotal.WithLabelValues(op).Inc()

	log.WithFields(log.Fields{
		"rel":      act.Rel,
		"location": act.Location,
		"state":    act.State,
		"err":      err,
	}).Warn("orphaned relation resource; it requires out-of-band cleanup")
}

func (m *Manager) resourcesOf(rel *am.Relation) Resources {
	if m.ResourcesOf != nil {
		return m.ResourcesOf(rel)
	}
	return ResourcesOf(rel)
}

// find returns the scope and action indices of the innermost Action of
// |rel|, or -1, -1.
func (m *Manager) find(rel am.RelID) (int, int) {
	for s := len(m.scopes) - 1; s >= 0; s-- {
		if a := m.indexOf(s, rel); a != -1 {
			return s, a
		}
	}
	return -1, -1
}

func (m *Manager) indexOf(s int, rel am.RelID) int {
	for a, act := range m.scopes[s].actions {
		if act.Rel == rel {
			return a
		}
	}
	return -1
}

func (m *Manager) ensureRoot() {
	if len(m.scopes) == 0 {
		m.scopes = append(m.scopes, scope{id: xact.TopSubID})
		openScopes.Inc()
	}
}

func (m *Manager) top() *scope { return &m.scopes[len(m.scopes)-1] }

// push appends |act| to the current scope.
func (m *Manager) push(act Action) {
	var top = m.top()
	act.Scope = top.id
	top.actions = append(top.actions, act)
}

func (m *Manager) pop() scope {
	var s = m.scopes[len(m.scopes)-1]
	m.scopes = m.scopes[:len(m.scopes)-1]
	openScopes.Dec()
	return s
}

func (m *Manager) reset() {
	openScopes.Sub(float64(len(m.scopes)))
	m.scopes = m.scopes[:0]
}

func observePhysical(op, cause string, err error) {
	var status = "success"
	if err != nil {
		status = "error"
	}
	physicalOpsTotal.WithLabelValues(op, cause, status).Inc()
}

var _ am.ResourceRegistrar = (*Manager)(nil)
