// Package xact models the transaction boundary notifications a host emits to
// registered observers: top-level commit and abort, and the start, commit and
// abort of nested subtransactions (savepoints).
package xact

import (
	"context"
	"fmt"
)

// Event is a top-level transaction notification.
type Event int

const (
	// PreCommit is emitted before the host commits. An observer returning an
	// error from PreCommit causes the host to abort instead.
	PreCommit Event = iota
	// Commit is emitted after the host has durably committed.
	Commit
	// Abort is emitted when the host aborts the transaction.
	Abort
)

func (e Event) String() string {
	switch e {
	case PreCommit:
		return "PRE_COMMIT"
	case Commit:
		return "COMMIT"
	case Abort:
		return "ABORT"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// SubEvent is a subtransaction notification.
type SubEvent int

const (
	// StartSub is emitted when a savepoint is established.
	StartSub SubEvent = iota
	// CommitSub is emitted when a savepoint is released into its parent.
	CommitSub
	// AbortSub is emitted when a savepoint is rolled back.
	AbortSub
)

func (e SubEvent) String() string {
	switch e {
	case StartSub:
		return "START_SUB"
	case CommitSub:
		return "COMMIT_SUB"
	case AbortSub:
		return "ABORT_SUB"
	default:
		return fmt.Sprintf("SubEvent(%d)", int(e))
	}
}

// SubID identifies a (sub)transaction within its top-level transaction.
// The top-level transaction itself is TopSubID, and subtransaction IDs are
// assigned in increasing order by the host.
type SubID uint32

// TopSubID is the SubID of the top-level transaction.
const TopSubID SubID = 1

// Callback observes top-level transaction events.
type Callback func(ctx context.Context, ev Event) error

// SubCallback observes subtransaction events of |sub|, whose parent is |parent|.
type SubCallback func(ctx context.Context, ev SubEvent, sub, parent SubID) error

// Callbacks is an ordered registry of transaction observers. Observers are
// invoked in registration order. A Callbacks is owned by a single session
// and is not safe for concurrent use.
type Callbacks struct {
	xact []Callback
	sub  []SubCallback
}

// RegisterXactCallback adds |cb| as an observer of top-level events.
func (c *Callbacks) RegisterXactCallback(cb Callback) { c.xact = append(c.xact, cb) }

// RegisterSubXactCallback adds |cb| as an observer of subtransaction events.
func (c *Callbacks) RegisterSubXactCallback(cb SubCallback) { c.sub = append(c.sub, cb) }

// FireXact notifies all observers of |ev|. Every observer is notified even if
// an earlier one fails, and the first error is returned.
func (c *Callbacks) FireXact(ctx context.Context, ev Event) error {
	var first error
	for _, cb := range c.xact {
		if err := cb(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FireSubXact notifies all observers of |ev| for |sub|. As with FireXact,
// every observer is notified and the first error is returned.
func (c *Callbacks) FireSubXact(ctx context.Context, ev SubEvent, sub, parent SubID) error {
	var first error
	for _, cb := range c.sub {
		if err := cb(ctx, ev, sub, parent); err != nil && first == nil {
			first = err
		}
	}
	return first
}
