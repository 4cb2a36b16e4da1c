package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/stores"
	"go.lakehouse.dev/core/tamerr"
	"go.lakehouse.dev/core/xact"
	gc "gopkg.in/check.v1"
)

type ManagerSuite struct{}

func (s *ManagerSuite) TestCreateIsEagerAndAbortRemovesIt(c *gc.C) {
	var f = newFixture()

	c.Check(f.m.RegisterCreate(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.exists(100), gc.Equals, true)
	c.Check(f.m.State(100), gc.Equals, PendingCreate)
	c.Check(f.m.Depth(), gc.Equals, 1)

	// Re-registering a create is a no-op.
	c.Check(f.m.RegisterCreate(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.Actions(), gc.HasLen, 1)

	c.Check(f.m.OnXact(f.ctx, xact.Abort), gc.IsNil)
	c.Check(f.exists(100), gc.Equals, false)
	c.Check(f.m.Depth(), gc.Equals, 0)
	c.Check(f.m.State(100), gc.Equals, Clean)
}

func (s *ManagerSuite) TestDeleteIsDeferredUntilCommit(c *gc.C) {
	var f = newFixture()
	f.preexisting(100)

	c.Check(f.m.RegisterDelete(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.RegisterDelete(f.ctx, f.rel(100)), gc.IsNil) // No-op.
	c.Check(f.m.State(100), gc.Equals, PendingDelete)
	c.Check(f.m.Actions(), gc.HasLen, 1)
	c.Check(f.exists(100), gc.Equals, true)

	c.Check(f.m.OnXact(f.ctx, xact.PreCommit), gc.IsNil)
	c.Check(f.exists(100), gc.Equals, true)
	c.Check(f.m.OnXact(f.ctx, xact.Commit), gc.IsNil)
	c.Check(f.exists(100), gc.Equals, false)
}

func (s *ManagerSuite) TestAbortDiscardsDelete(c *gc.C) {
	var f = newFixture()
	f.preexisting(100)

	c.Check(f.m.RegisterDelete(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.OnXact(f.ctx, xact.Abort), gc.IsNil)
	c.Check(f.exists(100), gc.Equals, true)
	c.Check(f.removes, gc.Equals, 0)
}

func (s *ManagerSuite) TestCreateThenDeleteInScopeCoalesces(c *gc.C) {
	var f = newFixture()

	c.Check(f.m.RegisterCreate(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.RegisterDelete(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.State(100), gc.Equals, Coalesced)
	c.Check(f.exists(100), gc.Equals, false)

	var removes = f.removes
	c.Check(f.m.OnXact(f.ctx, xact.Commit), gc.IsNil)
	c.Check(f.removes, gc.Equals, removes) // No further I/O.

	// Once coalesced, the relation may not be created or deleted again.
	f = newFixture()
	c.Check(f.m.RegisterCreate(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.RegisterDelete(f.ctx, f.rel(100)), gc.IsNil)

	var err = f.m.RegisterCreate(f.ctx, f.rel(100))
	c.Check(tamerr.IsInconsistent(err), gc.Equals, true)
	c.Check(err, gc.ErrorMatches, `inconsistent access method state for relation 100: create of resource in state COALESCED`)

	err = f.m.RegisterDelete(f.ctx, f.rel(100))
	c.Check(tamerr.IsInconsistent(err), gc.Equals, true)
	c.Check(err, gc.ErrorMatches, `.*delete of resource in state COALESCED`)
}

func (s *ManagerSuite) TestCreateAfterDeleteIsInconsistent(c *gc.C) {
	var f = newFixture()
	f.preexisting(100)

	c.Check(f.m.RegisterDelete(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.RegisterCreate(f.ctx, f.rel(100)), gc.ErrorMatches,
		`.*create of resource in state PENDING_DELETE`)
}

func (s *ManagerSuite) TestDeleteOfAncestorCreateIsDeferred(c *gc.C) {
	var f = newFixture()

	c.Check(f.m.RegisterCreate(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.OnSubXact(f.ctx, xact.StartSub, 2, xact.TopSubID), gc.IsNil)

	// Create of a relation created by an ancestor is a no-op.
	c.Check(f.m.RegisterCreate(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.RegisterDelete(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.State(100), gc.Equals, PendingDelete)
	c.Check(f.exists(100), gc.Equals, true)

	c.Check(f.m.Actions(), gc.DeepEquals, []Action{
		{Rel: 100, Relation: "100", Location: "base/5/100", State: PendingCreate, Scope: 1, res: f.res},
		{Rel: 100, Relation: "100", Location: "base/5/100", State: PendingDelete, Scope: 2, res: f.res},
	})

	// Rolling back the savepoint resurrects the relation.
	c.Check(f.m.OnSubXact(f.ctx, xact.AbortSub, 2, xact.TopSubID), gc.IsNil)
	c.Check(f.m.State(100), gc.Equals, PendingCreate)
	c.Check(f.exists(100), gc.Equals, true)

	// Delete again within a new savepoint, and release it.
	c.Check(f.m.OnSubXact(f.ctx, xact.StartSub, 3, xact.TopSubID), gc.IsNil)
	c.Check(f.m.RegisterDelete(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.exists(100), gc.Equals, true)
	c.Check(f.m.OnSubXact(f.ctx, xact.CommitSub, 3, xact.TopSubID), gc.IsNil)

	// The released delete coalesced with the parent's create. Removal is
	// owed by the parent, and happens as it ends.
	c.Check(f.m.State(100), gc.Equals, Coalesced)
	c.Check(f.exists(100), gc.Equals, true)
	c.Check(f.m.Depth(), gc.Equals, 1)

	c.Check(f.m.OnXact(f.ctx, xact.Commit), gc.IsNil)
	c.Check(f.exists(100), gc.Equals, false)
}

func (s *ManagerSuite) TestReleasedCoalesceIsRemovedOnAbort(c *gc.C) {
	var f = newFixture()

	c.Check(f.m.OnSubXact(f.ctx, xact.StartSub, 2, xact.TopSubID), gc.IsNil)
	c.Check(f.m.RegisterCreate(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.OnSubXact(f.ctx, xact.StartSub, 3, 2), gc.IsNil)
	c.Check(f.m.RegisterDelete(f.ctx, f.rel(100)), gc.IsNil)

	// Releasing performs no I/O, so it can't fail on the store.
	f.store.RemoveFunc = func(context.Context, string) error { return errors.New("read-only") }
	c.Check(f.m.OnSubXact(f.ctx, xact.CommitSub, 3, 2), gc.IsNil)
	c.Check(f.m.State(100), gc.Equals, Coalesced)

	// Scope 2 merges the owed removal upward, and the transaction aborts.
	f.store.RemoveFunc = nil
	c.Check(f.m.OnSubXact(f.ctx, xact.CommitSub, 2, xact.TopSubID), gc.IsNil)
	c.Check(f.exists(100), gc.Equals, true)
	c.Check(f.m.OnXact(f.ctx, xact.Abort), gc.IsNil)
	c.Check(f.exists(100), gc.Equals, false)
	c.Check(f.m.Orphans(), gc.HasLen, 0)
}

func (s *ManagerSuite) TestUnmergeableScopeRemainsOpen(c *gc.C) {
	var f = newFixture()

	c.Check(f.m.RegisterCreate(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.OnSubXact(f.ctx, xact.StartSub, 2, xact.TopSubID), gc.IsNil)
	c.Check(f.m.OnSubXact(f.ctx, xact.CommitSub, 3, xact.TopSubID), gc.NotNil)
	c.Check(f.m.Depth(), gc.Equals, 2)

	// The scope can still be rolled back.
	c.Check(f.m.OnSubXact(f.ctx, xact.AbortSub, 2, xact.TopSubID), gc.IsNil)
	c.Check(f.m.State(100), gc.Equals, PendingCreate)
	c.Check(f.exists(100), gc.Equals, true)
}

func (s *ManagerSuite) TestSubCommitMergesIntoParent(c *gc.C) {
	var f = newFixture()
	f.preexisting(200)

	c.Check(f.m.OnSubXact(f.ctx, xact.StartSub, 2, xact.TopSubID), gc.IsNil)
	c.Check(f.m.OnSubXact(f.ctx, xact.StartSub, 3, 2), gc.IsNil)
	c.Check(f.m.RegisterCreate(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.RegisterDelete(f.ctx, f.rel(200)), gc.IsNil)
	c.Check(f.m.Depth(), gc.Equals, 3)

	c.Check(f.m.OnSubXact(f.ctx, xact.CommitSub, 3, 2), gc.IsNil)
	c.Check(f.m.OnSubXact(f.ctx, xact.CommitSub, 2, xact.TopSubID), gc.IsNil)

	var scopes []xact.SubID
	for _, act := range f.m.Actions() {
		scopes = append(scopes, act.Scope)
	}
	c.Check(scopes, gc.DeepEquals, []xact.SubID{1, 1})

	c.Check(f.m.OnXact(f.ctx, xact.Commit), gc.IsNil)
	c.Check(f.exists(100), gc.Equals, true)
	c.Check(f.exists(200), gc.Equals, false)
}

func (s *ManagerSuite) TestAbortInvertsAllScopesInnermostFirst(c *gc.C) {
	var f = newFixture()
	var removed []string
	f.store.RemoveFunc = func(ctx context.Context, path string) error {
		removed = append(removed, path)
		return f.mem.Remove(ctx, path)
	}

	c.Check(f.m.RegisterCreate(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.OnSubXact(f.ctx, xact.StartSub, 2, xact.TopSubID), gc.IsNil)
	c.Check(f.m.RegisterCreate(f.ctx, f.rel(101)), gc.IsNil)
	c.Check(f.m.RegisterCreate(f.ctx, f.rel(102)), gc.IsNil)

	c.Check(f.m.OnXact(f.ctx, xact.Abort), gc.IsNil)
	c.Check(removed, gc.DeepEquals, []string{
		"base/5/102/" + stores.PrefixMarker,
		"base/5/101/" + stores.PrefixMarker,
		"base/5/100/" + stores.PrefixMarker,
	})
	c.Check(f.m.Depth(), gc.Equals, 0)
}

func (s *ManagerSuite) TestOutOfOrderScopeEvents(c *gc.C) {
	var f = newFixture()

	c.Check(f.m.OnSubXact(f.ctx, xact.StartSub, 2, xact.TopSubID), gc.IsNil)
	c.Check(f.m.OnSubXact(f.ctx, xact.StartSub, 4, 3), gc.ErrorMatches,
		`inconsistent access method state: subtransaction 4 started with parent 3, but current scope is 2`)
	c.Check(f.m.OnSubXact(f.ctx, xact.CommitSub, 5, 2), gc.ErrorMatches,
		`inconsistent access method state: COMMIT_SUB of subtransaction 5, but current scope is 2`)
	c.Check(f.m.OnSubXact(f.ctx, xact.AbortSub, 2, 1), gc.IsNil)
	c.Check(f.m.OnSubXact(f.ctx, xact.AbortSub, 1, 0), gc.ErrorMatches,
		`inconsistent access method state: ABORT_SUB of subtransaction 1, but current scope is 1`)
}

func (s *ManagerSuite) TestCommitWithOpenSubtransactions(c *gc.C) {
	var f = newFixture()

	c.Check(f.m.RegisterCreate(f.ctx, f.rel(100)), gc.IsNil)
	c.Check(f.m.OnSubXact(f.ctx, xact.StartSub, 2, xact.TopSubID), gc.IsNil)

	// PreCommit refuses, so that the host aborts instead.
	c.Check(f.m.OnXact(f.ctx, xact.PreCommit), gc.ErrorMatches,
		`inconsistent access method state: commit with 1 open subtransactions`)
	c.Check(f.m.Depth(), gc.Equals, 2)

	// A host which commits anyway leaves every pending action orphaned.
	c.Check(f.m.OnXact(f.ctx, xact.Commit), gc.ErrorMatches, `.*commit with 1 open subtransactions`)
	c.Check(f.m.Depth(), gc.Equals, 0)
	c.Check(f.m.Orphans(), gc.HasLen, 1)
	c.Check(f.m.Orphans()[0].Location, gc.Equals, "base/5/100")
}

var _ = gc.Suite(&ManagerSuite{})

type fixture struct {
	ctx     context.Context
	m       *Manager
	mem     *stores.MemoryStore
	store   *stores.CallbackStore
	res     Resources
	removes int
}

func newFixture() *fixture {
	var f = &fixture{
		ctx: context.Background(),
		m:   NewManager(),
		mem: stores.NewMemoryStore(nil),
	}
	f.store = &stores.CallbackStore{Store: f.mem}
	f.store.RemoveFunc = func(ctx context.Context, path string) error {
		f.removes++
		return f.mem.Remove(ctx, path)
	}
	f.res = StoreResources{Store: f.store, Concurrency: 1}
	f.m.ResourcesOf = func(*am.Relation) Resources { return f.res }
	return f
}

func (f *fixture) rel(id am.RelID) *am.Relation {
	return &am.Relation{
		ID:            id,
		Location:      fmt.Sprintf("base/5/%d", id),
		Store:         f.store,
		IOConcurrency: 1,
	}
}

func (f *fixture) preexisting(id am.RelID) {
	if err := stores.MakePrefix(f.ctx, f.mem, f.rel(id).Location); err != nil {
		panic(err)
	}
}

func (f *fixture) exists(id am.RelID) bool {
	var ok, err = stores.PrefixExists(f.ctx, f.mem, f.rel(id).Location)
	if err != nil {
		panic(err)
	}
	return ok
}
