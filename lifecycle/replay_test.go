package lifecycle

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/xact"
)

// session drives a Manager as a host would, over nested savepoints.
// The model tracks whether each relation logically exists, with a snapshot
// of the model taken as each savepoint is established.
type session struct {
	t    *testing.T
	f    *fixture
	subs []xact.SubID
	next xact.SubID

	model     map[am.RelID]bool
	snapshots []map[am.RelID]bool
	initial   map[am.RelID]bool
}

func newSession(t *testing.T, f *fixture, initial map[am.RelID]bool) *session {
	return &session{t: t, f: f, next: 2, model: copyModel(initial), initial: copyModel(initial)}
}

func (s *session) parent(i int) xact.SubID {
	if i == 0 {
		return xact.TopSubID
	}
	return s.subs[i-1]
}

func (s *session) create(id am.RelID) {
	require.NoError(s.t, s.f.m.RegisterCreate(s.f.ctx, s.f.rel(id)))
	s.model[id] = true
}

func (s *session) drop(id am.RelID) {
	require.NoError(s.t, s.f.m.RegisterDelete(s.f.ctx, s.f.rel(id)))
	s.model[id] = false
}

func (s *session) savepoint() {
	var sub = s.next
	s.next++
	require.NoError(s.t, s.f.m.OnSubXact(s.f.ctx, xact.StartSub, sub, s.parent(len(s.subs))))
	s.subs = append(s.subs, sub)
	s.snapshots = append(s.snapshots, copyModel(s.model))
}

// rollbackTo savepoint |k|, which remains established.
func (s *session) rollbackTo(k int) {
	for i := len(s.subs) - 1; i >= k; i-- {
		require.NoError(s.t, s.f.m.OnSubXact(s.f.ctx, xact.AbortSub, s.subs[i], s.parent(i)))
	}
	s.model = s.snapshots[k]
	s.subs, s.snapshots = s.subs[:k], s.snapshots[:k]
	s.savepoint()
}

// release savepoint |k| and all savepoints established after it.
func (s *session) release(k int) {
	for i := len(s.subs) - 1; i >= k; i-- {
		require.NoError(s.t, s.f.m.OnSubXact(s.f.ctx, xact.CommitSub, s.subs[i], s.parent(i)))
	}
	s.subs, s.snapshots = s.subs[:k], s.snapshots[:k]
}

func (s *session) commit() map[am.RelID]bool {
	s.release(0)
	require.NoError(s.t, s.f.m.OnXact(s.f.ctx, xact.PreCommit))
	require.NoError(s.t, s.f.m.OnXact(s.f.ctx, xact.Commit))
	return s.model
}

func (s *session) rollback() map[am.RelID]bool {
	require.NoError(s.t, s.f.m.OnXact(s.f.ctx, xact.Abort))
	return s.initial
}

func TestReplayMatchesModelOverRandomSequences(t *testing.T) {
	var rnd = rand.New(rand.NewSource(8675309))

	for iter := 0; iter != 500; iter++ {
		var f = newFixture()
		var initial = make(map[am.RelID]bool)
		var nextRel am.RelID = 100

		for i, n := 0, rnd.Intn(4); i != n; i++ {
			f.preexisting(nextRel)
			initial[nextRel] = true
			nextRel++
		}
		var s = newSession(t, f, initial)

		for step, n := 0, 4+rnd.Intn(20); step != n; step++ {
			switch rnd.Intn(6) {
			case 0, 1:
				s.create(nextRel) // Relation IDs are never reused.
				nextRel++
			case 2:
				var live []am.RelID
				for id := am.RelID(100); id != nextRel; id++ {
					if s.model[id] {
						live = append(live, id)
					}
				}
				if len(live) != 0 {
					s.drop(live[rnd.Intn(len(live))])
				}
			case 3:
				s.savepoint()
			case 4:
				if len(s.subs) != 0 {
					s.rollbackTo(rnd.Intn(len(s.subs)))
				}
			case 5:
				if len(s.subs) != 0 {
					s.release(rnd.Intn(len(s.subs)))
				}
			}

			// Relations which logically exist are always observable.
			for id, live := range s.model {
				if live {
					require.True(t, f.exists(id), "iteration %d step %d rel %d", iter, step, id)
				}
			}
		}

		var expect map[am.RelID]bool
		if rnd.Intn(3) == 0 {
			expect = s.rollback()
		} else {
			expect = s.commit()
		}

		for id := am.RelID(100); id != nextRel; id++ {
			require.Equal(t, expect[id], f.exists(id), "iteration %d rel %d", iter, id)
		}
		require.Equal(t, 0, f.m.Depth())
		require.Empty(t, f.m.Orphans())
	}
}

func TestSavepointScenarios(t *testing.T) {
	t.Run("create and drop at top level", func(t *testing.T) {
		var f = newFixture()
		var s = newSession(t, f, nil)

		s.create(100)
		s.commit()
		require.True(t, f.exists(100))

		s = newSession(t, f, map[am.RelID]bool{100: true})
		s.drop(100)
		s.commit()
		require.False(t, f.exists(100))
	})

	t.Run("create in savepoint, rolled back", func(t *testing.T) {
		var f = newFixture()
		var s = newSession(t, f, nil)

		s.savepoint()
		s.create(100)
		require.True(t, f.exists(100))
		s.rollbackTo(0)
		s.commit()
		require.False(t, f.exists(100))
	})

	t.Run("drop in savepoint, rolled back", func(t *testing.T) {
		var f = newFixture()
		f.preexisting(100)
		var s = newSession(t, f, map[am.RelID]bool{100: true})

		s.savepoint()
		s.drop(100)
		s.rollbackTo(0)
		s.commit()
		require.True(t, f.exists(100))
	})

	t.Run("drop in savepoint, released", func(t *testing.T) {
		var f = newFixture()
		f.preexisting(100)
		var s = newSession(t, f, map[am.RelID]bool{100: true})

		s.savepoint()
		s.drop(100)
		s.release(0)
		require.True(t, f.exists(100))
		s.commit()
		require.False(t, f.exists(100))
	})
}

func copyModel(m map[am.RelID]bool) map[am.RelID]bool {
	var out = make(map[am.RelID]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
