package codeix

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestNewSetIndices(t *testing.T) {
	s := NewSet()
	if got := s.ActiveIndex(); got != 0 {
		t.Fatalf("initial active index: got=%d want=0", got)
	}
	if got := s.StagingIndex(); got != 1 {
		t.Fatalf("initial staging index: got=%d want=1", got)
	}
}

func TestRotationProperties(t *testing.T) {
	s := NewSet()
	for cycle := 0; cycle < 12; cycle++ {
		oldActive := s.ActiveIndex()
		oldStaging := s.StagingIndex()

		s.StartStaging(0)
		staged := s.StagingIndex()
		if want := retiringOf(oldActive, oldStaging); staged != want {
			t.Fatalf("cycle %d: staged index got=%d want retiring=%d", cycle, staged, want)
		}
		if staged == oldActive {
			t.Fatalf("cycle %d: staging collided with active index %d", cycle, staged)
		}

		s.EndStaging()
		s.CommitStaging()

		newActive := s.ActiveIndex()
		newStaging := s.StagingIndex()
		if newActive != staged {
			t.Fatalf("cycle %d: new active got=%d want staged=%d", cycle, newActive, staged)
		}
		if newActive == newStaging {
			t.Fatalf("cycle %d: active==staging==%d after commit", cycle, newActive)
		}
		if retiring := retiringOf(newActive, newStaging); retiring != oldActive {
			t.Fatalf("cycle %d: new retiring got=%d want old active=%d", cycle, retiring, oldActive)
		}
	}
}

// Readers may only sample ActiveIndex; the staging index belongs to the
// writer, and a reader pairing two independent loads could see a stale
// active against a fresh staging. The collision invariant is therefore
// checked from the writer's side, where both words are its own stores.
func TestIndicesNeverCollideAcrossTransitions(t *testing.T) {
	s := NewSet()

	var stop atomic.Bool
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				if a := s.ActiveIndex(); a < 0 || a >= NumIndexes {
					t.Errorf("active index out of range: %d", a)
					return
				}
			}
		}()
	}

	for cycle := 0; cycle < 2000 && !t.Failed(); cycle++ {
		s.StartStaging(0)
		if a, st := s.ActiveIndex(), s.StagingIndex(); a == st {
			t.Fatalf("cycle %d: active==staging==%d after StartStaging", cycle, a)
		}
		s.EndStaging()
		s.CommitStaging()
		if a, st := s.ActiveIndex(), s.StagingIndex(); a == st {
			t.Fatalf("cycle %d: active==staging==%d after CommitStaging", cycle, a)
		}
	}
	stop.Store(true)
	wg.Wait()
}

type recordingVersioned struct {
	starts []Index
	ends   []Index
	aborts []Index

	lastActive      Index
	lastExpectedNew int
}

func (r *recordingVersioned) StartStaging(active, staging Index, expectedNew int) {
	r.starts = append(r.starts, staging)
	r.lastActive = active
	r.lastExpectedNew = expectedNew
}
func (r *recordingVersioned) EndStaging(staging Index)   { r.ends = append(r.ends, staging) }
func (r *recordingVersioned) AbortStaging(staging Index) { r.aborts = append(r.aborts, staging) }

func TestRegisteredStructureHooks(t *testing.T) {
	s := NewSet()
	rec := &recordingVersioned{}
	s.Register(rec)

	s.StartStaging(7)
	staged := s.StagingIndex()
	if len(rec.starts) != 1 || rec.starts[0] != staged {
		t.Fatalf("start hooks: got=%v want=[%d]", rec.starts, staged)
	}
	if rec.lastActive != 0 || rec.lastExpectedNew != 7 {
		t.Fatalf("start hook args: active=%d expectedNew=%d", rec.lastActive, rec.lastExpectedNew)
	}

	s.EndStaging()
	if len(rec.ends) != 1 || rec.ends[0] != staged {
		t.Fatalf("end hooks: got=%v want=[%d]", rec.ends, staged)
	}
	s.CommitStaging()

	s.StartStaging(0)
	aborted := s.StagingIndex()
	s.AbortStaging()
	if len(rec.aborts) != 1 || rec.aborts[0] != aborted {
		t.Fatalf("abort hooks: got=%v want=[%d]", rec.aborts, aborted)
	}
}

func TestAbortLeavesActiveUntouched(t *testing.T) {
	s := NewSet()
	s.StartStaging(0)
	s.EndStaging()
	s.CommitStaging()

	active := s.ActiveIndex()
	s.StartStaging(3)
	s.AbortStaging()
	if got := s.ActiveIndex(); got != active {
		t.Fatalf("active index changed across abort: got=%d want=%d", got, active)
	}

	// The set must accept a fresh cycle after an abort.
	s.StartStaging(0)
	s.EndStaging()
	s.CommitStaging()
	if got := s.ActiveIndex(); got == active {
		t.Fatalf("commit after abort did not rotate: active still %d", got)
	}
}

func TestBoundWriteCheckGuardsTransitions(t *testing.T) {
	held := false
	s := NewSet()
	s.BindWriteCheck(func() bool { return held })

	held = true
	s.StartStaging(0)
	s.EndStaging()
	s.CommitStaging()

	held = false
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	s.StartStaging(0)
}

func TestSetWithGateWriteCheck(t *testing.T) {
	g := NewGate()
	s := NewSet()
	s.BindWriteCheck(g.Held)

	w := newChanWaiter()
	if !g.TrySeize(w) {
		t.Fatalf("seize failed")
	}
	s.StartStaging(0)
	s.EndStaging()
	s.CommitStaging()
	g.Release()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	s.StartStaging(0)
}

func TestLifecycleOutOfSequencePanics(t *testing.T) {
	cases := []struct {
		name string
		run  func(s *Set)
	}{
		{"EndWhileIdle", func(s *Set) { s.EndStaging() }},
		{"CommitWhileIdle", func(s *Set) { s.CommitStaging() }},
		{"AbortWhileIdle", func(s *Set) { s.AbortStaging() }},
		{"CommitWhileStaged", func(s *Set) { s.StartStaging(0); s.CommitStaging() }},
		{"DoubleStart", func(s *Set) { s.StartStaging(0); s.StartStaging(0) }},
		{"NegativeExpectedNew", func(s *Set) { s.StartStaging(-1) }},
		{"RegisterMidCycle", func(s *Set) { s.StartStaging(0); s.Register(&recordingVersioned{}) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			tc.run(NewSet())
		})
	}
}
