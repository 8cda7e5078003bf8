package codeix

import (
	"fmt"
	"sync/atomic"
)

// Index identifies one logical code generation. Values in [0,NumIndexes)
// address generation slots; TraceSlot addresses the reserved
// instrumentation slot of a dispatch table.
type Index int32

// Versioned is implemented by every structure that keeps one slot per
// code index (export registry, fun registry). All hooks run on the task
// holding write permission; no hook may touch any slot other than the
// staging one.
type Versioned interface {
	// StartStaging makes the staging slot a logical clone of the active
	// slot, sized to additionally fit expectedNew fresh callables.
	StartStaging(active, staging Index, expectedNew int)

	// EndStaging freezes the staging slot. No structural mutation is
	// permitted afterwards.
	EndStaging(staging Index)

	// AbortStaging discards the staging slot's contents.
	AbortStaging(staging Index)
}

// Set holds the process-wide pair of atomic code indices and drives the
// staging lifecycle. Readers only ever call ActiveIndex; every other
// method belongs to the task holding the write-permission gate.
//
// Construct one Set per process and pass it explicitly to collaborators;
// there is no package-level instance.
type Set struct {
	active  atomic.Int32
	staging atomic.Int32

	// state is touched only by the writer holding the gate.
	state      stagingState
	structures []Versioned
	writeCheck func() bool
}

type stagingState int32

const (
	stateIdle stagingState = iota
	stateStaged
	stateEnded
)

// NewSet returns a Set with active=0 and staging=1, leaving 2 as the
// implicit retiring index.
func NewSet() *Set {
	s := &Set{}
	s.active.Store(0)
	s.staging.Store(1)
	return s
}

// ActiveIndex returns the current active code index. The value stays
// meaningful for the caller's whole logical operation even if a commit
// lands concurrently; callers must cache it once per operation instead
// of re-reading.
func (s *Set) ActiveIndex() Index {
	return Index(s.active.Load())
}

// StagingIndex returns the staging code index. Valid only for the task
// currently holding write permission.
func (s *Set) StagingIndex() Index {
	return Index(s.staging.Load())
}

// Register adds a version-indexed structure to the staging lifecycle.
// Must be called during engine initialization, before the first
// StartStaging.
func (s *Set) Register(v Versioned) {
	if s.state != stateIdle {
		panic("codeix: Register during an open staging cycle")
	}
	s.structures = append(s.structures, v)
}

// BindWriteCheck installs the write-permission check consulted by every
// staging transition; a transition while the check reports false is a
// contract violation and panics. Typically bound to Gate.Held during
// engine initialization.
func (s *Set) BindWriteCheck(fn func() bool) {
	if s.state != stateIdle {
		panic("codeix: BindWriteCheck during an open staging cycle")
	}
	s.writeCheck = fn
}

func (s *Set) assertWritePermission(op string) {
	if s.writeCheck != nil && !s.writeCheck() {
		panic(fmt.Sprintf("codeix: %s without write permission", op))
	}
}

// retiringOf returns the unique index that is neither active nor staging.
// The three indices always sum to 0+1+2.
func retiringOf(active, staging Index) Index {
	return Index(NumIndexes*(NumIndexes-1)/2) - active - staging
}
