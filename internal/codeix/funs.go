package codeix

import "sync/atomic"

type funView map[FunKey]*FunEntry

// FunTable is the version-indexed registry of anonymous callables. Same
// discipline as ExportTable: per-index immutable views, shared entries,
// per-generation addresses in the dispatch slots.
type FunTable struct {
	views [NumIndexes]atomic.Pointer[funView]

	frozen bool
}

// NewFunTable returns a table with empty views for all indices.
func NewFunTable() *FunTable {
	t := &FunTable{}
	for i := range t.views {
		v := make(funView)
		t.views[i].Store(&v)
	}
	return t
}

// Lookup finds a fun entry in the view of one code index. Wait-free.
func (t *FunTable) Lookup(ix Index, key FunKey) (*FunEntry, bool) {
	v := t.views[ix].Load()
	if v == nil {
		return nil, false
	}
	e, ok := (*v)[key]
	return e, ok
}

// Size returns the number of fun entries visible at one code index.
func (t *FunTable) Size(ix Index) int {
	v := t.views[ix].Load()
	if v == nil {
		return 0
	}
	return len(*v)
}

// PutStaging returns the fun entry for key in the staging view, creating
// it with all-undefined dispatch slots on first use. Writer only.
func (t *FunTable) PutStaging(staging Index, key FunKey, arity int32) *FunEntry {
	if t.frozen {
		panic("codeix: fun mutation after EndStaging")
	}
	v := t.views[staging].Load()
	if e, ok := (*v)[key]; ok {
		return e
	}
	e := &FunEntry{Dispatch: newDispatchTable(), Key: key, Arity: arity}
	(*v)[key] = e
	return e
}

// RangeStaging visits every fun entry in the staging view. Writer only.
func (t *FunTable) RangeStaging(staging Index, fn func(*FunEntry) bool) {
	v := t.views[staging].Load()
	for _, e := range *v {
		if !fn(e) {
			return
		}
	}
}

// StartStaging clones the active view into the staging slot, carrying
// each entry's active address forward.
func (t *FunTable) StartStaging(active, staging Index, expectedNew int) {
	src := t.views[active].Load()
	clone := make(funView, len(*src)+expectedNew)
	for key, e := range *src {
		e.Dispatch.SetAddress(staging, e.Dispatch.AddressFor(active))
		clone[key] = e
	}
	t.views[staging].Store(&clone)
	t.frozen = false
}

// EndStaging freezes the staging view.
func (t *FunTable) EndStaging(Index) {
	t.frozen = true
}

// AbortStaging drops the staged view.
func (t *FunTable) AbortStaging(staging Index) {
	v := make(funView)
	t.views[staging].Store(&v)
	t.frozen = false
}

var _ Versioned = (*FunTable)(nil)
