package codeix

import "sync/atomic"

type exportView map[FuncID]*Export

// ExportTable is the version-indexed registry of named callables. Each
// code index has its own view; a view is immutable once its index has
// been committed, so lookups against any cached index are a single
// atomic load plus a map read with no locks.
//
// Export values are shared across views. The per-generation state lives
// in each Export's dispatch slots, which StartStaging carries forward
// from the active generation.
type ExportTable struct {
	views [NumIndexes]atomic.Pointer[exportView]

	// Writer-only staging bookkeeping.
	frozen bool
}

// NewExportTable returns a table with empty views for all indices.
func NewExportTable() *ExportTable {
	t := &ExportTable{}
	for i := range t.views {
		v := make(exportView)
		t.views[i].Store(&v)
	}
	return t
}

// Lookup finds an export in the view of one code index. Wait-free.
func (t *ExportTable) Lookup(ix Index, id FuncID) (*Export, bool) {
	v := t.views[ix].Load()
	if v == nil {
		return nil, false
	}
	e, ok := (*v)[id]
	return e, ok
}

// Size returns the number of exports visible at one code index.
func (t *ExportTable) Size(ix Index) int {
	v := t.views[ix].Load()
	if v == nil {
		return 0
	}
	return len(*v)
}

// PutStaging returns the export for id in the staging view, creating it
// with all-undefined dispatch slots on first use. Writer only, between
// StartStaging and EndStaging.
func (t *ExportTable) PutStaging(staging Index, id FuncID) *Export {
	if t.frozen {
		panic("codeix: export mutation after EndStaging")
	}
	v := t.views[staging].Load()
	if e, ok := (*v)[id]; ok {
		return e
	}
	e := &Export{Dispatch: newDispatchTable(), ID: id}
	(*v)[id] = e
	return e
}

// RangeStaging visits every export in the staging view. Writer only.
func (t *ExportTable) RangeStaging(staging Index, fn func(*Export) bool) {
	v := t.views[staging].Load()
	for _, e := range *v {
		if !fn(e) {
			return
		}
	}
}

// StartStaging clones the active view into the staging slot and carries
// every export's active address forward into its staging dispatch slot.
func (t *ExportTable) StartStaging(active, staging Index, expectedNew int) {
	src := t.views[active].Load()
	clone := make(exportView, len(*src)+expectedNew)
	for id, e := range *src {
		e.Dispatch.SetAddress(staging, e.Dispatch.AddressFor(active))
		clone[id] = e
	}
	t.views[staging].Store(&clone)
	t.frozen = false
}

// EndStaging freezes the staging view.
func (t *ExportTable) EndStaging(Index) {
	t.frozen = true
}

// AbortStaging drops the staged view. The discarded entries are never
// observable by readers; the next StartStaging rebuilds from active.
func (t *ExportTable) AbortStaging(staging Index) {
	v := make(exportView)
	t.views[staging].Store(&v)
	t.frozen = false
}

var _ Versioned = (*ExportTable)(nil)
