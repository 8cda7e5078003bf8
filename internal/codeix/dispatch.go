package codeix

import "fmt"

// DispatchTable is the per-callable array of entry points indexed by
// code index. Named exports and anonymous fun entries share it, so the
// calling convention's fast path is a single indexed load regardless of
// callable kind. Slot TraceSlot is reserved for the instrumentation
// entry point.
//
// Reads need no synchronization: a slot is never mutated while its index
// could be active, and commit publishes all staged writes through the
// Set's active store.
type DispatchTable struct {
	addresses [AddressSlotCount]EntryPoint
}

func newDispatchTable() DispatchTable {
	var d DispatchTable
	for i := range d.addresses {
		d.addresses[i] = Undefined()
	}
	return d
}

// AddressFor returns the entry point for one code index. Callers must
// use an active index cached once for the whole operation.
func (d *DispatchTable) AddressFor(ix Index) EntryPoint {
	if debugAsserts && (ix < 0 || int(ix) >= AddressSlotCount) {
		panic(fmt.Sprintf("codeix: dispatch index %d out of range", ix))
	}
	return d.addresses[ix]
}

// SetAddress installs an entry point for one code index. Written only by
// the loader between StartStaging and EndStaging (staging slot), or by
// the tracing collaborator (trace slot).
func (d *DispatchTable) SetAddress(ix Index, ep EntryPoint) {
	if debugAsserts {
		if ix < 0 || int(ix) >= AddressSlotCount {
			panic(fmt.Sprintf("codeix: dispatch index %d out of range", ix))
		}
		if ep == nil {
			panic("codeix: nil entry point; use Undefined()")
		}
	}
	d.addresses[ix] = ep
}

// Export is a named callable reference (module:function/arity). One
// Export exists per identity for the process lifetime; its dispatch
// slots carry the per-generation addresses.
type Export struct {
	Dispatch DispatchTable
	ID       FuncID
}

// FunKey identifies an anonymous callable: the module that created it
// plus the compiler-assigned index/uniq pair.
type FunKey struct {
	Module Symbol
	Index  uint32
	Uniq   uint32
}

// FunEntry is an anonymous callable reference. A fun whose module was
// deleted dispatches to the Undefined error target until a new
// generation resolves it again.
type FunEntry struct {
	Dispatch DispatchTable
	Key      FunKey
	Arity    int32
}
