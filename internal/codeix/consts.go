package codeix

// Generation slots and dispatch layout.
const (
	// NumIndexes is the number of logical code generations kept alive
	// at once: one active, one staging, one retiring.
	NumIndexes = 3

	// AddressSlotCount is the physical dispatch array size: one slot per
	// code index plus one reserved for the tracing entry point.
	AddressSlotCount = NumIndexes + 1

	// TraceSlot addresses the reserved instrumentation slot.
	TraceSlot = Index(AddressSlotCount - 1)
)

// Identity bounds.
const (
	// MaxArity is the exclusive ceiling for a callable's arity.
	MaxArity = 1024

	// ArityUnknown marks code reachable only as an error target.
	ArityUnknown = int32(-1)
)

// Code layout.
const (
	// instrBytes is the size of one instruction word.
	instrBytes = 8

	// CodeHeaderBytes is the fixed size of the header preceding every
	// compiled body. headerWords instruction words exactly.
	CodeHeaderBytes = 32
	headerWords     = CodeHeaderBytes / instrBytes
)

// Hardware assumptions shared with the quiescence tracker.
const CacheLineSize = 64
