package codeix

import (
	"fmt"
	"unsafe"
)

// Instr is one instruction word of compiled code.
type Instr uint64

// Opcode markers. OpFuncInfo is written into every header so a scan over
// code can recognize a header in place; OpUnloaded is the single body
// instruction of the shared error-target segment.
const (
	OpFuncInfo Instr = 0xF1
	OpUnloaded Instr = 0xBAD
)

// EntryPoint is the address of the first body instruction of a compiled
// callable. The callable's header always sits CodeHeaderBytes before it
// inside the same allocation.
type EntryPoint *Instr

// FuncID is the identity triple embedded in every header. Module and
// Function are interned symbols or SymbolNone; Arity is in [0,MaxArity)
// or ArityUnknown. The SymbolNone/ArityUnknown combination marks code
// reachable only as an error target (e.g. a call into deleted code).
type FuncID struct {
	Module   Symbol
	Function Symbol
	Arity    int32
}

// CodeHeader immediately precedes a callable's compiled instructions.
// The layout is pointer-free so code segments never burden the GC scan.
type CodeHeader struct {
	Op Instr

	// Instrument is a non-owning handle into the tracing collaborator's
	// breakpoint registry; 0 means none. Only the tracing side writes
	// it, and the identity below stays immutable while it moves between
	// active and retiring roles.
	Instrument uint32
	_          uint32

	ID FuncID
	_  uint32
}

// NewSegment allocates header and body as one pointer-free block and
// returns the entry point. The body must not be empty; a callable has at
// least its terminating instruction.
func NewSegment(id FuncID, body []Instr) EntryPoint {
	if debugAsserts {
		assertFuncID(id)
	}
	if len(body) == 0 {
		panic("codeix: empty code body")
	}

	words := make([]Instr, headerWords+len(body))
	h := (*CodeHeader)(unsafe.Pointer(&words[0]))
	*h = CodeHeader{Op: OpFuncInfo, ID: id}
	copy(words[headerWords:], body)
	return EntryPoint(&words[headerWords])
}

// HeaderOf returns the header preceding a code pointer. Fixed negative
// offset, the exact inverse of CodeOf.
func HeaderOf(code EntryPoint) *CodeHeader {
	h := (*CodeHeader)(unsafe.Add(unsafe.Pointer(code), -CodeHeaderBytes))
	if debugAsserts {
		assertHeader(h)
	}
	return h
}

// CodeOf returns the entry point of the code following a header. Fixed
// positive offset, the exact inverse of HeaderOf.
func CodeOf(h *CodeHeader) EntryPoint {
	if debugAsserts {
		assertHeader(h)
	}
	return EntryPoint((*Instr)(unsafe.Add(unsafe.Pointer(h), CodeHeaderBytes)))
}

// Identity returns the header's identity triple.
func (h *CodeHeader) Identity() FuncID {
	if debugAsserts {
		assertFuncID(h.ID)
	}
	return h.ID
}

// ValidFuncID reports whether id satisfies the header identity
// invariant.
func ValidFuncID(id FuncID) bool {
	if id.Arity != ArityUnknown && (id.Arity < 0 || id.Arity >= MaxArity) {
		return false
	}
	return true
}

func assertFuncID(id FuncID) {
	if !ValidFuncID(id) {
		panic(fmt.Sprintf("codeix: invalid identity triple %+v", id))
	}
}

func assertHeader(h *CodeHeader) {
	if h.Op != OpFuncInfo {
		panic(fmt.Sprintf("codeix: header marker missing (op=%#x)", uint64(h.Op)))
	}
	assertFuncID(h.ID)
}

// unloadedSegment is the shared error target: its header carries the
// designated none/unknown identity and its body traps immediately.
var unloadedSegment = NewSegment(
	FuncID{Module: SymbolNone, Function: SymbolNone, Arity: ArityUnknown},
	[]Instr{OpUnloaded},
)

// Undefined returns the sentinel entry point installed in every dispatch
// slot that has no code for its generation.
func Undefined() EntryPoint {
	return unloadedSegment
}
