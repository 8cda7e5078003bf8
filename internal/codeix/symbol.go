package codeix

import "sync"

// Symbol is an interned name. The zero value is the designated "none"
// sentinel and never maps to a name.
type Symbol uint32

// SymbolNone marks the absence of a module or function name.
const SymbolNone Symbol = 0

// SymbolTable interns module and function names. Interning is
// write-locked; resolving a symbol back to its name takes the read lock
// only. Symbols are never deleted: headers embed them for the process
// lifetime.
type SymbolTable struct {
	mu     sync.RWMutex
	byName map[string]Symbol
	names  []string
}

// NewSymbolTable returns an empty table with Symbol 0 reserved.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: make(map[string]Symbol),
		names:  []string{""}, // slot 0 = SymbolNone
	}
}

// Intern returns the symbol for name, creating it on first use.
func (t *SymbolTable) Intern(name string) Symbol {
	t.mu.RLock()
	s, ok := t.byName[name]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byName[name]; ok {
		return s
	}
	s = Symbol(len(t.names))
	t.names = append(t.names, name)
	t.byName[name] = s
	return s
}

// Lookup returns the symbol for name without interning it.
func (t *SymbolTable) Lookup(name string) (Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byName[name]
	return s, ok
}

// Name resolves a symbol back to its interned name. SymbolNone and
// out-of-range symbols resolve to false.
func (t *SymbolTable) Name(s Symbol) (string, bool) {
	if s == SymbolNone {
		return "", false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(s) >= len(t.names) {
		return "", false
	}
	return t.names[s], true
}

// Len returns the number of interned symbols, excluding the reserved
// none slot.
func (t *SymbolTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names) - 1
}
