package codeix

import (
	"fmt"
	"sync"
	"testing"
)

func TestSymbolInternAndResolve(t *testing.T) {
	tab := NewSymbolTable()

	a := tab.Intern("lists")
	b := tab.Intern("maps")
	if a == SymbolNone || b == SymbolNone {
		t.Fatalf("interned symbol collided with SymbolNone")
	}
	if a == b {
		t.Fatalf("distinct names interned to the same symbol %d", a)
	}
	if again := tab.Intern("lists"); again != a {
		t.Fatalf("re-intern not idempotent: got=%d want=%d", again, a)
	}

	if name, ok := tab.Name(a); !ok || name != "lists" {
		t.Fatalf("Name(%d): got=%q,%v", a, name, ok)
	}
	if _, ok := tab.Name(SymbolNone); ok {
		t.Fatalf("SymbolNone resolved to a name")
	}
	if _, ok := tab.Name(Symbol(9999)); ok {
		t.Fatalf("out-of-range symbol resolved to a name")
	}

	if s, ok := tab.Lookup("maps"); !ok || s != b {
		t.Fatalf("Lookup(maps): got=%d,%v want=%d,true", s, ok, b)
	}
	if _, ok := tab.Lookup("missing"); ok {
		t.Fatalf("Lookup of an unknown name succeeded")
	}
	if got := tab.Len(); got != 2 {
		t.Fatalf("Len: got=%d want=2", got)
	}
}

func TestSymbolConcurrentIntern(t *testing.T) {
	tab := NewSymbolTable()
	const goroutines = 8
	const names = 100

	results := make([][]Symbol, goroutines)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			results[g] = make([]Symbol, names)
			for i := 0; i < names; i++ {
				results[g][i] = tab.Intern(fmt.Sprintf("mod_%d", i))
			}
		}(g)
	}
	wg.Wait()

	for g := 1; g < goroutines; g++ {
		for i := 0; i < names; i++ {
			if results[g][i] != results[0][i] {
				t.Fatalf("goroutine %d interned mod_%d as %d, goroutine 0 as %d",
					g, i, results[g][i], results[0][i])
			}
		}
	}
	if got := tab.Len(); got != names {
		t.Fatalf("Len after concurrent intern: got=%d want=%d", got, names)
	}
}
