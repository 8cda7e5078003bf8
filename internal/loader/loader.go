// Package loader populates staged code generations: it drives the
// staging lifecycle under write permission, allocates code segments with
// their headers, and installs entry points into the staging dispatch
// slots. It is the only collaborator that mutates version-indexed
// structures.
package loader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiln-vm/kiln/internal/async"
	"github.com/kiln-vm/kiln/internal/checksum"
	"github.com/kiln-vm/kiln/internal/codeix"
	"github.com/kiln-vm/kiln/internal/quiesce"
)

var (
	ErrEmptyModule   = errors.New("module defines no callables")
	ErrEmptyBody     = errors.New("function body is empty")
	ErrBadArity      = errors.New("arity out of range")
	ErrDuplicateFunc = errors.New("duplicate function in module")
	ErrUnknownModule = errors.New("unknown module")
	ErrQueueFull     = errors.New("load queue full")
)

// FunctionDef is one named callable of a module definition.
type FunctionDef struct {
	Name  string
	Arity int
	Body  []codeix.Instr
}

// FunDef is one anonymous callable of a module definition.
type FunDef struct {
	Index uint32
	Uniq  uint32
	Arity int
	Body  []codeix.Instr
}

// ModuleDef is the unit of loading: everything in it becomes visible
// atomically at commit.
type ModuleDef struct {
	Name      string
	Functions []FunctionDef
	Funs      []FunDef
}

// Request is one queued background operation: a load, or a delete when
// Delete is non-empty.
type Request struct {
	Def    ModuleDef
	Delete string
}

// Config wires an Engine. Tracker is optional; without it the engine
// skips quiescence sweeps (single-threaded embedding or tests). Logger
// defaults to slog.Default(). QueueSize must be a power of two and
// defaults to 64.
type Config struct {
	Tracker   *quiesce.Tracker
	Logger    *slog.Logger
	QueueSize uint64

	// ChecksumKey separates fingerprint domains; the zero key is fine
	// for a single-process runtime.
	ChecksumKey [32]byte
}

// Engine owns the code index set, the write-permission gate and the
// version-indexed registries, and exposes the load/upgrade/delete write
// path plus the wait-free read path.
type Engine struct {
	set     *codeix.Set
	gate    *codeix.Gate
	syms    *codeix.SymbolTable
	exports *codeix.ExportTable
	funs    *codeix.FunTable

	tracker    *quiesce.Tracker
	lastCommit []uint64
	hasCommit  bool

	sums      *checksum.Engine
	digestsMu sync.RWMutex
	digests   map[codeix.Symbol]checksum.Digest

	queue *async.RingBuffer[Request]
	log   *slog.Logger
}

// New builds an engine and registers the registries with the set.
func New(cfg Config) *Engine {
	size := cfg.QueueSize
	if size == 0 {
		size = 64
	}
	queue, err := async.NewRingBuffer[Request](size)
	if err != nil {
		panic(fmt.Sprintf("loader: bad queue size %d: %v", size, err))
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		set:     codeix.NewSet(),
		gate:    codeix.NewGate(),
		syms:    codeix.NewSymbolTable(),
		exports: codeix.NewExportTable(),
		funs:    codeix.NewFunTable(),
		tracker: cfg.Tracker,
		sums:    checksum.NewEngine(cfg.ChecksumKey),
		digests: make(map[codeix.Symbol]checksum.Digest),
		queue:   queue,
		log:     log,
	}
	e.set.Register(e.exports)
	e.set.Register(e.funs)
	e.set.BindWriteCheck(e.gate.Held)
	return e
}

func (e *Engine) Set() *codeix.Set             { return e.set }
func (e *Engine) Gate() *codeix.Gate           { return e.gate }
func (e *Engine) Symbols() *codeix.SymbolTable { return e.syms }
func (e *Engine) Exports() *codeix.ExportTable { return e.exports }
func (e *Engine) Funs() *codeix.FunTable       { return e.funs }

// Load stages def as a new code generation and commits it. The caller
// identified by owner must already hold write permission; loading
// without it is a contract violation. Invalid definitions abort the
// staging cycle and leave the active generation untouched.
func (e *Engine) Load(ctx context.Context, owner any, def ModuleDef) error {
	if !e.gate.HasPermission(owner) {
		panic("loader: Load without write permission")
	}
	return e.loadStaged(ctx, def)
}

// Delete stages removal of a module: every affected dispatch slot gets
// the undefined error target. Same permission contract as Load.
func (e *Engine) Delete(ctx context.Context, owner any, module string) error {
	if !e.gate.HasPermission(owner) {
		panic("loader: Delete without write permission")
	}
	return e.deleteStaged(ctx, module)
}

// Resolve is the reader fast path: one ActiveIndex read cached for the
// whole operation, then a single indexed load. Returns false when the
// callable is unknown or dispatches to the undefined error target.
func (e *Engine) Resolve(module, function string, arity int) (codeix.EntryPoint, bool) {
	return e.ResolveAt(e.set.ActiveIndex(), module, function, arity)
}

// ResolveAt resolves against a caller-cached code index. Readers that
// perform several lookups in one logical operation use this with a
// single cached index so the operation stays internally consistent
// across a concurrent commit.
func (e *Engine) ResolveAt(ix codeix.Index, module, function string, arity int) (codeix.EntryPoint, bool) {
	msym, ok := e.syms.Lookup(module)
	if !ok {
		return nil, false
	}
	fsym, ok := e.syms.Lookup(function)
	if !ok {
		return nil, false
	}
	exp, ok := e.exports.Lookup(ix, codeix.FuncID{Module: msym, Function: fsym, Arity: int32(arity)})
	if !ok {
		return nil, false
	}
	ep := exp.Dispatch.AddressFor(ix)
	if ep == codeix.Undefined() {
		return ep, false
	}
	return ep, true
}

func (e *Engine) loadStaged(ctx context.Context, def ModuleDef) error {
	if len(def.Functions) == 0 && len(def.Funs) == 0 {
		return fmt.Errorf("module %q: %w", def.Name, ErrEmptyModule)
	}
	if err := e.awaitQuiescence(ctx); err != nil {
		return fmt.Errorf("quiescence sweep before staging: %w", err)
	}

	loadID := uuid.NewString()
	start := time.Now()
	e.set.StartStaging(len(def.Functions) + len(def.Funs))
	staging := e.set.StagingIndex()

	mod := e.syms.Intern(def.Name)
	seen := make(map[codeix.FuncID]struct{}, len(def.Functions))
	digests := make([]checksum.Digest, 0, len(def.Functions)+len(def.Funs))

	for _, fn := range def.Functions {
		id := codeix.FuncID{Module: mod, Function: e.syms.Intern(fn.Name), Arity: int32(fn.Arity)}
		if err := checkDef(fn.Arity, fn.Body); err != nil {
			e.set.AbortStaging()
			return fmt.Errorf("%s:%s/%d: %w", def.Name, fn.Name, fn.Arity, err)
		}
		if _, dup := seen[id]; dup {
			e.set.AbortStaging()
			return fmt.Errorf("%s:%s/%d: %w", def.Name, fn.Name, fn.Arity, ErrDuplicateFunc)
		}
		seen[id] = struct{}{}

		exp := e.exports.PutStaging(staging, id)
		exp.Dispatch.SetAddress(staging, codeix.NewSegment(id, fn.Body))
		digests = append(digests, e.sums.SumCode(def.Name, fn.Name, int32(fn.Arity), instrWords(fn.Body)))
	}

	for _, f := range def.Funs {
		if err := checkDef(f.Arity, f.Body); err != nil {
			e.set.AbortStaging()
			return fmt.Errorf("%s:fun(%d,%d): %w", def.Name, f.Index, f.Uniq, err)
		}
		key := codeix.FunKey{Module: mod, Index: f.Index, Uniq: f.Uniq}
		id := codeix.FuncID{Module: mod, Function: codeix.SymbolNone, Arity: int32(f.Arity)}
		fe := e.funs.PutStaging(staging, key, int32(f.Arity))
		fe.Dispatch.SetAddress(staging, codeix.NewSegment(id, f.Body))
		digests = append(digests, e.sums.SumCode(def.Name, fmt.Sprintf("-fun-%d-%d-", f.Index, f.Uniq), int32(f.Arity), instrWords(f.Body)))
	}

	e.set.EndStaging()
	e.set.CommitStaging()
	e.snapshotCommit()

	digest := e.sums.Combine(digests)
	e.digestsMu.Lock()
	e.digests[mod] = digest
	e.digestsMu.Unlock()

	e.log.Info("code generation committed",
		"load_id", loadID,
		"module", def.Name,
		"functions", len(def.Functions),
		"funs", len(def.Funs),
		"active_ix", int(e.set.ActiveIndex()),
		"checksum", hex.EncodeToString(digest[:8]),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (e *Engine) deleteStaged(ctx context.Context, module string) error {
	sym, ok := e.syms.Lookup(module)
	if !ok {
		return fmt.Errorf("module %q: %w", module, ErrUnknownModule)
	}
	if err := e.awaitQuiescence(ctx); err != nil {
		return fmt.Errorf("quiescence sweep before staging: %w", err)
	}

	e.set.StartStaging(0)
	staging := e.set.StagingIndex()

	// Entries already dispatching to the error target were removed by an
	// earlier delete; they must not make a repeat delete look like work.
	found := false
	e.exports.RangeStaging(staging, func(exp *codeix.Export) bool {
		if exp.ID.Module == sym && exp.Dispatch.AddressFor(staging) != codeix.Undefined() {
			exp.Dispatch.SetAddress(staging, codeix.Undefined())
			found = true
		}
		return true
	})
	e.funs.RangeStaging(staging, func(fe *codeix.FunEntry) bool {
		if fe.Key.Module == sym && fe.Dispatch.AddressFor(staging) != codeix.Undefined() {
			fe.Dispatch.SetAddress(staging, codeix.Undefined())
			found = true
		}
		return true
	})
	if !found {
		e.set.AbortStaging()
		return fmt.Errorf("module %q: %w", module, ErrUnknownModule)
	}

	e.set.EndStaging()
	e.set.CommitStaging()
	e.snapshotCommit()

	e.digestsMu.Lock()
	delete(e.digests, sym)
	e.digestsMu.Unlock()

	e.log.Info("module deleted",
		"module", module,
		"active_ix", int(e.set.ActiveIndex()),
	)
	return nil
}

// Checksum returns the code fingerprint recorded at the module's most
// recent successful load.
func (e *Engine) Checksum(module string) (checksum.Digest, bool) {
	sym, ok := e.syms.Lookup(module)
	if !ok {
		return checksum.Digest{}, false
	}
	e.digestsMu.RLock()
	defer e.digestsMu.RUnlock()
	d, ok := e.digests[sym]
	return d, ok
}

func instrWords(body []codeix.Instr) []uint64 {
	words := make([]uint64, len(body))
	for i, in := range body {
		words[i] = uint64(in)
	}
	return words
}

func checkDef(arity int, body []codeix.Instr) error {
	if arity < 0 || arity >= codeix.MaxArity {
		return ErrBadArity
	}
	if len(body) == 0 {
		return ErrEmptyBody
	}
	return nil
}

// awaitQuiescence blocks until every worker has passed a safe point
// since the last commit, so the slot about to be staged has no mid-
// flight readers left.
func (e *Engine) awaitQuiescence(ctx context.Context) error {
	if e.tracker == nil || !e.hasCommit {
		return nil
	}
	start := time.Now()
	if err := e.tracker.Wait(ctx, e.lastCommit); err != nil {
		return err
	}
	quiesceWait.Observe(time.Since(start).Seconds())
	return nil
}

func (e *Engine) snapshotCommit() {
	if e.tracker == nil {
		return
	}
	e.lastCommit = e.tracker.Snapshot(e.lastCommit)
	e.hasCommit = true
}
