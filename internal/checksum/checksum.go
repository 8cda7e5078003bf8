// Package checksum fingerprints loaded code. Each module gets a
// deterministic digest over its instruction stream, computed as a
// binary hash tree over fixed-size leaves with domain-separated
// SHA-256 compression, so two loads of identical code always produce
// the same fingerprint regardless of load order.
package checksum

import (
	"crypto/sha256"
	"encoding/binary"
	"sync/atomic"
)

// leafWords is how many instruction words one leaf covers.
const leafWords = 4

// Digest is a module code fingerprint.
type Digest [32]byte

// Stats counts compression calls, split by tree level.
type Stats struct {
	LeafCalls   uint64
	ParentCalls uint64
}

// Engine computes keyed code digests. The key separates fingerprint
// domains (e.g. test fixtures from production code) without changing
// the tree shape.
type Engine struct {
	key [32]byte

	leafCalls   atomic.Uint64
	parentCalls atomic.Uint64
}

// NewEngine returns an engine with the given domain key.
func NewEngine(key [32]byte) *Engine {
	return &Engine{key: key}
}

// SumCode digests one callable's identity and instruction words.
func (e *Engine) SumCode(module, function string, arity int32, words []uint64) Digest {
	leaves := e.hashLeaves(module, function, arity, words)
	for len(leaves) > 1 {
		parents := make([]Digest, 0, (len(leaves)+1)/2)
		for i := 0; i < len(leaves); i += 2 {
			if i+1 == len(leaves) {
				// Odd node is promoted unchanged, keeping the tree
				// shape a function of the leaf count alone.
				parents = append(parents, leaves[i])
				continue
			}
			parents = append(parents, e.hashParent(&leaves[i], &leaves[i+1]))
		}
		leaves = parents
	}
	return leaves[0]
}

// Combine folds per-callable digests into one module digest. Callers
// must pass the digests in a deterministic callable order.
func (e *Engine) Combine(digests []Digest) Digest {
	if len(digests) == 0 {
		return e.hashLeafBytes('E', nil)
	}
	acc := digests[0]
	for i := 1; i < len(digests); i++ {
		acc = e.hashParent(&acc, &digests[i])
	}
	return acc
}

// Stats returns a snapshot of the compression counters.
func (e *Engine) Stats() Stats {
	return Stats{
		LeafCalls:   e.leafCalls.Load(),
		ParentCalls: e.parentCalls.Load(),
	}
}

// ResetStats zeroes the compression counters.
func (e *Engine) ResetStats() {
	e.leafCalls.Store(0)
	e.parentCalls.Store(0)
}

func (e *Engine) hashLeaves(module, function string, arity int32, words []uint64) []Digest {
	n := (len(words) + leafWords - 1) / leafWords
	leaves := make([]Digest, 0, n+1)

	// The identity leaf pins module, function and arity into the tree
	// so renamed copies of the same body never collide.
	ident := make([]byte, 0, len(module)+len(function)+8)
	ident = append(ident, module...)
	ident = append(ident, 0)
	ident = append(ident, function...)
	ident = binary.LittleEndian.AppendUint32(ident, uint32(arity))
	leaves = append(leaves, e.hashLeafBytes('I', ident))

	var buf [leafWords * 8]byte
	for i := 0; i < len(words); i += leafWords {
		end := i + leafWords
		if end > len(words) {
			end = len(words)
		}
		k := 0
		for _, w := range words[i:end] {
			binary.LittleEndian.PutUint64(buf[k:], w)
			k += 8
		}
		leaves = append(leaves, e.hashLeafBytes('L', buf[:k]))
	}
	return leaves
}

func (e *Engine) hashLeafBytes(domain byte, data []byte) Digest {
	e.leafCalls.Add(1)
	h := sha256.New()
	h.Write([]byte{domain})
	h.Write(e.key[:])
	h.Write(data)
	var d Digest
	h.Sum(d[:0])
	return d
}

func (e *Engine) hashParent(left, right *Digest) Digest {
	e.parentCalls.Add(1)
	var buf [65]byte
	buf[0] = 'P'
	copy(buf[1:33], left[:])
	copy(buf[33:65], right[:])
	return sha256.Sum256(buf[:])
}
