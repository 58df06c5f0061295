package hashindex

import (
	"github.com/cespare/xxhash/v2"

	"github.com/tuannm99/diskhash/internal/alias/bx"
)

// HashFn maps a key's serialized bytes, mixed with the table's seed, to a
// slot address in [0, modulus). Tables are pluggable over HashFn so test
// code can force pathological collision patterns (ConstantHash) without
// needing a weak real hash.
type HashFn func(keyBytes []byte, seed uint64, modulus int) int

// XXHash64 is the default hash family: xxhash.v2 over seed||keyBytes,
// reduced mod modulus. xxhash is the pack's own idiomatic choice for a
// hash table's hash function (see DESIGN.md).
func XXHash64(keyBytes []byte, seed uint64, modulus int) int {
	if modulus <= 0 {
		return 0
	}
	var seedBytes [8]byte
	bx.PutU64(seedBytes[:], seed)

	d := xxhash.New()
	d.Write(seedBytes[:])
	d.Write(keyBytes)
	return int(d.Sum64() % uint64(modulus))
}

// ConstantHash maps every key to slot 0. It exists purely as the
// spec-mandated adversarial test double exercising a table whose every
// insert is a collision.
func ConstantHash(_ []byte, _ uint64, modulus int) int {
	if modulus <= 0 {
		return 0
	}
	return 0
}
