// Package serial implements the fixed-width, big-endian serialization
// capability shared by every on-disk structure in this module: page
// payloads, hash-table keys and values, and header metadata all round-trip
// through the Serializable types defined here.
//
// Go has no trait-style associated functions, so unlike a language where
// from_bytes could live as a static method on the type being decoded,
// decoding is modelled as a free function per type (FromBytesU32, and so
// on) — the idiomatic substitute noted in the teacher's own btree entry
// codec (internal/btree/entry.go), which follows the same encode-function /
// decode-function split.
package serial

import (
	"errors"
	"fmt"
	"math"

	"github.com/tuannm99/diskhash/internal/alias/bx"
)

// ErrInvalidSize is returned when a decode input's length does not match
// the type's SerializedSize.
var ErrInvalidSize = errors.New("serial: invalid size")

// ErrInvalidValue is returned when a decode input has the right length but
// an invalid bit pattern for the target type (only bool can fail this way).
var ErrInvalidValue = errors.New("serial: invalid value")

// Serializable is implemented by every fixed-width encodable type used as a
// key or value in this module.
type Serializable interface {
	SerializedSize() int
	Bytes() []byte
}

func sizeErr(name string, want, got int) error {
	return fmt.Errorf("%s: %w: want %d bytes, got %d", name, ErrInvalidSize, want, got)
}

// --- Unit ---

// Unit is the zero-byte type, used when a hash table's value carries no
// payload (set-membership only).
type Unit struct{}

func (Unit) SerializedSize() int { return 0 }
func (Unit) Bytes() []byte       { return nil }

func FromBytesUnit(b []byte) (Unit, error) {
	if len(b) != 0 {
		return Unit{}, sizeErr("Unit", 0, len(b))
	}
	return Unit{}, nil
}

// --- Bool ---

type Bool bool

func (v Bool) SerializedSize() int { return 1 }

func (v Bool) Bytes() []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func FromBytesBool(b []byte) (Bool, error) {
	if len(b) != 1 {
		return false, sizeErr("Bool", 1, len(b))
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("Bool: %w: byte %d", ErrInvalidValue, b[0])
	}
}

// --- U8 / I8 ---

type U8 uint8

func (v U8) SerializedSize() int { return 1 }
func (v U8) Bytes() []byte       { return []byte{byte(v)} }

func FromBytesU8(b []byte) (U8, error) {
	if len(b) != 1 {
		return 0, sizeErr("U8", 1, len(b))
	}
	return U8(b[0]), nil
}

type I8 int8

func (v I8) SerializedSize() int { return 1 }
func (v I8) Bytes() []byte       { return []byte{byte(v)} }

func FromBytesI8(b []byte) (I8, error) {
	if len(b) != 1 {
		return 0, sizeErr("I8", 1, len(b))
	}
	return I8(int8(b[0])), nil
}

// --- U16 / I16 ---

type U16 uint16

func (v U16) SerializedSize() int { return 2 }

func (v U16) Bytes() []byte {
	b := make([]byte, 2)
	bx.PutU16(b, uint16(v))
	return b
}

func FromBytesU16(b []byte) (U16, error) {
	if len(b) != 2 {
		return 0, sizeErr("U16", 2, len(b))
	}
	return U16(bx.U16(b)), nil
}

type I16 int16

func (v I16) SerializedSize() int { return 2 }

func (v I16) Bytes() []byte {
	b := make([]byte, 2)
	bx.PutU16(b, uint16(v))
	return b
}

func FromBytesI16(b []byte) (I16, error) {
	if len(b) != 2 {
		return 0, sizeErr("I16", 2, len(b))
	}
	return I16(int16(bx.U16(b))), nil
}

// --- U32 / I32 ---

type U32 uint32

func (v U32) SerializedSize() int { return 4 }

func (v U32) Bytes() []byte {
	b := make([]byte, 4)
	bx.PutU32(b, uint32(v))
	return b
}

func FromBytesU32(b []byte) (U32, error) {
	if len(b) != 4 {
		return 0, sizeErr("U32", 4, len(b))
	}
	return U32(bx.U32(b)), nil
}

type I32 int32

func (v I32) SerializedSize() int { return 4 }

func (v I32) Bytes() []byte {
	b := make([]byte, 4)
	bx.PutU32(b, uint32(v))
	return b
}

func FromBytesI32(b []byte) (I32, error) {
	if len(b) != 4 {
		return 0, sizeErr("I32", 4, len(b))
	}
	return I32(int32(bx.U32(b))), nil
}

// --- U64 / I64 ---

type U64 uint64

func (v U64) SerializedSize() int { return 8 }

func (v U64) Bytes() []byte {
	b := make([]byte, 8)
	bx.PutU64(b, uint64(v))
	return b
}

func FromBytesU64(b []byte) (U64, error) {
	if len(b) != 8 {
		return 0, sizeErr("U64", 8, len(b))
	}
	return U64(bx.U64(b)), nil
}

type I64 int64

func (v I64) SerializedSize() int { return 8 }

func (v I64) Bytes() []byte {
	b := make([]byte, 8)
	bx.PutU64(b, uint64(v))
	return b
}

func FromBytesI64(b []byte) (I64, error) {
	if len(b) != 8 {
		return 0, sizeErr("I64", 8, len(b))
	}
	return I64(int64(bx.U64(b))), nil
}

// --- U128 / I128 ---
//
// Go has no native 128-bit integer, so U128/I128 are represented as a
// {Hi, Lo uint64} pair encoded as 16 bytes big-endian (Hi first).

type U128 struct {
	Hi, Lo uint64
}

func (v U128) SerializedSize() int { return 16 }

func (v U128) Bytes() []byte {
	b := make([]byte, 16)
	bx.PutU64At(b, 0, v.Hi)
	bx.PutU64At(b, 8, v.Lo)
	return b
}

func FromBytesU128(b []byte) (U128, error) {
	if len(b) != 16 {
		return U128{}, sizeErr("U128", 16, len(b))
	}
	return U128{Hi: bx.U64At(b, 0), Lo: bx.U64At(b, 8)}, nil
}

type I128 struct {
	Hi uint64 // sign-extended high word
	Lo uint64
}

func (v I128) SerializedSize() int { return 16 }

func (v I128) Bytes() []byte {
	b := make([]byte, 16)
	bx.PutU64At(b, 0, v.Hi)
	bx.PutU64At(b, 8, v.Lo)
	return b
}

func FromBytesI128(b []byte) (I128, error) {
	if len(b) != 16 {
		return I128{}, sizeErr("I128", 16, len(b))
	}
	return I128{Hi: bx.U64At(b, 0), Lo: bx.U64At(b, 8)}, nil
}

// --- F32 / F64 ---

type F32 float32

func (v F32) SerializedSize() int { return 4 }

func (v F32) Bytes() []byte {
	b := make([]byte, 4)
	bx.PutU32(b, math.Float32bits(float32(v)))
	return b
}

func FromBytesF32(b []byte) (F32, error) {
	if len(b) != 4 {
		return 0, sizeErr("F32", 4, len(b))
	}
	return F32(math.Float32frombits(bx.U32(b))), nil
}

type F64 float64

func (v F64) SerializedSize() int { return 8 }

func (v F64) Bytes() []byte {
	b := make([]byte, 8)
	bx.PutU64(b, math.Float64bits(float64(v)))
	return b
}

func FromBytesF64(b []byte) (F64, error) {
	if len(b) != 8 {
		return 0, sizeErr("F64", 8, len(b))
	}
	return F64(math.Float64frombits(bx.U64(b))), nil
}

// --- Pair (right-nested composite keys) ---

// Pair models the right-nested composite-key scheme: an N-arity composite
// key (a, b, c) is represented as Pair[A, Pair[B, C]]{Head: a, Tail: Pair{b,
// c}}, so an arbitrary arity composes without variadic generics.
type Pair[H Serializable, T Serializable] struct {
	Head H
	Tail T
}

func (p Pair[H, T]) SerializedSize() int {
	return p.Head.SerializedSize() + p.Tail.SerializedSize()
}

func (p Pair[H, T]) Bytes() []byte {
	out := make([]byte, 0, p.SerializedSize())
	out = append(out, p.Head.Bytes()...)
	out = append(out, p.Tail.Bytes()...)
	return out
}

// PairDecoder decodes a byte slice into a Pair[H, T], given the component
// decoders for H and T. Go cannot derive DecodeHead/DecodeTail from the type
// parameters alone (no associated functions), so callers close over the two
// decode functions once, typically via NewPairCodec.
type PairDecoder[H Serializable, T Serializable] func([]byte) (Pair[H, T], error)

// NewPairCodec builds a decoder for Pair[H, T] given the head and tail's
// own decode functions and fixed sizes.
func NewPairCodec[H Serializable, T Serializable](
	headSize, tailSize int,
	decodeHead func([]byte) (H, error),
	decodeTail func([]byte) (T, error),
) PairDecoder[H, T] {
	want := headSize + tailSize
	return func(b []byte) (Pair[H, T], error) {
		if len(b) != want {
			return Pair[H, T]{}, sizeErr("Pair", want, len(b))
		}
		h, err := decodeHead(b[:headSize])
		if err != nil {
			return Pair[H, T]{}, err
		}
		t, err := decodeTail(b[headSize:])
		if err != nil {
			return Pair[H, T]{}, err
		}
		return Pair[H, T]{Head: h, Tail: t}, nil
	}
}
