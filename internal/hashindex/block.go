// Package hashindex implements the linear-probing disk hash index (C5-C7):
// hash block pages holding fixed-width key/value slots, header and
// header-extension pages chaining the block pages together, and the table
// handle tying address computation, search/insert/delete, and doubling
// together on top of internal/bufpool.
package hashindex

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/tuannm99/diskhash/internal/diskio"
	"github.com/tuannm99/diskhash/pkg/serial"
)

var (
	// ErrBadValueSize is returned when an entry (key+value) cannot fit even
	// a single slot in a block page.
	ErrBadValueSize = errors.New("hashindex: entry too large for a block page")

	// ErrSlotNotReadable is returned by KeyAt/ValueAt/RemoveSlot on a slot
	// that is not currently readable (either never written, or tombstoned).
	ErrSlotNotReadable = errors.New("hashindex: slot not readable")

	// ErrSlotOccupied is returned by PutSlot on a slot that is occupied,
	// including a tombstoned (occupied but not readable) slot.
	ErrSlotOccupied = errors.New("hashindex: slot occupied")
)

// blockPageLayout is the pure geometry derived from an entry's serialized
// size: how many slots fit in one diskio.PageSize page, and where the two
// bitmaps and the entry array begin.
type blockPageLayout struct {
	entrySize         int
	numSlots          int
	bitmapBytes       int
	occupancyOffset   int
	readabilityOffset int
	entriesOffset     int
}

// calculateBlockPageLayout solves for the largest N such that two N-bit
// bitmaps (occupancy, readability) plus N entries of entrySize bytes fit in
// one page: 2*ceil(N/8) + N*entrySize <= PageSize.
func calculateBlockPageLayout(entrySize int) (blockPageLayout, error) {
	if entrySize <= 0 {
		return blockPageLayout{}, fmt.Errorf("%w: entry size %d", ErrBadValueSize, entrySize)
	}

	n := (diskio.PageSize * 8) / (8*entrySize + 2)
	for n > 0 {
		bitmapBytes := (n + 7) / 8
		if 2*bitmapBytes+n*entrySize <= diskio.PageSize {
			break
		}
		n--
	}
	if n <= 0 {
		return blockPageLayout{}, fmt.Errorf("%w: entry size %d leaves no room for a single slot", ErrBadValueSize, entrySize)
	}

	bitmapBytes := (n + 7) / 8
	return blockPageLayout{
		entrySize:         entrySize,
		numSlots:          n,
		bitmapBytes:       bitmapBytes,
		occupancyOffset:   0,
		readabilityOffset: bitmapBytes,
		entriesOffset:     2 * bitmapBytes,
	}, nil
}

// BlockPageCapacity returns the number of slots a block page holds for a
// given entry size, without constructing a page.
func BlockPageCapacity(entrySize int) (int, error) {
	layout, err := calculateBlockPageLayout(entrySize)
	if err != nil {
		return 0, err
	}
	return layout.numSlots, nil
}

// BlockEntry is one slot's worth of information returned by IterEntries.
type BlockEntry[K serial.Serializable, V serial.Serializable] struct {
	Key      K
	Value    V
	Occupied bool
	Present  bool // readable; Key/Value are only valid when Present
}

// BlockPage is a stateless, in-memory view over one page's worth of
// fixed-width key/value slots. It is constructed from (and flattened back
// to) a page's raw byte buffer by the caller — typically a Table method
// holding a bufpool guard just long enough to load or store the bytes, per
// spec.md's "the block page itself has no pinning concept of its own".
type BlockPage[K serial.Serializable, V serial.Serializable] struct {
	layout      blockPageLayout
	keySize     int
	decodeKey   func([]byte) (K, error)
	decodeValue func([]byte) (V, error)

	occupied *bitset.BitSet
	readable *bitset.BitSet
	entries  []byte // numSlots*entrySize bytes
}

// NewBlockPage constructs an empty block page for the given key/value
// sizes and decoders.
func NewBlockPage[K serial.Serializable, V serial.Serializable](
	keySize, valueSize int,
	decodeKey func([]byte) (K, error),
	decodeValue func([]byte) (V, error),
) (*BlockPage[K, V], error) {
	layout, err := calculateBlockPageLayout(keySize + valueSize)
	if err != nil {
		return nil, err
	}
	return &BlockPage[K, V]{
		layout:      layout,
		keySize:     keySize,
		decodeKey:   decodeKey,
		decodeValue: decodeValue,
		occupied:    bitset.New(uint(layout.numSlots)),
		readable:    bitset.New(uint(layout.numSlots)),
		entries:     make([]byte, layout.numSlots*layout.entrySize),
	}, nil
}

// LoadBlockPage reconstructs a block page from a page's raw PageSize bytes.
func LoadBlockPage[K serial.Serializable, V serial.Serializable](
	buf []byte,
	keySize, valueSize int,
	decodeKey func([]byte) (K, error),
	decodeValue func([]byte) (V, error),
) (*BlockPage[K, V], error) {
	layout, err := calculateBlockPageLayout(keySize + valueSize)
	if err != nil {
		return nil, err
	}
	bp := &BlockPage[K, V]{
		layout:      layout,
		keySize:     keySize,
		decodeKey:   decodeKey,
		decodeValue: decodeValue,
	}
	bp.occupied = unpackBitset(buf[layout.occupancyOffset:layout.readabilityOffset], layout.numSlots)
	bp.readable = unpackBitset(buf[layout.readabilityOffset:layout.entriesOffset], layout.numSlots)
	entriesLen := layout.numSlots * layout.entrySize
	bp.entries = make([]byte, entriesLen)
	copy(bp.entries, buf[layout.entriesOffset:layout.entriesOffset+entriesLen])
	return bp, nil
}

// Bytes flattens the block page back into a full diskio.PageSize buffer.
func (b *BlockPage[K, V]) Bytes() []byte {
	out := make([]byte, diskio.PageSize)
	copy(out[b.layout.occupancyOffset:], packBitset(b.occupied, b.layout.numSlots))
	copy(out[b.layout.readabilityOffset:], packBitset(b.readable, b.layout.numSlots))
	copy(out[b.layout.entriesOffset:], b.entries)
	return out
}

// NumSlots returns N, the number of fixed-width slots this page holds.
func (b *BlockPage[K, V]) NumSlots() int { return b.layout.numSlots }

// SlotOccupied reports whether slot s has ever been written and not since
// freed by doubling (a tombstoned slot is still occupied).
func (b *BlockPage[K, V]) SlotOccupied(s int) bool { return b.occupied.Test(uint(s)) }

// SlotReadable reports whether slot s currently holds a live entry.
func (b *BlockPage[K, V]) SlotReadable(s int) bool { return b.readable.Test(uint(s)) }

func (b *BlockPage[K, V]) entryBytes(s int) []byte {
	off := s * b.layout.entrySize
	return b.entries[off : off+b.layout.entrySize]
}

// KeyAt returns the key stored at slot s. Fails ErrSlotNotReadable if the
// slot is empty or tombstoned.
func (b *BlockPage[K, V]) KeyAt(s int) (K, error) {
	var zero K
	if !b.SlotReadable(s) {
		return zero, ErrSlotNotReadable
	}
	return b.decodeKey(b.entryBytes(s)[:b.keySize])
}

// ValueAt returns the value stored at slot s. Fails ErrSlotNotReadable if
// the slot is empty or tombstoned.
func (b *BlockPage[K, V]) ValueAt(s int) (V, error) {
	var zero V
	if !b.SlotReadable(s) {
		return zero, ErrSlotNotReadable
	}
	return b.decodeValue(b.entryBytes(s)[b.keySize:])
}

// PutSlot writes key/value into slot s, marking it occupied and readable.
// Fails ErrSlotOccupied if the slot is already occupied, including a
// tombstoned slot — insertion never reuses a tombstone, matching the probe
// semantics that terminate only on an unoccupied slot.
func (b *BlockPage[K, V]) PutSlot(s int, key K, value V) error {
	if b.SlotOccupied(s) {
		return ErrSlotOccupied
	}
	eb := b.entryBytes(s)
	copy(eb, key.Bytes())
	copy(eb[b.keySize:], value.Bytes())
	b.occupied.Set(uint(s))
	b.readable.Set(uint(s))
	return nil
}

// RemoveSlot tombstones slot s: readability is cleared but occupancy is
// kept, so later probes still skip over it rather than treating it as an
// insertion point or a probe-terminating gap.
func (b *BlockPage[K, V]) RemoveSlot(s int) error {
	if !b.SlotReadable(s) {
		return ErrSlotNotReadable
	}
	b.readable.Clear(uint(s))
	return nil
}

// IterEntries returns every slot's state in [from, to), clamped to
// NumSlots(). Empty and tombstoned slots are returned with Present=false.
func (b *BlockPage[K, V]) IterEntries(from, to int) ([]BlockEntry[K, V], error) {
	if to > b.layout.numSlots {
		to = b.layout.numSlots
	}
	if from < 0 {
		from = 0
	}
	out := make([]BlockEntry[K, V], 0, to-from)
	for s := from; s < to; s++ {
		occ := b.SlotOccupied(s)
		if !occ || !b.SlotReadable(s) {
			out = append(out, BlockEntry[K, V]{Occupied: occ})
			continue
		}
		k, err := b.KeyAt(s)
		if err != nil {
			return nil, err
		}
		v, err := b.ValueAt(s)
		if err != nil {
			return nil, err
		}
		out = append(out, BlockEntry[K, V]{Key: k, Value: v, Occupied: true, Present: true})
	}
	return out, nil
}

// FractionSlotsOccupied returns occupied-slot-count / NumSlots().
func (b *BlockPage[K, V]) FractionSlotsOccupied() float64 {
	return float64(b.occupied.Count()) / float64(b.layout.numSlots)
}

// unpackBitset/packBitset fix the on-disk bitmap width to ceil(n/8) bytes
// regardless of bits-and-blooms/bitset's internal 64-bit word granularity,
// so the two bitmaps' byte width doesn't depend on n's alignment to 64.
func unpackBitset(buf []byte, n int) *bitset.BitSet {
	bs := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		if buf[i/8]&(1<<uint(i%8)) != 0 {
			bs.Set(uint(i))
		}
	}
	return bs
}

func packBitset(bs *bitset.BitSet, n int) []byte {
	out := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if bs.Test(uint(i)) {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}
