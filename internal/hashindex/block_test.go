package hashindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/diskhash/pkg/serial"
)

func newU32BoolBlockPage(t *testing.T) *BlockPage[serial.U32, serial.Bool] {
	t.Helper()
	bp, err := NewBlockPage[serial.U32, serial.Bool](
		serial.U32(0).SerializedSize(),
		serial.Bool(false).SerializedSize(),
		serial.FromBytesU32,
		serial.FromBytesBool,
	)
	require.NoError(t, err)
	return bp
}

// --- P5: put_slot(s, k, v); key_at(s) == k ∧ value_at(s) == v ---

func TestP5_PutSlotThenReadBack(t *testing.T) {
	bp := newU32BoolBlockPage(t)

	require.NoError(t, bp.PutSlot(3, serial.U32(42), serial.Bool(true)))

	k, err := bp.KeyAt(3)
	require.NoError(t, err)
	require.Equal(t, serial.U32(42), k)

	v, err := bp.ValueAt(3)
	require.NoError(t, err)
	require.Equal(t, serial.Bool(true), v)
}

// --- P6: put_slot; remove_slot; key_at fails SlotNotReadable; put_slot
// again on the same slot fails SlotOccupied (tombstone blocks reuse) ---

func TestP6_RemoveSlotTombstones(t *testing.T) {
	bp := newU32BoolBlockPage(t)

	require.NoError(t, bp.PutSlot(0, serial.U32(1), serial.Bool(false)))
	require.NoError(t, bp.RemoveSlot(0))

	_, err := bp.KeyAt(0)
	require.ErrorIs(t, err, ErrSlotNotReadable)

	err = bp.PutSlot(0, serial.U32(2), serial.Bool(true))
	require.ErrorIs(t, err, ErrSlotOccupied)
}

func TestBlockPage_EmptySlotIsNotOccupiedNorReadable(t *testing.T) {
	bp := newU32BoolBlockPage(t)
	require.False(t, bp.SlotOccupied(0))
	require.False(t, bp.SlotReadable(0))

	_, err := bp.KeyAt(0)
	require.ErrorIs(t, err, ErrSlotNotReadable)
}

func TestBlockPage_PutSlotOccupiedFailsWithoutTombstone(t *testing.T) {
	bp := newU32BoolBlockPage(t)
	require.NoError(t, bp.PutSlot(5, serial.U32(1), serial.Bool(true)))
	require.ErrorIs(t, bp.PutSlot(5, serial.U32(2), serial.Bool(false)), ErrSlotOccupied)
}

func TestBlockPage_BytesRoundTrip(t *testing.T) {
	bp := newU32BoolBlockPage(t)
	require.NoError(t, bp.PutSlot(0, serial.U32(7), serial.Bool(true)))
	require.NoError(t, bp.PutSlot(1, serial.U32(8), serial.Bool(false)))
	require.NoError(t, bp.RemoveSlot(1))

	buf := bp.Bytes()
	require.Len(t, buf, 4096)

	reloaded, err := LoadBlockPage[serial.U32, serial.Bool](
		buf,
		serial.U32(0).SerializedSize(),
		serial.Bool(false).SerializedSize(),
		serial.FromBytesU32,
		serial.FromBytesBool,
	)
	require.NoError(t, err)

	require.True(t, reloaded.SlotOccupied(0))
	require.True(t, reloaded.SlotReadable(0))
	k, err := reloaded.KeyAt(0)
	require.NoError(t, err)
	require.Equal(t, serial.U32(7), k)

	require.True(t, reloaded.SlotOccupied(1))
	require.False(t, reloaded.SlotReadable(1))
}

func TestBlockPage_FractionSlotsOccupied(t *testing.T) {
	bp := newU32BoolBlockPage(t)
	require.Equal(t, 0.0, bp.FractionSlotsOccupied())

	require.NoError(t, bp.PutSlot(0, serial.U32(1), serial.Bool(true)))
	require.InDelta(t, 1.0/float64(bp.NumSlots()), bp.FractionSlotsOccupied(), 1e-9)
}

func TestBlockPage_IterEntries(t *testing.T) {
	bp := newU32BoolBlockPage(t)
	require.NoError(t, bp.PutSlot(0, serial.U32(10), serial.Bool(true)))
	require.NoError(t, bp.PutSlot(1, serial.U32(11), serial.Bool(false)))
	require.NoError(t, bp.RemoveSlot(1))

	entries, err := bp.IterEntries(0, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.True(t, entries[0].Present)
	require.Equal(t, serial.U32(10), entries[0].Key)

	require.False(t, entries[1].Present)
	require.True(t, entries[1].Occupied) // tombstoned, not empty

	require.False(t, entries[2].Present)
	require.False(t, entries[2].Occupied)
}

// --- S4: block page fill, KeyType=u32, ValueType=(bool,f64), entrySize=13,
// N=309. Filling slots 0..N with (i, (true, i/3.0)) then reading back
// yields identical entries; num_slots() = 309. ---

func TestS4_BlockPageFill(t *testing.T) {
	type boolF64 = serial.Pair[serial.Bool, serial.F64]
	decodeValue := serial.NewPairCodec[serial.Bool, serial.F64](
		serial.Bool(false).SerializedSize(),
		serial.F64(0).SerializedSize(),
		serial.FromBytesBool,
		serial.FromBytesF64,
	)

	bp, err := NewBlockPage[serial.U32, boolF64](
		serial.U32(0).SerializedSize(),
		serial.Bool(false).SerializedSize()+serial.F64(0).SerializedSize(),
		serial.FromBytesU32,
		decodeValue,
	)
	require.NoError(t, err)
	require.Equal(t, 309, bp.NumSlots())

	for i := 0; i < bp.NumSlots(); i++ {
		v := boolF64{Head: serial.Bool(true), Tail: serial.F64(float64(i) / 3.0)}
		require.NoError(t, bp.PutSlot(i, serial.U32(i), v))
	}

	for i := 0; i < bp.NumSlots(); i++ {
		k, err := bp.KeyAt(i)
		require.NoError(t, err)
		require.Equal(t, serial.U32(i), k)

		v, err := bp.ValueAt(i)
		require.NoError(t, err)
		require.Equal(t, serial.Bool(true), v.Head)
		require.InDelta(t, float64(i)/3.0, float64(v.Tail), 1e-9)
	}
}

func TestCalculateBlockPageLayout_RejectsZeroAndOversized(t *testing.T) {
	_, err := calculateBlockPageLayout(0)
	require.ErrorIs(t, err, ErrBadValueSize)

	_, err = calculateBlockPageLayout(1 << 20)
	require.ErrorIs(t, err, ErrBadValueSize)
}
