package hashindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/diskhash/internal/bufpool"
	"github.com/tuannm99/diskhash/internal/diskio"
	"github.com/tuannm99/diskhash/pkg/clockx"
	"github.com/tuannm99/diskhash/pkg/serial"
)

func newTestTablePool(t *testing.T, poolSize int) *bufpool.BufferPoolManager {
	t.Helper()
	disk := diskio.NewMemoryDiskManager()
	return bufpool.New(poolSize, disk, clockx.New(poolSize))
}

func newU32BoolTable(t *testing.T, initialTableSize uint32, hashFn HashFn) *Table[serial.U32, serial.Bool] {
	t.Helper()
	pool := newTestTablePool(t, 64)
	tbl, err := Create[serial.U32, serial.Bool](
		pool,
		serial.U32(0).SerializedSize(),
		serial.Bool(false).SerializedSize(),
		serial.FromBytesU32,
		serial.FromBytesBool,
		initialTableSize,
		hashFn,
		1,
	)
	require.NoError(t, err)
	return tbl
}

// --- P7: insert(k, v); get_single_value(k) = Some(v) ---

func TestP7_InsertThenGetSingleValue(t *testing.T) {
	tbl := newU32BoolTable(t, 16, XXHash64)

	require.NoError(t, tbl.Insert(serial.U32(5), serial.Bool(true)))

	v, ok, err := tbl.GetSingleValue(serial.U32(5))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, serial.Bool(true), v)
}

// --- P8: insert(k,v); insert(k,v) second call DuplicateEntry;
// get_all_values(k) = [v] ---

func TestP8_DuplicateInsertRejected(t *testing.T) {
	tbl := newU32BoolTable(t, 16, XXHash64)

	require.NoError(t, tbl.Insert(serial.U32(9), serial.Bool(true)))
	err := tbl.Insert(serial.U32(9), serial.Bool(true))
	require.ErrorIs(t, err, ErrDuplicateEntry)

	values, err := tbl.GetAllValues(serial.U32(9))
	require.NoError(t, err)
	require.Equal(t, []serial.Bool{true}, values)
}

// --- P9: insert(k,v1); insert(k,v2); delete(k,v1); get_all_values(k) =
// [v2] ---

func TestP9_DeleteOneOfMultipleValuesForSameKey(t *testing.T) {
	type kv = serial.Pair[serial.Bool, serial.U8]
	decodeValue := serial.NewPairCodec[serial.Bool, serial.U8](
		serial.Bool(false).SerializedSize(),
		serial.U8(0).SerializedSize(),
		serial.FromBytesBool,
		serial.FromBytesU8,
	)

	pool := newTestTablePool(t, 64)
	tbl, err := Create[serial.U32, kv](
		pool,
		serial.U32(0).SerializedSize(),
		serial.Bool(false).SerializedSize()+serial.U8(0).SerializedSize(),
		serial.FromBytesU32,
		decodeValue,
		16,
		XXHash64,
		1,
	)
	require.NoError(t, err)

	v1 := kv{Head: serial.Bool(true), Tail: serial.U8(1)}
	v2 := kv{Head: serial.Bool(true), Tail: serial.U8(2)}

	require.NoError(t, tbl.Insert(serial.U32(3), v1))
	require.NoError(t, tbl.Insert(serial.U32(3), v2))
	require.NoError(t, tbl.Delete(serial.U32(3), v1))

	values, err := tbl.GetAllValues(serial.U32(3))
	require.NoError(t, err)
	require.Equal(t, []kv{v2}, values)
}

func TestDelete_MissingEntryFails(t *testing.T) {
	tbl := newU32BoolTable(t, 16, XXHash64)
	err := tbl.Delete(serial.U32(1), serial.Bool(true))
	require.ErrorIs(t, err, ErrDidNotExist)
}

// --- S5: hash doubling. initialTableSize=100, insert (i as f64, i, true)
// keyed by i for i in 0..1000; table size after inserts is 1600
// (ceiling-doubled until physical block capacity holds 1000 with room);
// every key returns its inserted value. ---

type s5Value = serial.Pair[serial.F64, serial.Pair[serial.U32, serial.Bool]]

func decodeS5Value(b []byte) (s5Value, error) {
	return serial.NewPairCodec[serial.F64, serial.Pair[serial.U32, serial.Bool]](
		serial.F64(0).SerializedSize(),
		serial.U32(0).SerializedSize()+serial.Bool(false).SerializedSize(),
		serial.FromBytesF64,
		serial.NewPairCodec[serial.U32, serial.Bool](
			serial.U32(0).SerializedSize(),
			serial.Bool(false).SerializedSize(),
			serial.FromBytesU32,
			serial.FromBytesBool,
		),
	)(b)
}

func TestS5_HashDoublingGrowsAndPreservesEveryKey(t *testing.T) {
	pool := newTestTablePool(t, 64)
	tbl, err := Create[serial.U32, s5Value](
		pool,
		serial.U32(0).SerializedSize(),
		serial.F64(0).SerializedSize()+serial.U32(0).SerializedSize()+serial.Bool(false).SerializedSize(),
		serial.FromBytesU32,
		decodeS5Value,
		100,
		XXHash64,
		1,
	)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		v := s5Value{Head: serial.F64(float64(i)), Tail: serial.Pair[serial.U32, serial.Bool]{Head: serial.U32(i), Tail: serial.Bool(true)}}
		require.NoError(t, tbl.Insert(serial.U32(i), v))
	}

	hp, err := tbl.loadHeader()
	require.NoError(t, err)
	require.Equal(t, uint32(1600), hp.TableSize())

	for i := 0; i < 1000; i++ {
		v, ok, err := tbl.GetSingleValue(serial.U32(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, serial.F64(float64(i)), v.Head)
		require.Equal(t, serial.U32(i), v.Tail.Head)
		require.Equal(t, serial.Bool(true), v.Tail.Tail)
	}
}

// --- S6: linear-probe collision under a constant hash family. insert
// (1,1.0); (2,2.0); (3,3.0): all land in successive slots from the same
// start address. delete(2) leaves a tombstone; get(3) still succeeds. ---

func TestS6_LinearProbeCollisionUnderConstantHash(t *testing.T) {
	tbl := newU32F64TableWithHash(t, 16, ConstantHash)

	require.NoError(t, tbl.Insert(serial.U32(1), serial.F64(1.0)))
	require.NoError(t, tbl.Insert(serial.U32(2), serial.F64(2.0)))
	require.NoError(t, tbl.Insert(serial.U32(3), serial.F64(3.0)))

	require.NoError(t, tbl.Delete(serial.U32(2), serial.F64(2.0)))

	v, ok, err := tbl.GetSingleValue(serial.U32(3))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, serial.F64(3.0), v)

	_, ok, err = tbl.GetSingleValue(serial.U32(2))
	require.NoError(t, err)
	require.False(t, ok)
}

func newU32F64TableWithHash(t *testing.T, initialTableSize uint32, hashFn HashFn) *Table[serial.U32, serial.F64] {
	t.Helper()
	pool := newTestTablePool(t, 64)
	tbl, err := Create[serial.U32, serial.F64](
		pool,
		serial.U32(0).SerializedSize(),
		serial.F64(0).SerializedSize(),
		serial.FromBytesU32,
		serial.FromBytesF64,
		initialTableSize,
		hashFn,
		1,
	)
	require.NoError(t, err)
	return tbl
}

func TestTable_OpenReopensExistingTable(t *testing.T) {
	tbl := newU32BoolTable(t, 16, XXHash64)
	require.NoError(t, tbl.Insert(serial.U32(1), serial.Bool(true)))

	reopened := Open[serial.U32, serial.Bool](
		tbl.pool,
		tbl.HeaderPageID(),
		tbl.HashSeed(),
		serial.U32(0).SerializedSize(),
		serial.Bool(false).SerializedSize(),
		serial.FromBytesU32,
		serial.FromBytesBool,
		XXHash64,
	)

	v, ok, err := reopened.GetSingleValue(serial.U32(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, serial.Bool(true), v)
}

func TestGetSingleValue_MissingKeyReturnsFalse(t *testing.T) {
	tbl := newU32BoolTable(t, 16, XXHash64)
	_, ok, err := tbl.GetSingleValue(serial.U32(123))
	require.NoError(t, err)
	require.False(t, ok)
}

// TestAddBlockPage_ChainsExtensionPageOnceHeaderFull drives addBlockPage
// directly past the header's own block-id capacity, verifying it falls
// back to allocating and chaining an extension page, and that
// GetNthBlockPageID can resolve an id stored past that boundary.
func TestAddBlockPage_ChainsExtensionPageOnceHeaderFull(t *testing.T) {
	tbl := newU32BoolTable(t, 1, XXHash64)

	hp, err := tbl.loadHeader()
	require.NoError(t, err)
	headerCap := hp.capacity()

	// One block page was already added by Create; top up to headerCap,
	// then add a few more to force an extension page.
	existing := len(hp.IterBlockPageIDs())
	var lastID diskio.PageID
	for i := existing; i < headerCap+3; i++ {
		id, err := tbl.addBlockPage()
		require.NoError(t, err)
		lastID = id
	}

	hp, err = tbl.loadHeader()
	require.NoError(t, err)
	require.True(t, hp.ExtensionPageID().Valid())

	gotID, err := tbl.GetNthBlockPageID(headerCap + 2)
	require.NoError(t, err)
	require.Equal(t, lastID, gotID)
}

// Regression: doubling must not leave an adopted extension page's
// headerPageID pointing at the (freed) temporary table's header.
func TestRehomeExtensionChain_RewritesHeaderPageIDOfEveryExtensionPage(t *testing.T) {
	tbl := newU32BoolTable(t, 1, XXHash64)

	hp, err := tbl.loadHeader()
	require.NoError(t, err)
	headerCap := hp.capacity()

	// Force two extension pages to chain off the header.
	existing := len(hp.IterBlockPageIDs())
	for i := existing; i < 2*headerCap+3; i++ {
		_, err := tbl.addBlockPage()
		require.NoError(t, err)
	}

	hp, err = tbl.loadHeader()
	require.NoError(t, err)
	require.True(t, hp.ExtensionPageID().Valid())

	// Simulate adoption from a different (foreign) header page id, as
	// double() does before rehoming.
	foreignHeaderID := diskio.PageID(99999)
	extID := hp.ExtensionPageID()
	var chain []diskio.PageID
	for extID.Valid() {
		chain = append(chain, extID)
		ext, err := tbl.loadExtension(extID)
		require.NoError(t, err)
		ext.SetHeaderPageID(foreignHeaderID)
		require.NoError(t, tbl.saveExtension(extID, ext))
		extID = ext.NextExtensionPageID()
	}
	require.GreaterOrEqual(t, len(chain), 2, "expected at least two extension pages to verify the whole chain is rewritten")

	require.NoError(t, tbl.rehomeExtensionChain(hp.ExtensionPageID()))

	for _, id := range chain {
		ext, err := tbl.loadExtension(id)
		require.NoError(t, err)
		require.Equal(t, tbl.headerPageID, ext.HeaderPageID())
	}
}
