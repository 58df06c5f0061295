package hashindex

import (
	"bytes"
	"errors"
	"math/rand/v2"

	"github.com/tuannm99/diskhash/internal/bufpool"
	"github.com/tuannm99/diskhash/internal/diskio"
	"github.com/tuannm99/diskhash/pkg/serial"
)

var (
	// ErrDuplicateEntry is returned by Insert when the exact (key, value)
	// pair is already present and readable.
	ErrDuplicateEntry = errors.New("hashindex: duplicate entry")

	// ErrDidNotExist is returned by Delete when the (key, value) pair is
	// not found before the probe terminates.
	ErrDidNotExist = errors.New("hashindex: entry did not exist")

	// ErrNoSlotsInTable is returned by addBlockPage when the header's
	// block-id array is full and, after a new extension page has been
	// chained in, the header still links to no extension page to hold the
	// new block page id. addBlockPage chains extension pages on demand, so
	// this is an internal consistency error.
	ErrNoSlotsInTable = errors.New("hashindex: no room to add another block page")

	// ErrNoPageID is an internal consistency error: a block index inside
	// [0, numBlockPages) resolved to no page id.
	ErrNoPageID = errors.New("hashindex: block index resolved to no page id")
)

// Table is the linear-probing hash table handle: a header page id plus the
// hash seed, sufficient to reopen an existing table (spec.md §4.7: "the
// handle is (header_page_id, hash_seed); everything else is derived").
type Table[K serial.Serializable, V serial.Serializable] struct {
	pool         *bufpool.BufferPoolManager
	headerPageID diskio.PageID
	hashSeed     uint64

	keySize, valueSize int
	decodeKey          func([]byte) (K, error)
	decodeValue        func([]byte) (V, error)
	hashFn             HashFn
}

type kvEntry[K, V any] struct {
	Key   K
	Value V
}

// Open reopens an existing table given its handle and codec. It performs
// no I/O; the header page is read lazily by each operation.
func Open[K serial.Serializable, V serial.Serializable](
	pool *bufpool.BufferPoolManager,
	headerPageID diskio.PageID,
	hashSeed uint64,
	keySize, valueSize int,
	decodeKey func([]byte) (K, error),
	decodeValue func([]byte) (V, error),
	hashFn HashFn,
) *Table[K, V] {
	return &Table[K, V]{
		pool:         pool,
		headerPageID: headerPageID,
		hashSeed:     hashSeed,
		keySize:      keySize,
		valueSize:    valueSize,
		decodeKey:    decodeKey,
		decodeValue:  decodeValue,
		hashFn:       hashFn,
	}
}

// Create allocates a fresh header page and enough block (and, if needed,
// extension) pages to hold initialTableSize slots, per spec.md §4.7's
// Create algorithm.
func Create[K serial.Serializable, V serial.Serializable](
	pool *bufpool.BufferPoolManager,
	keySize, valueSize int,
	decodeKey func([]byte) (K, error),
	decodeValue func([]byte) (V, error),
	initialTableSize uint32,
	hashFn HashFn,
	hashSeed uint64,
) (*Table[K, V], error) {
	wg, err := pool.NewPage()
	if err != nil {
		return nil, err
	}
	headerID := wg.PageID()
	hp := NewHeaderPage()
	hp.Initialize(headerID, initialTableSize)
	if err := wg.SetData(hp.Bytes()); err != nil {
		wg.Close()
		return nil, err
	}
	if err := wg.Close(); err != nil {
		return nil, err
	}

	t := &Table[K, V]{
		pool:         pool,
		headerPageID: headerID,
		hashSeed:     hashSeed,
		keySize:      keySize,
		valueSize:    valueSize,
		decodeKey:    decodeKey,
		decodeValue:  decodeValue,
		hashFn:       hashFn,
	}

	n, err := t.blockCapacity()
	if err != nil {
		return nil, err
	}
	b := (int(initialTableSize) + n - 1) / n
	if b < 1 {
		b = 1
	}

	// addBlockPage chains in extension pages on demand once the header's
	// own block-id array fills, so no extension pages need pre-allocating
	// here.
	for i := 0; i < b; i++ {
		if _, err := t.addBlockPage(); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// HeaderPageID returns the table's handle header page id.
func (t *Table[K, V]) HeaderPageID() diskio.PageID { return t.headerPageID }

// HashSeed returns the table's current hash seed (changes across doubling).
func (t *Table[K, V]) HashSeed() uint64 { return t.hashSeed }

func (t *Table[K, V]) entrySize() int { return t.keySize + t.valueSize }

func (t *Table[K, V]) blockCapacity() (int, error) { return BlockPageCapacity(t.entrySize()) }

func (t *Table[K, V]) loadHeader() (*HeaderPage, error) {
	rg, err := t.pool.FetchPage(t.headerPageID)
	if err != nil {
		return nil, err
	}
	defer rg.Close()
	return LoadHeaderPage(rg.Data()), nil
}

func (t *Table[K, V]) saveHeader(hp *HeaderPage) error {
	wg, err := t.pool.FetchPageWritable(t.headerPageID)
	if err != nil {
		return err
	}
	defer wg.Close()
	return wg.SetData(hp.Bytes())
}

func (t *Table[K, V]) loadExtension(id diskio.PageID) (*ExtensionPage, error) {
	rg, err := t.pool.FetchPage(id)
	if err != nil {
		return nil, err
	}
	defer rg.Close()
	return LoadExtensionPage(rg.Data()), nil
}

func (t *Table[K, V]) saveExtension(id diskio.PageID, ext *ExtensionPage) error {
	wg, err := t.pool.FetchPageWritable(id)
	if err != nil {
		return err
	}
	defer wg.Close()
	return wg.SetData(ext.Bytes())
}

func (t *Table[K, V]) loadBlockPage(id diskio.PageID) (*BlockPage[K, V], error) {
	rg, err := t.pool.FetchPage(id)
	if err != nil {
		return nil, err
	}
	defer rg.Close()
	return LoadBlockPage[K, V](rg.Data(), t.keySize, t.valueSize, t.decodeKey, t.decodeValue)
}

func (t *Table[K, V]) saveBlockPage(id diskio.PageID, bp *BlockPage[K, V]) error {
	wg, err := t.pool.FetchPageWritable(id)
	if err != nil {
		return err
	}
	defer wg.Close()
	return wg.SetData(bp.Bytes())
}

// addExtensionPage allocates a new extension page and appends it to the
// tail of the header's extension chain (AddHashTableExtensionPage).
func (t *Table[K, V]) addExtensionPage() (diskio.PageID, error) {
	wg, err := t.pool.NewPage()
	if err != nil {
		return diskio.NoPage, err
	}
	newID := wg.PageID()
	if err := wg.Close(); err != nil {
		return diskio.NoPage, err
	}

	hp, err := t.loadHeader()
	if err != nil {
		return diskio.NoPage, err
	}

	tail := hp.ExtensionPageID()
	if !tail.Valid() {
		hp.SetExtensionPageID(newID)
		if err := t.saveHeader(hp); err != nil {
			return diskio.NoPage, err
		}
		ext := NewExtensionPage()
		ext.Initialize(hp.SelfPageID(), diskio.NoPage, diskio.NoPage)
		if err := t.saveExtension(newID, ext); err != nil {
			return diskio.NoPage, err
		}
		return newID, nil
	}

	curID := tail
	var cur *ExtensionPage
	for {
		cur, err = t.loadExtension(curID)
		if err != nil {
			return diskio.NoPage, err
		}
		next := cur.NextExtensionPageID()
		if !next.Valid() {
			break
		}
		curID = next
	}
	cur.SetNextExtensionPageID(newID)
	if err := t.saveExtension(curID, cur); err != nil {
		return diskio.NoPage, err
	}

	ext := NewExtensionPage()
	ext.Initialize(hp.SelfPageID(), curID, diskio.NoPage)
	if err := t.saveExtension(newID, ext); err != nil {
		return diskio.NoPage, err
	}
	return newID, nil
}

// addBlockPage allocates a new, empty block page and registers its id in
// the header's block-id array, chaining a new extension page first if the
// header (and every existing extension page) is already full.
func (t *Table[K, V]) addBlockPage() (diskio.PageID, error) {
	bp, err := NewBlockPage[K, V](t.keySize, t.valueSize, t.decodeKey, t.decodeValue)
	if err != nil {
		return diskio.NoPage, err
	}

	wg, err := t.pool.NewPage()
	if err != nil {
		return diskio.NoPage, err
	}
	newID := wg.PageID()
	if err := wg.SetData(bp.Bytes()); err != nil {
		wg.Close()
		return diskio.NoPage, err
	}
	if err := wg.Close(); err != nil {
		return diskio.NoPage, err
	}

	hp, err := t.loadHeader()
	if err != nil {
		return diskio.NoPage, err
	}
	if err := hp.AddBlockPageID(newID); err == nil {
		if err := t.saveHeader(hp); err != nil {
			return diskio.NoPage, err
		}
		return newID, nil
	}

	extID := hp.ExtensionPageID()
	for extID.Valid() {
		ext, err := t.loadExtension(extID)
		if err != nil {
			return diskio.NoPage, err
		}
		if err := ext.AddBlockPageID(newID); err == nil {
			if err := t.saveExtension(extID, ext); err != nil {
				return diskio.NoPage, err
			}
			return newID, nil
		}
		extID = ext.NextExtensionPageID()
	}

	if _, err := t.addExtensionPage(); err != nil {
		return diskio.NoPage, err
	}
	hp, err = t.loadHeader()
	if err != nil {
		return diskio.NoPage, err
	}
	extID = hp.ExtensionPageID()
	var lastExt *ExtensionPage
	var lastExtID diskio.PageID
	for extID.Valid() {
		ext, err := t.loadExtension(extID)
		if err != nil {
			return diskio.NoPage, err
		}
		lastExt, lastExtID = ext, extID
		extID = ext.NextExtensionPageID()
	}
	if lastExt == nil {
		return diskio.NoPage, ErrNoSlotsInTable
	}
	if err := lastExt.AddBlockPageID(newID); err != nil {
		return diskio.NoPage, err
	}
	if err := t.saveExtension(lastExtID, lastExt); err != nil {
		return diskio.NoPage, err
	}
	return newID, nil
}

// GetNthBlockPageID resolves block index n (0-based, across the header's
// own array then each extension page's array in chain order) to a page id.
func (t *Table[K, V]) GetNthBlockPageID(n int) (diskio.PageID, error) {
	hp, err := t.loadHeader()
	if err != nil {
		return diskio.NoPage, err
	}
	return t.nthBlockPageID(hp, n)
}

func (t *Table[K, V]) nthBlockPageID(hp *HeaderPage, n int) (diskio.PageID, error) {
	headerCap := hp.capacity()
	if n < headerCap {
		id, ok := hp.BlockPageIDAt(n)
		if !ok {
			return diskio.NoPage, ErrNoPageID
		}
		return id, nil
	}

	remaining := n - headerCap
	extID := hp.ExtensionPageID()
	for extID.Valid() {
		ext, err := t.loadExtension(extID)
		if err != nil {
			return diskio.NoPage, err
		}
		extCap := ext.capacity()
		if remaining < extCap {
			id, ok := ext.BlockPageIDAt(remaining)
			if !ok {
				return diskio.NoPage, ErrNoPageID
			}
			return id, nil
		}
		remaining -= extCap
		extID = ext.NextExtensionPageID()
	}
	return diskio.NoPage, ErrNoPageID
}

// address computes (blockIndex, slotInBlock) for hash value h over a table
// with n slots per block page (spec.md: address(h) = (h/N, h mod N)).
func address(h, n int) (int, int) { return h / n, h % n }

func bytesEqual[T serial.Serializable](a, b T) bool {
	return bytes.Equal(a.Bytes(), b.Bytes())
}

// GetSingleValue returns the first value found for key, walking the probe
// sequence starting at address(hash(key)) until an unoccupied slot or a
// full wrap is reached.
func (t *Table[K, V]) GetSingleValue(key K) (V, bool, error) {
	var zero V
	hp, err := t.loadHeader()
	if err != nil {
		return zero, false, err
	}
	n, err := t.blockCapacity()
	if err != nil {
		return zero, false, err
	}
	tableSize := int(hp.TableSize())
	numBlocks := (tableSize + n - 1) / n

	h := t.hashFn(key.Bytes(), t.hashSeed, tableSize)
	startBlock, startSlot := address(h, n)
	blockIdx, slot := startBlock, startSlot

	for first := true; ; {
		if !first && blockIdx == startBlock && slot == startSlot {
			return zero, false, nil
		}
		first = false

		pageID, err := t.nthBlockPageID(hp, blockIdx)
		if err != nil {
			return zero, false, err
		}
		bp, err := t.loadBlockPage(pageID)
		if err != nil {
			return zero, false, err
		}

		if !bp.SlotOccupied(slot) {
			return zero, false, nil
		}
		if bp.SlotReadable(slot) {
			k, err := bp.KeyAt(slot)
			if err != nil {
				return zero, false, err
			}
			if bytesEqual(k, key) {
				v, err := bp.ValueAt(slot)
				if err != nil {
					return zero, false, err
				}
				return v, true, nil
			}
		}

		slot++
		if slot >= n {
			slot = 0
			blockIdx = (blockIdx + 1) % numBlocks
		}
	}
}

// GetAllValues returns every value stored for key, in probe order.
func (t *Table[K, V]) GetAllValues(key K) ([]V, error) {
	hp, err := t.loadHeader()
	if err != nil {
		return nil, err
	}
	n, err := t.blockCapacity()
	if err != nil {
		return nil, err
	}
	tableSize := int(hp.TableSize())
	numBlocks := (tableSize + n - 1) / n

	h := t.hashFn(key.Bytes(), t.hashSeed, tableSize)
	startBlock, startSlot := address(h, n)
	blockIdx, slot := startBlock, startSlot

	var values []V
	for first := true; ; {
		if !first && blockIdx == startBlock && slot == startSlot {
			break
		}
		first = false

		pageID, err := t.nthBlockPageID(hp, blockIdx)
		if err != nil {
			return nil, err
		}
		bp, err := t.loadBlockPage(pageID)
		if err != nil {
			return nil, err
		}

		if !bp.SlotOccupied(slot) {
			break
		}
		if bp.SlotReadable(slot) {
			k, err := bp.KeyAt(slot)
			if err != nil {
				return nil, err
			}
			if bytesEqual(k, key) {
				v, err := bp.ValueAt(slot)
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
		}

		slot++
		if slot >= n {
			slot = 0
			blockIdx = (blockIdx + 1) % numBlocks
		}
	}
	return values, nil
}

// Insert places (key, value) at the first unoccupied slot on its probe
// sequence. A readable slot already holding the exact pair fails
// ErrDuplicateEntry. If the probe sequence fully wraps without finding an
// unoccupied slot, the table doubles and the insert is retried.
func (t *Table[K, V]) Insert(key K, value V) error {
	hp, err := t.loadHeader()
	if err != nil {
		return err
	}
	n, err := t.blockCapacity()
	if err != nil {
		return err
	}
	tableSize := int(hp.TableSize())
	numBlocks := (tableSize + n - 1) / n

	h := t.hashFn(key.Bytes(), t.hashSeed, tableSize)
	startBlock, startSlot := address(h, n)
	blockIdx, slot := startBlock, startSlot

	for first := true; ; {
		if !first && blockIdx == startBlock && slot == startSlot {
			if err := t.double(); err != nil {
				return err
			}
			return t.Insert(key, value)
		}
		first = false

		pageID, err := t.nthBlockPageID(hp, blockIdx)
		if err != nil {
			return err
		}
		bp, err := t.loadBlockPage(pageID)
		if err != nil {
			return err
		}

		if bp.SlotReadable(slot) {
			k, err := bp.KeyAt(slot)
			if err != nil {
				return err
			}
			if bytesEqual(k, key) {
				v, err := bp.ValueAt(slot)
				if err != nil {
					return err
				}
				if bytesEqual(v, value) {
					return ErrDuplicateEntry
				}
			}
		}

		if !bp.SlotOccupied(slot) {
			if err := bp.PutSlot(slot, key, value); err != nil {
				return err
			}
			return t.saveBlockPage(pageID, bp)
		}

		slot++
		if slot >= n {
			slot = 0
			blockIdx = (blockIdx + 1) % numBlocks
		}
	}
}

// Delete removes the first readable (key, value) match found on the probe
// sequence. The probe terminates at the first unoccupied slot — consistent
// with Insert, which never overwrites a tombstone, an occupied=0 slot is
// proof no matching entry was ever inserted past this point on this probe
// sequence.
func (t *Table[K, V]) Delete(key K, value V) error {
	hp, err := t.loadHeader()
	if err != nil {
		return err
	}
	n, err := t.blockCapacity()
	if err != nil {
		return err
	}
	tableSize := int(hp.TableSize())
	numBlocks := (tableSize + n - 1) / n

	h := t.hashFn(key.Bytes(), t.hashSeed, tableSize)
	startBlock, startSlot := address(h, n)
	blockIdx, slot := startBlock, startSlot

	for first := true; ; {
		if !first && blockIdx == startBlock && slot == startSlot {
			return ErrDidNotExist
		}
		first = false

		pageID, err := t.nthBlockPageID(hp, blockIdx)
		if err != nil {
			return err
		}
		bp, err := t.loadBlockPage(pageID)
		if err != nil {
			return err
		}

		if !bp.SlotOccupied(slot) {
			return ErrDidNotExist
		}
		if bp.SlotReadable(slot) {
			k, err := bp.KeyAt(slot)
			if err != nil {
				return err
			}
			if bytesEqual(k, key) {
				v, err := bp.ValueAt(slot)
				if err != nil {
					return err
				}
				if bytesEqual(v, value) {
					if err := bp.RemoveSlot(slot); err != nil {
						return err
					}
					return t.saveBlockPage(pageID, bp)
				}
			}
		}

		slot++
		if slot >= n {
			slot = 0
			blockIdx = (blockIdx + 1) % numBlocks
		}
	}
}

// allChainPageIDs returns every block page id (header array + every
// extension page's array, in chain order) and every extension page id.
func (t *Table[K, V]) allChainPageIDs(hp *HeaderPage) ([]diskio.PageID, []diskio.PageID, error) {
	blockIDs := append([]diskio.PageID(nil), hp.IterBlockPageIDs()...)
	var extIDs []diskio.PageID
	extID := hp.ExtensionPageID()
	for extID.Valid() {
		extIDs = append(extIDs, extID)
		ext, err := t.loadExtension(extID)
		if err != nil {
			return nil, nil, err
		}
		blockIDs = append(blockIDs, ext.IterBlockPageIDs()...)
		extID = ext.NextExtensionPageID()
	}
	return blockIDs, extIDs, nil
}

// rehomeExtensionChain walks the extension-page chain starting at extID and
// rewrites each page's headerPageId to this table's header page id.
func (t *Table[K, V]) rehomeExtensionChain(extID diskio.PageID) error {
	for extID.Valid() {
		ext, err := t.loadExtension(extID)
		if err != nil {
			return err
		}
		ext.SetHeaderPageID(t.headerPageID)
		if err := t.saveExtension(extID, ext); err != nil {
			return err
		}
		extID = ext.NextExtensionPageID()
	}
	return nil
}

func (t *Table[K, V]) allEntries(hp *HeaderPage) ([]kvEntry[K, V], error) {
	blockIDs, _, err := t.allChainPageIDs(hp)
	if err != nil {
		return nil, err
	}
	var out []kvEntry[K, V]
	for _, id := range blockIDs {
		bp, err := t.loadBlockPage(id)
		if err != nil {
			return nil, err
		}
		entries, err := bp.IterEntries(0, bp.NumSlots())
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Present {
				out = append(out, kvEntry[K, V]{Key: e.Key, Value: e.Value})
			}
		}
	}
	return out, nil
}

// double grows the table to 2x its current size: build a temporary table
// at the doubled size with a fresh random seed, re-insert every live
// entry, fold the temporary table's header fields and seed back into this
// table, then call DeletePage on the old block and extension pages and on
// the temporary header page. DeletePage deallocates only pages resident in
// the pool; old pages that have already been evicted are left allocated on
// disk.
func (t *Table[K, V]) double() error {
	oldHeader, err := t.loadHeader()
	if err != nil {
		return err
	}

	oldBlockIDs, oldExtIDs, err := t.allChainPageIDs(oldHeader)
	if err != nil {
		return err
	}

	entries, err := t.allEntries(oldHeader)
	if err != nil {
		return err
	}

	newSize := oldHeader.TableSize() * 2
	newSeed := rand.Uint64()

	tmp, err := Create[K, V](t.pool, t.keySize, t.valueSize, t.decodeKey, t.decodeValue, newSize, t.hashFn, newSeed)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := tmp.Insert(e.Key, e.Value); err != nil && !errors.Is(err, ErrDuplicateEntry) {
			return err
		}
	}

	tmpHeader, err := tmp.loadHeader()
	if err != nil {
		return err
	}

	newHeader, err := t.loadHeader()
	if err != nil {
		return err
	}
	newHeader.SetTableSize(tmpHeader.TableSize())
	newHeader.SetExtensionPageID(tmpHeader.ExtensionPageID())
	newHeader.copyBlockIDsFrom(tmpHeader)
	if err := t.saveHeader(newHeader); err != nil {
		return err
	}
	t.hashSeed = newSeed

	// The adopted extension pages were initialized under tmp's header page
	// id, which is deleted below. Re-point each at this table's (unchanged)
	// header page id so ExtensionPage.HeaderPageID stays valid.
	if err := t.rehomeExtensionChain(newHeader.ExtensionPageID()); err != nil {
		return err
	}

	for _, id := range oldBlockIDs {
		if err := t.pool.DeletePage(id); err != nil {
			return err
		}
	}
	for _, id := range oldExtIDs {
		if err := t.pool.DeletePage(id); err != nil {
			return err
		}
	}
	return t.pool.DeletePage(tmp.headerPageID)
}
