package hashindex

import (
	"errors"

	"github.com/tuannm99/diskhash/internal/alias/bx"
	"github.com/tuannm99/diskhash/internal/diskio"
)

// ErrNoMoreCapacity is returned by AddBlockPageID when a header or
// extension page's block-id array is full.
var ErrNoMoreCapacity = errors.New("hashindex: page has no more block-id capacity")

// Header page layout: fixed BE u32 fields, then a contiguous array of BE
// u32 block page ids, each slot holding diskio.NoPage when unused.
const (
	headerSelfPageIDOffset      = 0
	headerTableSizeOffset       = 4
	headerNextIndOffset         = 8
	headerLSNOffset             = 12
	headerExtensionPageIDOffset = 16
	headerBlockIDsOffset        = 20
)

// HeaderPage is the root metadata page of a hash table: self id, table
// size, the next-free-slot hint, an LSN placeholder, the head of the
// extension-page chain, and as many block page ids as fit in the
// remainder of the page.
type HeaderPage struct {
	buf []byte
}

// NewHeaderPage returns a zero-valued header page; call Initialize before
// use.
func NewHeaderPage() *HeaderPage {
	return &HeaderPage{buf: make([]byte, diskio.PageSize)}
}

// LoadHeaderPage reconstructs a header page from a page's raw bytes.
func LoadHeaderPage(buf []byte) *HeaderPage {
	h := &HeaderPage{buf: make([]byte, diskio.PageSize)}
	copy(h.buf, buf)
	return h
}

// Bytes returns the flattened page buffer.
func (h *HeaderPage) Bytes() []byte {
	return append([]byte(nil), h.buf...)
}

// Initialize sets selfID, tableSize, clears the extension-page pointer, and
// marks every block-id slot empty.
func (h *HeaderPage) Initialize(selfID diskio.PageID, tableSize uint32) {
	bx.PutU32At(h.buf, headerSelfPageIDOffset, uint32(selfID))
	bx.PutU32At(h.buf, headerTableSizeOffset, tableSize)
	bx.PutU32At(h.buf, headerNextIndOffset, 0)
	bx.PutU32At(h.buf, headerLSNOffset, 0)
	bx.PutU32At(h.buf, headerExtensionPageIDOffset, uint32(diskio.NoPage))
	for off := headerBlockIDsOffset; off+4 <= len(h.buf); off += 4 {
		bx.PutU32At(h.buf, off, uint32(diskio.NoPage))
	}
}

func (h *HeaderPage) SelfPageID() diskio.PageID {
	return diskio.PageID(bx.U32At(h.buf, headerSelfPageIDOffset))
}

func (h *HeaderPage) TableSize() uint32 { return bx.U32At(h.buf, headerTableSizeOffset) }

func (h *HeaderPage) SetTableSize(v uint32) { bx.PutU32At(h.buf, headerTableSizeOffset, v) }

func (h *HeaderPage) ExtensionPageID() diskio.PageID {
	return diskio.PageID(bx.U32At(h.buf, headerExtensionPageIDOffset))
}

func (h *HeaderPage) SetExtensionPageID(id diskio.PageID) {
	bx.PutU32At(h.buf, headerExtensionPageIDOffset, uint32(id))
}

// capacity returns how many block-id slots the header's trailing array has.
func (h *HeaderPage) capacity() int {
	return (len(h.buf) - headerBlockIDsOffset) / 4
}

// AddBlockPageID appends id to the first empty block-id slot. Fails
// ErrNoMoreCapacity when the array is full, signalling the caller to chain
// an extension page.
func (h *HeaderPage) AddBlockPageID(id diskio.PageID) error {
	for i := 0; i < h.capacity(); i++ {
		off := headerBlockIDsOffset + i*4
		if bx.U32At(h.buf, off) == uint32(diskio.NoPage) {
			bx.PutU32At(h.buf, off, uint32(id))
			return nil
		}
	}
	return ErrNoMoreCapacity
}

// BlockPageIDAt returns the i-th block-id slot's value, or (NoPage, false)
// if it is empty or out of range.
func (h *HeaderPage) BlockPageIDAt(i int) (diskio.PageID, bool) {
	if i < 0 || i >= h.capacity() {
		return diskio.NoPage, false
	}
	v := bx.U32At(h.buf, headerBlockIDsOffset+i*4)
	if v == uint32(diskio.NoPage) {
		return diskio.NoPage, false
	}
	return diskio.PageID(v), true
}

// IterBlockPageIDs returns every non-empty block-id slot, in slot order.
func (h *HeaderPage) IterBlockPageIDs() []diskio.PageID {
	out := []diskio.PageID{}
	for i := 0; i < h.capacity(); i++ {
		if id, ok := h.BlockPageIDAt(i); ok {
			out = append(out, id)
		}
	}
	return out
}

// copyBlockIDsFrom overwrites this header's block-id array (bytes only —
// not the other fields) with other's. Both headers share the same page
// size and therefore the same array capacity. Used by doubling to fold a
// temporary table's new block-id layout into the original header page.
func (h *HeaderPage) copyBlockIDsFrom(other *HeaderPage) {
	copy(h.buf[headerBlockIDsOffset:], other.buf[headerBlockIDsOffset:])
}

// Extension page layout: headerPageId, previousExtensionPageId,
// nextExtensionPageId, then a contiguous array of BE u32 block page ids.
const (
	extHeaderPageIDOffset = 0
	extPrevOffset         = 4
	extNextOffset         = 8
	extBlockIDsOffset     = 12
)

// ExtensionPage is a link in the header page's doubly-linked chain,
// carrying overflow block-id capacity once the header's own array fills.
type ExtensionPage struct {
	buf []byte
}

// NewExtensionPage returns a zero-valued extension page; call Initialize
// before use.
func NewExtensionPage() *ExtensionPage {
	return &ExtensionPage{buf: make([]byte, diskio.PageSize)}
}

// LoadExtensionPage reconstructs an extension page from a page's raw bytes.
func LoadExtensionPage(buf []byte) *ExtensionPage {
	e := &ExtensionPage{buf: make([]byte, diskio.PageSize)}
	copy(e.buf, buf)
	return e
}

// Bytes returns the flattened page buffer.
func (e *ExtensionPage) Bytes() []byte {
	return append([]byte(nil), e.buf...)
}

// Initialize sets the chain pointers and marks every block-id slot empty.
func (e *ExtensionPage) Initialize(headerID, previous, next diskio.PageID) {
	bx.PutU32At(e.buf, extHeaderPageIDOffset, uint32(headerID))
	bx.PutU32At(e.buf, extPrevOffset, uint32(previous))
	bx.PutU32At(e.buf, extNextOffset, uint32(next))
	for off := extBlockIDsOffset; off+4 <= len(e.buf); off += 4 {
		bx.PutU32At(e.buf, off, uint32(diskio.NoPage))
	}
}

func (e *ExtensionPage) HeaderPageID() diskio.PageID {
	return diskio.PageID(bx.U32At(e.buf, extHeaderPageIDOffset))
}

// SetHeaderPageID rewrites the owning header page id. Used when an
// extension-page chain is adopted by a different header page (doubling).
func (e *ExtensionPage) SetHeaderPageID(id diskio.PageID) {
	bx.PutU32At(e.buf, extHeaderPageIDOffset, uint32(id))
}

func (e *ExtensionPage) PreviousExtensionPageID() diskio.PageID {
	return diskio.PageID(bx.U32At(e.buf, extPrevOffset))
}

func (e *ExtensionPage) NextExtensionPageID() diskio.PageID {
	return diskio.PageID(bx.U32At(e.buf, extNextOffset))
}

func (e *ExtensionPage) SetNextExtensionPageID(id diskio.PageID) {
	bx.PutU32At(e.buf, extNextOffset, uint32(id))
}

func (e *ExtensionPage) capacity() int {
	return (len(e.buf) - extBlockIDsOffset) / 4
}

// AddBlockPageID appends id to the first empty block-id slot. Fails
// ErrNoMoreCapacity when this extension page's array is full.
func (e *ExtensionPage) AddBlockPageID(id diskio.PageID) error {
	for i := 0; i < e.capacity(); i++ {
		off := extBlockIDsOffset + i*4
		if bx.U32At(e.buf, off) == uint32(diskio.NoPage) {
			bx.PutU32At(e.buf, off, uint32(id))
			return nil
		}
	}
	return ErrNoMoreCapacity
}

// BlockPageIDAt returns the i-th block-id slot's value, or (NoPage, false)
// if it is empty or out of range.
func (e *ExtensionPage) BlockPageIDAt(i int) (diskio.PageID, bool) {
	if i < 0 || i >= e.capacity() {
		return diskio.NoPage, false
	}
	v := bx.U32At(e.buf, extBlockIDsOffset+i*4)
	if v == uint32(diskio.NoPage) {
		return diskio.NoPage, false
	}
	return diskio.PageID(v), true
}

// IterBlockPageIDs returns every non-empty block-id slot, in slot order.
func (e *ExtensionPage) IterBlockPageIDs() []diskio.PageID {
	out := []diskio.PageID{}
	for i := 0; i < e.capacity(); i++ {
		if id, ok := e.BlockPageIDAt(i); ok {
			out = append(out, id)
		}
	}
	return out
}
