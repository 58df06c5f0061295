// Package page implements the fixed 4096-byte storage unit (C2) that the
// buffer pool manager loads from and flushes to disk. Pin-count tracking is
// delegated to the adapted locking.RefCount (saturating at zero); all other
// state is plain fields guarded by the caller holding the frame latch at
// the appropriate level, per spec.md §4.2.
package page

import (
	"errors"
	"fmt"

	locking "github.com/tuannm99/diskhash/internal/lock"
	"github.com/tuannm99/diskhash/internal/diskio"
)

// ErrOutOfRange is returned by ReadData/WriteData when offset/size fall
// outside the page's buffer.
var ErrOutOfRange = errors.New("page: out of range")

// Page is a fixed-size, pinnable, dirty-trackable buffer. A Page with no
// backing disk page (freshly cleared) has GetPageID() == diskio.NoPage.
type Page struct {
	id    diskio.PageID
	data  []byte
	pin   *locking.RefCount
	dirty bool
}

// New returns a cleared page (no id, unpinned, clean, zeroed buffer).
func New() *Page {
	p := &Page{
		data: make([]byte, diskio.PageSize),
		pin:  locking.NewRefCount(),
	}
	p.id = diskio.NoPage
	return p
}

// GetPageID returns the page's current id, or diskio.NoPage if absent.
func (p *Page) GetPageID() diskio.PageID { return p.id }

// GetData returns the full backing buffer.
func (p *Page) GetData() []byte { return p.data }

// ReadData returns a copy of size bytes starting at offset.
func (p *Page) ReadData(offset, size int) ([]byte, error) {
	if err := p.checkRange(offset, size); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, p.data[offset:offset+size])
	return out, nil
}

// SetData overwrites the entire buffer and marks the page dirty. len(bytes)
// must equal diskio.PageSize.
func (p *Page) SetData(bytes []byte) error {
	if len(bytes) != diskio.PageSize {
		return fmt.Errorf("page: %w: SetData wants %d bytes, got %d", ErrOutOfRange, diskio.PageSize, len(bytes))
	}
	copy(p.data, bytes)
	p.dirty = true
	return nil
}

// WriteData overwrites size bytes at offset and marks the page dirty.
func (p *Page) WriteData(offset int, bytes []byte) error {
	if err := p.checkRange(offset, len(bytes)); err != nil {
		return err
	}
	copy(p.data[offset:offset+len(bytes)], bytes)
	p.dirty = true
	return nil
}

func (p *Page) checkRange(offset, size int) error {
	if offset < 0 || size < 0 || offset+size > len(p.data) {
		return fmt.Errorf("page: %w: offset=%d size=%d bufLen=%d", ErrOutOfRange, offset, size, len(p.data))
	}
	return nil
}

// IsDirty reports whether the page has unflushed writes.
func (p *Page) IsDirty() bool { return p.dirty }

// SetDirty marks the page dirty.
func (p *Page) SetDirty() { p.dirty = true }

// SetClean marks the page clean (e.g. immediately after a flush).
func (p *Page) SetClean() { p.dirty = false }

// IncreasePinCount increments the pin count.
func (p *Page) IncreasePinCount() { p.pin.Inc() }

// DecreasePinCount decrements the pin count, saturating at zero.
func (p *Page) DecreasePinCount() { p.pin.Dec() }

// GetPinCount returns the current pin count.
func (p *Page) GetPinCount() int32 { return p.pin.Get() }

// Clear resets the page to its freshly-constructed state: pin=0, dirty=false,
// bytes=0, id=absent.
func (p *Page) Clear() {
	for i := range p.data {
		p.data[i] = 0
	}
	p.dirty = false
	p.id = diskio.NoPage
	p.pin = locking.NewRefCount()
}

// Overwrite installs id and bytes into the frame, whatever it held before:
// pin=0, dirty=false, bytes=data, id=Some(id). len(bytes) must equal
// diskio.PageSize.
func (p *Page) Overwrite(id diskio.PageID, bytes []byte) error {
	if len(bytes) != diskio.PageSize {
		return fmt.Errorf("page: %w: Overwrite wants %d bytes, got %d", ErrOutOfRange, diskio.PageSize, len(bytes))
	}
	copy(p.data, bytes)
	p.id = id
	p.dirty = false
	p.pin = locking.NewRefCount()
	return nil
}
