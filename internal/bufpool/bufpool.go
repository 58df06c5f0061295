// Package bufpool implements the fixed-size buffer pool manager (C4):
// frame table, page table, free-frame list, and a pluggable victim policy,
// sitting on top of an external diskio.DiskManager. Adapted from the
// teacher's internal/bufferpool package (pool.go's frame/page-table/
// free-list design, global_pool.go's Replacer abstraction), generalized
// from the teacher's own hand-rolled page format to this module's
// fixed-4096-byte page.Page and exact fetch/evict/delete algorithms.
package bufpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/diskhash/internal/diskio"
	"github.com/tuannm99/diskhash/internal/page"
)

var (
	// ErrPageNotInPool is returned by FetchPage/FetchPageWritable on a
	// cache miss with no freeable frame, and by UnpinPage/FlushPage when
	// the page id is not resident.
	ErrPageNotInPool = errors.New("bufpool: page not in pool")

	// ErrNoFrameAvailable is returned by NewPage when every resident frame
	// is pinned.
	ErrNoFrameAvailable = errors.New("bufpool: no frame available")

	// ErrPageInUse is returned by DeletePage when the page's pin count is
	// nonzero.
	ErrPageInUse = errors.New("bufpool: page in use")
)

// Replacer is the victim-policy abstraction the pool depends on, matching
// pkg/clockx.Replacer's method set structurally — the pool is not coupled
// to CLOCK specifically (spec: "a pluggable victim policy").
type Replacer interface {
	Pin(frame int) error
	Unpin(frame int) error
	Victim() (frame int, ok bool)
	Size() int
}

// BufferPoolManager is the fixed-size pool of page frames backed by disk.
//
// Owned state and its latch, mirroring spec.md §4.4:
//   - mu guards pageTable and freeFrames together (collapsed from the
//     spec's two distinct latch levels — see DESIGN.md).
//   - replacer has its own internal synchronization.
//   - disk has its own internal synchronization.
//   - frameLocks[f] is frames[f]'s independent latch; once taken the
//     others may be released.
type BufferPoolManager struct {
	mu sync.Mutex

	disk     diskio.DiskManager
	replacer Replacer

	frames     []*page.Page
	frameLocks []sync.RWMutex
	pageTable  map[diskio.PageID]int
	freeFrames []int

	logger *slog.Logger
}

// New returns a pool with poolSize frames backed by disk, using replacer as
// the victim policy.
func New(poolSize int, disk diskio.DiskManager, replacer Replacer) *BufferPoolManager {
	frames := make([]*page.Page, poolSize)
	for i := range frames {
		frames[i] = page.New()
	}
	free := make([]int, poolSize)
	for i := range free {
		free[i] = i
	}
	return &BufferPoolManager{
		disk:       disk,
		replacer:   replacer,
		frames:     frames,
		frameLocks: make([]sync.RWMutex, poolSize),
		pageTable:  make(map[diskio.PageID]int),
		freeFrames: free,
		logger:     slog.Default(),
	}
}

// getFreeableFrame returns a frame to (re)use: an untouched free frame if
// one exists, otherwise a victim from the replacer. Caller must hold mu.
func (bp *BufferPoolManager) getFreeableFrame() (int, bool) {
	if n := len(bp.freeFrames); n > 0 {
		f := bp.freeFrames[n-1]
		bp.freeFrames = bp.freeFrames[:n-1]
		return f, true
	}
	return bp.replacer.Victim()
}

// swapFrame evicts frame f's current resident (flushing if dirty) and
// installs id in the page table, pinning the frame in the replacer so it
// is not handed out again as a victim while loading. Caller must hold mu
// and frameLocks[f] (exclusively).
func (bp *BufferPoolManager) swapFrame(f int, id diskio.PageID) error {
	frame := bp.frames[f]
	if oldID := frame.GetPageID(); oldID.Valid() {
		if frame.IsDirty() {
			if err := bp.disk.WritePage(oldID, frame.GetData()); err != nil {
				return fmt.Errorf("bufpool: evict flush page %d: %w", oldID, err)
			}
			frame.SetClean()
		}
		delete(bp.pageTable, oldID)
		bp.logger.Debug("bufpool evict", "pageID", oldID, "frameID", f)
	}
	bp.pageTable[id] = f
	return bp.replacer.Pin(f)
}

// fetch implements the shared hit/miss path for FetchPage and
// FetchPageWritable. The returned guard's "shared" vs "exclusive" latch
// mode only governs how its Data/ReadAt/WriteAt accessors latch the frame
// per call (see guard.go) — the latch itself is not held across the
// guard's whole lifetime, since a pin can outlive any single access and
// this module's guards must be safely fetchable re-entrantly (P2: an
// immediate fetch_page right after new_page, before any unpin, must
// succeed rather than deadlock on a latch the first guard is still
// holding).
func (bp *BufferPoolManager) fetch(id diskio.PageID) (*page.Page, int, error) {
	bp.mu.Lock()

	if f, ok := bp.pageTable[id]; ok {
		frame := bp.frames[f]
		frame.IncreasePinCount()
		if err := bp.replacer.Pin(f); err != nil {
			bp.mu.Unlock()
			return nil, 0, err
		}
		bp.mu.Unlock()
		bp.logger.Debug("bufpool hit", "pageID", id, "frameID", f, "dirty", frame.IsDirty())
		return frame, f, nil
	}

	f, ok := bp.getFreeableFrame()
	if !ok {
		bp.mu.Unlock()
		return nil, 0, ErrPageNotInPool
	}

	frame := bp.frames[f]
	bp.frameLocks[f].Lock()
	if err := bp.swapFrame(f, id); err != nil {
		bp.frameLocks[f].Unlock()
		bp.mu.Unlock()
		return nil, 0, err
	}
	bp.mu.Unlock()

	data := make([]byte, diskio.PageSize)
	if err := bp.disk.ReadPage(id, data); err != nil {
		bp.frameLocks[f].Unlock()
		return nil, 0, fmt.Errorf("bufpool: load page %d: %w", id, err)
	}
	err := frame.Overwrite(id, data)
	if err != nil {
		bp.frameLocks[f].Unlock()
		return nil, 0, err
	}
	// Pin before releasing the frame latch: a concurrent DeletePage(id)
	// must never observe this frame as pin count zero once id is installed
	// in the page table (swapFrame, above, under mu).
	frame.IncreasePinCount()
	bp.frameLocks[f].Unlock()
	bp.logger.Debug("bufpool miss", "pageID", id, "frameID", f)
	return frame, f, nil
}

// FetchPage returns a shared-latched guard on id, loading it from disk on
// a cache miss.
func (bp *BufferPoolManager) FetchPage(id diskio.PageID) (*ReadGuard, error) {
	frame, f, err := bp.fetch(id)
	if err != nil {
		return nil, err
	}
	return &ReadGuard{pool: bp, frameIdx: f, page: frame}, nil
}

// FetchPageWritable returns an exclusive-latched guard on id, loading it
// from disk on a cache miss.
func (bp *BufferPoolManager) FetchPageWritable(id diskio.PageID) (*WriteGuard, error) {
	frame, f, err := bp.fetch(id)
	if err != nil {
		return nil, err
	}
	return &WriteGuard{pool: bp, frameIdx: f, page: frame}, nil
}

// NewPage allocates a fresh page on disk and returns an exclusive-latched
// guard over it.
func (bp *BufferPoolManager) NewPage() (*WriteGuard, error) {
	bp.mu.Lock()

	// Precheck: a frame must be freeable, or the id disk.AllocatePage
	// returns below would be leaked (spec.md §9).
	if len(bp.freeFrames) == 0 && bp.replacer.Size() == 0 {
		bp.mu.Unlock()
		return nil, ErrNoFrameAvailable
	}

	id, err := bp.disk.AllocatePage()
	if err != nil {
		bp.mu.Unlock()
		return nil, fmt.Errorf("bufpool: allocate page: %w", err)
	}

	f, ok := bp.getFreeableFrame()
	if !ok {
		bp.mu.Unlock()
		return nil, ErrNoFrameAvailable
	}

	frame := bp.frames[f]
	bp.frameLocks[f].Lock()
	if err := bp.swapFrame(f, id); err != nil {
		bp.frameLocks[f].Unlock()
		bp.mu.Unlock()
		return nil, err
	}
	bp.mu.Unlock()

	zeros := make([]byte, diskio.PageSize)
	err = frame.Overwrite(id, zeros)
	if err != nil {
		bp.frameLocks[f].Unlock()
		return nil, err
	}
	// Pin before releasing the frame latch, for the same reason as the
	// fetch() miss path above.
	frame.IncreasePinCount()
	bp.frameLocks[f].Unlock()
	bp.logger.Debug("bufpool new page", "pageID", id, "frameID", f)

	return &WriteGuard{pool: bp, frameIdx: f, page: frame}, nil
}

// UnpinPage decrements id's pin count, marking it dirty if dirty is true.
// When the pin count reaches zero the frame becomes eligible for eviction.
func (bp *BufferPoolManager) UnpinPage(id diskio.PageID, dirty bool) error {
	bp.mu.Lock()
	f, ok := bp.pageTable[id]
	bp.mu.Unlock()
	if !ok {
		return ErrPageNotInPool
	}

	bp.frameLocks[f].Lock()
	defer bp.frameLocks[f].Unlock()

	frame := bp.frames[f]
	if dirty {
		frame.SetDirty()
	}
	frame.DecreasePinCount()
	if frame.GetPinCount() == 0 {
		if err := bp.replacer.Unpin(f); err != nil {
			return err
		}
	}
	return nil
}

// FlushPage writes id's frame through to disk unconditionally and marks it
// clean. Residency and pin count are unaffected.
func (bp *BufferPoolManager) FlushPage(id diskio.PageID) error {
	bp.mu.Lock()
	f, ok := bp.pageTable[id]
	bp.mu.Unlock()
	if !ok {
		return ErrPageNotInPool
	}

	bp.frameLocks[f].Lock()
	defer bp.frameLocks[f].Unlock()

	frame := bp.frames[f]
	if err := bp.disk.WritePage(id, frame.GetData()); err != nil {
		return fmt.Errorf("bufpool: flush page %d: %w", id, err)
	}
	frame.SetClean()
	bp.logger.Debug("bufpool flush", "pageID", id, "frameID", f)
	return nil
}

// DeletePage removes id from the pool and deallocates it on disk. Deleting
// a page absent from the pool is a no-op success (spec.md §9).
func (bp *BufferPoolManager) DeletePage(id diskio.PageID) error {
	bp.mu.Lock()

	f, ok := bp.pageTable[id]
	if !ok {
		bp.mu.Unlock()
		return nil
	}

	frame := bp.frames[f]
	if frame.GetPinCount() > 0 {
		bp.mu.Unlock()
		return ErrPageInUse
	}

	bp.frameLocks[f].Lock()
	defer bp.frameLocks[f].Unlock()

	// Re-check under the frame latch: the pin-count-zero check above (under
	// mu alone) can race a concurrent fetch() miss still loading this same
	// frame, which only pins the frame once it holds frameLocks[f]. This
	// latch serializes against that pin, so a re-check here is authoritative.
	if frame.GetPinCount() > 0 {
		bp.mu.Unlock()
		return ErrPageInUse
	}

	if frame.IsDirty() {
		if err := bp.disk.WritePage(id, frame.GetData()); err != nil {
			bp.mu.Unlock()
			return fmt.Errorf("bufpool: flush before delete page %d: %w", id, err)
		}
	}

	delete(bp.pageTable, id)
	if err := bp.disk.DeallocatePage(id); err != nil {
		bp.mu.Unlock()
		return fmt.Errorf("bufpool: deallocate page %d: %w", id, err)
	}
	frame.Clear()
	// Pin the now-empty frame in the replacer so it is not kept as an
	// eviction candidate while also sitting in freeFrames.
	_ = bp.replacer.Pin(f)
	bp.freeFrames = append(bp.freeFrames, f)
	bp.logger.Debug("bufpool delete", "pageID", id, "frameID", f)

	bp.mu.Unlock()
	return nil
}

// FlushAllPages writes every dirty resident frame through to disk.
func (bp *BufferPoolManager) FlushAllPages() error {
	for f := range bp.frames {
		bp.frameLocks[f].Lock()
		frame := bp.frames[f]
		id := frame.GetPageID()
		if id.Valid() && frame.IsDirty() {
			if err := bp.disk.WritePage(id, frame.GetData()); err != nil {
				bp.frameLocks[f].Unlock()
				return fmt.Errorf("bufpool: flush-all page %d: %w", id, err)
			}
			frame.SetClean()
		}
		bp.frameLocks[f].Unlock()
	}
	return nil
}
