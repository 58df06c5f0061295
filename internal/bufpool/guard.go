package bufpool

import (
	"github.com/tuannm99/diskhash/internal/diskio"
	"github.com/tuannm99/diskhash/internal/page"
)

// ReadGuard is a shared-access handle on a resident, pinned page. Close
// binds the implicit unpin to scope exit, per spec.md §9's design note that
// "implementations should ensure the returned guard binds unpin to scope
// exit automatically" — the Go idiom for this is `defer guard.Close()`
// rather than Rust's Drop. Each accessor takes the frame's latch only for
// the duration of that single call, so a guard can be held open across an
// unrelated fetch on the same frame without deadlocking (spec.md P2).
type ReadGuard struct {
	pool     *BufferPoolManager
	frameIdx int
	page     *page.Page
	closed   bool
}

// PageID returns the guarded page's id.
func (g *ReadGuard) PageID() diskio.PageID { return g.page.GetPageID() }

// Data returns a snapshot of the full page buffer, taken under the frame's
// shared latch.
func (g *ReadGuard) Data() []byte {
	g.pool.frameLocks[g.frameIdx].RLock()
	defer g.pool.frameLocks[g.frameIdx].RUnlock()
	out := make([]byte, len(g.page.GetData()))
	copy(out, g.page.GetData())
	return out
}

// ReadAt reads size bytes at offset from the page buffer under the frame's
// shared latch.
func (g *ReadGuard) ReadAt(offset, size int) ([]byte, error) {
	g.pool.frameLocks[g.frameIdx].RLock()
	defer g.pool.frameLocks[g.frameIdx].RUnlock()
	return g.page.ReadData(offset, size)
}

// Close unpins the page. Safe to call more than once.
func (g *ReadGuard) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	return g.pool.UnpinPage(g.page.GetPageID(), false)
}

// WriteGuard is an exclusive-access handle on a resident, pinned page. Any
// write through WriteAt/SetData marks the page dirty so Close's implicit
// unpin carries the dirty flag through to the pool.
type WriteGuard struct {
	pool     *BufferPoolManager
	frameIdx int
	page     *page.Page
	dirty    bool
	closed   bool
}

// PageID returns the guarded page's id.
func (g *WriteGuard) PageID() diskio.PageID { return g.page.GetPageID() }

// Data returns a snapshot of the full page buffer, taken under the frame's
// exclusive latch.
func (g *WriteGuard) Data() []byte {
	g.pool.frameLocks[g.frameIdx].Lock()
	defer g.pool.frameLocks[g.frameIdx].Unlock()
	out := make([]byte, len(g.page.GetData()))
	copy(out, g.page.GetData())
	return out
}

// WriteAt overwrites size bytes at offset under the frame's exclusive latch
// and marks the page dirty.
func (g *WriteGuard) WriteAt(offset int, bytes []byte) error {
	g.pool.frameLocks[g.frameIdx].Lock()
	defer g.pool.frameLocks[g.frameIdx].Unlock()
	if err := g.page.WriteData(offset, bytes); err != nil {
		return err
	}
	g.dirty = true
	return nil
}

// SetData overwrites the entire page buffer under the frame's exclusive
// latch and marks it dirty.
func (g *WriteGuard) SetData(bytes []byte) error {
	g.pool.frameLocks[g.frameIdx].Lock()
	defer g.pool.frameLocks[g.frameIdx].Unlock()
	if err := g.page.SetData(bytes); err != nil {
		return err
	}
	g.dirty = true
	return nil
}

// Close unpins the page, carrying through any dirty bit accumulated via
// WriteAt/SetData. Safe to call more than once.
func (g *WriteGuard) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	return g.pool.UnpinPage(g.page.GetPageID(), g.dirty)
}
