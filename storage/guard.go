package storage

import (
	"sync"

	"github.com/corvid-systems/pagepool/common"
)

// BasicPageGuard is an owning handle for exactly one pin on a page. Dropping
// it unpins the page, passing along whatever dirty flag the guard has
// accumulated. There is no copy constructor in Go: a guard is always used
// through its pointer, so transferring ownership is simply passing that
// pointer along; Drop is idempotent so a transferred-away guard can be
// dropped harmlessly by either the old or the new owner.
type BasicPageGuard struct {
	bp      *BufferPool
	pageID  common.PageID
	frame   *Frame
	isDirty bool
	once    sync.Once
}

func newBasicPageGuard(bp *BufferPool, pageID common.PageID, frame *Frame) *BasicPageGuard {
	return &BasicPageGuard{bp: bp, pageID: pageID, frame: frame}
}

// PageID returns the identifier of the page this guard pins.
func (g *BasicPageGuard) PageID() common.PageID {
	return g.pageID
}

// Data returns read-only access to the page's byte buffer. Callers that need
// exclusion from concurrent writers should prefer FetchPageRead/
// FetchPageWrite instead of a bare BasicPageGuard.
func (g *BasicPageGuard) Data() []byte {
	return g.frame.Bytes[:]
}

// MutData returns mutable access to the page's byte buffer and marks the
// guard dirty, so dropping the guard marks the page dirty and it is written
// back (rather than silently dropped) when its frame is reclaimed.
func (g *BasicPageGuard) MutData() []byte {
	g.isDirty = true
	return g.frame.Bytes[:]
}

// Drop releases the guard's pin, marking the page dirty if MutData was ever
// called. Safe to call multiple times; only the first call has an effect.
func (g *BasicPageGuard) Drop() {
	g.once.Do(func() {
		g.bp.UnpinPage(g.pageID, g.isDirty)
	})
}

// ReadPageGuard owns a pin and a held reader lock on the frame's data latch.
// Drop releases the reader lock before the pin, so the frame is never
// unpinned -- and so evictable and reusable -- while a reader still holds
// its latch.
type ReadPageGuard struct {
	guard BasicPageGuard
	once  sync.Once
}

// PageID returns the identifier of the page this guard pins.
func (g *ReadPageGuard) PageID() common.PageID {
	return g.guard.PageID()
}

// Data returns read-only access to the page's byte buffer.
func (g *ReadPageGuard) Data() []byte {
	return g.guard.Data()
}

// Drop releases the reader latch, then the pin. Idempotent.
func (g *ReadPageGuard) Drop() {
	g.once.Do(func() {
		g.guard.frame.PageLatch.RUnlock()
		g.guard.Drop()
	})
}

// WritePageGuard owns a pin and a held writer lock on the frame's data
// latch. Drop releases the writer lock before the pin, for the same reason
// as ReadPageGuard.
type WritePageGuard struct {
	guard BasicPageGuard
	once  sync.Once
}

// PageID returns the identifier of the page this guard pins.
func (g *WritePageGuard) PageID() common.PageID {
	return g.guard.PageID()
}

// Data returns mutable access to the page's byte buffer and marks the guard
// dirty.
func (g *WritePageGuard) Data() []byte {
	return g.guard.MutData()
}

// Drop releases the writer latch, then the pin. Idempotent.
func (g *WritePageGuard) Drop() {
	g.once.Do(func() {
		g.guard.frame.PageLatch.Unlock()
		g.guard.Drop()
	})
}
