package storage

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/corvid-systems/pagepool/common"
	"github.com/corvid-systems/pagepool/logging"
)

// defaultReplacerK is the history depth used by the LRU-K replacer when the
// caller does not override it via WithReplacerK.
const defaultReplacerK = 2

// BufferPool manages the reading and writing of database pages between a
// DBFileManager and memory. It owns a fixed array of frames, a page table
// mapping resident pages to frames, a free list of unoccupied frames, and an
// LRU-K replacer that chooses a victim when no frame is free. A single
// pool-wide mutex guards all of that bookkeeping; disk I/O is always
// performed with the mutex released (see writebackLocked and FetchPage).
type BufferPool struct {
	mu sync.Mutex

	storageManager DBFileManager
	frames         []Frame
	pageTable      map[common.PageID]common.FrameID
	freeList       []common.FrameID
	replacer       *LRUKReplacer
	nextPageID     int64

	logFlusher logging.LogFlusher
	metrics    *Metrics
	log        *slog.Logger
}

// Option configures optional collaborators of a BufferPool at construction
// time.
type Option func(*BufferPool)

// WithLogFlusher wires a log-flush hook that is consulted before a dirty
// frame is written back on eviction or deletion, so an external WAL can be
// asked to persist its records up to the frame's RecoveryLSN first.
// FlushPage and FlushAllPages write frames without consulting it. The
// default, if this option is omitted, is logging.NoopLogFlusher.
func WithLogFlusher(flusher logging.LogFlusher) Option {
	return func(bp *BufferPool) {
		bp.logFlusher = flusher
	}
}

// WithMetrics wires a Metrics collector that the pool updates on every hit,
// miss, eviction, and flush. Omitted by default so tests that construct many
// independent pools don't need a Prometheus registry.
func WithMetrics(m *Metrics) Option {
	return func(bp *BufferPool) {
		bp.metrics = m
	}
}

// WithLogger overrides the *slog.Logger used for debug tracing of fetch,
// evict, and flush decisions. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(bp *BufferPool) {
		bp.log = logger
	}
}

// WithReplacerK overrides the LRU-K history depth. Defaults to 2.
func WithReplacerK(k int) Option {
	return func(bp *BufferPool) {
		bp.replacer = NewLRUKReplacer(len(bp.frames), k)
	}
}

// NewBufferPool creates a new BufferPool with a fixed capacity defined by
// numPages. It requires a storageManager to handle the underlying disk I/O
// operations.
func NewBufferPool(numPages int, storageManager DBFileManager, opts ...Option) *BufferPool {
	common.Assert(numPages > 0, "buffer pool must have a positive number of frames")

	freeList := make([]common.FrameID, numPages)
	for i := range freeList {
		freeList[i] = common.FrameID(i)
	}

	bp := &BufferPool{
		storageManager: storageManager,
		frames:         make([]Frame, numPages),
		pageTable:      make(map[common.PageID]common.FrameID),
		freeList:       freeList,
		replacer:       NewLRUKReplacer(numPages, defaultReplacerK),
		logFlusher:     logging.NoopLogFlusher{},
		log:            slog.Default(),
	}

	for _, opt := range opts {
		opt(bp)
	}

	return bp
}

// StorageManager returns the underlying disk manager.
func (bp *BufferPool) StorageManager() DBFileManager {
	return bp.storageManager
}

// allocatePageID hands out the next monotonically increasing page identifier
// for the given object. Callers must hold bp.mu.
func (bp *BufferPool) allocatePageID(oid common.ObjectID) common.PageID {
	bp.nextPageID++
	return common.PageID{Oid: oid, PageNum: int32(bp.nextPageID - 1)}
}

// acquireFrame runs the frame-acquisition algorithm shared by NewPage and
// the miss path of FetchPage: pop a frame from the free list, or ask the
// replacer to evict one. If the chosen frame is dirty, it is written back to
// disk -- with bp.mu released for the duration of the I/O -- before it is
// reused. Returns ok=false if the pool is exhausted (no free frame, nothing
// evictable).
//
// Callers must hold bp.mu on entry; it is held again on return.
func (bp *BufferPool) acquireFrame() (common.FrameID, bool, error) {
	var frameID common.FrameID
	if n := len(bp.freeList); n > 0 {
		frameID = bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
	} else {
		victim, ok := bp.replacer.Evict()
		if !ok {
			if bp.metrics != nil {
				bp.metrics.poolExhausted.Inc()
			}
			return 0, false, nil
		}
		frameID = victim
		if bp.metrics != nil {
			bp.metrics.evictions.Inc()
		}
	}

	frame := &bp.frames[frameID]

	// Erase the old page's mapping before writebackLocked releases bp.mu for
	// the disk write: once the frame is unreachable via the page table, free
	// list, and replacer alike, a concurrent FetchPage for the old page id
	// cannot re-enter through the page table and hand out a guard on a frame
	// that is mid-eviction.
	if !frame.pageID.IsNil() {
		delete(bp.pageTable, frame.pageID)
	}

	if frame.dirty {
		if err := bp.writebackLocked(frame); err != nil {
			return 0, false, err
		}
	}

	frame.reset()

	return frameID, true, nil
}

// writebackLocked flushes a dirty frame to disk, releasing bp.mu for the
// duration of the I/O and the optional log-flush hook, then reacquiring it.
// Callers must hold bp.mu on entry; it is held again on return.
func (bp *BufferPool) writebackLocked(frame *Frame) (err error) {
	pageID := frame.pageID
	recoveryLSN := frame.recoveryLSN

	bp.mu.Unlock()
	defer func() {
		bp.mu.Lock()
		if err == nil {
			frame.dirty = false
			frame.recoveryLSN = common.InvalidLSN
		}
	}()

	if recoveryLSN != common.InvalidLSN {
		if err := bp.logFlusher.WaitUntilFlushed(recoveryLSN); err != nil {
			return fmt.Errorf("flushing log up to LSN %d before writeback: %w", recoveryLSN, err)
		}
	}

	file, err := bp.storageManager.GetDBFile(pageID.Oid)
	if err != nil {
		return err
	}
	if err := file.WritePage(int(pageID.PageNum), frame.Bytes[:]); err != nil {
		return err
	}

	if bp.metrics != nil {
		bp.metrics.flushes.Inc()
	}
	bp.log.Debug("wrote back dirty frame", "pageID", pageID)
	return nil
}

// installFrame finishes the frame-acquisition algorithm: installs the new
// page id, sets pin_count=1 and dirty=false, inserts the page-table mapping,
// and records the access with the replacer as non-evictable (since it is now
// pinned). Callers must hold bp.mu.
func (bp *BufferPool) installFrame(frameID common.FrameID, pageID common.PageID) *Frame {
	frame := &bp.frames[frameID]
	frame.pageID = pageID
	frame.pinCount = 1
	frame.dirty = false
	bp.pageTable[pageID] = frameID

	bp.replacer.RecordAccess(frameID)
	bp.replacer.SetEvictable(frameID, false)
	return frame
}

// NewPage allocates a fresh page identifier, secures a frame for it
// (zeroed, pinned once), and returns the frame together with its new id.
// Returns ok=false when the pool is exhausted: no frame is free and none is
// evictable.
func (bp *BufferPool) NewPage(oid common.ObjectID) (common.PageID, *Frame, bool, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok, err := bp.acquireFrame()
	if err != nil {
		return common.PageID{}, nil, false, err
	}
	if !ok {
		return common.PageID{}, nil, false, nil
	}

	pageID := bp.allocatePageID(oid)
	frame := bp.installFrame(frameID, pageID)
	bp.log.Debug("allocated new page", "pageID", pageID, "frameID", frameID)
	return pageID, frame, true, nil
}

// FetchPage returns the frame holding pageID, reading it from disk if it is
// not already resident. On a hit, the pin count is incremented and the
// access is recorded with the replacer without touching disk. Returns
// ok=false only when frame acquisition fails (pool exhausted).
func (bp *BufferPool) FetchPage(pageID common.PageID) (*Frame, bool, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if frameID, ok := bp.pageTable[pageID]; ok {
		frame := &bp.frames[frameID]
		frame.pinCount++
		bp.replacer.RecordAccess(frameID)
		bp.replacer.SetEvictable(frameID, false)
		if bp.metrics != nil {
			bp.metrics.hits.Inc()
		}
		return frame, true, nil
	}

	if bp.metrics != nil {
		bp.metrics.misses.Inc()
	}

	frameID, ok, err := bp.acquireFrame()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	// acquireFrame may have released bp.mu to write back a dirty victim. If
	// another caller installed pageID meanwhile, return the frame to the free
	// list and take the hit path instead of installing a second copy.
	if existingID, ok := bp.pageTable[pageID]; ok {
		bp.freeList = append(bp.freeList, frameID)
		existing := &bp.frames[existingID]
		existing.pinCount++
		bp.replacer.RecordAccess(existingID)
		bp.replacer.SetEvictable(existingID, false)
		return existing, true, nil
	}

	// Install the mapping and raise the pin while bp.mu is still held, per
	// the reserve-under-lock recipe: this publishes the frame as the one
	// and only home for pageID before the lock is released for the read, so
	// a concurrent FetchPage of the same pageID takes the hit path above
	// instead of racing acquireFrame for a second frame.
	frame := bp.installFrame(frameID, pageID)

	bp.mu.Unlock()
	file, err := bp.storageManager.GetDBFile(pageID.Oid)
	if err == nil {
		err = file.ReadPage(int(pageID.PageNum), frame.Bytes[:])
	}
	bp.mu.Lock()

	if err != nil {
		delete(bp.pageTable, pageID)
		bp.replacer.SetEvictable(frameID, true)
		bp.replacer.Remove(frameID)
		frame.reset()
		bp.freeList = append(bp.freeList, frameID)
		return nil, false, err
	}

	bp.log.Debug("fetched page from disk", "pageID", pageID, "frameID", frameID)
	return frame, true, nil
}

// UnpinPage decrements pageID's pin count. setDirty, if true, sets (and
// never clears) the frame's dirty flag. When the pin count reaches zero the
// frame becomes a candidate for eviction. Returns false if the page is not
// resident or its pin count is already zero.
func (bp *BufferPool) UnpinPage(pageID common.PageID, setDirty bool) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTable[pageID]
	if !ok {
		return false
	}
	frame := &bp.frames[frameID]
	if frame.pinCount == 0 {
		return false
	}

	frame.pinCount--
	if setDirty && !frame.dirty {
		frame.dirty = true
		frame.recoveryLSN = frame.LSN()
	}

	if frame.pinCount == 0 {
		bp.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage unconditionally writes pageID's frame to disk and clears its
// dirty flag. Returns false if the page is not resident. Pin state is left
// unchanged.
func (bp *BufferPool) FlushPage(pageID common.PageID) (bool, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTable[pageID]
	if !ok {
		return false, nil
	}
	frame := &bp.frames[frameID]

	// Hold an extra pin for the duration of the write so the frame cannot be
	// evicted and reused while bp.mu is released.
	frame.pinCount++
	bp.replacer.SetEvictable(frameID, false)
	pageIDCopy := frame.pageID
	bp.mu.Unlock()
	file, err := bp.storageManager.GetDBFile(pageIDCopy.Oid)
	if err == nil {
		err = file.WritePage(int(pageIDCopy.PageNum), frame.Bytes[:])
	}
	bp.mu.Lock()
	frame.pinCount--
	if frame.pinCount == 0 {
		bp.replacer.SetEvictable(frameID, true)
	}

	if err != nil {
		return false, err
	}

	common.Assert(frame.pageID == pageIDCopy, "pageID should not change during flush")
	frame.dirty = false
	frame.recoveryLSN = common.InvalidLSN
	if bp.metrics != nil {
		bp.metrics.flushes.Inc()
	}
	return true, nil
}

// FlushAllPages flushes every resident page, regardless of pin state. The
// page table is iterated under the pool's lock, which is released around
// each individual write and reacquired before moving to the next page.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pageIDs := make([]common.PageID, 0, len(bp.pageTable))
	for pageID := range bp.pageTable {
		pageIDs = append(pageIDs, pageID)
	}

	for _, pageID := range pageIDs {
		frameID, ok := bp.pageTable[pageID]
		if !ok {
			continue
		}
		frame := &bp.frames[frameID]
		if frame.pageID != pageID || !frame.dirty {
			continue
		}

		// Extra pin during the write, as in FlushPage.
		frame.pinCount++
		bp.replacer.SetEvictable(frameID, false)
		bp.mu.Unlock()
		file, err := bp.storageManager.GetDBFile(pageID.Oid)
		if err == nil {
			err = file.WritePage(int(pageID.PageNum), frame.Bytes[:])
		}
		bp.mu.Lock()
		frame.pinCount--
		if frame.pinCount == 0 {
			bp.replacer.SetEvictable(frameID, true)
		}

		if err != nil {
			return err
		}
		if frame.pageID == pageID {
			frame.dirty = false
			frame.recoveryLSN = common.InvalidLSN
			if bp.metrics != nil {
				bp.metrics.flushes.Inc()
			}
		}
	}
	return nil
}

// DeletePage removes pageID from the pool, if resident. The disk provider is
// not notified: the page's space in its file stays allocated, and its page
// number is not handed out again. Returns true if the page was not resident
// (idempotent delete) or was successfully removed. Returns false if the page
// is still pinned -- callers must unpin it first.
func (bp *BufferPool) DeletePage(pageID common.PageID) (bool, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTable[pageID]
	if !ok {
		return true, nil
	}
	frame := &bp.frames[frameID]
	if frame.pinCount != 0 {
		return false, nil
	}

	if frame.dirty {
		if err := bp.writebackLocked(frame); err != nil {
			return false, err
		}

		// writebackLocked released bp.mu for the write. A concurrent
		// FetchPage could have re-pinned this exact frame (the page table
		// mapping is left intact across the writeback, unlike eviction's
		// acquireFrame) during that window, so the precondition checked
		// above must be re-validated before tearing the frame down.
		if frame.pageID != pageID || frame.pinCount != 0 {
			return false, nil
		}
	}

	delete(bp.pageTable, pageID)
	bp.replacer.Remove(frameID)
	frame.reset()
	bp.freeList = append(bp.freeList, frameID)

	if bp.metrics != nil {
		bp.metrics.pinnedFrames.Set(float64(bp.countPinnedLocked()))
	}
	return true, nil
}

// countPinnedLocked counts frames with a non-zero pin count. Callers must
// hold bp.mu. Only used to refresh the pinned-frames gauge; not on any hot
// path.
func (bp *BufferPool) countPinnedLocked() int {
	n := 0
	for i := range bp.frames {
		if bp.frames[i].pinCount > 0 {
			n++
		}
	}
	return n
}

// FetchPageBasic fetches pageID and wraps it in a BasicPageGuard.
func (bp *BufferPool) FetchPageBasic(pageID common.PageID) (*BasicPageGuard, error) {
	frame, ok, err := bp.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return newBasicPageGuard(bp, pageID, frame), nil
}

// FetchPageRead fetches pageID and returns it wrapped in a ReadPageGuard,
// having already acquired the frame's reader latch.
func (bp *BufferPool) FetchPageRead(pageID common.PageID) (*ReadPageGuard, error) {
	frame, ok, err := bp.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	frame.PageLatch.RLock()
	return &ReadPageGuard{guard: *newBasicPageGuard(bp, pageID, frame)}, nil
}

// FetchPageWrite fetches pageID and returns it wrapped in a WritePageGuard,
// having already acquired the frame's writer latch.
func (bp *BufferPool) FetchPageWrite(pageID common.PageID) (*WritePageGuard, error) {
	frame, ok, err := bp.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	frame.PageLatch.Lock()
	return &WritePageGuard{guard: *newBasicPageGuard(bp, pageID, frame)}, nil
}

// NewPageGuarded allocates a fresh page and wraps it in a BasicPageGuard.
func (bp *BufferPool) NewPageGuarded(oid common.ObjectID) (common.PageID, *BasicPageGuard, error) {
	pageID, frame, ok, err := bp.NewPage(oid)
	if err != nil {
		return common.PageID{}, nil, err
	}
	if !ok {
		return common.PageID{}, nil, nil
	}
	return pageID, newBasicPageGuard(bp, pageID, frame), nil
}
