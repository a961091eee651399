package storage

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/corvid-systems/pagepool/common"
)

// pageOffsetLSN is the byte offset of the LSN within the page.
const pageOffsetLSN = 0

// Frame is a fixed-size slot in the buffer pool that may hold one page's
// contents. Its bookkeeping fields (pageID, pinCount, dirty, recoveryLSN)
// are only ever touched while the owning BufferPool holds its single
// pool-wide latch; Frame itself carries no lock for them. The byte buffer is
// not covered by that latch: disk I/O fills and reads it with the pool latch
// released, and PageLatch guards it against concurrent readers and writers
// once a caller already holds a pin.
type Frame struct {
	// Bytes holds the raw physical data of the page.
	Bytes [common.PageSize]byte
	// PageLatch protects the content of the page from concurrent access.
	// Acquired only after a pin has been secured and the pool's bookkeeping
	// latch has been released.
	PageLatch sync.RWMutex

	pageID      common.PageID
	pinCount    int
	dirty       bool
	recoveryLSN common.LSN
}

// Detect system endianness -- compiler should statically replace this with a constant
var isBigEndian = func() bool {
	buf := [2]byte{}
	*(*uint16)(unsafe.Pointer(&buf[0])) = uint16(0xCAFE)
	return buf[0] == 0xCA
}()

// LSN atomically reads the Log Sequence Number from the page header.
func (f *Frame) LSN() common.LSN {
	ptr := (*uint64)(unsafe.Pointer(&f.Bytes[pageOffsetLSN]))
	val := atomic.LoadUint64(ptr)
	if isBigEndian {
		val = bits.ReverseBytes64(val)
	}
	return common.LSN(val)
}

// MonotonicallyUpdateLSN atomically updates the LSN. The update is applied
// only if the given lsn is larger than the current value.
func (f *Frame) MonotonicallyUpdateLSN(lsn common.LSN) {
	ptr := (*uint64)(unsafe.Pointer(&f.Bytes[pageOffsetLSN]))
	newVal := uint64(lsn)

	for {
		rawCurrent := atomic.LoadUint64(ptr)
		logicalCurrent := rawCurrent
		if isBigEndian {
			logicalCurrent = bits.ReverseBytes64(rawCurrent)
		}

		if newVal <= logicalCurrent {
			return
		}

		rawNew := newVal
		if isBigEndian {
			rawNew = bits.ReverseBytes64(newVal)
		}

		if atomic.CompareAndSwapUint64(ptr, rawCurrent, rawNew) {
			return
		}
	}
}

// reset clears a frame's bookkeeping in preparation for reuse. Callers must
// hold the pool's bookkeeping latch.
func (f *Frame) reset() {
	f.pageID = common.PageID{}
	f.pinCount = 0
	f.dirty = false
	f.recoveryLSN = common.InvalidLSN
	for i := range f.Bytes {
		f.Bytes[i] = 0
	}
}
