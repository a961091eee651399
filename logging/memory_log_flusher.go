package logging

import (
	"sync/atomic"
	"time"

	"github.com/corvid-systems/pagepool/common"
)

// MemoryLogFlusher is an in-memory LogFlusher for tests that want to assert
// ordering between a simulated WAL flush and the buffer pool's writeback
// path: WaitUntilFlushed blocks until the test has advanced the flushed
// watermark at least as far as the requested LSN.
type MemoryLogFlusher struct {
	flushedUntil atomic.Int64
}

// NewMemoryLogFlusher creates a flusher with nothing flushed yet.
func NewMemoryLogFlusher() *MemoryLogFlusher {
	return &MemoryLogFlusher{}
}

// WaitUntilFlushed blocks until SetFlushedLSN has advanced the watermark to
// at least lsn.
func (f *MemoryLogFlusher) WaitUntilFlushed(lsn common.LSN) error {
	for common.LSN(f.flushedUntil.Load()) < lsn {
		time.Sleep(time.Millisecond)
	}
	return nil
}

// SetFlushedLSN advances the watermark that WaitUntilFlushed waits on.
func (f *MemoryLogFlusher) SetFlushedLSN(lsn common.LSN) {
	f.flushedUntil.Store(int64(lsn))
}

// FlushedUntil returns the watermark most recently set by SetFlushedLSN.
func (f *MemoryLogFlusher) FlushedUntil() common.LSN {
	return common.LSN(f.flushedUntil.Load())
}
