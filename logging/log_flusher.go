package logging

import "github.com/corvid-systems/pagepool/common"

// LogFlusher is the narrow interface the buffer pool uses to coordinate with
// an external write-ahead log before writing back a dirty page: it must wait
// until every log record up to and including lsn has reached stable storage.
// A real log manager has a much larger surface (appending records, iterating
// for recovery); none of that is needed here, since the buffer pool only
// ever calls WaitUntilFlushed, and only when a dirtied frame carries a
// RecoveryLSN.
type LogFlusher interface {
	// WaitUntilFlushed blocks until the log record with the given LSN (and
	// all prior records) has been durably written.
	WaitUntilFlushed(lsn common.LSN) error
}

// NoopLogFlusher is a LogFlusher that considers every LSN already flushed.
// It is the BufferPool's default when no log manager is wired in.
type NoopLogFlusher struct{}

func (NoopLogFlusher) WaitUntilFlushed(lsn common.LSN) error {
	return nil
}
