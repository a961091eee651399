package common

import (
	"encoding/binary"
	"fmt"
)

// PageSize is the fixed size, in bytes, of every page frame's data buffer.
const PageSize int = 4096

// ObjectID is a unique identifier for a table/index/etc. backed by its own
// file on disk. The buffer pool is shared across every ObjectID; the disk
// file manager is what routes a PageID to the right underlying file.
type ObjectID uint32

// InvalidObjectID is never a real object.
const InvalidObjectID ObjectID = 0

// PageID uniquely identifies a page within the database.
type PageID struct {
	Oid     ObjectID
	PageNum int32
}

// PageIDSize is the serialized size of a PageID (ObjectID (4) + PageNum (4) = 8).
const PageIDSize = 8

func (p PageID) String() string {
	return fmt.Sprintf("Page(%d, %d)", p.Oid, p.PageNum)
}

// IsNil reports whether the PageID refers to no page.
func (p PageID) IsNil() bool {
	return p.Oid == InvalidObjectID
}

// WriteTo serializes the PageID into the provided buffer. The buffer must be
// at least PageIDSize bytes.
func (p PageID) WriteTo(data []byte) {
	if len(data) < PageIDSize {
		panic("buffer too small")
	}
	binary.LittleEndian.PutUint32(data, uint32(p.Oid))
	binary.LittleEndian.PutUint32(data[4:], uint32(p.PageNum))
}

// LoadFrom deserializes a PageID from the provided buffer. The buffer must be
// at least PageIDSize bytes.
func (p *PageID) LoadFrom(data []byte) {
	if len(data) < PageIDSize {
		panic("buffer too small")
	}
	p.Oid = ObjectID(binary.LittleEndian.Uint32(data))
	p.PageNum = int32(binary.LittleEndian.Uint32(data[4:]))
}

// FrameID identifies a slot in the buffer pool's fixed frame array.
type FrameID int

// LSN is a log sequence number assigned by the (external) write-ahead log.
type LSN int64

// InvalidLSN marks a frame that has never been dirtied since it was last
// flushed or loaded.
const InvalidLSN LSN = 0
