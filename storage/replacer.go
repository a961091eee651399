package storage

import (
	"github.com/corvid-systems/pagepool/common"
)

// lruKNode tracks the recent access history of one tracked frame. history
// holds up to k timestamps, oldest at the front, newest at the back.
type lruKNode struct {
	frameID   common.FrameID
	history   []int64
	evictable bool
}

// hasInfBackwardKDist reports whether the node has fewer than k recorded
// accesses, which the replacer treats as an infinite backward k-distance.
func (n *lruKNode) hasInfBackwardKDist(k int) bool {
	return len(n.history) < k
}

// backwardKDist returns the elapsed logical time since the node's k-th most
// recent access. Callers must only call this when hasInfBackwardKDist is
// false.
func (n *lruKNode) backwardKDist(currentTimestamp int64, k int) int64 {
	return currentTimestamp - n.history[len(n.history)-k]
}

// earliestTimestamp returns the oldest recorded access, used as the tiebreak
// for under-k frames and for ties among full-history frames.
func (n *lruKNode) earliestTimestamp() int64 {
	return n.history[0]
}

func (n *lruKNode) recordAccess(timestamp int64, k int) {
	if len(n.history) >= k {
		n.history = n.history[1:]
	}
	n.history = append(n.history, timestamp)
}

// LRUKReplacer selects an eviction victim among the buffer pool's evictable
// frames using the backward k-distance policy: frames with fewer than k
// recorded accesses are preferred for eviction (classical LRU among them,
// tiebroken by earliest first access); once every evictable frame has k
// accesses, the frame whose k-th most recent access is furthest in the past
// is evicted.
//
// LRUKReplacer is not internally synchronized. The buffer pool invokes every
// method while already holding its own bookkeeping latch, so no additional
// locking is needed here.
type LRUKReplacer struct {
	nodeStore        map[common.FrameID]*lruKNode
	currentTimestamp int64
	k                int
	capacity         int
	evictableCount   int
}

// NewLRUKReplacer creates a replacer that can track up to capacity frames,
// each retaining up to k most recent accesses.
func NewLRUKReplacer(capacity int, k int) *LRUKReplacer {
	common.Assert(capacity > 0, "replacer capacity must be positive")
	common.Assert(k > 0, "replacer k must be positive")
	return &LRUKReplacer{
		nodeStore: make(map[common.FrameID]*lruKNode),
		k:         k,
		capacity:  capacity,
	}
}

// RecordAccess appends the current logical timestamp to the frame's access
// history and advances the replacer's logical clock. A frame seen for the
// first time is created as non-evictable with a one-entry history.
func (r *LRUKReplacer) RecordAccess(frameID common.FrameID) {
	common.Assert(int(frameID) < r.capacity && frameID >= 0, "invalid frame id %d", frameID)

	node, ok := r.nodeStore[frameID]
	if !ok {
		node = &lruKNode{frameID: frameID}
		r.nodeStore[frameID] = node
	}
	node.recordAccess(r.currentTimestamp, r.k)
	r.currentTimestamp++
}

// SetEvictable toggles a frame's evictability, adjusting the cached
// evictable count. It is a no-op if the frame is not tracked.
func (r *LRUKReplacer) SetEvictable(frameID common.FrameID, evictable bool) {
	node, ok := r.nodeStore[frameID]
	if !ok {
		return
	}
	if !node.evictable && evictable {
		r.evictableCount++
	}
	if node.evictable && !evictable {
		r.evictableCount--
	}
	node.evictable = evictable
}

// Evict selects and removes the victim frame according to the backward
// k-distance policy, returning ok=false if no evictable frame exists.
func (r *LRUKReplacer) Evict() (frameID common.FrameID, ok bool) {
	var victim common.FrameID
	var victimEarliest int64
	found := false

	hasInf := false
	var maxDist int64 = -1

	for id, node := range r.nodeStore {
		if !node.evictable {
			continue
		}
		if node.hasInfBackwardKDist(r.k) {
			earliest := node.earliestTimestamp()
			if !hasInf || earliest < victimEarliest {
				hasInf = true
				victimEarliest = earliest
				victim = id
				found = true
			}
			continue
		}
		if hasInf {
			continue
		}
		dist := node.backwardKDist(r.currentTimestamp, r.k)
		earliest := node.earliestTimestamp()
		if !found || dist > maxDist || (dist == maxDist && earliest < victimEarliest) {
			maxDist = dist
			victimEarliest = earliest
			victim = id
			found = true
		}
	}

	if !found {
		return 0, false
	}

	delete(r.nodeStore, victim)
	r.evictableCount--
	return victim, true
}

// Remove unconditionally discards a tracked frame's history. It is a no-op
// if the frame is not tracked, and asserts if the frame is tracked but not
// evictable -- callers must make a frame evictable before removing it.
func (r *LRUKReplacer) Remove(frameID common.FrameID) {
	node, ok := r.nodeStore[frameID]
	if !ok {
		return
	}
	common.Assert(node.evictable, "attempting to remove a non-evictable frame %d from the replacer", frameID)
	delete(r.nodeStore, frameID)
	r.evictableCount--
}

// Size returns the number of frames currently marked evictable.
func (r *LRUKReplacer) Size() int {
	return r.evictableCount
}
