// Package unacked implements the sharded, thread-safe map of frames
// awaiting acknowledgement described in spec §6, grounded on
// original_source/include/tsmap.h's TSMap (fixed bucket count, one
// RWMutex per bucket, reads run concurrently, writes are exclusive
// per-shard).
package unacked

import (
	"sync"
)

// numShards mirrors tsmap.h's default NumBuckets=64.
const numShards = 64

// Entry is the value stored per in-flight sequence: the built frame
// bytes (shared with any retransmit queue entry) and the frame's
// payload length (not its wire length).
type Entry struct {
	Bytes  []byte
	Length int
}

type shard struct {
	mu   sync.RWMutex
	data map[uint32]Entry
}

// Table is a sharded map keyed by packet sequence number.
type Table struct {
	shards [numShards]*shard
}

// New returns an empty table.
func New() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i] = &shard{data: make(map[uint32]Entry)}
	}
	return t
}

func (t *Table) shardFor(seq uint32) *shard {
	return t.shards[seq%numShards]
}

// Insert records seq as awaiting acknowledgement.
func (t *Table) Insert(seq uint32, e Entry) {
	s := t.shardFor(seq)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[seq] = e
}

// Get returns the entry for seq, if still unacked.
func (t *Table) Get(seq uint32) (Entry, bool) {
	s := t.shardFor(seq)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[seq]
	return e, ok
}

// Remove deletes seq, reporting whether it was present.
func (t *Table) Remove(seq uint32) bool {
	s := t.shardFor(seq)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[seq]; !ok {
		return false
	}
	delete(s.data, seq)
	return true
}

// Len returns the total number of unacked entries across all shards.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.data)
		s.mu.RUnlock()
	}
	return n
}

// ScanResult pairs a sequence number with its unacked entry.
type ScanResult struct {
	Sequence uint32
	Entry    Entry
}

// ScanMatching returns every entry for which predicate holds: the
// generic scan_matching(predicate) primitive spec §6's sharded-map
// contract requires, used where the caller's selection criterion isn't
// a simple ordering against a cutoff (e.g. handleAck's exact-match
// removal).
func (t *Table) ScanMatching(predicate func(seq uint32, e Entry) bool) []ScanResult {
	var out []ScanResult
	for _, s := range t.shards {
		s.mu.RLock()
		for seq, e := range s.data {
			if predicate(seq, e) {
				out = append(out, ScanResult{Sequence: seq, Entry: e})
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// ScanGreaterThan returns every entry whose sequence is strictly
// greater than lastAcked: "retransmit everything the peer has not yet
// acknowledged", the corrected semantics from spec §9 (rejecting
// tsmap.h's actual GetGreaterThan, which compares the wrong direction).
func (t *Table) ScanGreaterThan(lastAcked uint32) []ScanResult {
	var out []ScanResult
	for _, s := range t.shards {
		s.mu.RLock()
		for seq, e := range s.data {
			if seq > lastAcked {
				out = append(out, ScanResult{Sequence: seq, Entry: e})
			}
		}
		s.mu.RUnlock()
	}
	return out
}
