package mempool

import (
	"time"

	"git.gammaspectra.live/P2Pool/daemon/types"
)

// Pool unordered set of pending transactions keyed by id
type Pool map[types.Hash]*Entry

// Add inserts tx. Returns false if the entry is invalid or already known
func (m Pool) Add(tx *Entry) bool {
	if tx.Weight == 0 || tx.Fee == 0 {
		return false
	}
	if _, ok := m[tx.Id]; ok {
		return false
	}

	if tx.TimeReceived.IsZero() {
		tx.TimeReceived = time.Now()
	}
	m[tx.Id] = tx

	return true
}

// Swap atomically replaces the contents with a fresh backlog snapshot.
// Entries already known keep their reception time.
func (m Pool) Swap(backlog Mempool) {
	old := make(map[types.Hash]time.Time, len(m))
	for id, e := range m {
		old[id] = e.TimeReceived
		delete(m, id)
	}

	for _, tx := range backlog {
		if tx.Weight == 0 || tx.Fee == 0 {
			continue
		}
		e := *tx
		if t, ok := old[e.Id]; ok {
			e.TimeReceived = t
		} else if e.TimeReceived.IsZero() {
			e.TimeReceived = time.Now()
		}
		m[e.Id] = &e
	}
}

// Select transactions that have been in the pool for at least minAge, or that
// pay at least highFee
func (m Pool) Select(highFee uint64, minAge time.Duration) Mempool {
	cutoff := time.Now().Add(-minAge)

	result := make(Mempool, 0, len(m))
	for _, e := range m {
		if e.Fee >= highFee || e.TimeReceived.Before(cutoff) {
			result = append(result, e)
		}
	}
	return result
}
