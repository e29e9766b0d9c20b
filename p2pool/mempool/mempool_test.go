package mempool

import (
	"encoding/binary"
	"testing"
	"time"

	"git.gammaspectra.live/P2Pool/daemon/types"
)

func FuzzMempool_Pick(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) < (8*3) || len(data)%(8*3) != 0 {
			t.SkipNow()
		}
		var mempool Mempool

		for i := 0; i < len(data); i += 8 * 3 {
			var entry Entry
			// fixed index
			binary.LittleEndian.PutUint64(entry.Id[:], uint64(i/(8*3)))
			entry.BlobSize = binary.LittleEndian.Uint64(data[i:])
			entry.Weight = binary.LittleEndian.Uint64(data[i+8:])
			entry.Fee = binary.LittleEndian.Uint64(data[i+8+8:])

			mempool = append(mempool, &entry)
		}

		// use first index as args
		ee := mempool[0]
		mempool = mempool[1:]
		newPool := mempool.Pick(ee.Fee, ee.Weight, ee.BlobSize)
		_ = newPool
	})
}

func testId(i uint64) (h types.Hash) {
	binary.LittleEndian.PutUint64(h[:], i)
	return h
}

func TestPool_Add(t *testing.T) {
	pool := make(Pool, 8)

	if !pool.Add(&Entry{Id: testId(1), Weight: 100, Fee: 100}) {
		t.Fatal("expected add to succeed")
	}

	// idempotent on id
	if pool.Add(&Entry{Id: testId(1), Weight: 100, Fee: 100}) {
		t.Fatal("expected duplicate add to fail")
	}

	// zero weight and zero fee entries are rejected
	if pool.Add(&Entry{Id: testId(2), Weight: 0, Fee: 100}) {
		t.Fatal("expected zero weight add to fail")
	}
	if pool.Add(&Entry{Id: testId(3), Weight: 100, Fee: 0}) {
		t.Fatal("expected zero fee add to fail")
	}

	if len(pool) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(pool))
	}
}

func TestPool_Swap(t *testing.T) {
	pool := make(Pool, 8)
	pool.Add(&Entry{Id: testId(1), Weight: 100, Fee: 100})
	pool.Add(&Entry{Id: testId(2), Weight: 200, Fee: 200})

	received := pool[testId(1)].TimeReceived

	pool.Swap(Mempool{
		{Id: testId(1), Weight: 100, Fee: 100},
		{Id: testId(3), Weight: 300, Fee: 300},
	})

	if len(pool) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(pool))
	}
	if pool[testId(2)] != nil {
		t.Fatal("expected entry 2 to be dropped")
	}
	if pool[testId(3)] == nil {
		t.Fatal("expected entry 3 to be added")
	}
	// known entries keep their reception time
	if !pool[testId(1)].TimeReceived.Equal(received) {
		t.Fatal("expected entry 1 to keep its reception time")
	}

	// an empty backlog snapshot clears the whole set
	pool.Swap(nil)
	if len(pool) != 0 {
		t.Fatalf("expected empty pool after empty swap, got %d entries", len(pool))
	}
}

func TestPool_Select(t *testing.T) {
	pool := make(Pool, 8)
	pool.Add(&Entry{Id: testId(1), Weight: 100, Fee: 100, TimeReceived: time.Now().Add(-time.Minute)})
	pool.Add(&Entry{Id: testId(2), Weight: 100, Fee: 100, TimeReceived: time.Now()})
	pool.Add(&Entry{Id: testId(3), Weight: 100, Fee: 7000000000, TimeReceived: time.Now()})

	selected := pool.Select(6000000000, time.Second*5)
	if len(selected) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(selected))
	}
}

func TestGetBlockReward(t *testing.T) {
	const baseReward = 600000000000
	const medianWeight = 300000

	// under the median, no penalty
	if reward := GetBlockReward(baseReward, medianWeight, 1000, medianWeight); reward != baseReward+1000 {
		t.Fatalf("expected %d, got %d", baseReward+1000, reward)
	}

	// above twice the median, zero
	if reward := GetBlockReward(baseReward, medianWeight, 1000, medianWeight*2+1); reward != 0 {
		t.Fatalf("expected 0, got %d", reward)
	}

	// inside the penalty zone the base reward shrinks
	reward := GetBlockReward(baseReward, medianWeight, 0, medianWeight+medianWeight/2)
	if reward >= baseReward {
		t.Fatalf("expected penalty, got %d", reward)
	}
	if reward == 0 {
		t.Fatal("expected non zero reward")
	}
}

func TestMempool_PickUnderMedian(t *testing.T) {
	m := Mempool{
		{Id: testId(1), Weight: 1000, Fee: 10000},
		{Id: testId(2), Weight: 1000, Fee: 20000},
		{Id: testId(3), Weight: 1000, Fee: 5000},
	}

	picked := m.Pick(600000000000, 1000, 300000)
	if len(picked) != 3 {
		t.Fatalf("expected all transactions picked, got %d", len(picked))
	}
}
