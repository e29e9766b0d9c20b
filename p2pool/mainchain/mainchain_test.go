package mainchain

import (
	"encoding/binary"
	"testing"

	"git.gammaspectra.live/P2Pool/daemon/monero/block"
	"git.gammaspectra.live/P2Pool/daemon/monero/randomx"
	"git.gammaspectra.live/P2Pool/daemon/types"
)

func testHeader(height, timestamp uint64) *block.Header {
	h := &block.Header{
		Height:     height,
		Timestamp:  timestamp,
		Reward:     600000000000,
		Difficulty: types.DifficultyFrom64(300000000000),
	}
	binary.LittleEndian.PutUint64(h.Id[:], height+1)
	return h
}

func TestShadow_MedianTimestamp(t *testing.T) {
	s := NewShadow()

	// timestamps 100, 110, 120, ..., 690
	for i := uint64(0); i < 60; i++ {
		s.IngestHeader(testHeader(i, 100+i*10))
	}

	// median is shifted one index up because the latest block is not recorded
	if median := s.MedianTimestamp(); median != 405 {
		t.Fatalf("expected median 405, got %d", median)
	}
}

func TestShadow_MedianTimestampSingle(t *testing.T) {
	s := NewShadow()
	s.IngestHeader(testHeader(0, 1000))

	if median := s.MedianTimestamp(); median != 1000 {
		t.Fatalf("expected median 1000, got %d", median)
	}
}

func TestShadow_IngestHeaderUpsert(t *testing.T) {
	s := NewShadow()

	// incomplete header from a ZMQ push
	partial := testHeader(10, 0)
	partial.Reward = 0
	partial.Timestamp = 0
	s.IngestHeader(partial)

	if h := s.LookupByHeight(10); h == nil || h.Reward != 0 {
		t.Fatal("expected partial header")
	}

	// the complete header replaces it
	s.IngestHeader(testHeader(10, 12345))
	if h := s.LookupByHeight(10); h == nil || h.Reward == 0 || h.Timestamp != 12345 {
		t.Fatal("expected complete header to replace the partial one")
	}

	// a later partial does not clobber the complete one
	s.IngestHeader(partial)
	if h := s.LookupByHeight(10); h == nil || h.Timestamp != 12345 {
		t.Fatal("expected complete header to be kept")
	}
}

func TestShadow_LookupById(t *testing.T) {
	s := NewShadow()
	h := testHeader(5, 500)
	s.IngestHeader(h)

	if got := s.LookupById(h.Id); got == nil || got.Height != 5 {
		t.Fatal("expected lookup by id to find the header")
	}
	if got := s.LookupById(types.ZeroHash); got != nil {
		t.Fatal("expected zero id lookup to fail")
	}
}

func TestShadow_Prune(t *testing.T) {
	s := NewShadow()

	currentHeight := uint64(5000)

	// seed epochs at 0, 2048 and 4096 plus a recent window
	for _, height := range []uint64{0, 2048, 4096} {
		s.IngestHeader(testHeader(height, 100+height))
	}
	for height := currentHeight - PruneDistance; height <= currentHeight-1; height++ {
		s.IngestHeader(testHeader(height, 100+height))
	}
	// an old header that must go away
	s.IngestHeader(testHeader(3000, 3100))

	s.Prune(currentHeight)

	// the three most recent seed epoch heights are retained indefinitely
	seedHeight := randomx.SeedHeight(currentHeight)
	for i := 0; i < RetainedSeedEpochs; i++ {
		if s.LookupByHeight(seedHeight) == nil {
			t.Fatalf("expected seed height %d to be retained", seedHeight)
		}
		if seedHeight < randomx.SeedHashEpochBlocks {
			break
		}
		seedHeight -= randomx.SeedHashEpochBlocks
	}

	// heights within the prune distance are retained
	for height := currentHeight - PruneDistance; height <= currentHeight-1; height++ {
		if s.LookupByHeight(height) == nil {
			t.Fatalf("expected height %d to be retained", height)
		}
	}

	if s.LookupByHeight(3000) != nil {
		t.Fatal("expected height 3000 to be pruned")
	}
}

func TestShadow_SeedByHeight(t *testing.T) {
	s := NewShadow()
	seedHeader := testHeader(2048, 100)
	s.IngestHeader(seedHeader)

	if seed := s.SeedByHeight(2048 + 64 + 1); seed != seedHeader.Id {
		t.Fatalf("expected seed id %s, got %s", seedHeader.Id, seed)
	}
	if seed := s.SeedByHeight(64); seed != types.ZeroHash {
		t.Fatal("expected no seed for the genesis epoch without header")
	}
}
