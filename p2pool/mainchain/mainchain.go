package mainchain

import (
	"sync"

	"git.gammaspectra.live/P2Pool/daemon/monero/block"
	"git.gammaspectra.live/P2Pool/daemon/monero/randomx"
	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
)

const (
	// PruneDistance headers this far below the tip are dropped
	PruneDistance = 720

	// TimestampWindow headers that feed the median timestamp
	TimestampWindow = 60

	// RetainedSeedEpochs seed epoch heights kept regardless of pruning
	RetainedSeedEpochs = 3
)

// Shadow recent main chain headers, keyed by height and by id.
// Headers arrive incomplete from ZMQ pushes (no reward, no timestamp) and are
// replaced when the concrete header is fetched over RPC.
type Shadow struct {
	lock sync.RWMutex

	byHeight map[uint64]*block.Header
	byId     map[types.Hash]*block.Header

	tipHeight uint64
}

func NewShadow() *Shadow {
	return &Shadow{
		byHeight: make(map[uint64]*block.Header, PruneDistance+RetainedSeedEpochs+8),
		byId:     make(map[types.Hash]*block.Header, PruneDistance+RetainedSeedEpochs+8),
	}
}

// IngestHeader idempotent upsert, keeps the most complete version
func (s *Shadow) IngestHeader(h *block.Header) {
	if h == nil || h.Id == types.ZeroHash {
		return
	}
	if h.Difficulty == types.ZeroDifficulty && h.Timestamp == 0 && h.Reward == 0 {
		utils.Debugf("MainChain", "dropping empty header at height %d, id %s", h.Height, h.Id)
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if existing, ok := s.byId[h.Id]; ok {
		// keep the version that has reward and timestamp filled
		if existing.Reward != 0 && h.Reward == 0 {
			return
		}
	}

	s.byHeight[h.Height] = h
	s.byId[h.Id] = h

	if h.Height > s.tipHeight {
		s.tipHeight = h.Height
	}
}

func (s *Shadow) LookupById(id types.Hash) *block.Header {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.byId[id]
}

func (s *Shadow) LookupByHeight(height uint64) *block.Header {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.byHeight[height]
}

func (s *Shadow) TipHeight() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.tipHeight
}

func (s *Shadow) Tip() *block.Header {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.byHeight[s.tipHeight]
}

// DifficultyByHeight zero difficulty when the header is not known
func (s *Shadow) DifficultyByHeight(height uint64) types.Difficulty {
	if h := s.LookupByHeight(height); h != nil {
		return h.Difficulty
	}
	return types.ZeroDifficulty
}

// SeedByHeight the id of the seed header for the RandomX epoch covering height
func (s *Shadow) SeedByHeight(height uint64) types.Hash {
	seedHeight := randomx.SeedHeight(height)
	if h := s.LookupByHeight(seedHeight); h != nil {
		return h.Id
	}
	return types.ZeroHash
}

// MedianTimestamp median of the last TimestampWindow timestamps, shifted one
// index up because the latest main chain block is not yet recorded
func (s *Shadow) MedianTimestamp() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()

	timestamps := make([]uint64, 0, TimestampWindow)
	for i := uint64(0); i < TimestampWindow; i++ {
		h, ok := s.byHeight[s.tipHeight-i]
		if !ok {
			break
		}
		timestamps = append(timestamps, h.Timestamp)
		if s.tipHeight == i {
			break
		}
	}

	n := len(timestamps)
	if n == 0 {
		return 0
	}

	// Shift indices +1 because the latest main chain block is not recorded yet
	idx1 := min(n/2, n-1)
	idx2 := min(n/2+1, n-1)

	utils.NthElementSlice(timestamps, idx2)
	upper := timestamps[idx2]
	utils.NthElementSlice(timestamps, idx1)
	return (timestamps[idx1] + upper) / 2
}

// Prune drops headers older than PruneDistance below currentHeight, except the
// RetainedSeedEpochs most recent seed epoch heights, which are kept
func (s *Shadow) Prune(currentHeight uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	retained := make(map[uint64]struct{}, RetainedSeedEpochs)
	seedHeight := randomx.SeedHeight(currentHeight)
	for i := 0; i < RetainedSeedEpochs; i++ {
		retained[seedHeight] = struct{}{}
		if seedHeight < randomx.SeedHashEpochBlocks {
			break
		}
		seedHeight -= randomx.SeedHashEpochBlocks
	}

	pruned := 0
	for height, h := range s.byHeight {
		if height+PruneDistance >= currentHeight {
			continue
		}
		if _, ok := retained[height]; ok {
			continue
		}
		delete(s.byHeight, height)
		delete(s.byId, h.Id)
		pruned++
	}

	if pruned > 0 {
		utils.Debugf("MainChain", "pruned %d headers below height %d", pruned, currentHeight-PruneDistance)
	}
}

func (s *Shadow) Count() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.byHeight)
}
