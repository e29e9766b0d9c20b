package sidechain

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	mainblock "git.gammaspectra.live/P2Pool/daemon/monero/block"
	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	"git.gammaspectra.live/P2Pool/daemon/monero/transaction"
	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
)

// MaxOrphanCount blocks waiting for a missing ancestor. Oldest entries are
// dropped past this bound
const MaxOrphanCount = 100

// OrphanAge how long an orphan may wait for its ancestor
const OrphanAge = time.Minute * 2

// PruneDistanceBeyondWindow blocks this far below the window bottom are dropped
const PruneDistanceBeyondWindow = UncleBlockDepth * 2

// Host the capabilities the side chain engine needs from its owner
type Host interface {
	GetDifficultyByHeight(height uint64) types.Difficulty
	GetSeedByHeight(height uint64) types.Hash
	GetMainHeaderById(id types.Hash) *mainblock.Header
	SubmitBlock(b *mainblock.Block)
	Broadcast(b *PoolBlock)
	RequestBlock(id types.Hash)
	UpdateTip(tip *PoolBlock)
	UpdateBlockFound(header *mainblock.Header, b *PoolBlock)
}

type orphanEntry struct {
	block    *PoolBlock
	received time.Time
}

type SideChain struct {
	consensus *Consensus
	host      Host

	derivationCache *DerivationCache

	seenBlocksLock sync.Mutex
	seenBlocks     map[FullId]struct{}

	sidechainLock sync.RWMutex

	watchBlock           *mainblock.Header
	watchBlockPossibleId types.Hash

	blocksByTemplateId map[types.Hash]*PoolBlock
	blocksByHeight     map[uint64][]*PoolBlock

	// orphans blocks whose parent or uncle is unknown, keyed by the missing id
	orphans map[types.Hash][]orphanEntry

	chainTip          atomic.Pointer[PoolBlock]
	currentDifficulty atomic.Pointer[types.Difficulty]

	preAllocatedShares         Shares
	preAllocatedRewards        []uint64
	preAllocatedDifficultyData []DifficultyData
	preAllocatedTimestampData  []uint64
}

func NewSideChain(consensus *Consensus, host Host) *SideChain {
	s := &SideChain{
		consensus:                  consensus,
		host:                       host,
		derivationCache:            NewDerivationCache(),
		blocksByTemplateId:         make(map[types.Hash]*PoolBlock, consensus.ChainWindowSize*2+300),
		blocksByHeight:             make(map[uint64][]*PoolBlock, consensus.ChainWindowSize*2+300),
		orphans:                    make(map[types.Hash][]orphanEntry, MaxOrphanCount),
		seenBlocks:                 make(map[FullId]struct{}, consensus.ChainWindowSize*2+300),
		preAllocatedShares:         make(Shares, 0, consensus.ChainWindowSize*2),
		preAllocatedRewards:        make([]uint64, 0, consensus.ChainWindowSize*2),
		preAllocatedDifficultyData: make([]DifficultyData, 0, consensus.ChainWindowSize*2),
		preAllocatedTimestampData:  make([]uint64, 0, consensus.ChainWindowSize*2),
	}
	minDiff := types.DifficultyFrom64(consensus.MinimumDifficulty)
	s.currentDifficulty.Store(&minDiff)
	return s
}

func (c *SideChain) Consensus() *Consensus {
	return c.consensus
}

func (c *SideChain) DerivationCache() *DerivationCache {
	return c.derivationCache
}

// Difficulty the difficulty required from the next side chain block
func (c *SideChain) Difficulty() types.Difficulty {
	return *c.currentDifficulty.Load()
}

func (c *SideChain) GetChainTip() *PoolBlock {
	return c.chainTip.Load()
}

func (c *SideChain) LastUpdated() time.Time {
	if tip := c.chainTip.Load(); tip != nil {
		return tip.Metadata.LocalTime
	}
	return time.Time{}
}

// BlockSeen duplicate suppression over (template id, nonce, extra nonce).
// Returns true if the block was already seen
func (c *SideChain) BlockSeen(block *PoolBlock) bool {
	tip := c.GetChainTip()

	// early exit for blocks well outside the window
	if tip != nil && tip.Side.Height > (block.Side.Height+c.consensus.ChainWindowSize*2) && block.Side.CumulativeDifficulty.Cmp(tip.Side.CumulativeDifficulty) < 0 {
		return true
	}

	fullId := block.FullId(c.consensus)

	c.seenBlocksLock.Lock()
	defer c.seenBlocksLock.Unlock()
	if _, ok := c.seenBlocks[fullId]; ok {
		return true
	} else {
		c.seenBlocks[fullId] = struct{}{}
		return false
	}
}

func (c *SideChain) BlockUnsee(block *PoolBlock) {
	fullId := block.FullId(c.consensus)

	c.seenBlocksLock.Lock()
	defer c.seenBlocksLock.Unlock()
	delete(c.seenBlocks, fullId)
}

var ErrPanic = errors.New("panic while processing")

// AddPoolBlockExternal ingests a peer gossiped block through the full
// validation pipeline. A ban verdict means the sending peer is hostile
func (c *SideChain) AddPoolBlockExternal(block *PoolBlock) (missingBlocks []types.Hash, err error, ban bool) {
	defer func() {
		if e := recover(); e != nil {
			missingBlocks = nil
			if panicError, ok := e.(error); ok {
				err = errors.Join(ErrPanic, panicError)
			} else {
				err = errors.Join(ErrPanic, fmt.Errorf("panic: %v", e))
			}
			ban = true
			utils.Errorf("SideChain", "add_external_block: panic %v, block %+v", e, block)
		}
	}()

	if err, ban = c.preVerifyBlock(block); err != nil {
		return nil, err, ban
	}

	templateId := block.SideTemplateId(c.consensus)

	if c.GetPoolBlockByTemplateId(templateId) != nil {
		//already added, duplicates are not errors
		return nil, nil, false
	}

	// PoW check. The expensive step, do it before acquiring the chain lock
	if _, err = block.PowHashWithError(c.consensus.GetHasher(), c.host.GetSeedByHeight); err != nil {
		c.BlockUnsee(block)
		return nil, err, false
	} else {
		if isHigherMainChain, err := block.IsProofHigherThanMainDifficultyWithError(c.consensus.GetHasher(), c.host.GetDifficultyByHeight, c.host.GetSeedByHeight); err != nil {
			utils.Debugf("SideChain", "add_external_block: couldn't get mainchain difficulty for height = %d: %s", block.Main.Coinbase.GenHeight, err)
		} else if isHigherMainChain {
			utils.Logf("SideChain", "add_external_block: block %x has enough PoW for main chain height %d, submitting it", templateId.Slice(), block.Main.Coinbase.GenHeight)
			c.host.SubmitBlock(&block.Main)
		}

		if isHigher, err := block.IsProofHigherThanDifficultyWithError(c.consensus.GetHasher(), c.host.GetSeedByHeight); err != nil {
			return nil, err, true
		} else if !isHigher {
			return nil, fmt.Errorf("not enough PoW for id %x, height = %d, mainchain height %d", templateId.Slice(), block.Side.Height, block.Main.Coinbase.GenHeight), true
		}
	}

	return c.AddPoolBlock(block)
}

// preVerifyBlock cheap structural checks before PoW is spent on a block
func (c *SideChain) preVerifyBlock(block *PoolBlock) (err error, ban bool) {
	// Technically some pool node could keep stuffing the block with transactions
	// until the reward is below the tail emission. The default transaction
	// picking algorithm never does that.
	if block.Main.Coinbase.TotalReward == 0 {
		return errors.New("block reward is zero"), true
	}

	if !block.Side.PublicKey.Valid() {
		return errors.New("invalid wallet address"), true
	}

	expectedTxType := block.GetTransactionOutputType()
	for _, o := range block.Main.Coinbase.Outputs {
		if o.Type != expectedTxType {
			return errors.New("unexpected transaction type"), true
		}

		if o.Reward > MaxTxOutputReward {
			return errors.New("reward too high"), true
		}
	}

	templateId := block.SideTemplateId(c.consensus)

	if templateId != block.DeclaredTemplateId() {
		return fmt.Errorf("invalid template id %x, expected %x", block.DeclaredTemplateId().Slice(), templateId.Slice()), true
	}

	if extraNonce := block.CoinbaseExtra(SideExtraNonce); extraNonce == nil {
		return errors.New("invalid or non existing extra nonce"), true
	}

	if block.Side.Difficulty.Cmp64(c.consensus.MinimumDifficulty) < 0 {
		return fmt.Errorf("block has invalid difficulty %s, expected >= %d", block.Side.Difficulty.StringNumeric(), c.consensus.MinimumDifficulty), true
	}

	// This check is not always possible to perform because of mainchain reorgs
	if data := c.host.GetMainHeaderById(block.Main.PreviousId); data != nil {
		if (data.Height + 1) != block.Main.Coinbase.GenHeight {
			return fmt.Errorf("wrong mainchain height %d, expected %d", block.Main.Coinbase.GenHeight, data.Height+1), true
		}
	}

	return nil, false
}

// AddPoolBlock inserts a PoW verified block into the tree, or stashes it as an
// orphan when an ancestor is still missing
func (c *SideChain) AddPoolBlock(block *PoolBlock) (missingBlocks []types.Hash, err error, ban bool) {
	c.sidechainLock.Lock()
	defer c.sidechainLock.Unlock()

	return c.addPoolBlock(block)
}

func (c *SideChain) addPoolBlock(block *PoolBlock) (missingBlocks []types.Hash, err error, ban bool) {
	templateId := block.SideTemplateId(c.consensus)

	if _, ok := c.blocksByTemplateId[templateId]; ok {
		//already inserted
		return nil, nil, false
	}

	// Chain context. A missing parent or uncle sends the block to the orphan
	// pool awaiting its ancestors
	missingBlocks = c.missingAncestors(block)
	if len(missingBlocks) > 0 {
		c.addOrphan(missingBlocks[0], block)
		for _, id := range missingBlocks {
			c.host.RequestBlock(id)
		}
		return missingBlocks, nil, false
	}

	if invalid := c.verifyBlock(block); invalid != nil {
		block.Verified.Store(true)
		block.Invalid.Store(true)
		utils.Logf("SideChain", "block at height = %d, id = %x, mainchain height = %d, mined by %s is invalid: %s", block.Side.Height, templateId.Slice(), block.Main.Coinbase.GenHeight, block.GetPayoutAddress(c.consensus.NetworkType).ToBase58(), invalid.Error())
		return nil, invalid, true
	}

	block.Verified.Store(true)
	block.Invalid.Store(false)

	c.blocksByTemplateId[templateId] = block
	c.blocksByHeight[block.Side.Height] = append(c.blocksByHeight[block.Side.Height], block)

	utils.Logf("SideChain", "add_block: height = %d, id = %x, mainchain height = %d, total = %d", block.Side.Height, templateId.Slice(), block.Main.Coinbase.GenHeight, len(c.blocksByTemplateId))

	if c.isWatched(block) {
		c.host.UpdateBlockFound(c.watchBlock, block)
		c.watchBlockPossibleId = types.ZeroHash
	}

	c.updateChainTip(block)

	// Attach any orphans that were waiting for this block
	if waiting, ok := c.orphans[templateId]; ok {
		delete(c.orphans, templateId)
		for _, entry := range waiting {
			if _, err := entry.block.PowHashWithError(c.consensus.GetHasher(), c.host.GetSeedByHeight); err == nil {
				_, _, _ = c.addPoolBlock(entry.block)
			}
		}
	}

	return nil, nil, false
}

func (c *SideChain) missingAncestors(block *PoolBlock) (missing []types.Hash) {
	if block.Side.Height == 0 {
		return nil
	}
	if block.Side.Parent != types.ZeroHash && c.blocksByTemplateId[block.Side.Parent] == nil {
		missing = append(missing, block.Side.Parent)
	}
	for _, uncleId := range block.Side.Uncles {
		if uncleId != types.ZeroHash && c.blocksByTemplateId[uncleId] == nil {
			missing = append(missing, uncleId)
		}
	}
	return missing
}

func (c *SideChain) addOrphan(missingId types.Hash, block *PoolBlock) {
	now := time.Now()

	count := 0
	for id, entries := range c.orphans {
		kept := entries[:0]
		for _, e := range entries {
			if now.Sub(e.received) < OrphanAge {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(c.orphans, id)
			continue
		}
		c.orphans[id] = kept
		count += len(kept)
	}

	if count >= MaxOrphanCount {
		// drop the oldest entry
		var oldestId types.Hash
		oldestIndex := -1
		oldest := now
		for id, entries := range c.orphans {
			for i, e := range entries {
				if e.received.Before(oldest) {
					oldest = e.received
					oldestId = id
					oldestIndex = i
				}
			}
		}
		if oldestIndex != -1 {
			c.orphans[oldestId] = slices.Delete(c.orphans[oldestId], oldestIndex, oldestIndex+1)
			if len(c.orphans[oldestId]) == 0 {
				delete(c.orphans, oldestId)
			}
		}
	}

	c.orphans[missingId] = append(c.orphans[missingId], orphanEntry{block: block, received: now})
	utils.Debugf("SideChain", "block %x at height %d waits for missing ancestor %x", block.SideTemplateId(c.consensus).Slice(), block.Side.Height, missingId.Slice())
}

var ErrNoDifficulty = errors.New("could not get difficulty")

// verifyBlock the chain context, difficulty and reward split checks.
// Ancestors are guaranteed present. Returns nil when the block is valid
func (c *SideChain) verifyBlock(block *PoolBlock) (invalid error) {
	// Genesis
	if block.Side.Height == 0 {
		if block.Side.Parent != types.ZeroHash ||
			len(block.Side.Uncles) != 0 ||
			block.Side.Difficulty.Cmp64(c.consensus.MinimumDifficulty) != 0 ||
			block.Side.CumulativeDifficulty.Cmp64(c.consensus.MinimumDifficulty) != 0 {
			return errors.New("genesis block has invalid parameters")
		}
		//this does not verify coinbase outputs, but that's fine
		return nil
	}

	//Regular block
	//Must have parent
	if block.Side.Parent == types.ZeroHash {
		return errors.New("block must have a parent")
	}

	parent := c.blocksByTemplateId[block.Side.Parent]
	if parent == nil {
		return errors.New("parent does not exist")
	}

	if parent.Invalid.Load() {
		return errors.New("parent is invalid")
	}

	expectedHeight := parent.Side.Height + 1
	if expectedHeight != block.Side.Height {
		return fmt.Errorf("wrong height, expected %d", expectedHeight)
	}

	// Deep block
	//
	// Blocks in the PPLNS window require up to ChainWindowSize earlier blocks to verify.
	// If a block is this deep behind the tip it can't influence the window;
	// having this many blocks on top of it also means the network verified it already.
	// Skipping the checks here makes pruning possible
	if tip := c.GetChainTip(); tip != nil && block.Side.Height+(c.consensus.ChainWindowSize-1)*2+UncleBlockDepth < tip.Side.Height {
		utils.Logf("SideChain", "block at height = %d, id = %x skipped verification", block.Side.Height, block.SideTemplateId(c.consensus).Slice())
		return nil
	}

	// Uncle hashes must be sorted in strictly ascending order to prevent
	// cheating when the same hash is repeated multiple times
	for i, uncleId := range block.Side.Uncles {
		if i == 0 {
			continue
		}
		if block.Side.Uncles[i-1].Compare(uncleId) != -1 {
			return errors.New("invalid uncle order")
		}
	}

	expectedCumulativeDifficulty := parent.Side.CumulativeDifficulty.Add(block.Side.Difficulty)

	//check uncles

	minedBlocks := make([]types.Hash, 0, UncleBlockDepth*2+1)
	{
		tmp := parent
		n := min(UncleBlockDepth, block.Side.Height+1)
		for i := uint64(0); tmp != nil && i < n; i++ {
			minedBlocks = append(minedBlocks, tmp.SideTemplateId(c.consensus))
			minedBlocks = append(minedBlocks, tmp.Side.Uncles...)
			tmp = c.blocksByTemplateId[tmp.Side.Parent]
		}
	}

	for _, uncleId := range block.Side.Uncles {
		// Empty hash is only used in the genesis block and only for its parent
		// Uncles can't be empty
		if uncleId == types.ZeroHash {
			return errors.New("empty uncle hash")
		}

		// Can't mine the same uncle block twice
		if slices.Index(minedBlocks, uncleId) != -1 {
			return fmt.Errorf("uncle %x has already been mined", uncleId.Slice())
		}

		uncle := c.blocksByTemplateId[uncleId]
		if uncle == nil {
			return errors.New("uncle does not exist")
		} else if uncle.Invalid.Load() {
			return errors.New("uncle is invalid")
		} else if uncle.Side.Height >= block.Side.Height || (uncle.Side.Height+UncleBlockDepth < block.Side.Height) {
			return fmt.Errorf("uncle at the wrong height (%d)", uncle.Side.Height)
		}

		// Check that uncle and parent have the same ancestor (they must be on the same chain)
		tmp := parent
		for tmp.Side.Height > uncle.Side.Height {
			tmp = c.blocksByTemplateId[tmp.Side.Parent]
			if tmp == nil {
				return errors.New("uncle from different chain (check 1)")
			}
		}

		if tmp.Side.Height < uncle.Side.Height {
			return errors.New("uncle from different chain (check 2)")
		}

		if sameChain := func() bool {
			tmp2 := uncle
			for j := uint64(0); j < UncleBlockDepth && tmp != nil && tmp2 != nil && (tmp.Side.Height+UncleBlockDepth >= block.Side.Height); j++ {
				if tmp.Side.Parent == tmp2.Side.Parent {
					return true
				}
				tmp = c.blocksByTemplateId[tmp.Side.Parent]
				tmp2 = c.blocksByTemplateId[tmp2.Side.Parent]
			}
			return false
		}(); !sameChain {
			return errors.New("uncle from different chain (check 3)")
		}

		expectedCumulativeDifficulty = expectedCumulativeDifficulty.Add(uncle.Side.Difficulty)
	}

	if !block.Side.CumulativeDifficulty.Equals(expectedCumulativeDifficulty) {
		return fmt.Errorf("wrong cumulative difficulty, got %s, expected %s", block.Side.CumulativeDifficulty.StringNumeric(), expectedCumulativeDifficulty.StringNumeric())
	}

	// Difficulty must equal the adjustment algorithm output on the parent chain
	var diff types.Difficulty
	if parent == c.GetChainTip() {
		// built on top of the current chain tip, using current difficulty for verification
		diff = c.Difficulty()
	} else {
		var verifyError error
		if diff, verifyError, invalid = c.getDifficulty(parent); verifyError != nil {
			return verifyError
		} else if invalid != nil {
			return invalid
		}
	}
	if diff == types.ZeroDifficulty {
		return ErrNoDifficulty
	}
	if diff != block.Side.Difficulty {
		return fmt.Errorf("wrong difficulty, got %s, expected %s", block.Side.Difficulty.StringNumeric(), diff.StringNumeric())
	}

	// Reward split must match the window exactly, order and amounts
	shares, _, err := GetShares(block, c.consensus, c.getPoolBlockByTemplateId, c.preAllocatedShares)
	if len(shares) == 0 {
		return fmt.Errorf("could not get outputs: %w", err)
	} else if len(shares) != len(block.Main.Coinbase.Outputs) {
		return fmt.Errorf("invalid number of outputs, got %d, expected %d", len(block.Main.Coinbase.Outputs), len(shares))
	}

	rewards := SplitReward(c.preAllocatedRewards, block.Main.Coinbase.TotalReward, shares)
	if len(rewards) != len(block.Main.Coinbase.Outputs) {
		return fmt.Errorf("invalid number of rewards, got %d, expected %d", len(rewards), len(block.Main.Coinbase.Outputs))
	}

	txPrivateKeySlice := block.Side.CoinbasePrivateKey.AsSlice()
	txPrivateKeyScalar := block.Side.CoinbasePrivateKey.AsScalar()
	if txPrivateKeyScalar == nil {
		return errors.New("invalid transaction private key")
	}

	hasher := crypto.GetKeccak256Hasher()
	defer crypto.PutKeccak256Hasher(hasher)

	for workIndex := range rewards {
		out := block.Main.Coinbase.Outputs[workIndex]
		if rewards[workIndex] != out.Reward {
			return fmt.Errorf("has invalid reward at index %d, got %d, expected %d", workIndex, out.Reward, rewards[workIndex])
		}

		ephPublicKey, viewTag := c.derivationCache.GetEphemeralPublicKey(&shares[workIndex].Address, txPrivateKeySlice, txPrivateKeyScalar, uint64(workIndex), hasher)
		if ephPublicKey != out.EphemeralPublicKey {
			return fmt.Errorf("has incorrect eph_public_key at index %d, got %s, expected %s", workIndex, out.EphemeralPublicKey.String(), ephPublicKey.String())
		} else if out.Type == transaction.TxOutToTaggedKey && viewTag != out.ViewTag {
			return fmt.Errorf("has incorrect view tag at index %d, got %d, expected %d", workIndex, out.ViewTag, viewTag)
		}
	}

	// All checks passed
	return nil
}

func (c *SideChain) isWatched(block *PoolBlock) bool {
	return c.watchBlockPossibleId != types.ZeroHash && c.watchBlockPossibleId == block.SideTemplateId(c.consensus)
}

func (c *SideChain) updateChainTip(block *PoolBlock) {
	tip := c.GetChainTip()

	if block == tip {
		return
	}

	if IsLongerChain(tip, block, c.consensus, c.getPoolBlockByTemplateId) {
		if diff, _, _ := c.getDifficulty(block); diff != types.ZeroDifficulty {
			c.chainTip.Store(block)
			c.currentDifficulty.Store(&diff)

			utils.Logf("SideChain", "new chain tip: height = %d, id = %x, difficulty = %s", block.Side.Height, block.SideTemplateId(c.consensus).Slice(), diff.StringNumeric())

			block.WantBroadcast.Store(true)
			c.host.UpdateTip(block)

			c.pruneOldBlocks()
		}
	} else if tip != nil && block.Side.Height+UncleBlockDepth > tip.Side.Height {
		utils.Logf("SideChain", "possible uncle block: id = %x, height = %d", block.SideTemplateId(c.consensus).Slice(), block.Side.Height)
	}

	if block.WantBroadcast.Load() && !block.Broadcasted.Swap(true) {
		c.host.Broadcast(block)
	}
}

func (c *SideChain) pruneOldBlocks() {
	tip := c.GetChainTip()
	if tip == nil {
		return
	}

	pruneDistance := c.consensus.ChainWindowSize + PruneDistanceBeyondWindow
	if tip.Side.Height < pruneDistance {
		return
	}

	h := tip.Side.Height - pruneDistance

	numBlocksPruned := 0
	for height, v := range c.blocksByHeight {
		if height > h {
			continue
		}
		for _, b := range v {
			delete(c.blocksByTemplateId, b.SideTemplateId(c.consensus))
			numBlocksPruned++
		}
		delete(c.blocksByHeight, height)
	}

	if numBlocksPruned > 0 {
		utils.Logf("SideChain", "pruned %d old blocks at heights <= %d", numBlocksPruned, h)
		c.cleanupSeenBlocks()
	}
}

func (c *SideChain) cleanupSeenBlocks() {
	c.seenBlocksLock.Lock()
	defer c.seenBlocksLock.Unlock()

	for k := range c.seenBlocks {
		if c.getPoolBlockByTemplateId(k.TemplateId()) == nil {
			delete(c.seenBlocks, k)
		}
	}
}

// GetMissingBlocks ids the orphan pool is waiting for
func (c *SideChain) GetMissingBlocks() []types.Hash {
	c.sidechainLock.RLock()
	defer c.sidechainLock.RUnlock()

	missingBlocks := make([]types.Hash, 0, len(c.orphans))
	for id := range c.orphans {
		missingBlocks = append(missingBlocks, id)
	}
	return missingBlocks
}

func (c *SideChain) GetShares(tip *PoolBlock) (shares Shares, bottomHeight uint64, err error) {
	c.sidechainLock.RLock()
	defer c.sidechainLock.RUnlock()
	return GetShares(tip, c.consensus, c.getPoolBlockByTemplateId, make(Shares, 0, c.consensus.ChainWindowSize))
}

func (c *SideChain) GetDifficulty(tip *PoolBlock) (difficulty types.Difficulty, verifyError, invalidError error) {
	c.sidechainLock.RLock()
	defer c.sidechainLock.RUnlock()
	return c.getDifficulty(tip)
}

func (c *SideChain) getDifficulty(tip *PoolBlock) (difficulty types.Difficulty, verifyError, invalidError error) {
	return GetDifficultyForNextBlock(tip, c.consensus, c.getPoolBlockByTemplateId, c.preAllocatedDifficultyData, c.preAllocatedTimestampData)
}

func (c *SideChain) GetParent(block *PoolBlock) *PoolBlock {
	return c.GetPoolBlockByTemplateId(block.Side.Parent)
}

func (c *SideChain) GetPoolBlockByTemplateId(id types.Hash) *PoolBlock {
	c.sidechainLock.RLock()
	defer c.sidechainLock.RUnlock()
	return c.getPoolBlockByTemplateId(id)
}

func (c *SideChain) getPoolBlockByTemplateId(id types.Hash) *PoolBlock {
	return c.blocksByTemplateId[id]
}

func (c *SideChain) GetPoolBlocksByHeight(height uint64) []*PoolBlock {
	c.sidechainLock.RLock()
	defer c.sidechainLock.RUnlock()
	return slices.Clone(c.blocksByHeight[height])
}

func (c *SideChain) GetPoolBlockCount() int {
	c.sidechainLock.RLock()
	defer c.sidechainLock.RUnlock()
	return len(c.blocksByTemplateId)
}

// GetPossibleUncles candidate uncle ids for a new block at forHeight on top of tip
func (c *SideChain) GetPossibleUncles(tip *PoolBlock, forHeight uint64) (uncles []types.Hash) {
	c.sidechainLock.RLock()
	defer c.sidechainLock.RUnlock()

	minedBlocks := make([]types.Hash, 0, UncleBlockDepth*2+1)
	tmp := tip
	for i, n := uint64(0), min(UncleBlockDepth, tip.Side.Height+1); tmp != nil && (i < n); i++ {
		minedBlocks = append(minedBlocks, tmp.SideTemplateId(c.consensus))
		minedBlocks = append(minedBlocks, tmp.Side.Uncles...)
		tmp = c.getPoolBlockByTemplateId(tmp.Side.Parent)
	}

	for i, n := uint64(0), min(UncleBlockDepth, tip.Side.Height+1); i < n; i++ {
		for _, uncle := range c.blocksByHeight[tip.Side.Height-i] {
			// Only add verified and valid blocks
			if !uncle.Verified.Load() || uncle.Invalid.Load() {
				continue
			}

			// Only add it if it hasn't been mined already
			if slices.Contains(minedBlocks, uncle.SideTemplateId(c.consensus)) {
				continue
			}

			if sameChain := func() bool {
				tmp = tip
				for tmp != nil && tmp.Side.Height > uncle.Side.Height {
					tmp = c.getPoolBlockByTemplateId(tmp.Side.Parent)
				}
				if tmp == nil || tmp.Side.Height < uncle.Side.Height {
					return false
				}
				tmp2 := uncle
				for j := 0; j < UncleBlockDepth && tmp != nil && tmp2 != nil && (tmp.Side.Height+UncleBlockDepth >= forHeight); j++ {
					if tmp.Side.Parent == tmp2.Side.Parent {
						return true
					}
					tmp = c.getPoolBlockByTemplateId(tmp.Side.Parent)
					tmp2 = c.getPoolBlockByTemplateId(tmp2.Side.Parent)
				}
				return false
			}(); sameChain {
				uncles = append(uncles, uncle.SideTemplateId(c.consensus))
			}
		}
	}

	if len(uncles) > 0 {
		// Sort hashes, consensus
		slices.SortFunc(uncles, func(a, b types.Hash) int {
			return a.Compare(b)
		})
	}

	return uncles
}

// WatchMainChainBlock records that a main chain header claims a side chain id
// in its coinbase extra. When that block is later accepted, a block found is
// reported
func (c *SideChain) WatchMainChainBlock(mainHeader *mainblock.Header, possibleId types.Hash) {
	c.sidechainLock.Lock()
	defer c.sidechainLock.Unlock()

	c.watchBlock = mainHeader
	c.watchBlockPossibleId = possibleId

	// the block may have been accepted already
	if block := c.getPoolBlockByTemplateId(possibleId); block != nil {
		c.host.UpdateBlockFound(mainHeader, block)
		c.watchBlockPossibleId = types.ZeroHash
	}
}
