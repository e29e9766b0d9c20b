package stratum

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"git.gammaspectra.live/P2Pool/daemon/monero"
	"git.gammaspectra.live/P2Pool/daemon/monero/address"
	mainblock "git.gammaspectra.live/P2Pool/daemon/monero/block"
	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	"git.gammaspectra.live/P2Pool/daemon/monero/transaction"
	"git.gammaspectra.live/P2Pool/daemon/p2pool/mempool"
	"git.gammaspectra.live/P2Pool/daemon/p2pool/sidechain"
	p2pooltypes "git.gammaspectra.live/P2Pool/daemon/p2pool/types"
	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
	lru "github.com/hashicorp/golang-lru/v2"
)

// HighFeeValue 0.006 XMR
const HighFeeValue uint64 = 6000000000
const TimeInMempool = time.Second * 5

// TemplateHistorySize templates kept for validating late shares
const TemplateHistorySize = 8

// SeenShareHistorySize (template id, nonce, extra nonce) tuples kept for duplicate detection
const SeenShareHistorySize = 4096

type SubmitOutcome int

const (
	OutcomeUnknownTemplate SubmitOutcome = iota
	OutcomeDuplicateShare
	OutcomeTooLowDifficulty
	OutcomeAcceptedSideChain
	OutcomeAcceptedMainChain
)

func (o SubmitOutcome) String() string {
	switch o {
	case OutcomeUnknownTemplate:
		return "unknown template"
	case OutcomeDuplicateShare:
		return "duplicate share"
	case OutcomeTooLowDifficulty:
		return "too low difficulty"
	case OutcomeAcceptedSideChain:
		return "accepted"
	case OutcomeAcceptedMainChain:
		return "accepted, main chain"
	}
	return "unknown"
}

type shareKey [4 + 4 + 4]byte

// Builder assembles dual purpose block templates out of the main chain miner
// data, the mempool view and the side chain tip.
//
// Update runs on the orchestrator loop; GetHashingBlob and SubmitShare may be
// called from stratum workers under the reader side of the lock.
type Builder struct {
	sidechain *sidechain.SideChain
	wallet    address.PackedAddress

	// SubmitFunc hands a fully formed block to the side chain engine
	SubmitFunc func(block *sidechain.PoolBlock) error
	// SubmitMainFunc hands the raw main chain block upstream
	SubmitMainFunc func(b *mainblock.Block) error
	// MedianTimestampFunc the main chain shadow median timestamp
	MedianTimestampFunc func() uint64
	// NewTemplateFunc notified after a successful rebuild, stratum pushes jobs
	NewTemplateFunc func(tpl *Template)

	lock sync.RWMutex

	minerData *p2pooltypes.MinerData
	tip       *sidechain.PoolBlock

	mempool            mempool.Pool
	lastMempoolRefresh time.Time

	templateCounter uint32
	templates       *lru.Cache[uint32, *Template]
	current         *Template
	currentId       uint32

	seenShares *lru.Cache[shareKey, struct{}]
}

func NewBuilder(s *sidechain.SideChain, wallet address.PackedAddress) *Builder {
	templates, err := lru.New[uint32, *Template](TemplateHistorySize)
	if err != nil {
		utils.Panicf("template history: %s", err)
	}
	seenShares, err := lru.New[shareKey, struct{}](SeenShareHistorySize)
	if err != nil {
		utils.Panicf("seen share history: %s", err)
	}

	return &Builder{
		sidechain:  s,
		wallet:     wallet,
		mempool:    make(mempool.Pool, 512),
		templates:  templates,
		seenShares: seenShares,
	}
}

// HandleMinerData fresh snapshot from the main chain node. Swaps the mempool
// view for the backlog and rebuilds
func (b *Builder) HandleMinerData(minerData *p2pooltypes.MinerData) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.minerData != nil && b.minerData.Height > minerData.Height {
		return
	}
	b.minerData = minerData
	b.mempool.Swap(minerData.TxBacklog)
	b.lastMempoolRefresh = time.Now()
	b.update()
}

// HandleTip side chain tip changed
func (b *Builder) HandleTip(tip *sidechain.PoolBlock) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.tip != nil && tip.Side.Height < b.tip.Side.Height {
		return
	}
	b.tip = tip
	b.update()
}

// HandleMempoolData new transactions from the txpool stream. Rebuilds when a
// high fee transaction arrives, or on the refresh cadence
func (b *Builder) HandleMempoolData(data mempool.Mempool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	timeReceived := time.Now()
	var highFeeReceived bool
	for _, tx := range data {
		if b.mempool.Add(tx) && tx.Fee >= HighFeeValue {
			highFeeReceived = true
			utils.Noticef("Stratum", "high fee tx received: %s, fee %d - updating template", tx.Id, tx.Fee)
		}
	}

	refreshDuration := time.Duration(b.sidechain.Consensus().TargetBlockTime) * time.Second
	if highFeeReceived || timeReceived.Sub(b.lastMempoolRefresh) >= refreshDuration {
		b.lastMempoolRefresh = timeReceived
		b.update()
	}
}

// Update force a rebuild with current data
func (b *Builder) Update() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.update()
}

func (b *Builder) update() {
	tpl, err := b.buildTemplate()
	if err != nil {
		utils.Errorf("Stratum", "Error building new template: %s", err)
		return
	}

	b.templateCounter++
	if b.templateCounter == 0 {
		b.templateCounter++
	}
	b.currentId = b.templateCounter
	b.current = tpl
	b.templates.Add(b.currentId, tpl)

	if b.NewTemplateFunc != nil {
		b.NewTemplateFunc(tpl)
	}
}

// buildTemplate composes the dual purpose block for the current tip and miner data
func (b *Builder) buildTemplate() (tpl *Template, err error) {
	if b.minerData == nil {
		return nil, errors.New("no main data present")
	}

	if b.minerData.MajorVersion > monero.HardForkSupportedVersion {
		return nil, fmt.Errorf("unsupported hardfork version %d", b.minerData.MajorVersion)
	}

	consensus := b.sidechain.Consensus()

	timestamp := uint64(time.Now().Unix())
	if b.MedianTimestampFunc != nil {
		if medianTimestamp := b.MedianTimestampFunc(); timestamp <= medianTimestamp {
			timestamp = medianTimestamp + 1
		}
	}

	// fresh transaction secret key contributed by this template
	txKeyScalar := crypto.RandomScalar()
	if txKeyScalar == nil {
		return nil, errors.New("could not generate transaction key")
	}
	txKey := crypto.PrivateKeyFromScalar(txKeyScalar)
	txPub := txKey.PublicKey()

	side := sidechain.SideData{
		PublicKey:          b.wallet,
		CoinbasePrivateKey: txKey,
	}

	if b.tip != nil {
		side.Parent = b.tip.SideTemplateId(consensus)
		side.Height = b.tip.Side.Height + 1
		side.Difficulty = b.sidechain.Difficulty()
		side.Uncles = b.sidechain.GetPossibleUncles(b.tip, side.Height)

		side.CumulativeDifficulty = b.tip.Side.CumulativeDifficulty.Add(side.Difficulty)
		for _, uncleId := range side.Uncles {
			uncle := b.sidechain.GetPoolBlockByTemplateId(uncleId)
			if uncle == nil {
				return nil, fmt.Errorf("could not find uncle %x", uncleId.Slice())
			}
			side.CumulativeDifficulty = side.CumulativeDifficulty.Add(uncle.Side.Difficulty)
		}
	} else {
		side.Parent = types.ZeroHash
		side.Height = 0
		side.Difficulty = types.DifficultyFrom64(consensus.MinimumDifficulty)
		side.CumulativeDifficulty = side.Difficulty
	}

	blockTemplate := &sidechain.PoolBlock{
		Main: mainblock.Block{
			MajorVersion: b.minerData.MajorVersion,
			MinorVersion: monero.HardForkSupportedVersion,
			Timestamp:    timestamp,
			PreviousId:   b.minerData.PrevId,
			Nonce:        0,
		},
		Side: side,
	}

	// Snapshot the window ending at this template
	shares, _, err := sidechain.GetShares(blockTemplate, consensus, b.sidechain.GetPoolBlockByTemplateId, make(sidechain.Shares, 0, consensus.ChainWindowSize))
	if err != nil {
		return nil, fmt.Errorf("could not get window shares: %w", err)
	}

	// Only choose transactions that sat in the mempool for a while, or high fee ones
	selectedMempool := b.mempool.Select(HighFeeValue, TimeInMempool)

	baseReward := mainblock.GetBaseReward(b.minerData.AlreadyGeneratedCoins)

	totalWeight, totalFees := selectedMempool.WeightAndFees()

	maxReward := baseReward + totalFees

	// Dry run sizes the reward varints at their maximum
	maxRewards := sidechain.SplitRewardAllocate(maxReward, shares)
	if maxRewards == nil {
		return nil, errors.New("could not allocate rewards")
	}
	maxRewardAmountsWeight := uint64(utils.UVarInt64SliceSize(maxRewards))

	coinbase, err := b.createCoinbaseTransaction(blockTemplate.GetTransactionOutputType(), txKey, txPub, shares, maxRewards, maxRewardAmountsWeight, false)
	if err != nil {
		return nil, err
	}
	coinbaseWeight := uint64(coinbase.BufferLength())

	var pickedMempool mempool.Mempool
	if totalWeight+coinbaseWeight <= b.minerData.MedianWeight {
		// if a block doesn't get into the penalty zone, just pick all transactions
		pickedMempool = selectedMempool
	} else {
		pickedMempool = selectedMempool.Pick(baseReward, coinbaseWeight, b.minerData.MedianWeight)
	}

	blockTemplate.Main.Transactions = make([]types.Hash, len(pickedMempool))
	for i, entry := range pickedMempool {
		blockTemplate.Main.Transactions[i] = entry.Id
	}

	finalReward := mempool.GetBlockReward(baseReward, b.minerData.MedianWeight, pickedMempool.Fees(), coinbaseWeight+pickedMempool.Weight())
	if finalReward < baseReward {
		return nil, errors.New("final reward < base reward, should never happen")
	}

	rewards := sidechain.SplitRewardAllocate(finalReward, shares)
	if rewards == nil || len(rewards) != len(shares) {
		return nil, errors.New("could not calculate rewards")
	}

	if blockTemplate.Main.Coinbase, err = b.createCoinbaseTransaction(blockTemplate.GetTransactionOutputType(), txKey, txPub, shares, rewards, maxRewardAmountsWeight, true); err != nil {
		return nil, err
	}

	tpl, err = TemplateFromPoolBlock(consensus, blockTemplate)
	if err != nil {
		return nil, err
	}
	tpl.MainDifficulty = b.minerData.Difficulty
	tpl.SeedHash = b.minerData.SeedHash

	return tpl, nil
}

func (b *Builder) createCoinbaseTransaction(txType uint8, txKey crypto.PrivateKeyBytes, txPub crypto.PublicKeyBytes, shares sidechain.Shares, rewards []uint64, maxRewardAmountsWeight uint64, final bool) (tx transaction.CoinbaseTransaction, err error) {
	if b.minerData == nil {
		return tx, errors.New("no miner data")
	}

	tx = transaction.CoinbaseTransaction{
		Version:    2,
		UnlockTime: b.minerData.Height + monero.MinerRewardUnlockTime,
		InputCount: 1,
		InputType:  transaction.TxInGen,
		GenHeight:  b.minerData.Height,
		Extra: transaction.ExtraTags{
			transaction.ExtraTag{
				Tag:    transaction.TxExtraTagPubKey,
				VarInt: 0,
				Data:   types.Bytes(txPub.AsSlice()),
			},
			transaction.ExtraTag{
				Tag:       transaction.TxExtraTagNonce,
				VarInt:    sidechain.SideExtraNonceSize,
				HasVarInt: true,
				Data:      make(types.Bytes, sidechain.SideExtraNonceSize),
			},
			transaction.ExtraTag{
				Tag:       transaction.TxExtraTagSideTemplateId,
				VarInt:    types.HashSize,
				HasVarInt: true,
				Data:      make(types.Bytes, types.HashSize),
			},
		},
		ExtraBaseRCT: 0,
	}

	tx.Outputs = make(transaction.Outputs, len(shares))

	if final {
		hasher := crypto.GetKeccak256Hasher()
		defer crypto.PutKeccak256Hasher(hasher)

		keyScalar := txKey.AsScalar()
		keySlice := txKey.AsSlice()
		if keyScalar == nil {
			return transaction.CoinbaseTransaction{}, errors.New("invalid transaction key")
		}

		for i := range tx.Outputs {
			outputIndex := uint64(i)
			tx.Outputs[outputIndex].Index = outputIndex
			tx.Outputs[outputIndex].Type = txType
			tx.Outputs[outputIndex].Reward = rewards[outputIndex]
			tx.Outputs[outputIndex].EphemeralPublicKey, tx.Outputs[outputIndex].ViewTag = b.sidechain.DerivationCache().GetEphemeralPublicKey(&shares[outputIndex].Address, keySlice, keyScalar, outputIndex, hasher)
		}
	} else {
		for i := range tx.Outputs {
			outputIndex := uint64(i)
			tx.Outputs[outputIndex].Index = outputIndex
			tx.Outputs[outputIndex].Type = txType
			tx.Outputs[outputIndex].Reward = rewards[outputIndex]
		}
	}

	for _, o := range tx.Outputs {
		tx.TotalReward += o.Reward
	}

	rewardAmountsWeight := uint64(utils.UVarInt64SliceSize(rewards))

	if !final {
		if rewardAmountsWeight != maxRewardAmountsWeight {
			return transaction.CoinbaseTransaction{}, fmt.Errorf("incorrect miner rewards during the dry run, %d != %d", rewardAmountsWeight, maxRewardAmountsWeight)
		}
	} else if rewardAmountsWeight > maxRewardAmountsWeight {
		return transaction.CoinbaseTransaction{}, fmt.Errorf("incorrect miner rewards during the final run, %d > %d", rewardAmountsWeight, maxRewardAmountsWeight)
	}

	correctedExtraNonceSize := sidechain.SideExtraNonceSize + maxRewardAmountsWeight - rewardAmountsWeight

	if correctedExtraNonceSize > sidechain.SideExtraNonceSize {
		if correctedExtraNonceSize > sidechain.SideExtraNonceMaxSize {
			return transaction.CoinbaseTransaction{}, fmt.Errorf("corrected extra_nonce size is too large, %d > %d", correctedExtraNonceSize, sidechain.SideExtraNonceMaxSize)
		}
		//Increase size to maintain transaction weight
		tx.Extra[1].Data = make(types.Bytes, correctedExtraNonceSize)
		tx.Extra[1].VarInt = correctedExtraNonceSize
	}

	return tx, nil
}

// GetHashingBlob a mining job for the given template, the current one or one
// still in the template history. Rewrites only the
// extra nonce bytes in a copy
func (b *Builder) GetHashingBlob(templateId uint32, extraNonce uint32) (blob []byte, height uint64, mainDifficulty, sideDifficulty types.Difficulty, seedHash types.Hash, nonceOffset int, err error) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	tpl, ok := b.templates.Get(templateId)
	if !ok {
		return nil, 0, types.ZeroDifficulty, types.ZeroDifficulty, types.ZeroHash, 0, errors.New("unknown template")
	}

	hasher := crypto.GetKeccak256Hasher()
	defer crypto.PutKeccak256Hasher(hasher)

	blob = tpl.HashingBlob(hasher, make([]byte, 0, tpl.HashingBlobBufferLength()), 0, extraNonce, tpl.TemplateId)
	return blob, tpl.MainHeight, tpl.MainDifficulty, tpl.SideDifficulty, tpl.SeedHash, tpl.NonceOffset, nil
}

// CurrentTemplateId the id handed to new stratum jobs
func (b *Builder) CurrentTemplateId() uint32 {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.currentId
}

// SubmitShare verifies PoW on the stored hashing blob of a current or recent
// template, reconstructing the full block by patching nonce and extra nonce
func (b *Builder) SubmitShare(templateId uint32, nonce, extraNonce uint32) (SubmitOutcome, error) {
	tpl, ok := func() (*Template, bool) {
		b.lock.RLock()
		defer b.lock.RUnlock()
		return b.templates.Get(templateId)
	}()
	if !ok {
		return OutcomeUnknownTemplate, nil
	}

	var key shareKey
	binary.LittleEndian.PutUint32(key[0:], templateId)
	binary.LittleEndian.PutUint32(key[4:], nonce)
	binary.LittleEndian.PutUint32(key[8:], extraNonce)

	if found, _ := b.seenShares.ContainsOrAdd(key, struct{}{}); found {
		return OutcomeDuplicateShare, nil
	}

	blob := tpl.Blob(make([]byte, 0, len(tpl.Buffer)), nonce, extraNonce, tpl.TemplateId)

	block := &sidechain.PoolBlock{}
	if err := block.UnmarshalBinary(b.sidechain.Consensus(), blob); err != nil {
		return OutcomeTooLowDifficulty, fmt.Errorf("could not reconstruct block: %w", err)
	}
	block.Metadata.LocalTime = time.Now().UTC()

	powHash, err := block.PowHashWithError(b.sidechain.Consensus().GetHasher(), b.seedByHeight)
	if err != nil {
		return OutcomeTooLowDifficulty, err
	}

	if !tpl.SideDifficulty.CheckPoW(powHash) {
		return OutcomeTooLowDifficulty, nil
	}

	outcome := OutcomeAcceptedSideChain

	if tpl.MainDifficulty != types.ZeroDifficulty && tpl.MainDifficulty.CheckPoW(powHash) {
		outcome = OutcomeAcceptedMainChain
		if b.SubmitMainFunc != nil {
			if err := b.SubmitMainFunc(&block.Main); err != nil {
				utils.Errorf("Stratum", "submit main error: %s", err)
			}
		}
	}

	if b.SubmitFunc != nil {
		if err := b.SubmitFunc(block); err != nil {
			return outcome, fmt.Errorf("submit error: %w", err)
		}
	}

	return outcome, nil
}

func (b *Builder) seedByHeight(height uint64) types.Hash {
	b.lock.RLock()
	defer b.lock.RUnlock()
	if b.minerData != nil {
		return b.minerData.SeedHash
	}
	return types.ZeroHash
}
