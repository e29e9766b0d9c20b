package sidechain

import (
	"errors"
	"fmt"
	"math/bits"
	"slices"

	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	"git.gammaspectra.live/P2Pool/daemon/monero/transaction"
	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
)

type GetByTemplateIdFunc func(h types.Hash) *PoolBlock

type PoolBlockWindowAddWeightFunc func(b *PoolBlock, weight types.Difficulty)

// IterateBlocksInPPLNSWindow walks the window newest to oldest starting at
// tip, crediting uncle weights minus their penalty to the blocks that mined
// them
func IterateBlocksInPPLNSWindow(tip *PoolBlock, consensus *Consensus, getByTemplateId GetByTemplateIdFunc, addWeightFunc PoolBlockWindowAddWeightFunc) (bottomHeight uint64, err error) {

	cur := tip

	var blockDepth uint64

	for {
		curWeight := cur.Side.Difficulty

		for _, uncleId := range cur.Side.Uncles {
			uncle := getByTemplateId(uncleId)
			if uncle == nil {
				return 0, fmt.Errorf("could not find uncle %x", uncleId.Slice())
			}

			// Skip uncles which are already out of PPLNS window
			if (tip.Side.Height - uncle.Side.Height) >= consensus.ChainWindowSize {
				continue
			}

			// Take some % of uncle's weight into this share
			uncleWeight, unclePenalty := consensus.ApplyUnclePenalty(uncle.Side.Difficulty)
			curWeight = curWeight.Add(unclePenalty)

			addWeightFunc(uncle, uncleWeight)
		}

		bottomHeight = cur.Side.Height

		addWeightFunc(cur, curWeight)

		blockDepth++

		if blockDepth >= consensus.ChainWindowSize {
			break
		}

		// Reached the genesis block so we're done
		if cur.Side.Height == 0 {
			break
		}

		parentId := cur.Side.Parent
		cur = getByTemplateId(parentId)

		if cur == nil {
			return 0, fmt.Errorf("could not find parent %x", parentId.Slice())
		}
	}
	return bottomHeight, nil
}

// GetShares the PPLNS window contributors ending at tip, one entry per payout
// address, ordered by window position with the newest contributor last
func GetShares(tip *PoolBlock, consensus *Consensus, getByTemplateId GetByTemplateIdFunc, preAllocatedShares Shares) (shares Shares, bottomHeight uint64, err error) {
	index := 0
	l := len(preAllocatedShares)

	if bottomHeight, err = IterateBlocksInPPLNSWindow(tip, consensus, getByTemplateId, func(b *PoolBlock, weight types.Difficulty) {
		if index < l {
			preAllocatedShares[index].Address = b.Side.PublicKey
			preAllocatedShares[index].Weight = weight
		} else {
			preAllocatedShares = append(preAllocatedShares, &Share{
				Address: b.Side.PublicKey,
				Weight:  weight,
			})
		}
		index++
	}); err != nil {
		return nil, 0, err
	}

	shares = preAllocatedShares[:index]

	// merge duplicate wallets into their newest window position
	shares = shares.Compact()

	// consensus order, newest contributor last
	shares = shares.Reverse()

	return shares, bottomHeight, nil
}

// SplitReward splits reward proportionally to share weights using integer
// division. The division remainder goes to the last (newest) contributor
func SplitReward(preAllocatedRewards []uint64, reward uint64, shares Shares) (rewards []uint64) {
	totalWeight := shares.TotalWeight()

	if totalWeight.Equals64(0) {
		return nil
	}

	var rewardGiven uint64

	rewards = slices.Grow(preAllocatedRewards, len(shares))[:len(shares)]

	if totalWeight.Hi == 0 {
		//fast path for 64-bit ops
		var hi, lo uint64
		for i, share := range shares {
			hi, lo = bits.Mul64(share.Weight.Lo, reward)
			// weight <= totalWeight, the quotient always fits in 64 bits
			rewards[i], _ = bits.Div64(hi, lo, totalWeight.Lo)
			rewardGiven += rewards[i]
		}
	} else {
		for i, share := range shares {
			rewards[i] = share.Weight.Mul64(reward).Div(totalWeight).Lo
			rewardGiven += rewards[i]
		}
	}

	// The division remainder goes to the last (newest) contributor
	rewards[len(rewards)-1] += reward - rewardGiven

	// Double check that we gave out the exact amount
	rewardGiven = 0
	for _, r := range rewards {
		rewardGiven += r
	}
	if rewardGiven != reward {
		return nil
	}

	return rewards
}

func SplitRewardAllocate(reward uint64, shares Shares) (rewards []uint64) {
	return SplitReward(make([]uint64, 0, len(shares)), reward, shares)
}

// CalculateOutputs the expected miner transaction outputs for a block, derived
// from its PPLNS window and its declared transaction private key
func CalculateOutputs(block *PoolBlock, consensus *Consensus, getByTemplateId GetByTemplateIdFunc, derivationCache *DerivationCache, preAllocatedShares Shares, preAllocatedRewards []uint64) (outputs transaction.Outputs, bottomHeight uint64, err error) {
	tmpShares, bottomHeight, err := GetShares(block, consensus, getByTemplateId, preAllocatedShares)
	if err != nil {
		return nil, 0, err
	}
	if preAllocatedRewards == nil {
		preAllocatedRewards = make([]uint64, 0, len(tmpShares))
	}
	tmpRewards := SplitReward(preAllocatedRewards, block.Main.Coinbase.TotalReward, tmpShares)

	if tmpShares == nil || tmpRewards == nil || len(tmpRewards) != len(tmpShares) {
		return nil, 0, errors.New("could not calculate outputs")
	}

	txType := block.GetTransactionOutputType()

	txPrivateKeySlice := block.Side.CoinbasePrivateKey.AsSlice()
	txPrivateKeyScalar := block.Side.CoinbasePrivateKey.AsScalar()
	if txPrivateKeyScalar == nil {
		return nil, 0, errors.New("invalid transaction private key")
	}

	hasher := crypto.GetKeccak256Hasher()
	defer crypto.PutKeccak256Hasher(hasher)

	outputs = make(transaction.Outputs, len(tmpShares))

	for i := range tmpShares {
		output := transaction.Output{
			Index: uint64(i),
			Type:  txType,
		}
		output.Reward = tmpRewards[i]
		output.EphemeralPublicKey, output.ViewTag = derivationCache.GetEphemeralPublicKey(&tmpShares[i].Address, txPrivateKeySlice, txPrivateKeyScalar, output.Index, hasher)

		outputs[i] = output
	}

	return outputs, bottomHeight, nil
}

type DifficultyData struct {
	cumulativeDifficulty types.Difficulty
	timestamp            uint64
}

// GetDifficultyForNextBlock Gets the difficulty at tip (the next block will require this difficulty)
//
// Ported from SideChain::get_difficulty() from C p2pool,
// somewhat based on Blockchain::get_difficulty_for_next_block() from Monero with the addition of uncles
func GetDifficultyForNextBlock(tip *PoolBlock, consensus *Consensus, getByTemplateId GetByTemplateIdFunc, preAllocatedDifficultyData []DifficultyData, preAllocatedTimestampData []uint64) (difficulty types.Difficulty, verifyError, invalidError error) {

	difficultyData := preAllocatedDifficultyData[:0]
	timestampData := preAllocatedTimestampData[:0]

	cur := tip
	var blockDepth uint64

	for {
		difficultyData = append(difficultyData, DifficultyData{
			cumulativeDifficulty: cur.Side.CumulativeDifficulty,
			timestamp:            cur.Main.Timestamp,
		})

		timestampData = append(timestampData, cur.Main.Timestamp)

		for _, uncleId := range cur.Side.Uncles {
			uncle := getByTemplateId(uncleId)
			if uncle == nil {
				return types.ZeroDifficulty, fmt.Errorf("could not find uncle %x", uncleId.Slice()), nil
			}

			// Skip uncles which are already out of PPLNS window
			if (tip.Side.Height - uncle.Side.Height) >= consensus.ChainWindowSize {
				continue
			}

			difficultyData = append(difficultyData, DifficultyData{
				cumulativeDifficulty: uncle.Side.CumulativeDifficulty,
				timestamp:            uncle.Main.Timestamp,
			})

			timestampData = append(timestampData, uncle.Main.Timestamp)
		}

		blockDepth++

		if blockDepth >= consensus.ChainWindowSize {
			break
		}

		// Reached the genesis block so we're done
		if cur.Side.Height == 0 {
			break
		}

		parentId := cur.Side.Parent
		cur = getByTemplateId(parentId)

		if cur == nil {
			return types.ZeroDifficulty, fmt.Errorf("could not find parent %x", parentId.Slice()), nil
		}
	}

	difficulty, invalidError = NextDifficulty(consensus, timestampData, difficultyData)
	return
}

// NextDifficulty returns the next block difficulty based on gathered timestamp/difficulty data.
// Discards the top and bottom tenth of blocks by timestamp to handle outliers,
// then divides the total work of the remaining subset by its time span and
// multiplies by the target block time, never going below the minimum difficulty.
func NextDifficulty(consensus *Consensus, timestamps []uint64, difficultyData []DifficultyData) (nextDifficulty types.Difficulty, err error) {
	cutSize := (len(timestamps) + 9) / 10
	lowIndex := cutSize - 1
	upperIndex := len(timestamps) - cutSize

	utils.NthElementSlice(timestamps, lowIndex)
	timestampLowerBound := timestamps[lowIndex]

	utils.NthElementSlice(timestamps, upperIndex)
	timestampUpperBound := timestamps[upperIndex]

	// Make a reasonable assumption that each block has higher timestamp, so deltaTimestamp can't be less than deltaIndex
	// Because if it is, someone is trying to mess with timestamps
	// In reality, deltaTimestamp ~ deltaIndex*10 (sidechain block time)
	deltaIndex := uint64(1)
	if upperIndex > lowIndex {
		deltaIndex = uint64(upperIndex - lowIndex)
	}
	deltaTimestamp := deltaIndex
	if timestampUpperBound > (timestampLowerBound + deltaIndex) {
		deltaTimestamp = timestampUpperBound - timestampLowerBound
	}

	minDifficulty := types.MaxDifficulty
	maxDifficulty := types.ZeroDifficulty

	for i := range difficultyData {
		dd := &difficultyData[i]
		// Pick only the cumulative difficulty from specifically the entries that are within the timestamp bounds
		if timestampLowerBound <= dd.timestamp && dd.timestamp <= timestampUpperBound {
			if minDifficulty.Cmp(dd.cumulativeDifficulty) > 0 {
				minDifficulty = dd.cumulativeDifficulty
			}
			if maxDifficulty.Cmp(dd.cumulativeDifficulty) < 0 {
				maxDifficulty = dd.cumulativeDifficulty
			}
		}
	}

	if maxDifficulty.Cmp(minDifficulty) < 0 {
		return types.DifficultyFrom64(consensus.MinimumDifficulty), nil
	}

	deltaDifficulty := maxDifficulty.Sub(minDifficulty)
	curDifficulty := deltaDifficulty.Mul64(consensus.TargetBlockTime).Div64(deltaTimestamp)

	if curDifficulty.Cmp64(consensus.MinimumDifficulty) < 0 {
		return types.DifficultyFrom64(consensus.MinimumDifficulty), nil
	}
	return curDifficulty, nil
}

// IsLongerChain candidate becomes the new tip when its cumulative difficulty
// is strictly greater, or equal with a bytewise lower id. Reorgs deeper than
// the window are rejected: both chains must share an ancestor within it
func IsLongerChain(tip, candidate *PoolBlock, consensus *Consensus, getByTemplateId GetByTemplateIdFunc) bool {
	if candidate == nil || !candidate.Verified.Load() || candidate.Invalid.Load() {
		return false
	}

	// Switching from an empty to a non-empty chain
	if tip == nil {
		return true
	}

	switch candidate.Side.CumulativeDifficulty.Cmp(tip.Side.CumulativeDifficulty) {
	case -1:
		return false
	case 0:
		// Tie broken by the lower id, deterministic across the network
		if candidate.SideTemplateId(consensus).Compare(tip.SideTemplateId(consensus)) >= 0 {
			return false
		}
	}

	// Both chains must share an ancestor within the window
	tipAncestor := tip
	candidateAncestor := candidate
	for tipAncestor != nil && tipAncestor.Side.Height > candidateAncestor.Side.Height {
		tipAncestor = getByTemplateId(tipAncestor.Side.Parent)
	}
	for candidateAncestor != nil && tipAncestor != nil && candidateAncestor.Side.Height > tipAncestor.Side.Height {
		candidateAncestor = getByTemplateId(candidateAncestor.Side.Parent)
	}

	for i := uint64(0); i < consensus.ChainWindowSize && tipAncestor != nil && candidateAncestor != nil; i++ {
		if tipAncestor.Side.Parent == candidateAncestor.Side.Parent {
			return true
		}
		tipAncestor = getByTemplateId(tipAncestor.Side.Parent)
		candidateAncestor = getByTemplateId(candidateAncestor.Side.Parent)
	}

	return false
}
