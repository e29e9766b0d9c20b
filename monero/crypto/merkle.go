package crypto

import (
	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
	"git.gammaspectra.live/P2Pool/sha3"
)

type BinaryTreeHash []types.Hash

func leafHash(data []types.Hash, hasher *sha3.HasherState) (rootHash types.Hash) {
	switch len(data) {
	case 0:
		panic("unsupported length")
	case 1:
		return data[0]
	default:
		//only hash the next two items
		hasher.Reset()
		_, _ = hasher.Write(data[0][:])
		_, _ = hasher.Write(data[1][:])
		HashFastSum(hasher, rootHash[:])
		return rootHash
	}
}

// RootHash Calculates the Merkle root hash of the tree
func (t BinaryTreeHash) RootHash() (rootHash types.Hash) {
	hasher := GetKeccak256Hasher()
	defer PutKeccak256Hasher(hasher)

	count := len(t)
	if count <= 2 {
		return leafHash(t, hasher)
	}

	pow2cnt := utils.PreviousPowerOfTwo(uint64(count))
	offset := pow2cnt*2 - count

	temporaryTree := make(BinaryTreeHash, pow2cnt)
	copy(temporaryTree, t[:offset])

	offsetTree := temporaryTree[offset:]
	for i := range offsetTree {
		offsetTree[i] = leafHash(t[offset+i*2:], hasher)
	}

	for pow2cnt >>= 1; pow2cnt > 1; pow2cnt >>= 1 {
		for i := range temporaryTree[:pow2cnt] {
			temporaryTree[i] = leafHash(temporaryTree[i*2:], hasher)
		}
	}

	rootHash = leafHash(temporaryTree, hasher)

	return
}

// MainBranch the list of hashes needed to recompute the root when leaf zero changes
func (t BinaryTreeHash) MainBranch() (mainBranch []types.Hash) {
	count := len(t)
	if count <= 2 {
		return nil
	}

	hasher := GetKeccak256Hasher()
	defer PutKeccak256Hasher(hasher)

	pow2cnt := utils.PreviousPowerOfTwo(uint64(count))
	offset := pow2cnt*2 - count

	temporaryTree := make(BinaryTreeHash, pow2cnt)
	copy(temporaryTree, t[:offset])

	offsetTree := temporaryTree[offset:]

	for i := range offsetTree {
		if (offset + i*2) == 0 {
			mainBranch = append(mainBranch, t[1])
		}
		offsetTree[i] = leafHash(t[offset+i*2:], hasher)
	}

	for pow2cnt >>= 1; pow2cnt > 1; pow2cnt >>= 1 {
		for i := range temporaryTree[:pow2cnt] {
			if i == 0 {
				mainBranch = append(mainBranch, temporaryTree[1])
			}

			temporaryTree[i] = leafHash(temporaryTree[i*2:], hasher)
		}
	}

	mainBranch = append(mainBranch, temporaryTree[1])

	return
}
