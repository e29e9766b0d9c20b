package sidechain

import (
	"encoding/binary"
	"sync"
	"testing"

	"git.gammaspectra.live/P2Pool/daemon/monero"
	"git.gammaspectra.live/P2Pool/daemon/monero/address"
	mainblock "git.gammaspectra.live/P2Pool/daemon/monero/block"
	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	"git.gammaspectra.live/P2Pool/daemon/monero/randomx"
	"git.gammaspectra.live/P2Pool/daemon/monero/transaction"
	"git.gammaspectra.live/P2Pool/daemon/types"
)

const testMainHeight = 3000000
const testBlockReward = 600000000000

// fakeHasher a deterministic RandomX stand-in. The top half of the output is
// zeroed so every proof passes any realistic side chain difficulty
type fakeHasher struct{}

func (fakeHasher) Hash(key []byte, input []byte) (types.Hash, error) {
	h := crypto.Keccak256(key, input)
	for i := 16; i < types.HashSize; i++ {
		h[i] = 0
	}
	if h == types.ZeroHash {
		h[0] = 1
	}
	return h, nil
}

func (fakeHasher) OptionFlags(flags ...randomx.Flag) error { return nil }
func (fakeHasher) OptionNumberOfCachedStates(n int) error  { return nil }
func (fakeHasher) Close()                                  {}

// fakeHost records engine callbacks
type fakeHost struct {
	lock sync.Mutex

	mainDifficulty types.Difficulty
	seedHash       types.Hash

	submitted  []*mainblock.Block
	broadcast  []*PoolBlock
	requested  []types.Hash
	tips       []*PoolBlock
	blockFound []*PoolBlock
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		// 2^64: the fake hasher's proofs (top 16 bytes zero) meet this too, so
		// accepted blocks are also submitted as main chain blocks
		mainDifficulty: types.NewDifficulty(0, 1),
		seedHash:       crypto.Keccak256Single([]byte("seed")),
	}
}

func (h *fakeHost) GetDifficultyByHeight(height uint64) types.Difficulty {
	return h.mainDifficulty
}

func (h *fakeHost) GetSeedByHeight(height uint64) types.Hash {
	return h.seedHash
}

func (h *fakeHost) GetMainHeaderById(id types.Hash) *mainblock.Header {
	return nil
}

func (h *fakeHost) SubmitBlock(b *mainblock.Block) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.submitted = append(h.submitted, b)
}

func (h *fakeHost) Broadcast(b *PoolBlock) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.broadcast = append(h.broadcast, b)
}

func (h *fakeHost) RequestBlock(id types.Hash) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.requested = append(h.requested, id)
}

func (h *fakeHost) UpdateTip(tip *PoolBlock) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.tips = append(h.tips, tip)
}

func (h *fakeHost) UpdateBlockFound(header *mainblock.Header, b *PoolBlock) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.blockFound = append(h.blockFound, b)
}

func (h *fakeHost) Requested(id types.Hash) bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	for _, r := range h.requested {
		if r == id {
			return true
		}
	}
	return false
}

// NewTestConsensus window size kept small so tests exercise window edges
func NewTestConsensus(windowSize uint64) *Consensus {
	c := &Consensus{
		NetworkType:       NetworkMainnet,
		PoolName:          "go-test",
		TargetBlockTime:   10,
		MinimumDifficulty: 100000,
		ChainWindowSize:   windowSize,
		UnclePenalty:      20,
		Id:                crypto.Keccak256Single([]byte("go-test consensus")),
	}
	c.SetHasher(fakeHasher{})
	return c
}

func testWallet(i uint64) address.PackedAddress {
	var entropy [16]byte
	binary.LittleEndian.PutUint64(entropy[:], i)
	copy(entropy[8:], "wallet")

	spend := crypto.PrivateKeyFromScalar(crypto.DeterministicScalar(append([]byte("spend"), entropy[:]...)))
	view := crypto.PrivateKeyFromScalar(crypto.DeterministicScalar(append([]byte("view"), entropy[:]...)))

	return address.NewPackedAddressFromBytes(spend.PublicKey(), view.PublicKey())
}

// testChain builds valid pool blocks outside an engine, so they can be fed to
// one in any order
type testChain struct {
	t         *testing.T
	consensus *Consensus
	cache     *DerivationCache
	blocks    map[types.Hash]*PoolBlock
	counter   uint64
}

func newTestChain(t *testing.T, consensus *Consensus) *testChain {
	return &testChain{
		t:         t,
		consensus: consensus,
		cache:     NewDerivationCache(),
		blocks:    make(map[types.Hash]*PoolBlock),
	}
}

func (tc *testChain) get(h types.Hash) *PoolBlock {
	return tc.blocks[h]
}

// Build a valid block on parent (nil for genesis) with the given uncles
func (tc *testChain) Build(parent *PoolBlock, wallet address.PackedAddress, uncles ...types.Hash) *PoolBlock {
	tc.counter++

	txKey := crypto.PrivateKeyFromScalar(crypto.DeterministicScalar(binary.LittleEndian.AppendUint64([]byte("txkey"), tc.counter)))
	txPub := txKey.PublicKey()

	var prevMainId types.Hash
	binary.LittleEndian.PutUint64(prevMainId[:], testMainHeight-1)

	b := &PoolBlock{
		Main: mainblock.Block{
			MajorVersion: 16,
			MinorVersion: 16,
			Timestamp:    1700000000 + tc.counter*10,
			PreviousId:   prevMainId,
			Nonce:        0,
			Coinbase: transaction.CoinbaseTransaction{
				Version:     2,
				UnlockTime:  testMainHeight + monero.MinerRewardUnlockTime,
				InputCount:  1,
				InputType:   transaction.TxInGen,
				GenHeight:   testMainHeight,
				TotalReward: testBlockReward,
				Extra: transaction.ExtraTags{
					transaction.ExtraTag{
						Tag:  transaction.TxExtraTagPubKey,
						Data: types.Bytes(txPub.AsSlice()),
					},
					transaction.ExtraTag{
						Tag:       transaction.TxExtraTagNonce,
						VarInt:    SideExtraNonceSize,
						HasVarInt: true,
						Data:      make(types.Bytes, SideExtraNonceSize),
					},
					transaction.ExtraTag{
						Tag:       transaction.TxExtraTagSideTemplateId,
						VarInt:    types.HashSize,
						HasVarInt: true,
						Data:      make(types.Bytes, types.HashSize),
					},
				},
			},
		},
		Side: SideData{
			PublicKey:          wallet,
			CoinbasePrivateKey: txKey,
			Uncles:             uncles,
		},
	}

	if parent == nil {
		b.Side.Parent = types.ZeroHash
		b.Side.Height = 0
		b.Side.Difficulty = types.DifficultyFrom64(tc.consensus.MinimumDifficulty)
		b.Side.CumulativeDifficulty = b.Side.Difficulty
	} else {
		b.Side.Parent = parent.SideTemplateId(tc.consensus)
		b.Side.Height = parent.Side.Height + 1

		diff, verifyError, invalidError := GetDifficultyForNextBlock(parent, tc.consensus, tc.get, nil, nil)
		if verifyError != nil || invalidError != nil {
			tc.t.Fatalf("could not get difficulty: %v %v", verifyError, invalidError)
		}
		b.Side.Difficulty = diff

		b.Side.CumulativeDifficulty = parent.Side.CumulativeDifficulty.Add(diff)
		for _, uncleId := range uncles {
			uncle := tc.blocks[uncleId]
			if uncle == nil {
				tc.t.Fatalf("unknown uncle %s", uncleId)
			}
			b.Side.CumulativeDifficulty = b.Side.CumulativeDifficulty.Add(uncle.Side.Difficulty)
		}
	}

	outputs, _, err := CalculateOutputs(b, tc.consensus, tc.get, tc.cache, make(Shares, 0, 16), nil)
	if err != nil {
		tc.t.Fatalf("could not calculate outputs: %s", err)
	}
	b.Main.Coinbase.Outputs = outputs

	templateId := tc.consensus.CalculateSideTemplateId(b)
	copy(b.Main.Coinbase.Extra[2].Data, templateId[:])

	tc.blocks[templateId] = b

	return b
}
