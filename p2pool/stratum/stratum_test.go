package stratum

import (
	"encoding/binary"
	"testing"
	"time"

	"git.gammaspectra.live/P2Pool/daemon/monero/address"
	mainblock "git.gammaspectra.live/P2Pool/daemon/monero/block"
	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	"git.gammaspectra.live/P2Pool/daemon/monero/randomx"
	"git.gammaspectra.live/P2Pool/daemon/p2pool/mempool"
	"git.gammaspectra.live/P2Pool/daemon/p2pool/sidechain"
	p2pooltypes "git.gammaspectra.live/P2Pool/daemon/p2pool/types"
	"git.gammaspectra.live/P2Pool/daemon/types"
)

const testMainHeight = 3000000

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

type fakeHost struct {
	mainDifficulty types.Difficulty
	seedHash       types.Hash
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		mainDifficulty: types.NewDifficulty(0, 1),
		seedHash:       crypto.Keccak256Single([]byte("seed")),
	}
}

func (h *fakeHost) GetDifficultyByHeight(height uint64) types.Difficulty { return h.mainDifficulty }
func (h *fakeHost) GetSeedByHeight(height uint64) types.Hash             { return h.seedHash }
func (h *fakeHost) GetMainHeaderById(id types.Hash) *mainblock.Header    { return nil }
func (h *fakeHost) SubmitBlock(b *mainblock.Block)                       {}
func (h *fakeHost) Broadcast(b *sidechain.PoolBlock)                     {}
func (h *fakeHost) RequestBlock(id types.Hash)                           {}
func (h *fakeHost) UpdateTip(tip *sidechain.PoolBlock)                   {}
func (h *fakeHost) UpdateBlockFound(header *mainblock.Header, b *sidechain.PoolBlock) {
}

func testConsensus() *sidechain.Consensus {
	c := &sidechain.Consensus{
		NetworkType:       sidechain.NetworkMainnet,
		PoolName:          "go-test",
		TargetBlockTime:   10,
		MinimumDifficulty: 100000,
		ChainWindowSize:   60,
		UnclePenalty:      20,
		Id:                crypto.Keccak256Single([]byte("go-test consensus")),
	}
	c.SetHasher(fakeHasher{})
	return c
}

func testWallet() address.PackedAddress {
	spend := crypto.PrivateKeyFromScalar(crypto.DeterministicScalar([]byte("stratum spend")))
	view := crypto.PrivateKeyFromScalar(crypto.DeterministicScalar([]byte("stratum view")))
	return address.NewPackedAddressFromBytes(spend.PublicKey(), view.PublicKey())
}

func testMinerData() *p2pooltypes.MinerData {
	var prevId, seedHash types.Hash
	binary.LittleEndian.PutUint64(prevId[:], testMainHeight-1)
	seedHash = crypto.Keccak256Single([]byte("seed"))

	return &p2pooltypes.MinerData{
		MajorVersion:          16,
		Height:                testMainHeight,
		PrevId:                prevId,
		SeedHash:              seedHash,
		Difficulty:            types.NewDifficulty(0, 1),
		MedianWeight:          300000,
		AlreadyGeneratedCoins: ^uint64(0) - 1,
		MedianTimestamp:       uint64(time.Now().Unix()) - 120,
		TimeReceived:          time.Now(),
	}
}

func newTestBuilder(t *testing.T) (*Builder, *sidechain.SideChain) {
	consensus := testConsensus()
	chain := sidechain.NewSideChain(consensus, newFakeHost())

	builder := NewBuilder(chain, testWallet())
	builder.SubmitFunc = func(block *sidechain.PoolBlock) error {
		_, err, _ := chain.AddPoolBlock(block)
		return err
	}

	return builder, chain
}

func TestBuilder_Update(t *testing.T) {
	builder, _ := newTestBuilder(t)

	// no miner data yet, no template
	if id := builder.CurrentTemplateId(); id != 0 {
		t.Fatalf("expected no template, got id %d", id)
	}

	builder.HandleMinerData(testMinerData())

	id := builder.CurrentTemplateId()
	if id == 0 {
		t.Fatal("expected a template after miner data")
	}

	blob, height, mainDiff, sideDiff, seedHash, nonceOffset, err := builder.GetHashingBlob(id, 12345)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob) == 0 {
		t.Fatal("expected a hashing blob")
	}
	if height != testMainHeight {
		t.Fatalf("expected height %d, got %d", testMainHeight, height)
	}
	if mainDiff == types.ZeroDifficulty || sideDiff == types.ZeroDifficulty {
		t.Fatal("expected difficulties to be set")
	}
	if seedHash == types.ZeroHash {
		t.Fatal("expected a seed hash")
	}
	if nonceOffset <= 0 || nonceOffset >= len(blob) {
		t.Fatalf("nonce offset %d out of bounds", nonceOffset)
	}
}

func TestBuilder_SubmitShare(t *testing.T) {
	builder, chain := newTestBuilder(t)
	builder.HandleMinerData(testMinerData())

	id := builder.CurrentTemplateId()

	// the fake hasher passes the minimum difficulty for any nonce
	outcome, err := builder.SubmitShare(id, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeAcceptedSideChain && outcome != OutcomeAcceptedMainChain {
		t.Fatalf("expected accept, got %s", outcome)
	}

	tip := chain.GetChainTip()
	if tip == nil || tip.Side.Height != 0 {
		t.Fatal("expected the share to become the side chain tip")
	}

	// same (template, nonce, extra nonce) again
	outcome, err = builder.SubmitShare(id, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeDuplicateShare {
		t.Fatalf("expected duplicate share, got %s", outcome)
	}
}

func TestBuilder_UnknownTemplate(t *testing.T) {
	builder, _ := newTestBuilder(t)
	builder.HandleMinerData(testMinerData())

	// a template id never handed out
	outcome, err := builder.SubmitShare(0xffffffff, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeUnknownTemplate {
		t.Fatalf("expected unknown template, got %s", outcome)
	}
}

func TestBuilder_TemplateHistoryEviction(t *testing.T) {
	builder, _ := newTestBuilder(t)
	builder.HandleMinerData(testMinerData())

	first := builder.CurrentTemplateId()

	// rebuild past the history bound
	for i := 0; i < TemplateHistorySize; i++ {
		builder.Update()
	}

	// a share against the evicted template returns unknown template, never crashes
	outcome, err := builder.SubmitShare(first, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeUnknownTemplate {
		t.Fatalf("expected unknown template for evicted id, got %s", outcome)
	}
}

func TestBuilder_MempoolTransactions(t *testing.T) {
	builder, _ := newTestBuilder(t)
	builder.HandleMinerData(testMinerData())

	var txId types.Hash
	binary.LittleEndian.PutUint64(txId[:], 0xdeadbeef)

	// a high fee transaction triggers an immediate template refresh
	previous := builder.CurrentTemplateId()
	builder.HandleMempoolData(mempool.Mempool{
		{Id: txId, BlobSize: 1500, Weight: 1500, Fee: HighFeeValue},
	})

	id := builder.CurrentTemplateId()
	if id == previous {
		t.Fatal("expected a new template after a high fee transaction")
	}

	blob := func() []byte {
		b, _, _, _, _, _, err := builder.GetHashingBlob(id, 0)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}()
	if len(blob) == 0 {
		t.Fatal("expected a hashing blob")
	}

	// a share against this template, which now includes the transaction, is accepted
	outcome, err := builder.SubmitShare(id, 7, 7)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeAcceptedSideChain && outcome != OutcomeAcceptedMainChain {
		t.Fatalf("expected accept, got %s", outcome)
	}
}

func TestTemplate_Blob(t *testing.T) {
	builder, chain := newTestBuilder(t)
	builder.HandleMinerData(testMinerData())

	tpl, ok := func() (*Template, bool) {
		id := builder.CurrentTemplateId()
		blob, _, _, _, _, _, err := builder.GetHashingBlob(id, 0)
		if err != nil || len(blob) == 0 {
			return nil, false
		}
		return builder.templates.Values()[len(builder.templates.Values())-1], true
	}()
	if !ok {
		t.Fatal("expected a template")
	}

	blob := tpl.Blob(nil, 0x11223344, 0x55667788, tpl.TemplateId)

	block := &sidechain.PoolBlock{}
	if err := block.UnmarshalBinary(chain.Consensus(), blob); err != nil {
		t.Fatal(err)
	}

	if block.Main.Nonce != 0x11223344 {
		t.Fatalf("expected patched nonce, got %08x", block.Main.Nonce)
	}
	if block.ExtraNonce() != 0x55667788 {
		t.Fatalf("expected patched extra nonce, got %08x", block.ExtraNonce())
	}
	if block.DeclaredTemplateId() != tpl.TemplateId {
		t.Fatal("expected the declared template id to match")
	}
	if block.SideTemplateId(chain.Consensus()) != tpl.TemplateId {
		t.Fatal("nonce regions must not affect the side template id")
	}
}
