package sidechain

import (
	"testing"

	"git.gammaspectra.live/P2Pool/daemon/types"
)

func TestSideChain_Genesis(t *testing.T) {
	consensus := NewTestConsensus(60)
	host := newFakeHost()
	chain := NewSideChain(consensus, host)
	tc := newTestChain(t, consensus)

	wallet := testWallet(1)
	genesis := tc.Build(nil, wallet)

	// at genesis the window is just the block itself, the reward goes entirely
	// to the block's own miner
	if len(genesis.Main.Coinbase.Outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(genesis.Main.Coinbase.Outputs))
	}
	if genesis.Main.Coinbase.Outputs[0].Reward != testBlockReward {
		t.Fatalf("expected full reward, got %d", genesis.Main.Coinbase.Outputs[0].Reward)
	}

	missing, err, ban := chain.AddPoolBlockExternal(genesis)
	if err != nil || ban || len(missing) != 0 {
		t.Fatalf("expected clean accept, got missing=%v err=%v ban=%v", missing, err, ban)
	}

	tip := chain.GetChainTip()
	if tip == nil || tip.SideTemplateId(consensus) != genesis.SideTemplateId(consensus) {
		t.Fatal("expected genesis to become tip")
	}
}

func TestSideChain_Extend(t *testing.T) {
	consensus := NewTestConsensus(60)
	host := newFakeHost()
	chain := NewSideChain(consensus, host)
	tc := newTestChain(t, consensus)

	var parent *PoolBlock
	for i := uint64(0); i < 5; i++ {
		b := tc.Build(parent, testWallet(i))
		if _, err, ban := chain.AddPoolBlockExternal(b); err != nil || ban {
			t.Fatalf("block at height %d rejected: %v ban=%v", i, err, ban)
		}
		parent = b
	}

	tip := chain.GetChainTip()
	if tip == nil || tip.Side.Height != 4 {
		t.Fatalf("expected tip at height 4, got %v", tip)
	}

	// every accepted block declares its recomputed id
	for height := uint64(0); height < 5; height++ {
		for _, b := range chain.GetPoolBlocksByHeight(height) {
			if b.SideTemplateId(consensus) != b.DeclaredTemplateId() {
				t.Fatalf("id mismatch at height %d", height)
			}
		}
	}
}

func TestSideChain_Idempotent(t *testing.T) {
	consensus := NewTestConsensus(60)
	host := newFakeHost()
	chain := NewSideChain(consensus, host)
	tc := newTestChain(t, consensus)

	genesis := tc.Build(nil, testWallet(1))

	if _, err, ban := chain.AddPoolBlockExternal(genesis); err != nil || ban {
		t.Fatalf("unexpected error: %v ban=%v", err, ban)
	}
	count := chain.GetPoolBlockCount()

	// a second ingest leaves the state unchanged
	if _, err, ban := chain.AddPoolBlockExternal(genesis); err != nil || ban {
		t.Fatalf("duplicate ingest must be silent, got %v ban=%v", err, ban)
	}
	if chain.GetPoolBlockCount() != count {
		t.Fatal("duplicate ingest changed the block count")
	}
}

func TestSideChain_TipTieBreak(t *testing.T) {
	consensus := NewTestConsensus(60)
	host := newFakeHost()
	chain := NewSideChain(consensus, host)
	tc := newTestChain(t, consensus)

	genesis := tc.Build(nil, testWallet(1))
	if _, err, _ := chain.AddPoolBlockExternal(genesis); err != nil {
		t.Fatal(err)
	}

	// two siblings with equal cumulative difficulty
	s1 := tc.Build(genesis, testWallet(2))
	s2 := tc.Build(genesis, testWallet(3))

	if s1.Side.CumulativeDifficulty != s2.Side.CumulativeDifficulty {
		t.Fatal("expected equal cumulative difficulty")
	}

	if _, err, _ := chain.AddPoolBlockExternal(s1); err != nil {
		t.Fatal(err)
	}
	if _, err, _ := chain.AddPoolBlockExternal(s2); err != nil {
		t.Fatal(err)
	}

	expected := s1.SideTemplateId(consensus)
	if other := s2.SideTemplateId(consensus); other.Compare(expected) < 0 {
		expected = other
	}

	if tip := chain.GetChainTip().SideTemplateId(consensus); tip != expected {
		t.Fatalf("expected tip %s, got %s", expected, tip)
	}
}

func TestSideChain_OrphanResolve(t *testing.T) {
	consensus := NewTestConsensus(60)
	host := newFakeHost()
	chain := NewSideChain(consensus, host)
	tc := newTestChain(t, consensus)

	genesis := tc.Build(nil, testWallet(1))
	child := tc.Build(genesis, testWallet(2))

	// child arrives before its parent
	missing, err, ban := chain.AddPoolBlockExternal(child)
	if err != nil || ban {
		t.Fatalf("unexpected error: %v ban=%v", err, ban)
	}
	if len(missing) != 1 || missing[0] != genesis.SideTemplateId(consensus) {
		t.Fatalf("expected missing parent, got %v", missing)
	}
	if chain.GetChainTip() != nil {
		t.Fatal("tip must not change for an orphan")
	}
	if !host.Requested(genesis.SideTemplateId(consensus)) {
		t.Fatal("expected the missing parent to be requested from peers")
	}

	// the parent arrives, both attach and the tip advances
	if _, err, ban = chain.AddPoolBlockExternal(genesis); err != nil || ban {
		t.Fatalf("unexpected error: %v ban=%v", err, ban)
	}

	tip := chain.GetChainTip()
	if tip == nil || tip.Side.Height != 1 {
		t.Fatalf("expected tip at height 1 after orphan resolve, got %v", tip)
	}
	if len(chain.GetMissingBlocks()) != 0 {
		t.Fatal("expected empty orphan pool")
	}
}

func TestSideChain_InvalidCumulativeDifficulty(t *testing.T) {
	consensus := NewTestConsensus(60)
	host := newFakeHost()
	chain := NewSideChain(consensus, host)
	tc := newTestChain(t, consensus)

	genesis := tc.Build(nil, testWallet(1))
	if _, err, _ := chain.AddPoolBlockExternal(genesis); err != nil {
		t.Fatal(err)
	}

	child := tc.Build(genesis, testWallet(2))
	child.Side.CumulativeDifficulty = child.Side.CumulativeDifficulty.Add64(1)
	// identity changes with the content
	templateId := consensus.CalculateSideTemplateId(child)
	copy(child.Main.Coinbase.Extra[2].Data, templateId[:])

	_, err, ban := chain.AddPoolBlockExternal(child)
	if err == nil || !ban {
		t.Fatalf("expected ban grade rejection, got err=%v ban=%v", err, ban)
	}
}

func TestSideChain_InvalidRewardSplit(t *testing.T) {
	consensus := NewTestConsensus(60)
	host := newFakeHost()
	chain := NewSideChain(consensus, host)
	tc := newTestChain(t, consensus)

	genesis := tc.Build(nil, testWallet(1))
	if _, err, _ := chain.AddPoolBlockExternal(genesis); err != nil {
		t.Fatal(err)
	}

	child := tc.Build(genesis, testWallet(2))
	// steal from the oldest output, give to the newest
	child.Main.Coinbase.Outputs[0].Reward--
	child.Main.Coinbase.Outputs[len(child.Main.Coinbase.Outputs)-1].Reward++
	templateId := consensus.CalculateSideTemplateId(child)
	copy(child.Main.Coinbase.Extra[2].Data, templateId[:])

	_, err, ban := chain.AddPoolBlockExternal(child)
	if err == nil || !ban {
		t.Fatalf("expected ban grade rejection, got err=%v ban=%v", err, ban)
	}
}

func TestSideChain_Uncles(t *testing.T) {
	consensus := NewTestConsensus(60)
	host := newFakeHost()
	chain := NewSideChain(consensus, host)
	tc := newTestChain(t, consensus)

	genesis := tc.Build(nil, testWallet(1))
	a1 := tc.Build(genesis, testWallet(2))
	b1 := tc.Build(genesis, testWallet(3))

	for _, b := range []*PoolBlock{genesis, a1, b1} {
		if _, err, ban := chain.AddPoolBlockExternal(b); err != nil || ban {
			t.Fatalf("unexpected error: %v ban=%v", err, ban)
		}
	}

	a2 := tc.Build(a1, testWallet(2), b1.SideTemplateId(consensus))
	if _, err, ban := chain.AddPoolBlockExternal(a2); err != nil || ban {
		t.Fatalf("uncle block rejected: %v ban=%v", err, ban)
	}

	tip := chain.GetChainTip()
	if tip == nil || tip.SideTemplateId(consensus) != a2.SideTemplateId(consensus) {
		t.Fatal("expected the uncle carrying block to become tip")
	}

	// cumulative difficulty includes the uncle credit
	expected := a1.Side.CumulativeDifficulty.Add(a2.Side.Difficulty).Add(b1.Side.Difficulty)
	if tip.Side.CumulativeDifficulty != expected {
		t.Fatalf("expected cumulative difficulty %s, got %s", expected.StringNumeric(), tip.Side.CumulativeDifficulty.StringNumeric())
	}

	// the uncle's miner is credited in the window
	shares, _, err := chain.GetShares(tip)
	if err != nil {
		t.Fatal(err)
	}
	if shares.Index(testWallet(3)) == -1 {
		t.Fatal("expected the uncle miner in the window")
	}
}

func TestSideChain_DoubleUncleInclusion(t *testing.T) {
	consensus := NewTestConsensus(60)
	host := newFakeHost()
	chain := NewSideChain(consensus, host)
	tc := newTestChain(t, consensus)

	genesis := tc.Build(nil, testWallet(1))
	a1 := tc.Build(genesis, testWallet(2))
	b1 := tc.Build(genesis, testWallet(3))
	a2 := tc.Build(a1, testWallet(2), b1.SideTemplateId(consensus))

	for _, b := range []*PoolBlock{genesis, a1, b1, a2} {
		if _, err, ban := chain.AddPoolBlockExternal(b); err != nil || ban {
			t.Fatalf("unexpected error: %v ban=%v", err, ban)
		}
	}

	// a descendant referencing the already mined uncle again is rejected
	a3 := tc.Build(a2, testWallet(2), b1.SideTemplateId(consensus))
	_, err, ban := chain.AddPoolBlockExternal(a3)
	if err == nil || !ban {
		t.Fatalf("expected double inclusion rejection, got err=%v ban=%v", err, ban)
	}
}

func TestSideChain_DuplicateUncleListing(t *testing.T) {
	consensus := NewTestConsensus(60)
	host := newFakeHost()
	chain := NewSideChain(consensus, host)
	tc := newTestChain(t, consensus)

	genesis := tc.Build(nil, testWallet(1))
	a1 := tc.Build(genesis, testWallet(2))
	b1 := tc.Build(genesis, testWallet(3))

	for _, b := range []*PoolBlock{genesis, a1, b1} {
		if _, err, ban := chain.AddPoolBlockExternal(b); err != nil || ban {
			t.Fatalf("unexpected error: %v ban=%v", err, ban)
		}
	}

	// the same uncle listed twice would double its PPLNS credit and its
	// cumulative difficulty contribution
	uncleId := b1.SideTemplateId(consensus)
	a2 := tc.Build(a1, testWallet(2), uncleId, uncleId)

	_, err, ban := chain.AddPoolBlockExternal(a2)
	if err == nil || !ban {
		t.Fatalf("expected duplicate uncle rejection, got err=%v ban=%v", err, ban)
	}

	// the serialized form is rejected by the codec as well
	data, err := a2.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	b2 := &PoolBlock{}
	if err = b2.UnmarshalBinary(consensus, data); err == nil {
		t.Fatal("expected duplicate uncle listing to fail decoding")
	}
}

func TestSplitReward(t *testing.T) {
	shares := Shares{
		{Address: testWallet(1), Weight: types.DifficultyFrom64(100)},
		{Address: testWallet(2), Weight: types.DifficultyFrom64(200)},
		{Address: testWallet(3), Weight: types.DifficultyFrom64(300)},
	}

	rewards := SplitRewardAllocate(600, shares)
	if len(rewards) != 3 || rewards[0] != 100 || rewards[1] != 200 || rewards[2] != 300 {
		t.Fatalf("expected 100/200/300, got %v", rewards)
	}

	// the remainder goes to the newest contributor
	rewards = SplitRewardAllocate(601, shares)
	if len(rewards) != 3 || rewards[0] != 100 || rewards[1] != 200 || rewards[2] != 301 {
		t.Fatalf("expected 100/200/301, got %v", rewards)
	}
}

func TestGetShares_NewestLast(t *testing.T) {
	consensus := NewTestConsensus(60)
	tc := newTestChain(t, consensus)

	genesis := tc.Build(nil, testWallet(1))
	b1 := tc.Build(genesis, testWallet(2))
	b2 := tc.Build(b1, testWallet(3))

	shares, bottomHeight, err := GetShares(b2, consensus, tc.get, nil)
	if err != nil {
		t.Fatal(err)
	}
	if bottomHeight != 0 {
		t.Fatalf("expected bottom height 0, got %d", bottomHeight)
	}
	if len(shares) != 3 {
		t.Fatalf("expected 3 shares, got %d", len(shares))
	}
	if shares[len(shares)-1].Address != testWallet(3) {
		t.Fatal("expected the newest contributor last")
	}
	if shares[0].Address != testWallet(1) {
		t.Fatal("expected the oldest contributor first")
	}
}

func TestGetShares_WindowBound(t *testing.T) {
	consensus := NewTestConsensus(60)
	tc := newTestChain(t, consensus)

	var parent *PoolBlock
	var blocks []*PoolBlock
	for i := uint64(0); i < consensus.ChainWindowSize+5; i++ {
		parent = tc.Build(parent, testWallet(i))
		blocks = append(blocks, parent)
	}

	shares, bottomHeight, err := GetShares(parent, consensus, tc.get, nil)
	if err != nil {
		t.Fatal(err)
	}
	if uint64(len(shares)) != consensus.ChainWindowSize {
		t.Fatalf("expected %d shares, got %d", consensus.ChainWindowSize, len(shares))
	}
	if expected := parent.Side.Height - consensus.ChainWindowSize + 1; bottomHeight != expected {
		t.Fatalf("expected bottom height %d, got %d", expected, bottomHeight)
	}
}

func TestPoolBlock_RoundTrip(t *testing.T) {
	consensus := NewTestConsensus(60)
	tc := newTestChain(t, consensus)

	genesis := tc.Build(nil, testWallet(1))
	b1 := tc.Build(genesis, testWallet(2))

	for _, b := range []*PoolBlock{genesis, b1} {
		data, err := b.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}

		b2 := &PoolBlock{}
		if err = b2.UnmarshalBinary(consensus, data); err != nil {
			t.Fatal(err)
		}

		data2, err := b2.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}

		if string(data) != string(data2) {
			t.Fatal("round trip serialization mismatch")
		}

		if b2.SideTemplateId(consensus) != b.SideTemplateId(consensus) {
			t.Fatal("round trip id mismatch")
		}
	}
}
