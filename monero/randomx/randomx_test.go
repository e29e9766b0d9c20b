package randomx

import "testing"

func TestSeedHeight(t *testing.T) {
	for _, c := range []struct {
		height, seedHeight uint64
	}{
		{0, 0},
		{64, 0},
		{2048 + 64, 0},
		{2048 + 64 + 1, 2048},
		{4096 + 64, 2048},
		{4096 + 64 + 1, 4096},
	} {
		if h := SeedHeight(c.height); h != c.seedHeight {
			t.Fatalf("SeedHeight(%d): expected %d, got %d", c.height, c.seedHeight, h)
		}
	}
}

func TestSeedHeight_Monotonic(t *testing.T) {
	var last uint64
	for h := uint64(0); h < 3*SeedHashEpochBlocks; h++ {
		s := SeedHeight(h)
		if s < last {
			t.Fatalf("SeedHeight(%d) = %d decreased below %d", h, s, last)
		}
		if s%SeedHashEpochBlocks != 0 {
			t.Fatalf("SeedHeight(%d) = %d is not epoch aligned", h, s)
		}
		last = s
	}
}

func TestSeedHeights(t *testing.T) {
	seed, next := SeedHeights(2048 + 64 + 1)
	if seed != 2048 {
		t.Fatalf("expected seed height 2048, got %d", seed)
	}
	if next != 2048 {
		t.Fatalf("expected next height 2048, got %d", next)
	}

	// close to the epoch flip, the next epoch seed differs
	seed, next = SeedHeights(2049)
	if seed != 0 {
		t.Fatalf("expected seed height 0, got %d", seed)
	}
	if next != 2048 {
		t.Fatalf("expected next height 2048, got %d", next)
	}
}
