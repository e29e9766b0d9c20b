package p2pool

import (
	"os"
	"path/filepath"
	"testing"

	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	"git.gammaspectra.live/P2Pool/daemon/types"
)

func TestFoundBlocks_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p2pool.blocks")

	blocks := NewFoundBlocks(path)
	if err := blocks.Load(); err != nil {
		t.Fatal(err)
	}
	if blocks.Count() != 0 {
		t.Fatal("expected empty list")
	}

	found := FoundBlock{
		Timestamp:        1700000000,
		Height:           3000000,
		Id:               crypto.Keccak256Single([]byte("found")),
		Difficulty:       types.DifficultyFrom64(300000000000),
		CumulativeHashes: 12345678,
	}
	blocks.Add(found)

	// a restart loads the very same record back
	reloaded := NewFoundBlocks(path)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if reloaded.Count() != 1 {
		t.Fatalf("expected 1 block, got %d", reloaded.Count())
	}
	if got := reloaded.All()[0]; got != found {
		t.Fatalf("expected %+v, got %+v", found, got)
	}
}

func TestFoundBlocks_TruncatedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p2pool.blocks")

	id := crypto.Keccak256Single([]byte("found"))
	content := "1700000000 3000000 " + id.String() + " 300000000000 1\n" +
		"1700000100 3000010\n" + // truncated by the user
		"garbage\n" +
		"1700000200 3000020 " + id.String() + " 300000000000 2\n"

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	blocks := NewFoundBlocks(path)
	if err := blocks.Load(); err != nil {
		t.Fatal(err)
	}

	if blocks.Count() != 2 {
		t.Fatalf("expected 2 valid records, got %d", blocks.Count())
	}
	if last, ok := blocks.Last(); !ok || last.CumulativeHashes != 2 {
		t.Fatalf("expected last record with 2 hashes, got %+v", last)
	}
}
