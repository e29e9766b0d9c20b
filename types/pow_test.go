package types

import "testing"

func TestCheckPoW(t *testing.T) {
	// all zero except low bytes, a very good proof
	pow := MustHashFromString("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa00000000000000000000000000000000")

	if !DifficultyFrom64(1000000).CheckPoW(pow) {
		t.Fatal("expected proof to pass")
	}

	// all ones, the worst possible proof
	badPow := MustHashFromString("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

	if DifficultyFrom64(2).CheckPoW(badPow) {
		t.Fatal("expected proof to fail")
	}

	if !DifficultyFrom64(1).CheckPoW(badPow) {
		t.Fatal("difficulty one passes any proof")
	}
}

func TestDifficultyFromPoW(t *testing.T) {
	pow := MustHashFromString("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa01000000000000000000000000000000")

	diff := DifficultyFromPoW(pow)
	if diff.IsZero() {
		t.Fatal("expected non zero difficulty")
	}

	if !diff.CheckPoW(pow) {
		t.Fatal("a proof must meet its own difficulty")
	}
}

func TestTarget(t *testing.T) {
	if target := DifficultyFrom64(1).Target(); target != ^uint64(0) {
		t.Fatalf("expected max target, got %d", target)
	}

	if target := NewDifficulty(0, 1).Target(); target != 1 {
		t.Fatalf("expected target 1, got %d", target)
	}

	if target := DifficultyFrom64(4).Target(); target != (1 << 62) {
		t.Fatalf("expected %d, got %d", uint64(1)<<62, target)
	}
}
