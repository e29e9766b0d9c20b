package types

import "testing"

func TestDifficulty(t *testing.T) {
	hexDiff := "000000000000000000000000683a8b1c"
	diff, err := DifficultyFromString(hexDiff)
	if err != nil {
		t.Fatal(err)
	}

	if diff.String() != hexDiff {
		t.Fatalf("expected %s, got %s", hexDiff, diff)
	}
}

func TestDifficulty_UnmarshalJSON(t *testing.T) {
	hexDiff := "\"0x4970d\""
	var diff Difficulty
	err := diff.UnmarshalJSON([]byte(hexDiff))
	if err != nil {
		t.Fatal(err)
	}

	if diff.Lo != 0x4970d {
		t.Fatalf("expected %d, got %d", 0x4970d, diff.Lo)
	}
}

func TestDifficulty_UnmarshalJSON_Number(t *testing.T) {
	var diff Difficulty
	err := diff.UnmarshalJSON([]byte("300000"))
	if err != nil {
		t.Fatal(err)
	}

	if diff.Lo != 300000 || diff.Hi != 0 {
		t.Fatalf("expected %d, got %d", 300000, diff.Lo)
	}
}

func TestHash_Compare(t *testing.T) {
	a := MustHashFromString("1100000000000000000000000000000000000000000000000000000000000000")
	b := MustHashFromString("2200000000000000000000000000000000000000000000000000000000000000")

	if a.Compare(b) != -1 {
		t.Fatalf("expected %s < %s", a, b)
	}
	if b.Compare(a) != 1 {
		t.Fatalf("expected %s > %s", b, a)
	}
	if a.Compare(a) != 0 {
		t.Fatal("expected equal")
	}
}

func TestHash_RoundTrip(t *testing.T) {
	h := MustHashFromString("deadbeef00000000000000000000000000000000000000000000000000000001")

	data, err := h.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}

	var h2 Hash
	if err = h2.UnmarshalJSON(data); err != nil {
		t.Fatal(err)
	}

	if h != h2 {
		t.Fatalf("expected %s, got %s", h, h2)
	}
}
