package utils

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestReadCanonicalUvarint(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300000, 1<<32 - 1, 1<<64 - 1} {
		buf := binary.AppendUvarint(nil, v)
		out, err := ReadCanonicalUvarint(bytes.NewReader(buf))
		if err != nil {
			t.Fatal(err)
		}
		if out != v {
			t.Fatalf("expected %d, got %d", v, out)
		}
	}
}

func TestReadCanonicalUvarint_NonCanonical(t *testing.T) {
	// 0 encoded with a trailing zero continuation
	if _, err := ReadCanonicalUvarint(bytes.NewReader([]byte{0x80, 0x00})); err != ErrNonCanonicalEncoding {
		t.Fatalf("expected non canonical error, got %v", err)
	}
}

func TestUVarInt64Size(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 16383, 16384, 1<<64 - 1} {
		buf := binary.AppendUvarint(nil, v)
		if size := UVarInt64Size(v); size != len(buf) {
			t.Fatalf("expected size %d for %d, got %d", len(buf), v, size)
		}
	}
}

func TestNthElementSlice(t *testing.T) {
	s := []uint64{690, 100, 400, 300, 200, 500}
	NthElementSlice(s, 2)
	if s[2] != 300 {
		t.Fatalf("expected 300 at index 2, got %d", s[2])
	}
}
