package types

import (
	"bytes"
	"errors"
	"io"

	fasthex "github.com/tmthrgd/go-hex"
)

const HashSize = 32

var ZeroHash Hash

// Hash opaque 32-byte identifier. Equality and ordering are bytewise.
type Hash [HashSize]byte

func HashFromString(s string) (Hash, error) {
	var h Hash
	if buf, err := fasthex.DecodeString(s); err != nil {
		return h, err
	} else {
		if len(buf) != HashSize {
			return h, errors.New("wrong hash size")
		}
		copy(h[:], buf)
		return h, nil
	}
}

func HashFromBytes(buf []byte) (h Hash) {
	if len(buf) != HashSize {
		return ZeroHash
	}
	copy(h[:], buf)
	return h
}

func MustHashFromString(s string) Hash {
	if h, err := HashFromString(s); err != nil {
		panic(err)
	} else {
		return h
	}
}

func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

func (h Hash) Slice() []byte {
	return h[:]
}

func (h Hash) String() string {
	return fasthex.EncodeToString(h[:])
}

func (h Hash) MarshalJSON() ([]byte, error) {
	var buf [HashSize*2 + 2]byte
	buf[0] = '"'
	buf[HashSize*2+1] = '"'
	fasthex.Encode(buf[1:], h[:])
	return buf[:], nil
}

func (h *Hash) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return io.ErrUnexpectedEOF
	}
	if len(b) != HashSize*2+2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.New("invalid hash")
	}
	if _, err := fasthex.Decode(h[:], b[1:len(b)-1]); err != nil {
		return err
	}
	return nil
}

// Bytes JSON-friendly byte slice encoded as hex
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	buf := make([]byte, len(b)*2+2)
	buf[0] = '"'
	buf[len(buf)-1] = '"'
	fasthex.Encode(buf[1:], b)
	return buf, nil
}

func (b *Bytes) UnmarshalJSON(buf []byte) error {
	if len(buf) < 2 || buf[0] != '"' || buf[len(buf)-1] != '"' {
		return errors.New("invalid bytes")
	}
	if (len(buf)-2)%2 != 0 {
		return errors.New("invalid hex length")
	}
	*b = make(Bytes, (len(buf)-2)/2)
	if _, err := fasthex.Decode(*b, buf[1:len(buf)-1]); err != nil {
		return err
	}
	return nil
}
