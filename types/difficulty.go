package types

import (
	"errors"
	"io"
	"math"
	"math/bits"
	"strconv"
	"strings"

	fasthex "github.com/tmthrgd/go-hex"
	"lukechampine.com/uint128"
)

const DifficultySize = 16

var ZeroDifficulty = Difficulty(uint128.Zero)
var MaxDifficulty = Difficulty(uint128.Max)

// Difficulty 128-bit unsigned work amount
type Difficulty uint128.Uint128

func NewDifficulty(lo, hi uint64) Difficulty {
	return Difficulty{Lo: lo, Hi: hi}
}

func DifficultyFrom64(v uint64) Difficulty {
	return NewDifficulty(v, 0)
}

func DifficultyFromBytes(buf []byte) Difficulty {
	return Difficulty(uint128.FromBytesBE(buf))
}

func DifficultyFromString(s string) (Difficulty, error) {
	if strings.HasPrefix(s, "0x") {
		strIn := s[2:]
		if len(strIn)%2 != 0 {
			strIn = "0" + strIn
		}
		buf, err := fasthex.DecodeString(strIn)
		if err != nil {
			return ZeroDifficulty, err
		}
		var d [DifficultySize]byte
		copy(d[DifficultySize-len(buf):], buf)
		return DifficultyFromBytes(d[:]), nil
	}
	buf, err := fasthex.DecodeString(s)
	if err != nil {
		return ZeroDifficulty, err
	}
	if len(buf) != DifficultySize {
		return ZeroDifficulty, errors.New("wrong difficulty size")
	}
	return DifficultyFromBytes(buf), nil
}

func MustDifficultyFromString(s string) Difficulty {
	if d, err := DifficultyFromString(s); err != nil {
		panic(err)
	} else {
		return d
	}
}

func (d Difficulty) IsZero() bool {
	return uint128.Uint128(d).IsZero()
}

func (d Difficulty) Equals(v Difficulty) bool {
	return d == v
}

func (d Difficulty) Equals64(v uint64) bool {
	return uint128.Uint128(d).Equals64(v)
}

func (d Difficulty) Cmp(v Difficulty) int {
	if d == v {
		return 0
	} else if d.Hi < v.Hi || (d.Hi == v.Hi && d.Lo < v.Lo) {
		return -1
	} else {
		return 1
	}
}

func (d Difficulty) Cmp64(v uint64) int {
	return uint128.Uint128(d).Cmp64(v)
}

// Add wraps on overflow
func (d Difficulty) Add(v Difficulty) Difficulty {
	lo, carry := bits.Add64(d.Lo, v.Lo, 0)
	hi, _ := bits.Add64(d.Hi, v.Hi, carry)
	return Difficulty{Lo: lo, Hi: hi}
}

func (d Difficulty) Add64(v uint64) Difficulty {
	return Difficulty(uint128.Uint128(d).AddWrap64(v))
}

// Sub wraps on underflow
func (d Difficulty) Sub(v Difficulty) Difficulty {
	return Difficulty(uint128.Uint128(d).SubWrap(uint128.Uint128(v)))
}

func (d Difficulty) Mul(v Difficulty) Difficulty {
	return Difficulty(uint128.Uint128(d).MulWrap(uint128.Uint128(v)))
}

func (d Difficulty) Mul64(v uint64) Difficulty {
	hi, lo := bits.Mul64(d.Lo, v)
	hi += d.Hi * v
	return Difficulty{Lo: lo, Hi: hi}
}

func (d Difficulty) Div(v Difficulty) Difficulty {
	return Difficulty(uint128.Uint128(d).Div(uint128.Uint128(v)))
}

func (d Difficulty) Div64(v uint64) Difficulty {
	return Difficulty(uint128.Uint128(d).Div64(v))
}

func (d Difficulty) Mod64(v uint64) uint64 {
	return uint128.Uint128(d).Mod64(v)
}

func (d Difficulty) PutBytesBE(b []byte) {
	uint128.Uint128(d).PutBytesBE(b)
}

func (d Difficulty) Float64() float64 {
	return float64(d.Lo) + float64(d.Hi)*(float64(math.MaxUint64)+1)
}

func (d Difficulty) Bytes() []byte {
	var buf [DifficultySize]byte
	d.PutBytesBE(buf[:])
	return buf[:]
}

func (d Difficulty) String() string {
	return fasthex.EncodeToString(d.Bytes())
}

func (d Difficulty) StringNumeric() string {
	return uint128.Uint128(d).String()
}

func (d Difficulty) MarshalJSON() ([]byte, error) {
	if d.Hi == 0 {
		return []byte(strconv.FormatUint(d.Lo, 10)), nil
	}

	var encodeBuf [DifficultySize]byte
	d.PutBytesBE(encodeBuf[:])

	var buf [DifficultySize*2 + 2]byte
	buf[0] = '"'
	buf[DifficultySize*2+1] = '"'
	fasthex.Encode(buf[1:], encodeBuf[:])
	return buf[:], nil
}

func (d *Difficulty) UnmarshalJSON(b []byte) (err error) {
	if len(b) == 0 {
		return io.ErrUnexpectedEOF
	}

	if b[0] == '"' {
		if len(b) < 2 || b[len(b)-1] != '"' {
			return errors.New("invalid bytes")
		}

		if diff, err := DifficultyFromString(string(b[1 : len(b)-1])); err != nil {
			return err
		} else {
			*d = diff
			return nil
		}
	}

	// Difficulty as base 10 number
	if d.Lo, err = strconv.ParseUint(string(b), 10, 64); err != nil {
		return err
	}
	d.Hi = 0
	return nil
}
