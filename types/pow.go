package types

import (
	"encoding/binary"
	"math"
	"math/bits"

	"lukechampine.com/uint128"
)

// DifficultyFromPoW amount of work a proof hash represents, about 2^256 / hash,
// computed from the upper 128 bits of the hash and rounded down so that the
// proof always meets the returned difficulty
func DifficultyFromPoW(powHash Hash) Difficulty {
	if powHash == ZeroHash {
		return ZeroDifficulty
	}

	hi := uint128.FromBytes(powHash[16:])
	if hi.IsZero() {
		return MaxDifficulty
	}
	if !uint128.FromBytes(powHash[:16]).IsZero() && hi != uint128.Max {
		hi = hi.Add64(1)
	}
	return Difficulty(uint128.Max.Div(hi))
}

// CheckPoW the product of difficulty and the hash interpreted as a little
// endian 256-bit integer must not overflow 2^256
func (d Difficulty) CheckPoW(pow Hash) bool {
	var result [6]uint64
	var product [6]uint64

	a := [4]uint64{
		binary.LittleEndian.Uint64(pow[:]),
		binary.LittleEndian.Uint64(pow[8:]),
		binary.LittleEndian.Uint64(pow[16:]),
		binary.LittleEndian.Uint64(pow[24:]),
	}

	if d.Hi == 0 {
		for i := 3; i >= 0; i-- {
			product[1], product[0] = bits.Mul64(a[i], d.Lo)

			var carry uint64
			for k, l := i, 0; k < 5; k, l = k+1, l+1 {
				result[k], carry = bits.Add64(result[k], product[l], carry)
			}

			if result[4] > 0 {
				return false
			}
		}
	} else {
		b := [2]uint64{d.Lo, d.Hi}

		for i := 3; i >= 0; i-- {
			for j := 1; j >= 0; j-- {
				product[1], product[0] = bits.Mul64(a[i], b[j])

				var carry uint64
				for k, l := i+j, 0; k < 6; k, l = k+1, l+1 {
					result[k], carry = bits.Add64(result[k], product[l], carry)
				}

				if result[4] > 0 || result[5] > 0 {
					return false
				}
			}
		}
	}

	return true
}

// Target 64-bit mining target, 2^64 / difficulty rounded up
func (d Difficulty) Target() uint64 {
	if d.Hi > 0 {
		return 1
	}

	// division by a value <= 1 does not fit in 64 bits
	if d.Lo <= 1 {
		return math.MaxUint64
	}

	q, rem := bits.Div64(1, 0, d.Lo)
	if rem > 0 {
		return q + 1
	}
	return q
}
