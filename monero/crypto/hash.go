package crypto

import (
	"sync"

	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/edwards25519"
	"git.gammaspectra.live/P2Pool/sha3"
)

var hasherPool sync.Pool

func init() {
	hasherPool.New = func() any {
		return sha3.NewLegacyKeccak256()
	}
}

func GetKeccak256Hasher() *sha3.HasherState {
	return hasherPool.Get().(*sha3.HasherState)
}

func PutKeccak256Hasher(h *sha3.HasherState) {
	h.Reset()
	hasherPool.Put(h)
}

func Keccak256(data ...[]byte) (result types.Hash) {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	HashFastSum(h, result[:])

	return
}

func Keccak256Single(data []byte) (result types.Hash) {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	HashFastSum(h, result[:])

	return
}

func PooledKeccak256(data ...[]byte) (result types.Hash) {
	h := GetKeccak256Hasher()
	defer PutKeccak256Hasher(h)
	for _, b := range data {
		h.Write(b)
	}
	HashFastSum(h, result[:])

	return
}

// HashFastSum sha3.Sum clones the state by allocating memory. prevent that.
// b must be pre-allocated to the expected size, or larger
func HashFastSum(hash *sha3.HasherState, b []byte) []byte {
	_ = b[31] // bounds check hint to compiler; see golang.org/issue/14808
	_, _ = hash.Read(b[:hash.Size()])
	return b
}

// BytesToScalar interprets buf as a little endian value reduced mod l
func BytesToScalar(buf []byte) *edwards25519.Scalar {
	_ = buf[31]
	var wide [64]byte
	copy(wide[:], buf[:32])
	c, _ := edwards25519.NewScalar().SetUniformBytes(wide[:])
	return c
}

func HashToScalarNoAllocate(data ...[]byte) edwards25519.Scalar {
	h := Keccak256(data...)
	var wide [64]byte
	copy(wide[:], h[:])

	var c edwards25519.Scalar
	_, _ = c.SetUniformBytes(wide[:])
	return c
}
