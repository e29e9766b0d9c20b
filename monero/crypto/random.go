package crypto

import (
	"crypto/rand"
	"encoding/binary"

	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/edwards25519"
)

var zeroScalar = edwards25519.NewScalar()

func RandomScalar() *edwards25519.Scalar {
	buf := make([]byte, 32)
	for {
		if _, err := rand.Read(buf); err != nil {
			return nil
		}

		scalar := BytesToScalar(buf)
		if scalar.Equal(zeroScalar) == 0 {
			return scalar
		}
	}
}

// DeterministicScalar consensus way of generating a deterministic scalar from given entropy
// Slice entropy will have data appended
func DeterministicScalar(entropy []byte) *edwards25519.Scalar {

	var counter uint32

	n := len(entropy)

	entropy = append(entropy, 0, 0, 0, 0)

	h := GetKeccak256Hasher()
	defer PutKeccak256Hasher(h)
	var hash types.Hash

	var wide [64]byte
	scalar := edwards25519.NewScalar()

	for {
		h.Reset()
		counter++
		binary.LittleEndian.PutUint32(entropy[n:], counter)
		_, _ = h.Write(entropy)
		HashFastSum(h, hash[:])
		copy(wide[:], hash[:])
		scalar, _ = scalar.SetUniformBytes(wide[:])

		if scalar.Equal(zeroScalar) == 0 {
			return scalar
		}
	}
}

var txKeyDomain = []byte("tx_secret_key")

// GetDeterministicTransactionPrivateKey tx key bound to (seed, previous main chain id)
func GetDeterministicTransactionPrivateKey(seed types.Hash, prevId types.Hash) *edwards25519.Scalar {
	entropy := make([]byte, 0, len(txKeyDomain)+types.HashSize*2+4)
	entropy = append(entropy, txKeyDomain...)
	entropy = append(entropy, seed[:]...)
	entropy = append(entropy, prevId[:]...)
	return DeterministicScalar(entropy)
}
