package crypto

import (
	"encoding/binary"

	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/edwards25519"
	"git.gammaspectra.live/P2Pool/sha3"
)

var viewTagDomain = []byte("view_tag")

// GetKeyDerivation 8 * txKey * viewPublicKey
func GetKeyDerivation(viewPublicKeyPoint *edwards25519.Point, txKey *edwards25519.Scalar) PublicKeyBytes {
	var point, derivation edwards25519.Point
	point.UnsafeVarTimeScalarMult(txKey, viewPublicKeyPoint)
	derivation.MultByCofactor(&point)

	return PublicKeyFromPoint(&derivation)
}

// GetDerivationSharedDataAndViewTagForOutputIndex H_s(derivation || varint(outputIndex)) and the
// first byte of H(domain || derivation || varint(outputIndex))
func GetDerivationSharedDataAndViewTagForOutputIndex(derivation PublicKeyBytes, outputIndex uint64, hasher *sha3.HasherState) (edwards25519.Scalar, uint8) {
	var k [PublicKeySize + binary.MaxVarintLen64]byte
	copy(k[:], derivation[:])
	n := binary.PutUvarint(k[PublicKeySize:], outputIndex)

	sharedData := HashToScalarNoAllocate(k[:PublicKeySize+n])

	var viewTag types.Hash
	hasher.Reset()
	_, _ = hasher.Write(viewTagDomain)
	_, _ = hasher.Write(k[:PublicKeySize+n])
	HashFastSum(hasher, viewTag[:])
	hasher.Reset()

	return sharedData, viewTag[0]
}

// GetEphemeralPublicKeyAndViewTag one-time output key H_s(derivation || i)*G + spendPub
func GetEphemeralPublicKeyAndViewTag(spendPublicKeyPoint *edwards25519.Point, derivation PublicKeyBytes, outputIndex uint64, hasher *sha3.HasherState) (PublicKeyBytes, uint8) {
	var intermediatePublicKey, ephemeralPublicKey edwards25519.Point
	derivationSharedData, viewTag := GetDerivationSharedDataAndViewTagForOutputIndex(derivation, outputIndex, hasher)

	intermediatePublicKey.UnsafeVarTimeScalarBaseMult(&derivationSharedData)
	ephemeralPublicKey.Add(&intermediatePublicKey, spendPublicKeyPoint)

	return PublicKeyFromPoint(&ephemeralPublicKey), viewTag
}
