package sidechain

import (
	"sync"

	"git.gammaspectra.live/P2Pool/daemon/monero/address"
	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/edwards25519"
	"git.gammaspectra.live/P2Pool/sha3"
)

type derivationCacheKey [crypto.PublicKeySize + crypto.PrivateKeySize]byte
type deterministicKeyCacheKey [types.HashSize * 2]byte

// DerivationCache caches expensive curve operations shared between the window
// of a template and incoming block verification
type DerivationCache struct {
	lock sync.RWMutex

	derivations       map[derivationCacheKey]crypto.PublicKeyBytes
	deterministicKeys map[deterministicKeyCacheKey]*crypto.KeyPair
}

func NewDerivationCache() *DerivationCache {
	d := &DerivationCache{}
	d.Clear()
	return d
}

func (d *DerivationCache) Clear() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.derivations = make(map[derivationCacheKey]crypto.PublicKeyBytes, 4096)
	d.deterministicKeys = make(map[deterministicKeyCacheKey]*crypto.KeyPair, 16)
}

// GetEphemeralPublicKey one-time output key and view tag for a payout address,
// given the transaction private key
func (d *DerivationCache) GetEphemeralPublicKey(a *address.PackedAddress, txKeySlice []byte, txKeyScalar *edwards25519.Scalar, outputIndex uint64, hasher *sha3.HasherState) (crypto.PublicKeyBytes, uint8) {
	derivation := d.getDerivation(a.ViewPublicKey(), txKeySlice, txKeyScalar)

	spendPoint := a.SpendPublicKey().AsPoint()
	if spendPoint == nil {
		return crypto.ZeroPublicKeyBytes, 0
	}

	return crypto.GetEphemeralPublicKeyAndViewTag(spendPoint, derivation, outputIndex, hasher)
}

// GetDeterministicTransactionKey the transaction key derived from
// (seed, previous main chain id)
func (d *DerivationCache) GetDeterministicTransactionKey(seed types.Hash, prevId types.Hash) *crypto.KeyPair {
	var key deterministicKeyCacheKey
	copy(key[:], seed[:])
	copy(key[types.HashSize:], prevId[:])

	if kp, ok := func() (*crypto.KeyPair, bool) {
		d.lock.RLock()
		defer d.lock.RUnlock()
		kp, ok := d.deterministicKeys[key]
		return kp, ok
	}(); ok {
		return kp
	}

	kp := crypto.NewKeyPairFromPrivate(crypto.PrivateKeyFromScalar(crypto.GetDeterministicTransactionPrivateKey(seed, prevId)))

	d.lock.Lock()
	defer d.lock.Unlock()
	d.deterministicKeys[key] = kp
	return kp
}

func (d *DerivationCache) getDerivation(viewPublicKey *crypto.PublicKeyBytes, txKeySlice []byte, txKeyScalar *edwards25519.Scalar) crypto.PublicKeyBytes {
	var key derivationCacheKey
	copy(key[:], viewPublicKey.AsSlice())
	copy(key[crypto.PublicKeySize:], txKeySlice)

	if derivation, ok := func() (crypto.PublicKeyBytes, bool) {
		d.lock.RLock()
		defer d.lock.RUnlock()
		derivation, ok := d.derivations[key]
		return derivation, ok
	}(); ok {
		return derivation
	}

	viewPoint := viewPublicKey.AsPoint()
	if viewPoint == nil {
		return crypto.ZeroPublicKeyBytes
	}

	derivation := crypto.GetKeyDerivation(viewPoint, txKeyScalar)

	d.lock.Lock()
	defer d.lock.Unlock()
	d.derivations[key] = derivation
	return derivation
}
