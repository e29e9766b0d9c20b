package address

import (
	"bytes"

	"git.gammaspectra.live/P2Pool/daemon/monero"
	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	base58 "git.gammaspectra.live/P2Pool/monero-base58"
)

const ChecksumLength = 4

type Checksum [ChecksumLength]byte

// Address public spend key, public view key and network tag
type Address struct {
	SpendPub    crypto.PublicKeyBytes
	ViewPub     crypto.PublicKeyBytes
	TypeNetwork uint8
}

func FromRawAddress(network uint8, spend, view crypto.PublicKeyBytes) *Address {
	return &Address{
		TypeNetwork: network,
		SpendPub:    spend,
		ViewPub:     view,
	}
}

func FromBase58(address string) *Address {
	preAllocatedBuf := make([]byte, 0, 69)
	raw := base58.DecodeMoneroBase58PreAllocated(preAllocatedBuf, []byte(address))

	// network(1) + spend(32) + view(32) + checksum(4)
	if len(raw) != 69 {
		return nil
	}

	switch raw[0] {
	case monero.MainNetwork, monero.TestNetwork, monero.StageNetwork:
	default:
		return nil
	}

	checksum := checksumHash(raw[:65])
	if !bytes.Equal(checksum[:], raw[65:]) {
		return nil
	}

	a := &Address{
		TypeNetwork: raw[0],
	}
	copy(a.SpendPub[:], raw[1:])
	copy(a.ViewPub[:], raw[1+crypto.PublicKeySize:])

	return a
}

func checksumHash(data []byte) (result Checksum) {
	sum := crypto.PooledKeccak256(data)
	copy(result[:], sum[:ChecksumLength])
	return result
}

func (a *Address) SpendPublicKey() *crypto.PublicKeyBytes {
	return &a.SpendPub
}

func (a *Address) ViewPublicKey() *crypto.PublicKeyBytes {
	return &a.ViewPub
}

func (a *Address) Network() uint8 {
	return a.TypeNetwork
}

// Valid both keys decode to points on the curve
func (a *Address) Valid() bool {
	return a.SpendPub.AsPoint() != nil && a.ViewPub.AsPoint() != nil
}

func (a *Address) ToPackedAddress() PackedAddress {
	return NewPackedAddressFromBytes(a.SpendPub, a.ViewPub)
}

func (a *Address) ToBase58() []byte {
	return a.ToPackedAddress().ToBase58(a.TypeNetwork)
}
