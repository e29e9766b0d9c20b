package address

import (
	"unsafe"

	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	base58 "git.gammaspectra.live/P2Pool/monero-base58"
)

const PackedAddressSpend = 0
const PackedAddressView = 1

// PackedAddress 0 = spend, 1 = view
type PackedAddress [2]crypto.PublicKeyBytes

func NewPackedAddressFromBytes(spend, view crypto.PublicKeyBytes) (result PackedAddress) {
	copy(result[PackedAddressSpend][:], spend[:])
	copy(result[PackedAddressView][:], view[:])
	return
}

func (p *PackedAddress) SpendPublicKey() *crypto.PublicKeyBytes {
	return &(*p)[PackedAddressSpend]
}

func (p *PackedAddress) ViewPublicKey() *crypto.PublicKeyBytes {
	return &(*p)[PackedAddressView]
}

// ComparePacked special consensus comparison
func (p *PackedAddress) ComparePacked(other *PackedAddress) int {
	resultSpendKey := crypto.CompareConsensusPublicKeyBytes(&p[PackedAddressSpend], &other[PackedAddressSpend])
	if resultSpendKey != 0 {
		return resultSpendKey
	}

	return crypto.CompareConsensusPublicKeyBytes(&p[PackedAddressView], &other[PackedAddressView])
}

func (p *PackedAddress) ToAddress(typeNetwork uint8) *Address {
	return FromRawAddress(typeNetwork, p[PackedAddressSpend], p[PackedAddressView])
}

func (p PackedAddress) ToBase58(typeNetwork uint8) []byte {
	var raw [69]byte
	raw[0] = typeNetwork
	copy(raw[1:], p[PackedAddressSpend][:])
	copy(raw[1+crypto.PublicKeySize:], p[PackedAddressView][:])
	sum := crypto.PooledKeccak256(raw[:65])

	buf := make([]byte, 0, 95)
	return base58.EncodeMoneroBase58PreAllocated(buf, []byte{typeNetwork}, p[PackedAddressSpend][:], p[PackedAddressView][:], sum[:ChecksumLength])
}

func (p PackedAddress) Valid() bool {
	return p.ViewPublicKey().AsPoint() != nil && p.SpendPublicKey().AsPoint() != nil
}

func (p PackedAddress) Bytes() []byte {
	return (*[crypto.PublicKeySize * 2]byte)(unsafe.Pointer(&p))[:]
}
