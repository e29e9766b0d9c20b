package sidechain

import (
	"git.gammaspectra.live/P2Pool/daemon/monero/address"
	"git.gammaspectra.live/P2Pool/daemon/types"
)

// Share one PPLNS window contributor, weight in units of side chain difficulty
type Share struct {
	Address address.PackedAddress
	Weight  types.Difficulty
}

type Shares []*Share

func (s Shares) Index(addr address.PackedAddress) int {
	for i, share := range s {
		if share.Address == addr {
			return i
		}
	}
	return -1
}

func (s Shares) Clone() (result Shares) {
	result = make(Shares, len(s))
	for i, share := range s {
		result[i] = &Share{
			Address: share.Address,
			Weight:  share.Weight,
		}
	}
	return result
}

func (s Shares) TotalWeight() (result types.Difficulty) {
	for _, share := range s {
		result = result.Add(share.Weight)
	}
	return result
}

// Compact merges duplicate payout addresses in place, keeping each wallet's
// first (newest) window position. Expects newest-first order.
func (s Shares) Compact() Shares {
	index := make(map[address.PackedAddress]int, len(s))
	n := 0
	for _, share := range s {
		if i, ok := index[share.Address]; ok {
			s[i].Weight = s[i].Weight.Add(share.Weight)
			continue
		}
		index[share.Address] = n
		s[n] = share
		n++
	}
	return s[:n]
}

// Reverse flips window order in place, newest-first becomes newest-last
func (s Shares) Reverse() Shares {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
	return s
}
