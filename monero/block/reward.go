package block

import (
	"git.gammaspectra.live/P2Pool/daemon/monero"
)

// GetBaseReward the base block reward given the emission so far, before fees
// and penalty
func GetBaseReward(alreadyGeneratedCoins uint64) uint64 {
	result := (^alreadyGeneratedCoins) >> 19
	if result < monero.TailEmissionReward {
		return monero.TailEmissionReward
	}
	return result
}
