package monero

const (
	MainNetwork  uint8 = 18
	TestNetwork  uint8 = 53
	StageNetwork uint8 = 24
)

const (
	// TailEmissionReward 0.6 XMR
	TailEmissionReward = 600000000000

	// MinerRewardUnlockTime CRYPTONOTE_MINED_MONEY_UNLOCK_WINDOW
	MinerRewardUnlockTime = 60

	// BlockTime seconds per main chain block
	BlockTime = 120
)
