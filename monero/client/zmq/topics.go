package zmq

import (
	"git.gammaspectra.live/P2Pool/daemon/types"
)

type Topic string

const (
	TopicUnknown Topic = "unknown"

	TopicMinimalChainMain Topic = "json-minimal-chain_main"
	TopicFullMinerData    Topic = "json-full-miner_data"
	TopicFullTxPoolAdd    Topic = "json-full-txpool_add"
)

type MinimalChainMain struct {
	FirstHeight uint64       `json:"first_height"`
	FirstPrevId types.Hash   `json:"first_prev_id"`
	Ids         []types.Hash `json:"ids"`
}

type FullMinerData struct {
	MajorVersion          uint8            `json:"major_version"`
	Height                uint64           `json:"height"`
	PrevId                types.Hash       `json:"prev_id"`
	SeedHash              types.Hash       `json:"seed_hash"`
	Difficulty            types.Difficulty `json:"difficulty"`
	MedianWeight          uint64           `json:"median_weight"`
	AlreadyGeneratedCoins uint64           `json:"already_generated_coins"`
	MedianTimestamp       uint64           `json:"median_timestamp"`
	TxBacklog             []TxPoolAdd      `json:"tx_backlog"`
}

type TxPoolAdd struct {
	Id       types.Hash `json:"id"`
	BlobSize uint64     `json:"blob_size"`
	Weight   uint64     `json:"weight"`
	Fee      uint64     `json:"fee"`
}
