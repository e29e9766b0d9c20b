package sidechain

import (
	"errors"
	"fmt"
	"strconv"

	"git.gammaspectra.live/P2Pool/daemon/monero"
	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	"git.gammaspectra.live/P2Pool/daemon/monero/randomx"
	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
)

type NetworkType int

const (
	NetworkInvalid NetworkType = iota
	NetworkMainnet
	NetworkTestnet
	NetworkStagenet
)

const (
	UncleBlockDepth   = 3
	MaxTxOutputReward = (1 << 56) - 1
)

func (n NetworkType) String() string {
	switch n {
	case NetworkInvalid:
		return "invalid"
	case NetworkMainnet:
		return "mainnet"
	case NetworkTestnet:
		return "testnet"
	case NetworkStagenet:
		return "stagenet"
	}
	return ""
}

func NetworkTypeFromString(s string) NetworkType {
	switch s {
	case "", "mainnet":
		return NetworkMainnet
	case "testnet":
		return NetworkTestnet
	case "stagenet":
		return NetworkStagenet
	}
	return NetworkInvalid
}

func (n NetworkType) AddressNetwork() (uint8, error) {
	switch n {
	case NetworkMainnet:
		return monero.MainNetwork, nil
	case NetworkTestnet:
		return monero.TestNetwork, nil
	case NetworkStagenet:
		return monero.StageNetwork, nil
	}
	return 0, errors.New("unknown network")
}

func (n NetworkType) MustAddressNetwork() uint8 {
	network, err := n.AddressNetwork()
	if err != nil {
		panic(err)
	}
	return network
}

func (n NetworkType) MarshalJSON() ([]byte, error) {
	return []byte("\"" + n.String() + "\""), nil
}

func (n *NetworkType) UnmarshalJSON(b []byte) error {
	var s string
	if err := utils.UnmarshalJSON(b, &s); err != nil {
		return err
	}

	if *n = NetworkTypeFromString(s); *n == NetworkInvalid && s != "invalid" {
		return fmt.Errorf("unknown network type %s", s)
	}

	return nil
}

type Consensus struct {
	NetworkType       NetworkType `json:"network_type"`
	PoolName          string      `json:"name"`
	TargetBlockTime   uint64      `json:"block_time"`
	MinimumDifficulty uint64      `json:"min_diff"`
	ChainWindowSize   uint64      `json:"pplns_window"`
	UnclePenalty      uint64      `json:"uncle_penalty"`

	hasher randomx.Hasher

	Id types.Hash `json:"id"`
}

const SmallestMinimumDifficulty = 100000
const LargestMinimumDifficulty = 1000000000

func NewConsensus(networkType NetworkType, poolName string, targetBlockTime, minimumDifficulty, chainWindowSize, unclePenalty uint64) *Consensus {
	c := &Consensus{
		NetworkType:       networkType,
		PoolName:          poolName,
		TargetBlockTime:   targetBlockTime,
		MinimumDifficulty: minimumDifficulty,
		ChainWindowSize:   chainWindowSize,
		UnclePenalty:      unclePenalty,
	}

	if !c.verify() {
		return nil
	}
	return c
}

func (c *Consensus) verify() bool {
	if len(c.PoolName) > 128 {
		return false
	}

	if c.TargetBlockTime < 1 || c.TargetBlockTime > monero.BlockTime {
		return false
	}

	if c.NetworkType == NetworkMainnet && c.MinimumDifficulty < SmallestMinimumDifficulty || c.MinimumDifficulty > LargestMinimumDifficulty {
		return false
	}

	if c.ChainWindowSize < 60 || c.ChainWindowSize > 2160 {
		return false
	}

	if c.UnclePenalty < 1 || c.UnclePenalty > 99 {
		return false
	}

	c.Id = c.CalculateId()
	if c.Id == types.ZeroHash {
		return false
	}

	return true
}

func (c *Consensus) CalculateId() types.Hash {
	var buf []byte
	buf = append(buf, c.NetworkType.String()...)
	buf = append(buf, 0)
	buf = append(buf, c.PoolName...)
	buf = append(buf, 0)
	buf = append(buf, strconv.FormatUint(c.TargetBlockTime, 10)...)
	buf = append(buf, 0)
	buf = append(buf, strconv.FormatUint(c.MinimumDifficulty, 10)...)
	buf = append(buf, 0)
	buf = append(buf, strconv.FormatUint(c.ChainWindowSize, 10)...)
	buf = append(buf, 0)
	buf = append(buf, strconv.FormatUint(c.UnclePenalty, 10)...)
	buf = append(buf, 0)

	return randomx.ConsensusHash(buf)
}

// CalculateSideTemplateId the side chain id commits to the main chain hashing
// sections, the side data and the consensus id
func (c *Consensus) CalculateSideTemplateId(share *PoolBlock) (result types.Hash) {
	mainBuf, _ := share.Main.SideChainHashingBlob(make([]byte, 0, share.Main.BufferLength()), true)
	sideBuf, _ := share.Side.AppendBinary(make([]byte, 0, share.Side.BufferLength()))
	return c.CalculateSideChainIdFromBlobs(mainBuf, sideBuf)
}

func (c *Consensus) CalculateSideChainIdFromBlobs(mainBlob, sideBlob []byte) (result types.Hash) {
	h := crypto.GetKeccak256Hasher()
	defer crypto.PutKeccak256Hasher(h)

	_, _ = h.Write(mainBlob)
	_, _ = h.Write(sideBlob)
	_, _ = h.Write(c.Id[:])

	crypto.HashFastSum(h, result[:])
	return result
}

func (c *Consensus) InitHasher(n int, flags ...randomx.Flag) error {
	if c.hasher != nil {
		c.hasher.Close()
	}
	var err error
	c.hasher, err = randomx.NewRandomX(n, flags...)
	if err != nil {
		return err
	}
	return nil
}

// SetHasher used in tests to install a deterministic hashing backend
func (c *Consensus) SetHasher(hasher randomx.Hasher) {
	if c.hasher != nil {
		c.hasher.Close()
	}
	c.hasher = hasher
}

func (c *Consensus) GetHasher() randomx.Hasher {
	if c.hasher == nil {
		panic("hasher has not been initialized in consensus")
	}
	return c.hasher
}

func (c *Consensus) expectedMajorVersion(height uint64) uint8 {
	return monero.NetworkMajorVersion(c.NetworkType.MustAddressNetwork(), height)
}

// ApplyUnclePenalty Applies UnclePenalty efficiently
func (c *Consensus) ApplyUnclePenalty(weight types.Difficulty) (uncleWeight, unclePenalty types.Difficulty) {
	unclePenalty = weight.Mul64(c.UnclePenalty).Div64(100)
	uncleWeight = weight.Sub(unclePenalty)
	return
}

var ConsensusMainnet = &Consensus{
	NetworkType:       NetworkMainnet,
	PoolName:          "main",
	TargetBlockTime:   10,
	MinimumDifficulty: 100000,
	ChainWindowSize:   2160,
	UnclePenalty:      20,
}

var ConsensusTestnet = &Consensus{
	NetworkType:       NetworkTestnet,
	PoolName:          "test",
	TargetBlockTime:   10,
	MinimumDifficulty: 100000,
	ChainWindowSize:   2160,
	UnclePenalty:      20,
}

var ConsensusStagenet = &Consensus{
	NetworkType:       NetworkStagenet,
	PoolName:          "stage",
	TargetBlockTime:   10,
	MinimumDifficulty: 100000,
	ChainWindowSize:   2160,
	UnclePenalty:      20,
}

// ConsensusByNetwork the consensus id is derived lazily, it runs a RandomX
// style Argon2 fill and is not free
func ConsensusByNetwork(network NetworkType) *Consensus {
	var c *Consensus
	switch network {
	case NetworkMainnet:
		c = ConsensusMainnet
	case NetworkTestnet:
		c = ConsensusTestnet
	case NetworkStagenet:
		c = ConsensusStagenet
	default:
		return nil
	}
	if c.Id == types.ZeroHash {
		c.Id = c.CalculateId()
	}
	return c
}
