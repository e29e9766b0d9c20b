package transaction

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
)

// CoinbaseTransaction the miner transaction of a block. One txin_gen input at
// GenHeight, outputs to one-time keys, extra tags, zero base RCT
type CoinbaseTransaction struct {
	Version uint8 `json:"version"`
	// UnlockTime would be here
	InputCount uint8 `json:"input_count"`
	InputType  uint8 `json:"input_type"`

	UnlockTime uint64  `json:"unlock_time"`
	GenHeight  uint64  `json:"gen_height"`
	Outputs    Outputs `json:"outputs"`

	Extra ExtraTags `json:"extra"`

	ExtraBaseRCT uint8 `json:"extra_base_rct"`

	// TotalReward sum of all output rewards
	TotalReward uint64 `json:"total_reward"`
}

func (c *CoinbaseTransaction) FromReader(reader utils.ReaderAndByteReader) (err error) {
	var (
		txExtraSize uint64
	)

	c.TotalReward = 0

	if c.Version, err = reader.ReadByte(); err != nil {
		return err
	}

	if c.Version != 2 {
		return errors.New("version not supported")
	}

	if c.UnlockTime, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}

	if c.InputCount, err = reader.ReadByte(); err != nil {
		return err
	}

	if c.InputCount != 1 {
		return errors.New("invalid input count")
	}

	if c.InputType, err = reader.ReadByte(); err != nil {
		return err
	}

	if c.InputType != TxInGen {
		return errors.New("invalid coinbase input type")
	}

	if c.GenHeight, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}

	if c.UnlockTime != c.GenHeight+60 {
		return errors.New("invalid unlock time")
	}

	if err = c.Outputs.FromReader(reader); err != nil {
		return err
	}

	for _, o := range c.Outputs {
		c.TotalReward += o.Reward
	}

	if txExtraSize, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}

	if txExtraSize > 65536 {
		return errors.New("tx extra too large")
	}

	txExtra := make(types.Bytes, txExtraSize)
	if _, err = io.ReadFull(reader, txExtra); err != nil {
		return err
	}
	if err = c.Extra.UnmarshalBinary(txExtra); err != nil {
		return err
	}
	if c.ExtraBaseRCT, err = reader.ReadByte(); err != nil {
		return err
	}

	if c.ExtraBaseRCT != 0 {
		return errors.New("invalid extra base RCT")
	}

	return nil
}

func (c *CoinbaseTransaction) BufferLength() int {
	return 1 +
		utils.UVarInt64Size(c.UnlockTime) +
		1 + 1 +
		utils.UVarInt64Size(c.GenHeight) +
		c.Outputs.BufferLength() +
		utils.UVarInt64Size(c.Extra.BufferLength()) + c.Extra.BufferLength() +
		1
}

func (c *CoinbaseTransaction) MarshalBinary() ([]byte, error) {
	return c.AppendBinary(make([]byte, 0, c.BufferLength()))
}

func (c *CoinbaseTransaction) AppendBinary(preAllocatedBuf []byte) (buf []byte, err error) {
	buf = preAllocatedBuf

	buf = append(buf, c.Version)
	buf = binary.AppendUvarint(buf, c.UnlockTime)
	buf = append(buf, c.InputCount)
	buf = append(buf, c.InputType)
	buf = binary.AppendUvarint(buf, c.GenHeight)

	if buf, err = c.Outputs.AppendBinary(buf); err != nil {
		return nil, err
	}

	txExtra := make([]byte, 0, c.Extra.BufferLength())
	if txExtra, err = c.Extra.AppendBinary(txExtra); err != nil {
		return nil, err
	}
	buf = binary.AppendUvarint(buf, uint64(len(txExtra)))
	buf = append(buf, txExtra...)
	buf = append(buf, c.ExtraBaseRCT)

	return buf, nil
}

// SideChainHashingBlob the serialized coinbase with extra nonce and template id zeroed
func (c *CoinbaseTransaction) SideChainHashingBlob(preAllocatedBuf []byte, zeroTemplateId bool) (buf []byte, err error) {
	buf = preAllocatedBuf

	buf = append(buf, c.Version)
	buf = binary.AppendUvarint(buf, c.UnlockTime)
	buf = append(buf, c.InputCount)
	buf = append(buf, c.InputType)
	buf = binary.AppendUvarint(buf, c.GenHeight)

	if buf, err = c.Outputs.AppendBinary(buf); err != nil {
		return nil, err
	}

	txExtra := make([]byte, 0, c.Extra.BufferLength())
	if txExtra, err = c.Extra.SideChainHashingBlob(txExtra, zeroTemplateId); err != nil {
		return nil, err
	}
	buf = binary.AppendUvarint(buf, uint64(len(txExtra)))
	buf = append(buf, txExtra...)
	buf = append(buf, c.ExtraBaseRCT)

	return buf, nil
}

func (c *CoinbaseTransaction) UnmarshalBinary(data []byte) error {
	reader := bytes.NewReader(data)
	err := c.FromReader(reader)
	if err != nil {
		return err
	}
	if reader.Len() > 0 {
		return errors.New("leftover bytes in reader")
	}
	return nil
}

var zeroExtraBaseRCTHash = crypto.Keccak256Single([]byte{0})

// CalculateId the transaction id: hash of (prefix hash, base RCT hash, prunable RCT hash)
func (c *CoinbaseTransaction) CalculateId() (result types.Hash) {
	txBytes, err := c.MarshalBinary()
	if err != nil {
		return types.ZeroHash
	}

	hasher := crypto.GetKeccak256Hasher()
	defer crypto.PutKeccak256Hasher(hasher)

	// remove base RCT
	_, _ = hasher.Write(txBytes[:len(txBytes)-1])
	crypto.HashFastSum(hasher, result[:])
	hasher.Reset()

	_, _ = hasher.Write(result[:])
	// Base RCT, single 0 byte in miner tx
	_, _ = hasher.Write(zeroExtraBaseRCTHash[:])
	// Prunable RCT, empty in miner tx
	_, _ = hasher.Write(types.ZeroHash[:])
	crypto.HashFastSum(hasher, result[:])

	return result
}

func (c *CoinbaseTransaction) String() string {
	return fmt.Sprintf("coinbase %s, height %d, outputs %d, reward %d", c.CalculateId(), c.GenHeight, len(c.Outputs), c.TotalReward)
}
