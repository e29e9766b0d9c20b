package sidechain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"git.gammaspectra.live/P2Pool/daemon/monero/address"
	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
)

const MaxUncleCount = uint64(math.MaxUint64) / types.HashSize

// SideData the side chain extension carried alongside the main chain candidate
type SideData struct {
	PublicKey address.PackedAddress `json:"public_key"`
	// CoinbasePrivateKey the transaction secret key contributed by the block creator
	CoinbasePrivateKey crypto.PrivateKeyBytes `json:"coinbase_private_key"`
	// Parent Template Id of the parent of this share, or zero if genesis
	Parent types.Hash `json:"parent"`
	// Uncles List of Template Ids of the uncles this share contains
	Uncles               []types.Hash     `json:"uncles,omitempty"`
	Height               uint64           `json:"height"`
	Difficulty           types.Difficulty `json:"difficulty"`
	CumulativeDifficulty types.Difficulty `json:"cumulative_difficulty"`
}

func (b *SideData) BufferLength() (size int) {
	return crypto.PublicKeySize*2 +
		crypto.PrivateKeySize +
		types.HashSize +
		utils.UVarInt64Size(len(b.Uncles)) + len(b.Uncles)*types.HashSize +
		utils.UVarInt64Size(b.Height) +
		utils.UVarInt64Size(b.Difficulty.Lo) + utils.UVarInt64Size(b.Difficulty.Hi) +
		utils.UVarInt64Size(b.CumulativeDifficulty.Lo) + utils.UVarInt64Size(b.CumulativeDifficulty.Hi)
}

func (b *SideData) MarshalBinary() (buf []byte, err error) {
	return b.AppendBinary(make([]byte, 0, b.BufferLength()))
}

func (b *SideData) AppendBinary(preAllocatedBuf []byte) (buf []byte, err error) {
	buf = preAllocatedBuf
	buf = append(buf, b.PublicKey[address.PackedAddressSpend][:]...)
	buf = append(buf, b.PublicKey[address.PackedAddressView][:]...)
	buf = append(buf, b.CoinbasePrivateKey[:]...)
	buf = append(buf, b.Parent[:]...)
	buf = binary.AppendUvarint(buf, uint64(len(b.Uncles)))
	for _, uId := range b.Uncles {
		buf = append(buf, uId[:]...)
	}
	buf = binary.AppendUvarint(buf, b.Height)
	buf = binary.AppendUvarint(buf, b.Difficulty.Lo)
	buf = binary.AppendUvarint(buf, b.Difficulty.Hi)
	buf = binary.AppendUvarint(buf, b.CumulativeDifficulty.Lo)
	buf = binary.AppendUvarint(buf, b.CumulativeDifficulty.Hi)

	return buf, nil
}

func (b *SideData) FromReader(reader utils.ReaderAndByteReader) (err error) {
	var (
		uncleCount uint64
		uncleHash  types.Hash
	)

	if _, err = io.ReadFull(reader, b.PublicKey[address.PackedAddressSpend][:]); err != nil {
		return err
	}
	if _, err = io.ReadFull(reader, b.PublicKey[address.PackedAddressView][:]); err != nil {
		return err
	}

	if _, err = io.ReadFull(reader, b.CoinbasePrivateKey[:]); err != nil {
		return err
	}

	if _, err = io.ReadFull(reader, b.Parent[:]); err != nil {
		return err
	}

	if uncleCount, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	} else if uncleCount > MaxUncleCount {
		return fmt.Errorf("uncle count too large: %d > %d", uncleCount, MaxUncleCount)
	} else if uncleCount > 0 {
		// preallocate for append, with 64 as soft limit
		b.Uncles = make([]types.Hash, 0, min(64, uncleCount))

		for i := 0; i < int(uncleCount); i++ {
			if _, err = io.ReadFull(reader, uncleHash[:]); err != nil {
				return err
			}

			// Uncle hashes must be sorted in strictly ascending order to
			// prevent cheating when the same hash is repeated multiple times
			if i > 0 && b.Uncles[i-1].Compare(uncleHash) != -1 {
				return errors.New("invalid uncle order")
			}

			b.Uncles = append(b.Uncles, uncleHash)
		}
	}

	if b.Height, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}

	if b.Height > PoolBlockMaxSideChainHeight {
		return fmt.Errorf("side block height too high (%d > %d)", b.Height, PoolBlockMaxSideChainHeight)
	}

	if b.Difficulty.Lo, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}

	if b.Difficulty.Hi, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}

	if b.CumulativeDifficulty.Lo, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}

	if b.CumulativeDifficulty.Hi, err = utils.ReadCanonicalUvarint(reader); err != nil {
		return err
	}

	if b.CumulativeDifficulty.Cmp(PoolBlockMaxCumulativeDifficulty) > 0 {
		return fmt.Errorf("side block cumulative difficulty too large (%s > %s)", b.CumulativeDifficulty.StringNumeric(), PoolBlockMaxCumulativeDifficulty.StringNumeric())
	}

	return nil
}

func (b *SideData) UnmarshalBinary(data []byte) error {
	reader := bytes.NewReader(data)
	err := b.FromReader(reader)
	if err != nil {
		return err
	}
	if reader.Len() > 0 {
		return errors.New("leftover bytes in reader")
	}
	return nil
}
