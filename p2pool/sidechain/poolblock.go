package sidechain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"
	"unsafe"

	"git.gammaspectra.live/P2Pool/daemon/monero"
	"git.gammaspectra.live/P2Pool/daemon/monero/address"
	mainblock "git.gammaspectra.live/P2Pool/daemon/monero/block"
	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	"git.gammaspectra.live/P2Pool/daemon/monero/randomx"
	"git.gammaspectra.live/P2Pool/daemon/monero/transaction"
	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
	fasthex "github.com/tmthrgd/go-hex"
)

type CoinbaseExtraTag int

const SideExtraNonceSize = 4
const SideExtraNonceMaxSize = SideExtraNonceSize + 10

const (
	SideCoinbasePublicKey = transaction.TxExtraTagPubKey
	SideExtraNonce        = transaction.TxExtraTagNonce
	SideTemplateId        = transaction.TxExtraTagSideTemplateId
)

// PoolBlockMaxTemplateSize Max P2P message size (128 KB) minus BLOCK_RESPONSE header (5 bytes)
const PoolBlockMaxTemplateSize = 128*1024 - (1 + 4)

// PoolBlockMaxSideChainHeight 1000 years at 1 block/second. It should be enough for any normal use.
const PoolBlockMaxSideChainHeight = 31556952000

// PoolBlockMaxCumulativeDifficulty 1000 years at 1 TH/s. It should be enough for any normal use.
var PoolBlockMaxCumulativeDifficulty = types.NewDifficulty(13019633956666736640, 1710)

// PoolBlock a side chain block. A main chain candidate block carrying the PPLNS
// side data in its serialized tail, identified by its side template id
type PoolBlock struct {
	Main mainblock.Block `json:"main"`

	Side SideData `json:"side"`

	Depth    atomic.Uint64 `json:"-"`
	Verified atomic.Bool   `json:"-"`
	Invalid  atomic.Bool   `json:"-"`

	WantBroadcast atomic.Bool `json:"-"`
	Broadcasted   atomic.Bool `json:"-"`

	Metadata PoolBlockReceptionMetadata `json:"metadata"`

	cache poolBlockCache
}

type PoolBlockReceptionMetadata struct {
	// LocalTime Moment the block was received from a source
	LocalTime time.Time `json:"local_time,omitempty"`
	// AddressPort The address and port of the peer who broadcasted or sent us this block
	AddressPort netip.AddrPort `json:"address_port,omitempty"`
	// PeerId The peer id of the peer who broadcasted or sent us this block
	PeerId uint64 `json:"peer_id,omitempty"`
}

type poolBlockCache struct {
	templateId atomic.Pointer[types.Hash]
	powHash    atomic.Pointer[types.Hash]
	mainId     atomic.Pointer[types.Hash]
}

const FullIdSize = int(types.HashSize + unsafe.Sizeof(uint32(0)) + SideExtraNonceSize)

// FullId side template id plus nonce and extra nonce, used for duplicate detection
type FullId [FullIdSize]byte

func FullIdFromString(s string) (FullId, error) {
	var h FullId
	if buf, err := fasthex.DecodeString(s); err != nil {
		return h, err
	} else {
		if len(buf) != FullIdSize {
			return h, errors.New("wrong hash size")
		}
		copy(h[:], buf)
		return h, nil
	}
}

func (id FullId) TemplateId() (h types.Hash) {
	return types.Hash(id[:types.HashSize])
}

func (id FullId) Nonce() uint32 {
	return binary.LittleEndian.Uint32(id[types.HashSize:])
}

func (id FullId) ExtraNonce() uint32 {
	return binary.LittleEndian.Uint32(id[types.HashSize+unsafe.Sizeof(uint32(0)):])
}

func (id FullId) String() string {
	return fasthex.EncodeToString(id[:])
}

func (b *PoolBlock) FullId(consensus *Consensus) FullId {
	var buf FullId

	sidechainId := b.SideTemplateId(consensus)
	copy(buf[:], sidechainId[:])
	binary.LittleEndian.PutUint32(buf[types.HashSize:], b.Main.Nonce)
	binary.LittleEndian.PutUint32(buf[types.HashSize+unsafe.Sizeof(b.Main.Nonce):], b.ExtraNonce())
	return buf
}

func (b *PoolBlock) ExtraNonce() uint32 {
	extraNonce := b.CoinbaseExtra(SideExtraNonce)
	if len(extraNonce) < SideExtraNonceSize {
		return 0
	}
	return binary.LittleEndian.Uint32(extraNonce)
}

func (b *PoolBlock) CoinbaseExtra(tag CoinbaseExtraTag) []byte {
	switch tag {
	case SideExtraNonce:
		if t := b.Main.Coinbase.Extra.GetTag(uint8(tag)); t != nil {
			if len(t.Data) < SideExtraNonceSize || len(t.Data) > SideExtraNonceMaxSize {
				return nil
			}
			return t.Data
		}
	case SideTemplateId:
		if t := b.Main.Coinbase.Extra.GetTag(uint8(tag)); t != nil {
			if t.VarInt != types.HashSize || len(t.Data) != types.HashSize {
				return nil
			}
			return t.Data
		}
	case SideCoinbasePublicKey:
		if t := b.Main.Coinbase.Extra.GetTag(uint8(tag)); t != nil {
			if len(t.Data) != crypto.PublicKeySize {
				return nil
			}
			return t.Data
		}
	}

	return nil
}

// DeclaredTemplateId side template id the block claims in its coinbase extra
func (b *PoolBlock) DeclaredTemplateId() types.Hash {
	return types.HashFromBytes(b.CoinbaseExtra(SideTemplateId))
}

// SideTemplateId recomputed identity of the block, cached
func (b *PoolBlock) SideTemplateId(consensus *Consensus) types.Hash {
	if h := b.cache.templateId.Load(); h != nil {
		return *h
	}
	hash := consensus.CalculateSideTemplateId(b)
	if hash == types.ZeroHash {
		return types.ZeroHash
	}
	b.cache.templateId.Store(&hash)
	return hash
}

func (b *PoolBlock) MainId() types.Hash {
	if h := b.cache.mainId.Load(); h != nil {
		return *h
	}
	hash := b.Main.Id()
	b.cache.mainId.Store(&hash)
	return hash
}

func (b *PoolBlock) MainDifficulty(f mainblock.GetDifficultyByHeightFunc) types.Difficulty {
	return b.Main.Difficulty(f)
}

func (b *PoolBlock) PowHashWithError(hasher randomx.Hasher, f mainblock.GetSeedByHeightFunc) (powHash types.Hash, err error) {
	if h := b.cache.powHash.Load(); h != nil {
		powHash = *h
	} else {
		powHash, err = b.Main.PowHashWithError(hasher, f)
		if powHash == types.ZeroHash {
			return types.ZeroHash, err
		}
		b.cache.powHash.Store(&powHash)
	}

	return powHash, nil
}

var ErrNoMainDifficulty = errors.New("could not get main difficulty")

func (b *PoolBlock) IsProofHigherThanMainDifficultyWithError(hasher randomx.Hasher, difficultyFunc mainblock.GetDifficultyByHeightFunc, seedFunc mainblock.GetSeedByHeightFunc) (bool, error) {
	if mainDifficulty := b.MainDifficulty(difficultyFunc); mainDifficulty == types.ZeroDifficulty {
		return false, ErrNoMainDifficulty
	} else if powHash, err := b.PowHashWithError(hasher, seedFunc); err != nil {
		return false, err
	} else {
		return mainDifficulty.CheckPoW(powHash), nil
	}
}

func (b *PoolBlock) IsProofHigherThanDifficultyWithError(hasher randomx.Hasher, f mainblock.GetSeedByHeightFunc) (bool, error) {
	if powHash, err := b.PowHashWithError(hasher, f); err != nil {
		return false, err
	} else {
		return b.Side.Difficulty.CheckPoW(powHash), nil
	}
}

func (b *PoolBlock) GetAddress() address.PackedAddress {
	return b.Side.PublicKey
}

func (b *PoolBlock) GetPayoutAddress(networkType NetworkType) *address.Address {
	if n, err := networkType.AddressNetwork(); err == nil {
		return b.Side.PublicKey.ToAddress(n)
	}

	return nil
}

func (b *PoolBlock) GetTransactionOutputType() uint8 {
	// P2Pool switched to TXOUT_TO_TAGGED_KEY for miner payouts in the view tags hardfork
	expectedTxType := uint8(transaction.TxOutToKey)
	if b.Main.MajorVersion >= monero.HardForkViewTagsVersion {
		expectedTxType = transaction.TxOutToTaggedKey
	}

	return expectedTxType
}

func (b *PoolBlock) BufferLength() int {
	return b.Main.BufferLength() + b.Side.BufferLength()
}

func (b *PoolBlock) MarshalBinary() ([]byte, error) {
	return b.AppendBinary(make([]byte, 0, b.BufferLength()))
}

func (b *PoolBlock) AppendBinary(preAllocatedBuf []byte) (buf []byte, err error) {
	buf = preAllocatedBuf

	if buf, err = b.Main.AppendBinary(buf); err != nil {
		return nil, err
	} else if buf, err = b.Side.AppendBinary(buf); err != nil {
		return nil, err
	} else {
		if len(buf) > PoolBlockMaxTemplateSize {
			return nil, errors.New("buffer too large")
		}
		return buf, nil
	}
}

func (b *PoolBlock) UnmarshalBinary(consensus *Consensus, data []byte) error {
	if len(data) > PoolBlockMaxTemplateSize {
		return errors.New("buffer too large")
	}
	reader := bytes.NewReader(data)
	err := b.FromReader(consensus, reader)
	if err != nil {
		return err
	}
	if reader.Len() > 0 {
		return errors.New("leftover bytes in reader")
	}
	return nil
}

func (b *PoolBlock) FromReader(consensus *Consensus, reader utils.ReaderAndByteReader) (err error) {
	if err = b.Main.FromReader(reader); err != nil {
		return err
	}

	return b.consensusDecode(consensus, reader)
}

func (b *PoolBlock) consensusDecode(consensus *Consensus, reader utils.ReaderAndByteReader) (err error) {
	// verify number and order of tags
	if extra := b.Main.Coinbase.Extra; len(extra) != 3 {
		return errors.New("wrong coinbase extra tag count")
	} else if extra[0].Tag != transaction.TxExtraTagPubKey {
		return errors.New("wrong coinbase extra tag at index 0")
	} else if extra[1].Tag != transaction.TxExtraTagNonce {
		return errors.New("wrong coinbase extra tag at index 1")
	} else if extra[2].Tag != transaction.TxExtraTagSideTemplateId {
		return errors.New("wrong coinbase extra tag at index 2")
	}

	if err = b.Side.FromReader(reader); err != nil {
		return err
	}

	if expectedMajorVersion := consensus.expectedMajorVersion(b.Main.Coinbase.GenHeight); expectedMajorVersion != b.Main.MajorVersion {
		return fmt.Errorf("expected major version %d at height %d, got %d", expectedMajorVersion, b.Main.Coinbase.GenHeight, b.Main.MajorVersion)
	}

	return nil
}

// UniquePoolBlockSlice blocks at one height, ids are unique
type UniquePoolBlockSlice []*PoolBlock

func (s UniquePoolBlockSlice) Get(consensus *Consensus, id types.Hash) *PoolBlock {
	for _, b := range s {
		if b.SideTemplateId(consensus) == id {
			return b
		}
	}
	return nil
}
