package stratum

import (
	"encoding/binary"

	"git.gammaspectra.live/P2Pool/daemon/monero/crypto"
	"git.gammaspectra.live/P2Pool/daemon/p2pool/sidechain"
	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
	"git.gammaspectra.live/P2Pool/sha3"
)

// Template an immutable serialized block snapshot. Shares are produced by
// patching the nonce and extra nonce regions of a copy of Buffer
type Template struct {
	// Buffer the serialized PoolBlock with nonce, extra nonce and template id zeroed
	Buffer []byte

	// NonceOffset offset of an uint32
	NonceOffset int

	CoinbaseOffset int

	// ExtraNonceOffset offset of an uint32
	ExtraNonceOffset int

	// TemplateIdOffset offset of a types.Hash inside the coinbase extra
	TemplateIdOffset int

	// TransactionsOffset Start of transactions section
	TransactionsOffset int

	// TemplateId identity of this template on the side chain
	TemplateId types.Hash

	MainHeight     uint64
	MainParent     types.Hash
	MainDifficulty types.Difficulty
	SeedHash       types.Hash

	SideHeight     uint64
	SideParent     types.Hash
	SideDifficulty types.Difficulty

	MerkleTreeMainBranch []types.Hash
}

// Blob the full serialized block with nonce, extra nonce and template id patched in
func (tpl *Template) Blob(preAllocatedBuffer []byte, nonce, extraNonce uint32, templateId types.Hash) []byte {
	buf := append(preAllocatedBuffer, tpl.Buffer...)

	// Overwrite nonce
	binary.LittleEndian.PutUint32(buf[tpl.NonceOffset:], nonce)
	// Overwrite extra nonce
	binary.LittleEndian.PutUint32(buf[tpl.ExtraNonceOffset:], extraNonce)
	// Overwrite template id
	copy(buf[tpl.TemplateIdOffset:], templateId[:])

	return buf
}

// CalculateTemplateId the side chain id, over the buffer with zeroed nonce
// regions plus the consensus id
func (tpl *Template) CalculateTemplateId(hasher *sha3.HasherState, consensus *sidechain.Consensus, result *types.Hash) {
	_, _ = hasher.Write(tpl.Buffer)
	_, _ = hasher.Write(consensus.Id[:])

	crypto.HashFastSum(hasher, (*result)[:])
	hasher.Reset()
}

// CoinbaseId id of the coinbase transaction with extra nonce and template id patched in
func (tpl *Template) CoinbaseId(hasher *sha3.HasherState, extraNonce uint32, templateId types.Hash, result *types.Hash) {
	var extraNonceBuf [4]byte

	_, _ = hasher.Write(tpl.Buffer[tpl.CoinbaseOffset:tpl.ExtraNonceOffset])
	// extra nonce
	binary.LittleEndian.PutUint32(extraNonceBuf[:], extraNonce)
	_, _ = hasher.Write(extraNonceBuf[:])

	_, _ = hasher.Write(tpl.Buffer[tpl.ExtraNonceOffset+4 : tpl.TemplateIdOffset])
	// template id
	_, _ = hasher.Write(templateId[:])

	// up to before the extra base RCT byte
	_, _ = hasher.Write(tpl.Buffer[tpl.TemplateIdOffset+types.HashSize : tpl.TransactionsOffset-1])

	crypto.HashFastSum(hasher, (*result)[:])
	hasher.Reset()

	CoinbaseIdHash(hasher, *result, result)
}

var zeroExtraBaseRCTHash = crypto.Keccak256Single([]byte{0})

func CoinbaseIdHash(hasher *sha3.HasherState, prefixHash types.Hash, result *types.Hash) {
	_, _ = hasher.Write(prefixHash[:])
	// Base RCT, single 0 byte in miner tx
	_, _ = hasher.Write(zeroExtraBaseRCTHash[:])
	// Prunable RCT, empty in miner tx
	_, _ = hasher.Write(types.ZeroHash[:])
	crypto.HashFastSum(hasher, (*result)[:])
	hasher.Reset()
}

func (tpl *Template) HashingBlobBufferLength() int {
	_, n := utils.CanonicalUvarint(tpl.Buffer[tpl.TransactionsOffset:])

	return tpl.NonceOffset + 4 + types.HashSize + n
}

// HashingBlob the PoW input for a share: header with nonce patched, merkle
// root over the patched coinbase plus the template transactions, tx count
func (tpl *Template) HashingBlob(hasher *sha3.HasherState, preAllocatedBuffer []byte, nonce, extraNonce uint32, templateId types.Hash) []byte {
	var rootHash types.Hash
	tpl.CoinbaseId(hasher, extraNonce, templateId, &rootHash)

	buf := append(preAllocatedBuffer, tpl.Buffer[:tpl.NonceOffset]...)
	buf = binary.LittleEndian.AppendUint32(buf, nonce)

	numTransactions, n := utils.CanonicalUvarint(tpl.Buffer[tpl.TransactionsOffset:])

	if numTransactions < 1 {
	} else if numTransactions < 2 {
		_, _ = hasher.Write(rootHash[:])
		_, _ = hasher.Write(tpl.Buffer[tpl.TransactionsOffset+n : tpl.TransactionsOffset+n+types.HashSize])
		crypto.HashFastSum(hasher, rootHash[:])
		hasher.Reset()
	} else {
		for i := range tpl.MerkleTreeMainBranch {
			_, _ = hasher.Write(rootHash[:])
			_, _ = hasher.Write(tpl.MerkleTreeMainBranch[i][:])
			crypto.HashFastSum(hasher, rootHash[:])
			hasher.Reset()
		}
	}

	buf = append(buf, rootHash[:]...)
	buf = binary.AppendUvarint(buf, numTransactions+1)
	return buf
}

// TemplateFromPoolBlock serializes b with its variable regions zeroed and
// records the region offsets
func TemplateFromPoolBlock(consensus *sidechain.Consensus, b *sidechain.PoolBlock) (tpl *Template, err error) {
	buf := make([]byte, 0, b.BufferLength())
	if buf, err = b.AppendBinary(buf); err != nil {
		return nil, err
	}

	tpl = &Template{}

	const (
		CoinbaseExtraNonceIndex      = 1
		CoinbaseExtraTemplateIdIndex = 2
	)

	mainBufferLength := b.Main.BufferLength()
	coinbaseLength := b.Main.Coinbase.BufferLength()
	tpl.NonceOffset = mainBufferLength - (4 + coinbaseLength + utils.UVarInt64Size(len(b.Main.Transactions)) + types.HashSize*len(b.Main.Transactions))

	tpl.CoinbaseOffset = tpl.NonceOffset + 4

	tpl.TransactionsOffset = mainBufferLength - (utils.UVarInt64Size(len(b.Main.Transactions)) + types.HashSize*len(b.Main.Transactions))

	tpl.ExtraNonceOffset = tpl.NonceOffset + 4 + (coinbaseLength - (b.Main.Coinbase.Extra[CoinbaseExtraNonceIndex].BufferLength() + b.Main.Coinbase.Extra[CoinbaseExtraTemplateIdIndex].BufferLength() + 1)) + 1 + utils.UVarInt64Size(b.Main.Coinbase.Extra[CoinbaseExtraNonceIndex].VarInt)

	tpl.TemplateIdOffset = tpl.NonceOffset + 4 + (coinbaseLength - (b.Main.Coinbase.Extra[CoinbaseExtraTemplateIdIndex].BufferLength() + 1)) + 1 + utils.UVarInt64Size(b.Main.Coinbase.Extra[CoinbaseExtraTemplateIdIndex].VarInt)

	tpl.Buffer = buf

	// Zero the variable regions in the stored buffer
	binary.LittleEndian.PutUint32(tpl.Buffer[tpl.NonceOffset:], 0)
	binary.LittleEndian.PutUint32(tpl.Buffer[tpl.ExtraNonceOffset:], 0)
	copy(tpl.Buffer[tpl.TemplateIdOffset:tpl.TemplateIdOffset+types.HashSize], types.ZeroHash[:])

	if len(b.Main.Transactions) > 1 {
		merkleTree := make(crypto.BinaryTreeHash, len(b.Main.Transactions)+1)
		copy(merkleTree[1:], b.Main.Transactions)
		tpl.MerkleTreeMainBranch = merkleTree.MainBranch()
	}

	tpl.MainHeight = b.Main.Coinbase.GenHeight
	tpl.MainParent = b.Main.PreviousId

	tpl.SideHeight = b.Side.Height
	tpl.SideParent = b.Side.Parent
	tpl.SideDifficulty = b.Side.Difficulty

	hasher := crypto.GetKeccak256Hasher()
	defer crypto.PutKeccak256Hasher(hasher)
	tpl.CalculateTemplateId(hasher, consensus, &tpl.TemplateId)

	return tpl, nil
}
