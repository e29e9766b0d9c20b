package p2pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"git.gammaspectra.live/P2Pool/daemon/monero/address"
	mainblock "git.gammaspectra.live/P2Pool/daemon/monero/block"
	"git.gammaspectra.live/P2Pool/daemon/monero/client"
	"git.gammaspectra.live/P2Pool/daemon/monero/client/zmq"
	"git.gammaspectra.live/P2Pool/daemon/monero/randomx"
	"git.gammaspectra.live/P2Pool/daemon/p2pool/mainchain"
	"git.gammaspectra.live/P2Pool/daemon/p2pool/mempool"
	"git.gammaspectra.live/P2Pool/daemon/p2pool/sidechain"
	"git.gammaspectra.live/P2Pool/daemon/p2pool/stratum"
	p2pooltypes "git.gammaspectra.live/P2Pool/daemon/p2pool/types"
	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
	"golang.org/x/sync/errgroup"
)

// MinimumRpcVersion 3.8, get_miner_data and wide difficulties
const MinimumRpcVersion = (3 << 16) | 8

// ZmqTimeout silence on the ZMQ stream after which miner data is polled over RPC
const ZmqTimeout = time.Second * 30

// HeaderBackfillCount headers downloaded at startup, fills the median
// timestamp window and the pruning baseline
const HeaderBackfillCount = mainchain.PruneDistance

type Config struct {
	Host        string
	RpcPort     uint16
	ZmqPort     uint16
	StratumBind string
	P2PBind     string

	WalletAddress    string
	SidechainNetwork string

	ApiPath    string
	StaticBind string

	FoundBlocksFile string
}

// P2PServer the peer gossip overlay, out of scope beyond these calls
type P2PServer interface {
	Broadcast(block *sidechain.PoolBlock)
	RequestBlockById(id types.Hash)
}

// P2Pool the daemon's coordination kernel. Owns the side chain engine, the
// template builder, the main chain shadow, the mempool view and the found
// block list
type P2Pool struct {
	config    Config
	consensus *sidechain.Consensus

	wallet address.PackedAddress

	client    *client.Client
	zmqClient *zmq.Client

	mainchain   *mainchain.Shadow
	sidechain   *sidechain.SideChain
	builder     *stratum.Builder
	foundBlocks *FoundBlocks

	p2pServer P2PServer

	ctx    context.Context
	cancel context.CancelFunc

	started     time.Time
	minerData   atomic.Pointer[p2pooltypes.MinerData]
	totalHashes atomic.Uint64

	// submittedBlocks side chain ids of blocks submitted upstream, keyed by
	// their main chain id, awaiting chain_main confirmation
	submittedLock   sync.Mutex
	submittedBlocks map[types.Hash]types.Hash

	lastZmqMessage atomic.Int64

	// txPoolQueue bounded, oldest txpool events are dropped on overflow.
	// miner data and chain main events are never queued here
	txPoolQueue chan []zmq.TxPoolAdd

	fetchingHeaders sync.Map
}

func New(config Config) (*P2Pool, error) {
	consensus := sidechain.ConsensusByNetwork(sidechain.NetworkTypeFromString(config.SidechainNetwork))
	if consensus == nil {
		return nil, fmt.Errorf("invalid sidechain network %q", config.SidechainNetwork)
	}

	wallet := address.FromBase58(config.WalletAddress)
	if wallet == nil || !wallet.Valid() {
		return nil, errors.New("invalid wallet address")
	}
	if wallet.Network() != consensus.NetworkType.MustAddressNetwork() {
		return nil, errors.New("wallet address network does not match the sidechain network")
	}

	rpcClient, err := client.NewClient("http://" + net.JoinHostPort(config.Host, strconv.FormatUint(uint64(config.RpcPort), 10)))
	if err != nil {
		return nil, err
	}

	if config.FoundBlocksFile == "" {
		config.FoundBlocksFile = "p2pool.blocks"
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &P2Pool{
		config:          config,
		consensus:       consensus,
		wallet:          wallet.ToPackedAddress(),
		client:          rpcClient,
		zmqClient:       zmq.NewClient("tcp://" + net.JoinHostPort(config.Host, strconv.FormatUint(uint64(config.ZmqPort), 10))),
		mainchain:       mainchain.NewShadow(),
		foundBlocks:     NewFoundBlocks(config.FoundBlocksFile),
		submittedBlocks: make(map[types.Hash]types.Hash),
		txPoolQueue:     make(chan []zmq.TxPoolAdd, 32),
		ctx:             ctx,
		cancel:          cancel,
		started:         time.Now(),
	}

	p.sidechain = sidechain.NewSideChain(consensus, p)

	p.builder = stratum.NewBuilder(p.sidechain, p.wallet)
	p.builder.SubmitFunc = p.submitSideChainBlock
	p.builder.SubmitMainFunc = func(b *mainblock.Block) error {
		p.SubmitBlock(b)
		return nil
	}
	p.builder.MedianTimestampFunc = p.mainchain.MedianTimestamp

	return p, nil
}

func (p *P2Pool) Context() context.Context {
	return p.ctx
}

func (p *P2Pool) Consensus() *sidechain.Consensus {
	return p.consensus
}

func (p *P2Pool) SideChain() *sidechain.SideChain {
	return p.sidechain
}

func (p *P2Pool) MainChain() *mainchain.Shadow {
	return p.mainchain
}

func (p *P2Pool) Builder() *stratum.Builder {
	return p.builder
}

// SetP2PServer wires the gossip overlay before Run
func (p *P2Pool) SetP2PServer(server P2PServer) {
	p.p2pServer = server
}

// Run the startup sequence, in strict order, then the event loop. Any error
// before the loop starts is a fatal configuration or upstream failure
func (p *P2Pool) Run() error {
	// 1. Wait for the node to be synchronized, verify matching network
	if err := p.waitForNode(); err != nil {
		return err
	}

	// 2. Verify RPC version
	version, err := p.client.GetVersion(p.ctx)
	if err != nil {
		return fmt.Errorf("get_version: %w", err)
	}
	if version.Version < MinimumRpcVersion {
		return fmt.Errorf("node RPC v%d.%d is too old, expected at least v%d.%d, update the node", version.Major(), version.Minor(), MinimumRpcVersion>>16, MinimumRpcVersion&0xffff)
	}

	// 3. Fetch the initial miner data
	minerData, err := p.fetchMinerData()
	if err != nil {
		return fmt.Errorf("get_miner_data: %w", err)
	}

	// 4. Download the two most recent RandomX seed headers and set the hasher
	// seeds. The previous epoch must be ready before any share arrives
	if err = p.initSeeds(minerData.Height); err != nil {
		return err
	}

	// 5. Backfill recent headers, fills the median timestamp window and the
	// pruning baseline
	if err = p.backfillHeaders(minerData.Height); err != nil {
		return err
	}

	// 6. Only now load persisted found blocks and start the readers
	if err = p.foundBlocks.Load(); err != nil {
		utils.Errorf("P2Pool", "could not load found blocks: %s", err)
	}

	p.handleMinerData(minerData)

	go p.zmqLoop()
	go p.txPoolLoop()
	go p.watchdogLoop()
	if p.config.ApiPath != "" {
		p.updateApi()
		go p.apiLoop()
	}

	utils.Logf("P2Pool", "started, network %s, wallet %s", p.consensus.NetworkType, string(p.wallet.ToBase58(p.consensus.NetworkType.MustAddressNetwork())))

	<-p.ctx.Done()
	return nil
}

// Stop graceful shutdown: cancels the context and closes the ZMQ client. It
// returns without waiting for the background loops to exit
func (p *P2Pool) Stop() {
	p.cancel()
	_ = p.zmqClient.Close()
}

func (p *P2Pool) waitForNode() error {
	for {
		info, err := p.client.GetInfo(p.ctx)
		if err == nil {
			if networkMatches(info, p.consensus.NetworkType) {
				if info.Synchronized && !info.BusySyncing {
					return nil
				}
				utils.Logf("P2Pool", "node is not synchronized yet, height %d", info.Height)
			} else {
				return errors.New("node network type does not match the sidechain network")
			}
		} else {
			utils.Errorf("P2Pool", "get_info: %s", err)
		}

		select {
		case <-p.ctx.Done():
			return p.ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func networkMatches(info *client.GetInfoResult, network sidechain.NetworkType) bool {
	switch network {
	case sidechain.NetworkMainnet:
		return info.Mainnet
	case sidechain.NetworkTestnet:
		return info.Testnet
	case sidechain.NetworkStagenet:
		return info.Stagenet
	}
	return false
}

func (p *P2Pool) fetchMinerData() (*p2pooltypes.MinerData, error) {
	result, err := p.client.GetMinerData(p.ctx)
	if err != nil {
		return nil, err
	}

	backlog := make(mempool.Mempool, 0, len(result.TxBacklog))
	for _, e := range result.TxBacklog {
		backlog = append(backlog, &mempool.Entry{
			Id:       e.Id,
			BlobSize: e.BlobSize,
			Weight:   e.Weight,
			Fee:      e.Fee,
		})
	}

	return &p2pooltypes.MinerData{
		MajorVersion:          result.MajorVersion,
		Height:                result.Height,
		PrevId:                result.PrevId,
		SeedHash:              result.SeedHash,
		Difficulty:            result.Difficulty,
		MedianWeight:          result.MedianWeight,
		AlreadyGeneratedCoins: result.AlreadyGeneratedCoins,
		MedianTimestamp:       result.MedianTimestamp,
		TxBacklog:             backlog,
		TimeReceived:          time.Now(),
	}, nil
}

// initSeeds downloads the current and previous epoch seed headers and warms
// the RandomX states synchronously
func (p *P2Pool) initSeeds(height uint64) error {
	if err := p.consensus.InitHasher(2); err != nil {
		return fmt.Errorf("could not initialize hasher: %w", err)
	}

	seedHeight, nextSeedHeight := randomx.SeedHeights(height)

	// previous epoch first, it must be usable before any share arrives
	heights := make([]uint64, 0, 3)
	if seedHeight >= randomx.SeedHashEpochBlocks {
		heights = append(heights, seedHeight-randomx.SeedHashEpochBlocks)
	}
	heights = append(heights, seedHeight)
	if nextSeedHeight != seedHeight {
		heights = append(heights, nextSeedHeight)
	}

	for _, h := range heights {
		header, err := p.client.GetBlockHeaderByHeight(p.ctx, h)
		if err != nil {
			return fmt.Errorf("could not get seed header at height %d: %w", h, err)
		}
		p.ingestRpcHeader(header)

		// warm the state for this seed before any share arrives
		if _, err = p.consensus.GetHasher().Hash(header.Hash[:], make([]byte, 76)); err != nil {
			return fmt.Errorf("could not initialize RandomX state for seed %s: %w", header.Hash, err)
		}
	}

	return nil
}

func (p *P2Pool) backfillHeaders(tipHeight uint64) error {
	var start uint64
	if tipHeight > HeaderBackfillCount {
		start = tipHeight - HeaderBackfillCount
	}

	const chunkSize = 250

	var group errgroup.Group
	group.SetLimit(4)

	for begin := start; begin < tipHeight; begin += chunkSize {
		end := min(begin+chunkSize-1, tipHeight-1)
		group.Go(func() error {
			headers, err := p.client.GetBlockHeadersRange(p.ctx, begin, end)
			if err != nil {
				return fmt.Errorf("could not get headers %d-%d: %w", begin, end, err)
			}
			for i := range headers {
				p.ingestRpcHeader(&headers[i])
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	utils.Logf("P2Pool", "downloaded %d main chain headers ending at height %d", p.mainchain.Count(), tipHeight)
	return nil
}

func (p *P2Pool) ingestRpcHeader(h *client.BlockHeader) {
	p.mainchain.IngestHeader(&mainblock.Header{
		MajorVersion: h.MajorVersion,
		MinorVersion: h.MinorVersion,
		Timestamp:    h.Timestamp,
		PreviousId:   h.PrevHash,
		Height:       h.Height,
		Nonce:        h.Nonce,
		Reward:       h.Reward,
		Difficulty:   h.WideDifficulty,
		Id:           h.Hash,
	})
}

// zmqLoop the subscriber. Reconnects with a warning on stream errors
func (p *P2Pool) zmqLoop() {
	listeners := zmq.Listeners{
		zmq.TopicMinimalChainMain: zmq.DecoderMinimalChainMain(func(main *zmq.MinimalChainMain) {
			p.lastZmqMessage.Store(time.Now().Unix())
			p.handleChainMain(main)
		}),
		zmq.TopicFullMinerData: zmq.DecoderFullMinerData(func(data *zmq.FullMinerData) {
			p.lastZmqMessage.Store(time.Now().Unix())
			p.handleZmqMinerData(data)
		}),
		zmq.TopicFullTxPoolAdd: zmq.DecoderFullTxPoolAdd(func(txs []zmq.TxPoolAdd) {
			p.lastZmqMessage.Store(time.Now().Unix())
			p.handleTxPoolAdd(txs)
		}),
	}

	for {
		if err := p.zmqClient.Listen(p.ctx, listeners); err != nil {
			if p.ctx.Err() != nil {
				return
			}
			utils.Errorf("P2Pool", "zmq stream lost: %s", err)
		}

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// watchdogLoop polls miner data over RPC when the ZMQ stream goes silent
func (p *P2Pool) watchdogLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			last := p.lastZmqMessage.Load()
			if last != 0 && time.Since(time.Unix(last, 0)) < ZmqTimeout {
				continue
			}
			if last != 0 {
				utils.Noticef("P2Pool", "no ZMQ messages for %s, polling miner data over RPC", ZmqTimeout)
			}
			if minerData, err := p.fetchMinerData(); err != nil {
				utils.Errorf("P2Pool", "get_miner_data: %s", err)
			} else if current := p.minerData.Load(); current == nil || current.Height < minerData.Height || current.PrevId != minerData.PrevId {
				p.handleMinerData(minerData)
			}
			p.lastZmqMessage.Store(time.Now().Unix())
		}
	}
}

func (p *P2Pool) handleZmqMinerData(data *zmq.FullMinerData) {
	backlog := make(mempool.Mempool, 0, len(data.TxBacklog))
	for _, e := range data.TxBacklog {
		backlog = append(backlog, &mempool.Entry{
			Id:       e.Id,
			BlobSize: e.BlobSize,
			Weight:   e.Weight,
			Fee:      e.Fee,
		})
	}

	p.handleMinerData(&p2pooltypes.MinerData{
		MajorVersion:          data.MajorVersion,
		Height:                data.Height,
		PrevId:                data.PrevId,
		SeedHash:              data.SeedHash,
		Difficulty:            data.Difficulty,
		MedianWeight:          data.MedianWeight,
		AlreadyGeneratedCoins: data.AlreadyGeneratedCoins,
		MedianTimestamp:       data.MedianTimestamp,
		TxBacklog:             backlog,
		TimeReceived:          time.Now(),
	})
}

func (p *P2Pool) handleMinerData(minerData *p2pooltypes.MinerData) {
	if minerData.Difficulty == types.ZeroDifficulty {
		utils.Errorf("P2Pool", "dropping miner data at height %d with unparsable difficulty", minerData.Height)
		return
	}

	p.minerData.Store(minerData)

	// the node's view of the previous block, timestamp and reward arrive later
	if p.mainchain.LookupById(minerData.PrevId) == nil {
		p.requestHeaderByHeight(minerData.Height - 1)
	}

	p.mainchain.Prune(minerData.Height)

	// make sure the next epoch seed is warm before the epoch flips
	go p.warmSeeds(minerData.Height)

	p.builder.HandleMinerData(minerData)
}

func (p *P2Pool) warmSeeds(height uint64) {
	seedHeight, nextSeedHeight := randomx.SeedHeights(height)
	for _, h := range []uint64{seedHeight, nextSeedHeight} {
		if header := p.mainchain.LookupByHeight(h); header != nil {
			_, _ = p.consensus.GetHasher().Hash(header.Id[:], make([]byte, 76))
		} else {
			p.requestHeaderByHeight(h)
		}
	}
}

func (p *P2Pool) handleChainMain(main *zmq.MinimalChainMain) {
	for i, id := range main.Ids {
		height := main.FirstHeight + uint64(i)
		if p.mainchain.LookupById(id) == nil {
			p.requestHeaderByHeight(height)
		}

		// a block we submitted upstream has won the main chain
		p.submittedLock.Lock()
		sideId, ok := p.submittedBlocks[id]
		if ok {
			delete(p.submittedBlocks, id)
		}
		p.submittedLock.Unlock()

		if ok {
			header := p.mainchain.LookupById(id)
			if header == nil {
				header = &mainblock.Header{Height: height, Id: id}
			}
			p.sidechain.WatchMainChainBlock(header, sideId)
		}
	}

	p.mainchain.Prune(main.FirstHeight + uint64(len(main.Ids)))
}

func (p *P2Pool) handleTxPoolAdd(txs []zmq.TxPoolAdd) {
	for {
		select {
		case p.txPoolQueue <- txs:
			return
		default:
			// queue full, drop the oldest event
			select {
			case <-p.txPoolQueue:
			default:
			}
		}
	}
}

func (p *P2Pool) txPoolLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case txs := <-p.txPoolQueue:
			p.processTxPoolAdd(txs)
		}
	}
}

func (p *P2Pool) processTxPoolAdd(txs []zmq.TxPoolAdd) {
	data := make(mempool.Mempool, 0, len(txs))
	for _, tx := range txs {
		data = append(data, &mempool.Entry{
			Id:           tx.Id,
			BlobSize:     tx.BlobSize,
			Weight:       tx.Weight,
			Fee:          tx.Fee,
			TimeReceived: time.Now(),
		})
	}
	p.builder.HandleMempoolData(data)
}

// requestHeaderByHeight asynchronous, missing headers are not fatal
func (p *P2Pool) requestHeaderByHeight(height uint64) {
	if _, loaded := p.fetchingHeaders.LoadOrStore(height, struct{}{}); loaded {
		return
	}
	go func() {
		defer p.fetchingHeaders.Delete(height)
		header, err := p.client.GetBlockHeaderByHeight(p.ctx, height)
		if err != nil {
			utils.Debugf("P2Pool", "could not get header at height %d: %s", height, err)
			return
		}
		p.ingestRpcHeader(header)
	}()
}

// submitSideChainBlock a share from our own miners that met side chain difficulty
func (p *P2Pool) submitSideChainBlock(block *sidechain.PoolBlock) error {
	if p.sidechain.BlockSeen(block) {
		return nil
	}

	_, err, _ := p.sidechain.AddPoolBlock(block)
	if err != nil {
		return err
	}

	p.totalHashes.Add(block.Side.Difficulty.Lo)

	block.WantBroadcast.Store(true)
	if !block.Broadcasted.Swap(true) {
		p.Broadcast(block)
	}
	return nil
}

// IngestPoolBlock a peer gossiped side chain block. The ban verdict is
// reported back to the overlay
func (p *P2Pool) IngestPoolBlock(block *sidechain.PoolBlock) (missingBlocks []types.Hash, err error, ban bool) {
	if p.sidechain.BlockSeen(block) {
		return nil, nil, false
	}

	missingBlocks, err, ban = p.sidechain.AddPoolBlockExternal(block)
	if err == nil && !ban {
		p.totalHashes.Add(block.Side.Difficulty.Lo)
	}
	return missingBlocks, err, ban
}

// Host interface for the side chain engine

func (p *P2Pool) GetDifficultyByHeight(height uint64) types.Difficulty {
	if diff := p.mainchain.DifficultyByHeight(height); diff != types.ZeroDifficulty {
		return diff
	}
	if minerData := p.minerData.Load(); minerData != nil && minerData.Height == height {
		return minerData.Difficulty
	}
	p.requestHeaderByHeight(height)
	return types.ZeroDifficulty
}

func (p *P2Pool) GetSeedByHeight(height uint64) types.Hash {
	if seed := p.mainchain.SeedByHeight(height); seed != types.ZeroHash {
		return seed
	}
	if minerData := p.minerData.Load(); minerData != nil && minerData.Height == height {
		return minerData.SeedHash
	}
	p.requestHeaderByHeight(randomx.SeedHeight(height))
	return types.ZeroHash
}

func (p *P2Pool) GetMainHeaderById(id types.Hash) *mainblock.Header {
	return p.mainchain.LookupById(id)
}

// SubmitBlock hands a block that met main chain difficulty to the node
func (p *P2Pool) SubmitBlock(b *mainblock.Block) {
	go func() {
		blob, err := b.MarshalBinary()
		if err != nil {
			utils.Errorf("P2Pool", "could not serialize block for submit: %s", err)
			return
		}

		mainId := b.Id()

		if err = p.client.SubmitBlock(p.ctx, blob); err != nil {
			utils.Errorf("P2Pool", "submit_block at height %d, id %s failed: %s", b.Coinbase.GenHeight, mainId, err)
			return
		}

		utils.Logf("P2Pool", "submitted block at main chain height %d, id %s", b.Coinbase.GenHeight, mainId)

		// remember it so chain_main can confirm the find
		var sideId types.Hash
		if t := b.Coinbase.Extra.GetTag(sidechain.SideTemplateId); t != nil {
			sideId = types.HashFromBytes(t.Data)
		}
		if sideId != types.ZeroHash {
			p.submittedLock.Lock()
			p.submittedBlocks[mainId] = sideId
			p.submittedLock.Unlock()
		}
	}()
}

func (p *P2Pool) Broadcast(block *sidechain.PoolBlock) {
	if p.p2pServer != nil {
		p.p2pServer.Broadcast(block)
	}
}

func (p *P2Pool) RequestBlock(id types.Hash) {
	if p.p2pServer != nil {
		p.p2pServer.RequestBlockById(id)
	}
}

// UpdateTip called by the engine with its lock held, rebuild asynchronously
func (p *P2Pool) UpdateTip(tip *sidechain.PoolBlock) {
	go p.builder.HandleTip(tip)
}

// UpdateBlockFound a side chain block of ours won the main chain
func (p *P2Pool) UpdateBlockFound(header *mainblock.Header, block *sidechain.PoolBlock) {
	utils.Logf("P2Pool", "BLOCK FOUND: main chain height %d, id %s, side chain id %x", header.Height, header.Id, block.SideTemplateId(p.consensus).Slice())

	p.foundBlocks.Add(FoundBlock{
		Timestamp:        uint64(time.Now().Unix()),
		Height:           header.Height,
		Id:               header.Id,
		Difficulty:       header.Difficulty,
		CumulativeHashes: p.totalHashes.Load(),
	})

	go p.updateApi()
}

func splitHostPort(bind string) (host string, port uint16, err error) {
	h, portStr, err := net.SplitHostPort(bind)
	if err != nil {
		return "", 0, err
	}
	v, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, err
	}
	return h, uint16(v), nil
}
