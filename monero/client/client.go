package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
	fasthex "github.com/tmthrgd/go-hex"
)

// Client JSON-RPC client against a main chain node
type Client struct {
	address string
	client  *http.Client

	throttler <-chan time.Time
}

func NewClient(address string) (*Client, error) {
	if address == "" {
		return nil, errors.New("empty node address")
	}
	return &Client{
		address: address,
		client: &http.Client{
			Timeout: time.Second * 30,
		},
		throttler: time.Tick(time.Second / 8),
	}, nil
}

func (c *Client) SetThrottle(timesPerSecond uint64) {
	c.throttler = time.Tick(time.Second / time.Duration(timesPerSecond))
}

type rpcRequest struct {
	JsonRpc string `json:"jsonrpc"`
	Id      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse[T any] struct {
	Id     string    `json:"id"`
	Result *T        `json:"result"`
	Error  *rpcError `json:"error"`
}

func call[T any](ctx context.Context, c *Client, method string, params any) (*T, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.throttler:
	}

	data, err := utils.MarshalJSON(rpcRequest{
		JsonRpc: "2.0",
		Id:      "0",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address+"/json_rpc", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 32*1024*1024))
	if err != nil {
		return nil, err
	}

	var result rpcResponse[T]
	if err = utils.UnmarshalJSON(body, &result); err != nil {
		return nil, fmt.Errorf("%s: unmarshal: %w", method, err)
	}

	if result.Error != nil {
		return nil, fmt.Errorf("%s: rpc error %d: %s", method, result.Error.Code, result.Error.Message)
	}

	if result.Result == nil {
		return nil, fmt.Errorf("%s: empty result", method)
	}

	return result.Result, nil
}

type GetInfoResult struct {
	Height       uint64     `json:"height"`
	TopBlockHash types.Hash `json:"top_block_hash"`
	Mainnet      bool       `json:"mainnet"`
	Testnet      bool       `json:"testnet"`
	Stagenet     bool       `json:"stagenet"`
	Synchronized bool       `json:"synchronized"`
	BusySyncing  bool       `json:"busy_syncing"`
	Status       string     `json:"status"`
}

func (c *Client) GetInfo(ctx context.Context) (*GetInfoResult, error) {
	return call[GetInfoResult](ctx, c, "get_info", nil)
}

type GetVersionResult struct {
	Version uint32 `json:"version"`
	Release bool   `json:"release"`
	Status  string `json:"status"`
}

const (
	VersionMajorShift = 16
	VersionMinorMask  = 0xffff
)

func (v *GetVersionResult) Major() uint32 {
	return v.Version >> VersionMajorShift
}

func (v *GetVersionResult) Minor() uint32 {
	return v.Version & VersionMinorMask
}

func (c *Client) GetVersion(ctx context.Context) (*GetVersionResult, error) {
	return call[GetVersionResult](ctx, c, "get_version", nil)
}

type TxBacklogEntry struct {
	Id       types.Hash `json:"id"`
	BlobSize uint64     `json:"blob_size"`
	Weight   uint64     `json:"weight"`
	Fee      uint64     `json:"fee"`
}

type GetMinerDataResult struct {
	MajorVersion          uint8            `json:"major_version"`
	Height                uint64           `json:"height"`
	PrevId                types.Hash       `json:"prev_id"`
	SeedHash              types.Hash       `json:"seed_hash"`
	Difficulty            types.Difficulty `json:"difficulty"`
	MedianWeight          uint64           `json:"median_weight"`
	AlreadyGeneratedCoins uint64           `json:"already_generated_coins"`
	MedianTimestamp       uint64           `json:"median_timestamp"`
	TxBacklog             []TxBacklogEntry `json:"tx_backlog"`
	Status                string           `json:"status"`
}

func (c *Client) GetMinerData(ctx context.Context) (*GetMinerDataResult, error) {
	return call[GetMinerDataResult](ctx, c, "get_miner_data", nil)
}

type BlockHeader struct {
	MajorVersion   uint8            `json:"major_version"`
	MinorVersion   uint8            `json:"minor_version"`
	Timestamp      uint64           `json:"timestamp"`
	PrevHash       types.Hash       `json:"prev_hash"`
	Nonce          uint32           `json:"nonce"`
	Hash           types.Hash       `json:"hash"`
	Height         uint64           `json:"height"`
	Depth          uint64           `json:"depth"`
	WideDifficulty types.Difficulty `json:"wide_difficulty"`
	Reward         uint64           `json:"reward"`
}

type getBlockHeaderByHeightParams struct {
	Height uint64 `json:"height"`
}

type getBlockHeaderResult struct {
	BlockHeader BlockHeader `json:"block_header"`
	Status      string      `json:"status"`
}

func (c *Client) GetBlockHeaderByHeight(ctx context.Context, height uint64) (*BlockHeader, error) {
	result, err := call[getBlockHeaderResult](ctx, c, "get_block_header_by_height", getBlockHeaderByHeightParams{Height: height})
	if err != nil {
		return nil, err
	}
	return &result.BlockHeader, nil
}

type getBlockHeaderByHashParams struct {
	Hash types.Hash `json:"hash"`
}

func (c *Client) GetBlockHeaderByHash(ctx context.Context, hash types.Hash) (*BlockHeader, error) {
	result, err := call[getBlockHeaderResult](ctx, c, "get_block_header_by_hash", getBlockHeaderByHashParams{Hash: hash})
	if err != nil {
		return nil, err
	}
	return &result.BlockHeader, nil
}

type getBlockHeadersRangeParams struct {
	StartHeight uint64 `json:"start_height"`
	EndHeight   uint64 `json:"end_height"`
}

type getBlockHeadersRangeResult struct {
	Headers []BlockHeader `json:"headers"`
	Status  string        `json:"status"`
}

func (c *Client) GetBlockHeadersRange(ctx context.Context, start, end uint64) ([]BlockHeader, error) {
	result, err := call[getBlockHeadersRangeResult](ctx, c, "get_block_headers_range", getBlockHeadersRangeParams{StartHeight: start, EndHeight: end})
	if err != nil {
		return nil, err
	}
	return result.Headers, nil
}

type submitBlockResult struct {
	Status string `json:"status"`
}

func (c *Client) SubmitBlock(ctx context.Context, blob []byte) error {
	result, err := call[submitBlockResult](ctx, c, "submit_block", []string{fasthex.EncodeToString(blob)})
	if err != nil {
		return err
	}
	if result.Status != "OK" {
		return fmt.Errorf("submit_block: status %s", result.Status)
	}
	return nil
}
