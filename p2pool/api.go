package p2pool

import (
	"os"
	"path/filepath"
	"time"

	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
)

// Field names and layout of these files are compatibility critical with
// third party dashboards

type networkStats struct {
	Difficulty types.Difficulty `json:"difficulty"`
	Hash       types.Hash       `json:"hash"`
	Height     uint64           `json:"height"`
	Reward     uint64           `json:"reward"`
	Timestamp  uint64           `json:"timestamp"`
}

type poolStatistics struct {
	HashRate           uint64 `json:"hashRate"`
	Miners             uint64 `json:"miners"`
	TotalHashes        uint64 `json:"totalHashes"`
	LastBlockFoundTime uint64 `json:"lastBlockFoundTime"`
	LastBlockFound     uint64 `json:"lastBlockFound"`
	TotalBlocksFound   uint64 `json:"totalBlocksFound"`
}

type poolStats struct {
	PoolList       []string       `json:"pool_list"`
	PoolStatistics poolStatistics `json:"pool_statistics"`
}

type statsModConfig struct {
	Ports []statsModPort `json:"ports"`
	Fee   uint64         `json:"fee"`
}

type statsModPort struct {
	Port uint16 `json:"port"`
	TLS  bool   `json:"tls"`
}

type statsModNetwork struct {
	Height uint64 `json:"height"`
}

type statsModPoolStats struct {
	LastBlockFound string `json:"lastBlockFound"`
}

type statsModPool struct {
	Stats       statsModPoolStats `json:"stats"`
	Blocks      []string          `json:"blocks"`
	Miners      uint64            `json:"miners"`
	HashRate    uint64            `json:"hashrate"`
	RoundHashes uint64            `json:"roundHashes"`
}

type statsMod struct {
	Config  statsModConfig  `json:"config"`
	Network statsModNetwork `json:"network"`
	Pool    statsModPool    `json:"pool"`
}

// writeApiFile atomic replace so dashboard readers never see partial JSON
func writeApiFile(path string, v any) {
	data, err := utils.MarshalJSON(v)
	if err != nil {
		utils.Errorf("API", "could not marshal %s: %s", path, err)
		return
	}

	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		utils.Errorf("API", "could not create directory for %s: %s", path, err)
		return
	}

	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, data, 0644); err != nil {
		utils.Errorf("API", "could not write %s: %s", tmp, err)
		return
	}
	if err = os.Rename(tmp, path); err != nil {
		utils.Errorf("API", "could not replace %s: %s", path, err)
	}
}

// updateApi refreshes all status files under the configured api path
func (p *P2Pool) updateApi() {
	if p.config.ApiPath == "" {
		return
	}

	tip := p.mainchain.Tip()
	if tip != nil {
		writeApiFile(filepath.Join(p.config.ApiPath, "network", "stats"), networkStats{
			Difficulty: tip.Difficulty,
			Hash:       tip.Id,
			Height:     tip.Height,
			Reward:     tip.Reward,
			Timestamp:  tip.Timestamp,
		})
	}

	hashRate := p.poolHashRate()
	miners := p.poolMiners()

	var lastFoundTime, lastFoundHeight uint64
	if last, ok := p.foundBlocks.Last(); ok {
		lastFoundTime = last.Timestamp
		lastFoundHeight = last.Height
	}

	writeApiFile(filepath.Join(p.config.ApiPath, "pool", "stats"), poolStats{
		PoolList: []string{"pplns"},
		PoolStatistics: poolStatistics{
			HashRate:           hashRate,
			Miners:             miners,
			TotalHashes:        p.totalHashes.Load(),
			LastBlockFoundTime: lastFoundTime,
			LastBlockFound:     lastFoundHeight,
			TotalBlocksFound:   uint64(p.foundBlocks.Count()),
		},
	})

	writeApiFile(filepath.Join(p.config.ApiPath, "pool", "blocks"), p.foundBlocks.All())

	var stratumPort uint16
	if _, port, err := splitHostPort(p.config.StratumBind); err == nil {
		stratumPort = port
	}

	writeApiFile(filepath.Join(p.config.ApiPath, "stats_mod"), statsMod{
		Config: statsModConfig{
			Ports: []statsModPort{{Port: stratumPort, TLS: false}},
			Fee:   0,
		},
		Network: statsModNetwork{
			Height: p.mainchain.TipHeight(),
		},
		Pool: statsModPool{
			Stats: statsModPoolStats{
				LastBlockFound: utils.FormatUint(lastFoundHeight),
			},
			Blocks:      p.recentBlocksShortList(),
			Miners:      miners,
			HashRate:    hashRate,
			RoundHashes: p.roundHashes(),
		},
	})
}

// poolHashRate window work over window time
func (p *P2Pool) poolHashRate() uint64 {
	return p.sidechain.Difficulty().Div64(p.consensus.TargetBlockTime).Lo
}

// poolMiners distinct payout wallets in the current window
func (p *P2Pool) poolMiners() uint64 {
	tip := p.sidechain.GetChainTip()
	if tip == nil {
		return 0
	}
	shares, _, err := p.sidechain.GetShares(tip)
	if err != nil {
		return 0
	}
	return uint64(len(shares))
}

// roundHashes hashes spent since the last found block
func (p *P2Pool) roundHashes() uint64 {
	total := p.totalHashes.Load()
	if last, ok := p.foundBlocks.Last(); ok && last.CumulativeHashes <= total {
		return total - last.CumulativeHashes
	}
	return total
}

// recentBlocksShortList for the 10 newest found blocks, newest first, a
// "hash:timestamp" entry followed by a height entry, dashboard format
func (p *P2Pool) recentBlocksShortList() []string {
	blocks := p.foundBlocks.All()
	result := make([]string, 0, min(len(blocks), 10)*2)
	for i := len(blocks) - 1; i >= 0 && len(result) < 20; i-- {
		result = append(result, blocks[i].Id.String()+":"+utils.FormatUint(blocks[i].Timestamp))
		result = append(result, utils.FormatUint(blocks[i].Height))
	}
	return result
}

// apiLoop periodic refresh while running
func (p *P2Pool) apiLoop() {
	ticker := time.NewTicker(time.Second * 30)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.updateApi()
		}
	}
}
