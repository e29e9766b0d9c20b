package p2pool

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"git.gammaspectra.live/P2Pool/daemon/types"
	"git.gammaspectra.live/P2Pool/daemon/utils"
)

// FoundBlock one main chain block won by the pool. Records are append-only
type FoundBlock struct {
	Timestamp  uint64           `json:"ts"`
	Height     uint64           `json:"height"`
	Id         types.Hash       `json:"hash"`
	Difficulty types.Difficulty `json:"difficulty"`
	// CumulativeHashes total pool hashes at the time the block was found
	CumulativeHashes uint64 `json:"totalHashes"`
}

// FoundBlocks the persisted list of blocks this pool found.
// File format, one record per line: timestamp height hash block_difficulty cumulative_hashes
type FoundBlocks struct {
	lock   sync.Mutex
	path   string
	blocks []FoundBlock
}

func NewFoundBlocks(path string) *FoundBlocks {
	return &FoundBlocks{
		path: path,
	}
}

// Load reads the persisted records. Truncated or damaged lines are skipped
func (f *FoundBlocks) Load() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 5 {
			continue
		}

		var b FoundBlock
		if b.Timestamp, err = strconv.ParseUint(fields[0], 10, 64); err != nil {
			continue
		}
		if b.Height, err = strconv.ParseUint(fields[1], 10, 64); err != nil {
			continue
		}
		if b.Id, err = types.HashFromString(fields[2]); err != nil {
			continue
		}
		var diff uint64
		if diff, err = strconv.ParseUint(fields[3], 10, 64); err != nil {
			continue
		}
		b.Difficulty = types.DifficultyFrom64(diff)
		if b.CumulativeHashes, err = strconv.ParseUint(fields[4], 10, 64); err != nil {
			continue
		}

		f.blocks = append(f.blocks, b)
	}

	if len(f.blocks) > 0 {
		utils.Logf("P2Pool", "loaded %d found blocks from %s", len(f.blocks), f.path)
	}

	return scanner.Err()
}

// Add appends a record in memory and to the file
func (f *FoundBlocks) Add(b FoundBlock) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.blocks = append(f.blocks, b)

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		utils.Errorf("P2Pool", "could not open %s: %s", f.path, err)
		return
	}
	defer file.Close()

	if _, err = fmt.Fprintf(file, "%d %d %s %s %d\n", b.Timestamp, b.Height, b.Id, b.Difficulty.StringNumeric(), b.CumulativeHashes); err != nil {
		utils.Errorf("P2Pool", "could not append to %s: %s", f.path, err)
	}
}

func (f *FoundBlocks) All() []FoundBlock {
	f.lock.Lock()
	defer f.lock.Unlock()
	result := make([]FoundBlock, len(f.blocks))
	copy(result, f.blocks)
	return result
}

func (f *FoundBlocks) Count() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.blocks)
}

func (f *FoundBlocks) Last() (FoundBlock, bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if len(f.blocks) == 0 {
		return FoundBlock{}, false
	}
	return f.blocks[len(f.blocks)-1], true
}
