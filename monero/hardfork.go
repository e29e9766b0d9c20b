package monero

const (
	// HardForkViewTagsVersion outputs carry view tags from v15 onward
	HardForkViewTagsVersion  = 15
	HardForkSupportedVersion = 16
)

type HardFork struct {
	// Version Numeric epoch of the version
	Version uint8 `json:"version"`
	// Height Block height at which the hardfork occurs
	Height uint64 `json:"height"`
	// Threshold Not used currently
	Threshold uint8 `json:"threshold"`
	// Time Unix timestamp at which the hardfork occurred
	Time uint64 `json:"time"`
}

// Hardfork schedules taken from src/hardforks/hardforks.cpp

var mainNetHardForks = []HardFork{
	{1, 1, 0, 1341378000},
	{2, 1009827, 0, 1442763710},
	{3, 1141317, 0, 1458558528},
	{4, 1220516, 0, 1483574400},
	{5, 1288616, 0, 1489520158},
	{6, 1400000, 0, 1503046577},
	{7, 1546000, 0, 1521303150},
	{8, 1685555, 0, 1535889547},
	{9, 1686275, 0, 1535889548},
	{10, 1788000, 0, 1549792439},
	{11, 1788720, 0, 1550225678},
	{12, 1978433, 0, 1571419280},
	{13, 2210000, 0, 1598180817},
	{14, 2210720, 0, 1598180818},
	{15, 2688888, 0, 1656629117},
	{16, 2689608, 0, 1656629118},
}

var testNetHardForks = []HardFork{
	{1, 1, 0, 1341378000},
	{2, 624634, 0, 1445355000},
	{3, 800500, 0, 1472415034},
	{4, 801219, 0, 1472415035},
	{5, 802660, 0, 1472415036 + 86400*180},
	{6, 971400, 0, 1501709789},
	{7, 1057027, 0, 1512211236},
	{8, 1057058, 0, 1533211200},
	{9, 1057778, 0, 1533297600},
	{10, 1154318, 0, 1550153694},
	{11, 1155038, 0, 1550225678},
	{12, 1308737, 0, 1569582000},
	{13, 1543939, 0, 1599069376},
	{14, 1544659, 0, 1599069377},
	{15, 1982800, 0, 1652727000},
	{16, 1983520, 0, 1652813400},
}

var stageNetHardForks = []HardFork{
	{1, 1, 0, 1341378000},
	{2, 32000, 0, 1521000000},
	{3, 33000, 0, 1521120000},
	{4, 34000, 0, 1521240000},
	{5, 35000, 0, 1521360000},
	{6, 36000, 0, 1521480000},
	{7, 37000, 0, 1521600000},
	{8, 176456, 0, 1537821770},
	{9, 177176, 0, 1537821771},
	{10, 269000, 0, 1550153694},
	{11, 269720, 0, 1550225678},
	{12, 454721, 0, 1571419280},
	{13, 675405, 0, 1598180817},
	{14, 676125, 0, 1598180818},
	{15, 1151000, 0, 1656629117},
	{16, 1151720, 0, 1656629118},
}

func NetworkHardFork(network uint8) []HardFork {
	switch network {
	case MainNetwork:
		return mainNetHardForks
	case TestNetwork:
		return testNetHardForks
	case StageNetwork:
		return stageNetHardForks
	default:
		panic("invalid network type for hardfork")
	}
}

func NetworkMajorVersion(network uint8, height uint64) uint8 {
	hardForks := NetworkHardFork(network)

	if len(hardForks) == 0 {
		return 0
	}

	result := hardForks[0].Version

	for _, f := range hardForks[1:] {
		if height < f.Height {
			break
		}
		result = f.Version
	}
	return result
}
