package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"git.gammaspectra.live/P2Pool/daemon/p2pool"
	"git.gammaspectra.live/P2Pool/daemon/utils"
)

func main() {
	host := flag.String("host", "127.0.0.1", "IP address of the main chain node")
	rpcPort := flag.Uint("rpc-port", 18081, "RPC port of the main chain node")
	zmqPort := flag.Uint("zmq-port", 18083, "ZMQ pub port of the main chain node")
	stratumBind := flag.String("stratum", "0.0.0.0:3333", "Stratum bind address")
	p2pBind := flag.String("p2p", "0.0.0.0:37889", "P2P bind address")
	wallet := flag.String("wallet", "", "Payout wallet address")
	network := flag.String("network", "mainnet", "Sidechain network: mainnet, testnet or stagenet")
	apiPath := flag.String("api-path", "", "Path where JSON status files are written")
	staticBind := flag.String("static-bind", "", "Static bind address reported to peers")
	blocksFile := flag.String("blocks-file", "p2pool.blocks", "Append-only found blocks file")
	debugLog := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	if *debugLog {
		utils.GlobalLogLevel |= utils.LogLevelNotice | utils.LogLevelDebug
	}

	if *wallet == "" {
		utils.Errorf("Main", "no wallet address specified")
		os.Exit(1)
	}

	instance, err := p2pool.New(p2pool.Config{
		Host:             *host,
		RpcPort:          uint16(*rpcPort),
		ZmqPort:          uint16(*zmqPort),
		StratumBind:      *stratumBind,
		P2PBind:          *p2pBind,
		WalletAddress:    *wallet,
		SidechainNetwork: *network,
		ApiPath:          *apiPath,
		StaticBind:       *staticBind,
		FoundBlocksFile:  *blocksFile,
	})
	if err != nil {
		utils.Errorf("Main", "configuration error: %s", err)
		os.Exit(1)
	}

	sigChannel := make(chan os.Signal, 4)
	signal.Notify(sigChannel, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range sigChannel {
			switch sig {
			case syscall.SIGUSR1:
				utils.Noticef("Main", "received SIGUSR1, logs go to stdout, nothing to reopen")
			default:
				utils.Logf("Main", "received %s, stopping", sig)
				instance.Stop()
				return
			}
		}
	}()

	if err := instance.Run(); err != nil && !errors.Is(err, context.Canceled) {
		utils.Errorf("Main", "startup error: %s", err)
		os.Exit(1)
	}

	utils.Logf("Main", "stopped")
}
