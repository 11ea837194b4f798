// Klingnet wallet devnet: an in-memory ledger behind the JSON-RPC server.
//
// Usage:
//
//	klingwallet-devnet [--port=8545 --faucet]   Run the devnet ledger
//	klingwallet-devnet --help                   Show help
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/Klingon-tech/klingnet-wallet/config"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/rpc"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logFile := cfg.Log.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(cfg.LogsDir(), logFile)
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init logging: %v\n", err)
		os.Exit(1)
	}
	types.SetAddressHRP(cfg.Network.AddressHRP())

	ml := ledger.NewMemoryLedger(cfg.Ledger.NetworkID)
	addr := net.JoinHostPort(cfg.Devnet.Addr, strconv.Itoa(cfg.Devnet.Port))
	srv := rpc.New(addr, cfg.Ledger.NetworkID, ml, cfg.Devnet)
	srv.SetEventLog(ml)
	if cfg.Devnet.Faucet {
		srv.SetFaucet(ml)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Info().
		Str("addr", srv.Addr()).
		Str("network", cfg.Ledger.NetworkID).
		Bool("faucet", cfg.Devnet.Faucet).
		Str("faucet_address", ml.FaucetAddress()).
		Msg("Devnet ledger listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down")
	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("RPC shutdown")
	}
	_ = ml.Close()
}
