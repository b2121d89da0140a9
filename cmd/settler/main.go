package main

import (
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/axleworks/settler/internal/api"
	"github.com/axleworks/settler/internal/chain"
	"github.com/axleworks/settler/internal/config"
	"github.com/axleworks/settler/internal/delegation"
	"github.com/axleworks/settler/internal/hashing"
	"github.com/axleworks/settler/internal/persistence"
	"github.com/axleworks/settler/internal/settlement"
	"github.com/axleworks/settler/internal/signing"
	"github.com/axleworks/settler/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if !common.IsHexAddress(cfg.Owner.Address) {
		zapLogger.Fatal("owner.address must be a hex address")
	}
	if cfg.Owner.JWTSecret == "" {
		zapLogger.Fatal("owner.jwt_secret must be set")
	}
	owner := common.HexToAddress(cfg.Owner.Address)
	if !common.IsHexAddress(cfg.Fees.Recipient) {
		zapLogger.Fatal("fees.recipient must be a hex address")
	}
	feeRecipient := common.HexToAddress(cfg.Fees.Recipient)

	store, err := persistence.Open(cfg.Database.DSN, zapLogger.Named("store"))
	if err != nil {
		zapLogger.Fatal("failed to open store", zap.Error(err))
	}

	ledger := chain.NewTokenLedger()
	registry := chain.NewAccountRegistry()
	exec := &chain.Executor{}

	custody := delegation.NewCustody(
		chain.NamedAddress("axle/custody"), owner, ledger,
		cfg.Delegation.RotationDelay, cfg.Delegation.InitialDelay,
		zapLogger.Named("custody"), store,
	)
	proxy := delegation.NewProxy(
		chain.NamedAddress("axle/proxy"), owner, custody,
		cfg.Delegation.RotationDelay, cfg.Delegation.InitialDelay,
		zapLogger.Named("proxy"), store,
	)

	hasher := hashing.NewHasher(big.NewInt(cfg.Chain.ChainID), chain.NamedAddress("axle/settler"))
	verifier := signing.NewVerifier(registry, owner, zapLogger.Named("signing"))
	if cfg.Signing.ValidationGasLimit > 0 {
		if err := verifier.SetValidationGasLimit(owner, cfg.Signing.ValidationGasLimit); err != nil {
			zapLogger.Fatal("failed to set validation gas limit", zap.Error(err))
		}
	}

	fees, err := settlement.NewFeeConfig(owner, cfg.Fees.LimitBps, cfg.Fees.DCABps, feeRecipient)
	if err != nil {
		zapLogger.Fatal("invalid fee configuration", zap.Error(err))
	}

	limitWL := settlement.NewWhitelist(owner)
	for _, addr := range cfg.Whitelist.Limit {
		if !common.IsHexAddress(addr) {
			zapLogger.Fatal("invalid limit whitelist entry", zap.String("addr", addr))
		}
		if err := limitWL.Add(owner, common.HexToAddress(addr)); err != nil {
			zapLogger.Fatal("failed to seed limit whitelist", zap.Error(err))
		}
	}
	dcaWL := settlement.NewWhitelist(owner)
	for _, addr := range cfg.Whitelist.DCA {
		if !common.IsHexAddress(addr) {
			zapLogger.Fatal("invalid dca whitelist entry", zap.String("addr", addr))
		}
		if err := dcaWL.Add(owner, common.HexToAddress(addr)); err != nil {
			zapLogger.Fatal("failed to seed dca whitelist", zap.Error(err))
		}
	}

	limitEngine := settlement.NewLimitEngine(
		chain.NamedAddress("axle/settlement/limit"), exec, hasher, verifier,
		proxy, ledger, registry, limitWL, fees, zapLogger.Named("limit"), store,
	)
	dcaEngine := settlement.NewDCAEngine(
		chain.NamedAddress("axle/settlement/dca"), exec, hasher, verifier,
		proxy, ledger, registry, dcaWL, fees, zapLogger.Named("dca"), store,
	)

	// The delegation wiring starts empty: the custody proxy and the engines'
	// allow-set memberships go live only through the timelocked rotation
	// protocol on the admin surface. Kick off the first rotation here so a
	// fresh deployment only needs a confirm after the initial delay.
	if custody.CurrentProxy() == (common.Address{}) {
		if err := custody.Unlock(owner, proxy.Address()); err != nil {
			zapLogger.Warn("could not start custody rotation", zap.Error(err))
		}
	}

	server := api.NewServer(api.Deps{
		Logger:         zapLogger.Named("api"),
		Owner:          owner,
		JWTSecret:      []byte(cfg.Owner.JWTSecret),
		CORSOrigins:    cfg.Server.CORSOrigins,
		LimitEngine:    limitEngine,
		DCAEngine:      dcaEngine,
		LimitWhitelist: limitWL,
		DCAWhitelist:   dcaWL,
		Fees:           fees,
		Verifier:       verifier,
		Custody:        custody,
		Proxy:          proxy,
		Store:          store,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		zapLogger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		zapLogger.Fatal("server stopped", zap.Error(err))
	}
}
