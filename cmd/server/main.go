package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"rentrails/internal/config"
	"rentrails/internal/escrow"
	"rentrails/internal/idempotency"
	"rentrails/internal/keyring"
	"rentrails/internal/ledger"
	"rentrails/internal/rentalstore"
	"rentrails/internal/server"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	ctx := context.Background()

	var idemStore idempotency.Store
	var agreements escrow.AgreementStore
	if cfg.Service.PostgresDSN != "" {
		pgIdem, err := idempotency.NewPostgresStore(ctx, cfg.Service.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("idempotency store error")
		}
		defer pgIdem.Close()
		idemStore = pgIdem

		pgAgreements, err := rentalstore.NewPostgresStore(ctx, cfg.Service.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("rental store error")
		}
		defer pgAgreements.Close()
		agreements = pgAgreements
	} else {
		fileStore, err := idempotency.NewFileStore(cfg.Service.IdempotencyStorePath)
		if err != nil {
			log.Fatal().Err(err).Msg("idempotency store error")
		}
		idemStore = fileStore
		agreements = rentalstore.NewMemoryStore()
	}

	var client ledger.Client
	if cfg.Network.GatewayURL != "" {
		rpc, err := ledger.NewRPCClient(cfg.Network.GatewayURL, time.Duration(cfg.Network.RPCTimeoutMs)*time.Millisecond)
		if err != nil {
			log.Fatal().Err(err).Msg("ledger client error")
		}
		client = rpc
	} else {
		log.Warn().Msg("no ledger gateway configured, running against the in-memory ledger")
		client = ledger.NewFakeClient()
	}

	keys := keyring.New()
	if cfg.Service.SignerMnemonic != "" {
		address, err := keys.ImportMnemonic(cfg.Service.SignerMnemonic, 0)
		if err != nil {
			log.Fatal().Err(err).Msg("keyring error")
		}
		log.Info().Str("address", address).Msg("service signer loaded")
	}

	baseFee, err := ledger.ParseAmount(cfg.Network.BaseFee)
	if err != nil {
		log.Fatal().Err(err).Msg("base fee error")
	}
	reserve, err := ledger.ParseAmount(cfg.Network.StartingReserve)
	if err != nil {
		log.Fatal().Err(err).Msg("starting reserve error")
	}

	orch := escrow.NewOrchestrator(client, keys, agreements, escrow.Config{
		StartingReserve: reserve,
		Builder: escrow.BuilderConfig{
			BaseFee:        baseFee,
			ValidityWindow: time.Duration(cfg.Network.ValidityWindowSecs) * time.Second,
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
	}, log)

	apiServer := server.NewServer(cfg, orch, client, idemStore, log)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Info().Err(err).Msg("server stopped")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}
