// Command facilitator runs a deployable x402 facilitator: it verifies
// payment signatures, settles them on-chain through the configured
// signers, and feeds a discovery catalog from verified payments.
//
// Configuration comes from the environment (a .env file is honored when
// present):
//
//	PORT             listen port (default 4022)
//	EVM_PRIVATE_KEY  hex key enabling EVM settlement
//	EVM_RPC_URL      EVM RPC endpoint (default Base Sepolia)
//	EVM_NETWORK      CAIP-2 network the EVM signer serves (default eip155:84532)
//	SVM_PRIVATE_KEY  base58 key enabling Solana settlement
//	SVM_RPC_URL      RPC override for the configured Solana clusters
//	SVM_NETWORKS     comma-separated CAIP-2 clusters (default all configured)
//	REDIS_URL        Redis URL for the shared settlement idempotency window
//	SETTLEMENT_TTL   idempotency window duration (default 10m)
//	LOG_LEVEL        slog level (default info)
//
// At least one of EVM_PRIVATE_KEY and SVM_PRIVATE_KEY is required.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	x402 "github.com/x402-foundation/x402-go/v2"
	"github.com/x402-foundation/x402-go/v2/extensions/bazaar"
	"github.com/x402-foundation/x402-go/v2/extensions/idempotency"
	"github.com/x402-foundation/x402-go/v2/mechanisms/evm"
	"github.com/x402-foundation/x402-go/v2/mechanisms/svm"
	evmsigners "github.com/x402-foundation/x402-go/v2/signers/evm"
	svmsigners "github.com/x402-foundation/x402-go/v2/signers/svm"
)

const (
	defaultPort          = "4022"
	defaultEvmRPCURL     = "https://sepolia.base.org"
	defaultEvmNetwork    = "eip155:84532"
	defaultSettlementTTL = 10 * time.Minute
	shutdownTimeout      = 15 * time.Second
)

type config struct {
	port          string
	evmPrivateKey string
	evmRPCURL     string
	evmNetwork    string
	svmPrivateKey string
	svmRPCURL     string
	svmNetworks   []string
	redisURL      string
	settlementTTL time.Duration
	logLevel      slog.Level
}

func loadConfig() (config, error) {
	cfg := config{
		port:          envOr("PORT", defaultPort),
		evmPrivateKey: os.Getenv("EVM_PRIVATE_KEY"),
		evmRPCURL:     envOr("EVM_RPC_URL", defaultEvmRPCURL),
		evmNetwork:    envOr("EVM_NETWORK", defaultEvmNetwork),
		svmPrivateKey: os.Getenv("SVM_PRIVATE_KEY"),
		svmRPCURL:     os.Getenv("SVM_RPC_URL"),
		redisURL:      os.Getenv("REDIS_URL"),
		settlementTTL: defaultSettlementTTL,
		logLevel:      slog.LevelInfo,
	}

	if networks := os.Getenv("SVM_NETWORKS"); networks != "" {
		for _, network := range strings.Split(networks, ",") {
			if trimmed := strings.TrimSpace(network); trimmed != "" {
				cfg.svmNetworks = append(cfg.svmNetworks, trimmed)
			}
		}
	}

	if ttl := os.Getenv("SETTLEMENT_TTL"); ttl != "" {
		parsed, err := time.ParseDuration(ttl)
		if err != nil {
			return cfg, fmt.Errorf("invalid SETTLEMENT_TTL: %w", err)
		}
		cfg.settlementTTL = parsed
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		if err := cfg.logLevel.UnmarshalText([]byte(level)); err != nil {
			return cfg, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	if cfg.evmPrivateKey == "" && cfg.svmPrivateKey == "" {
		return cfg, errors.New("at least one of EVM_PRIVATE_KEY or SVM_PRIVATE_KEY is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// buildFacilitator assembles the core: scheme handlers from the
// configured signers, the bazaar discovery catalog, and logging hooks.
func buildFacilitator(cfg config, logger *slog.Logger) (*x402.X402Facilitator, *bazaar.Catalog, error) {
	facilitator := x402.NewX402Facilitator(x402.WithFacilitatorLogger(logger))

	if cfg.evmPrivateKey != "" {
		signer, err := evmsigners.NewFacilitatorSigner(cfg.evmPrivateKey, cfg.evmRPCURL)
		if err != nil {
			return nil, nil, fmt.Errorf("evm signer: %w", err)
		}
		if err := evm.RegisterFacilitator(facilitator, signer, cfg.evmNetwork); err != nil {
			return nil, nil, fmt.Errorf("register evm scheme: %w", err)
		}
		logger.Info("evm scheme registered",
			"network", cfg.evmNetwork,
			"rpc", cfg.evmRPCURL,
			"addresses", signer.GetAddresses())
	}

	if cfg.svmPrivateKey != "" {
		networks := cfg.svmNetworks
		if len(networks) == 0 {
			for network := range svm.NetworkConfigs {
				networks = append(networks, network)
			}
		}

		var opts []svmsigners.FacilitatorOption
		if cfg.svmRPCURL != "" {
			for _, network := range networks {
				opts = append(opts, svmsigners.WithRPCEndpoint(network, cfg.svmRPCURL))
			}
		}

		signer, err := svmsigners.NewFacilitatorSigner(cfg.svmPrivateKey, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("svm signer: %w", err)
		}
		if err := svm.RegisterFacilitator(facilitator, signer, networks...); err != nil {
			return nil, nil, fmt.Errorf("register svm scheme: %w", err)
		}
		logger.Info("svm scheme registered",
			"networks", networks,
			"addresses", signer.GetAddresses(networks[0]))
	}

	catalog := bazaar.NewCatalog()
	facilitator.RegisterExtension(bazaar.ExtensionKey)
	facilitator.OnAfterVerify(catalog.AfterVerifyHook())

	facilitator.OnAfterVerify(func(hookCtx x402.FacilitatorVerifyResultContext) error {
		if hookCtx.Result.IsValid {
			logger.Info("payment verified",
				"scheme", hookCtx.Requirements.Scheme,
				"network", hookCtx.Requirements.Network,
				"payer", hookCtx.Result.Payer,
				"duration", hookCtx.Duration)
		} else {
			logger.Info("payment rejected",
				"scheme", hookCtx.Requirements.Scheme,
				"network", hookCtx.Requirements.Network,
				"reason", hookCtx.Result.InvalidReason)
		}
		return nil
	})

	facilitator.OnAfterSettle(func(hookCtx x402.FacilitatorSettleResultContext) error {
		if hookCtx.Result.Success {
			logger.Info("payment settled",
				"network", hookCtx.Result.Network,
				"transaction", hookCtx.Result.Transaction,
				"payer", hookCtx.Result.Payer,
				"duration", hookCtx.Duration)
		} else {
			logger.Warn("settlement rejected",
				"network", hookCtx.Result.Network,
				"reason", hookCtx.Result.ErrorReason)
		}
		return nil
	})

	return facilitator, catalog, nil
}

// buildSettler wraps the facilitator with the settlement idempotency
// window, shared through Redis when REDIS_URL is set.
func buildSettler(cfg config, facilitator *x402.X402Facilitator, logger *slog.Logger) (*idempotency.IdempotentFacilitator, error) {
	if cfg.redisURL == "" {
		return idempotency.Wrap(facilitator, idempotency.WithTTL(cfg.settlementTTL)), nil
	}

	redisOpts, err := redis.ParseURL(cfg.redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	store := idempotency.NewRedisStore(client, cfg.settlementTTL)
	logger.Info("settlement idempotency backed by redis", "addr", redisOpts.Addr)

	return idempotency.Wrap(facilitator, idempotency.WithStore(store)), nil
}

func main() {
	// .env is optional; deployments usually set the environment directly.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	facilitator, catalog, err := buildFacilitator(cfg, logger)
	if err != nil {
		logger.Error("facilitator bootstrap failed", "error", err)
		os.Exit(1)
	}

	settler, err := buildSettler(cfg, facilitator, logger)
	if err != nil {
		logger.Error("settlement store bootstrap failed", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           newRouter(settler, catalog, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("facilitator listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
