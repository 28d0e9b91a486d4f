package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/emberlabs/furnace/pkg/buyback"
	"github.com/emberlabs/furnace/pkg/burn"
	"github.com/emberlabs/furnace/pkg/claim"
	"github.com/emberlabs/furnace/pkg/ledger"
	"github.com/emberlabs/furnace/pkg/metrics"
	"github.com/emberlabs/furnace/pkg/monitor"
	"github.com/emberlabs/furnace/pkg/notify"
	"github.com/emberlabs/furnace/pkg/orchestrator"
	"github.com/emberlabs/furnace/pkg/scheduler"
	"github.com/emberlabs/furnace/pkg/server"
	"github.com/emberlabs/furnace/pkg/store"
	"github.com/emberlabs/furnace/pkg/trade"
	"github.com/emberlabs/furnace/pkg/treasury"
	"github.com/emberlabs/furnace/utils/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", ":8080", "admin API listen address (or set LISTEN_ADDR env var)")

	databaseURLFlag := flag.String("database-url", "", "postgres connection string (or set DATABASE_URL env var)")
	migrateFlag := flag.Bool("migrate", false, "run database migrations and exit")

	rpcURLFlag := flag.String("rpc-url", rpc.MainNetBeta_RPC, "Solana RPC endpoint (or set RPC_URL env var)")
	tradeURLFlag := flag.String("trade-url", trade.DefaultBaseURL, "trade API base URL (or set TRADE_URL env var)")
	mintFlag := flag.String("mint", "", "token mint to buy back and burn (or set TOKEN_MINT env var)")
	treasuryFlag := flag.String("treasury", "", "treasury wallet address (or set TREASURY_WALLET env var)")

	thresholdSOLFlag := flag.Float64("claim-threshold-sol", 0.01, "claimable-fee threshold in SOL (or set CLAIM_THRESHOLD_SOL env var)")
	reserveSOLFlag := flag.Float64("min-reserve-sol", 0.005, "minimum wallet reserve in SOL (or set MIN_RESERVE_SOL env var)")
	treasuryPercentFlag := flag.Uint64("treasury-percent", 50, "treasury share of claimed fees (or set TREASURY_PERCENT env var)")
	buybackPercentFlag := flag.Uint64("buyback-percent", 50, "buyback share of claimed fees (or set BUYBACK_PERCENT env var)")

	intervalFlag := flag.Duration("check-interval", 10*time.Minute, "fee monitor interval (or set CHECK_INTERVAL env var)")
	autoClaimFlag := flag.Bool("auto-claim", true, "execute the pipeline automatically on ticks (or set AUTO_CLAIM env var)")
	slippageFlag := flag.Float64("slippage-percent", 5, "buy transaction slippage tolerance")
	priorityFeeFlag := flag.Float64("priority-fee-sol", 0.0001, "priority fee attached to built transactions")
	rpcRateFlag := flag.Float64("rpc-requests-per-second", 8, "outbound RPC rate limit, 0 disables")

	flag.Parse()

	// Optional local overrides; absence is not an error.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	overrideString(listenAddrFlag, "LISTEN_ADDR")
	overrideString(databaseURLFlag, "DATABASE_URL")
	overrideString(rpcURLFlag, "RPC_URL")
	overrideString(tradeURLFlag, "TRADE_URL")
	overrideString(mintFlag, "TOKEN_MINT")
	overrideString(treasuryFlag, "TREASURY_WALLET")
	overrideFloat(thresholdSOLFlag, "CLAIM_THRESHOLD_SOL")
	overrideFloat(reserveSOLFlag, "MIN_RESERVE_SOL")
	overrideUint(treasuryPercentFlag, "TREASURY_PERCENT")
	overrideUint(buybackPercentFlag, "BUYBACK_PERCENT")
	if env := os.Getenv("CHECK_INTERVAL"); env != "" {
		d, err := time.ParseDuration(env)
		if err != nil {
			return fmt.Errorf("invalid CHECK_INTERVAL %q: %w", env, err)
		}
		*intervalFlag = d
	}
	if env := os.Getenv("AUTO_CLAIM"); env != "" {
		*autoClaimFlag = env == "true"
	}

	if *databaseURLFlag == "" {
		return fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	if *migrateFlag {
		return store.Migrate(*databaseURLFlag)
	}
	if *mintFlag == "" {
		return fmt.Errorf("--mint or TOKEN_MINT is required")
	}
	if *treasuryFlag == "" {
		return fmt.Errorf("--treasury or TREASURY_WALLET is required")
	}
	mint, err := solana.PublicKeyFromBase58(*mintFlag)
	if err != nil {
		return fmt.Errorf("invalid token mint: %w", err)
	}
	treasuryWallet, err := solana.PublicKeyFromBase58(*treasuryFlag)
	if err != nil {
		return fmt.Errorf("invalid treasury wallet: %w", err)
	}

	// The operating key only ever arrives through the environment.
	walletKeyRaw := os.Getenv("WALLET_PRIVATE_KEY")
	if walletKeyRaw == "" {
		return fmt.Errorf("WALLET_PRIVATE_KEY env var is required")
	}
	wallet, err := solana.PrivateKeyFromBase58(walletKeyRaw)
	if err != nil {
		return fmt.Errorf("invalid wallet private key: %w", err)
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     dsn,
			Release: fmt.Sprintf("furnace@%s", version),
		}); err != nil {
			return fmt.Errorf("failed to init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.NewPool(ctx, *databaseURLFlag)
	if err != nil {
		return err
	}
	defer pool.Close()

	db, err := store.New(store.Config{Logger: log, Pool: pool})
	if err != nil {
		return err
	}

	ledgerClient, err := ledger.New(ledger.Config{
		Logger:            log,
		RPC:               rpc.New(*rpcURLFlag),
		Wallet:            wallet,
		RequestsPerSecond: *rpcRateFlag,
	})
	if err != nil {
		return err
	}

	tradeClient, err := trade.New(trade.Config{
		Logger:          log,
		BaseURL:         *tradeURLFlag,
		PriorityFeeSOL:  *priorityFeeFlag,
		SlippagePercent: *slippageFlag,
	})
	if err != nil {
		return err
	}

	feeMonitor, err := monitor.New(monitor.Config{
		Logger:            log,
		Trade:             tradeClient,
		Store:             db,
		Wallet:            ledgerClient.WalletAddress().String(),
		ThresholdLamports: ledger.SOLToLamports(*thresholdSOLFlag),
	})
	if err != nil {
		return err
	}

	claimer, err := claim.New(claim.Config{
		Logger:             log,
		Ledger:             ledgerClient,
		Trade:              tradeClient,
		Store:              db,
		TreasuryPercent:    *treasuryPercentFlag,
		BuybackPercent:     *buybackPercentFlag,
		MinReserveLamports: ledger.SOLToLamports(*reserveSOLFlag),
	})
	if err != nil {
		return err
	}

	treasurer, err := treasury.New(treasury.Config{
		Logger:      log,
		Ledger:      ledgerClient,
		Destination: treasuryWallet,
	})
	if err != nil {
		return err
	}

	buyer, err := buyback.New(buyback.Config{
		Logger: log,
		Ledger: ledgerClient,
		Trade:  tradeClient,
		Store:  db,
		Mint:   mint,
	})
	if err != nil {
		return err
	}

	burner, err := burn.New(burn.Config{
		Logger: log,
		Ledger: ledgerClient,
		Store:  db,
		Mint:   mint,
	})
	if err != nil {
		return err
	}

	notifier, err := notify.New(notify.Config{
		Logger:     log,
		WebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
	})
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Logger:   log,
		Monitor:  feeMonitor,
		Claimer:  claimer,
		Treasury: treasurer,
		Buyer:    buyer,
		Burner:   burner,
		Notifier: notifier,
		Store:    db,
	})
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Config{
		Logger:       log,
		Clock:        clockwork.NewRealClock(),
		Orchestrator: orch,
		Monitor:      feeMonitor,
		Store:        db,
		Interval:     *intervalFlag,
		AutoClaim:    *autoClaimFlag,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Logger:     log,
		Scheduler:  sched,
		Store:      db,
		ListenAddr: *listenAddrFlag,
		VersionInfo: server.VersionInfo{
			Version: version,
			Commit:  commit,
			Date:    date,
		},
	})
	if err != nil {
		return err
	}

	log.Info("furnace starting",
		"version", version,
		"wallet", ledgerClient.WalletAddress(),
		"mint", mint,
		"interval", *intervalFlag,
		"auto_claim", *autoClaimFlag)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Start(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func overrideString(target *string, env string) {
	if v := os.Getenv(env); v != "" {
		*target = v
	}
}

func overrideFloat(target *float64, env string) {
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func overrideUint(target *uint64, env string) {
	if v := os.Getenv(env); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			*target = u
		}
	}
}
