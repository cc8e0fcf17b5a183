package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/gagliardetto/solana-go/rpc"
)

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// TraderConfig is everything the trade engine needs: ledger access, the
// signing wallets, fee and slippage policy, and venue routing.
type TraderConfig struct {
	RPCURL            string
	Commitment        rpc.CommitmentType
	RPCTimeout        time.Duration
	RPCMaxRetries     int
	RPCRetryBaseDelay time.Duration
	RPCRetryMaxDelay  time.Duration

	KeypairPaths []string

	SkipPreflight    bool
	SendMaxRetries   *uint
	ComputeUnitLimit uint32

	// Priority fees are micro-lamports per compute unit.
	PriorityFeeBase    uint64
	PriorityFeeFloor   uint64
	PriorityFeeCeiling uint64
	FeeMultiplierPct   uint64

	SlippageBaseBps uint32
	SlippageStepBps uint32
	SlippageCapBps  uint32

	MaxAttempts    int
	ConfirmTimeout time.Duration
	PollInterval   time.Duration

	CacheTTL         time.Duration
	NegativeCacheTTL time.Duration
	DiscoveryTimeout time.Duration
	VenuePriority    []dex.VenueKind
	MaxReroutes      int
	Concurrency      int
	JupiterURL       string
	// ProbeLamports is the notional buy used to probe aggregator routes.
	ProbeLamports uint64

	Log LogConfig
}

type APIServerConfig struct {
	TraderConfig
	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	// TradeTimeout bounds one POST /v1/trades request end to end.
	TradeTimeout time.Duration
}

const (
	defaultRPCURL     = "https://api.mainnet-beta.solana.com"
	defaultJupiterURL = "https://quote-api.jup.ag/v6"
)

func LoadTraderConfig() (TraderConfig, error) {
	return loadTraderConfig("TRADER", "trader")
}

func loadTraderConfig(logPrefix, serviceName string) (TraderConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return TraderConfig{}, err
	}

	commitment, err := envCommitment("SOLANA_COMMITMENT", rpc.CommitmentConfirmed)
	if err != nil {
		return TraderConfig{}, err
	}
	rpcTimeout, err := envDuration("TRADER_RPC_TIMEOUT", 10*time.Second)
	if err != nil {
		return TraderConfig{}, err
	}
	rpcMaxRetries, err := envInt("TRADER_RPC_MAX_RETRIES", 4)
	if err != nil {
		return TraderConfig{}, err
	}
	rpcRetryBaseDelay, err := envDuration("TRADER_RPC_RETRY_BASE_DELAY", 250*time.Millisecond)
	if err != nil {
		return TraderConfig{}, err
	}
	rpcRetryMaxDelay, err := envDuration("TRADER_RPC_RETRY_MAX_DELAY", 4*time.Second)
	if err != nil {
		return TraderConfig{}, err
	}
	if rpcRetryMaxDelay < rpcRetryBaseDelay {
		return TraderConfig{}, fmt.Errorf("invalid TRADER_RPC_RETRY_MAX_DELAY: must be >= TRADER_RPC_RETRY_BASE_DELAY")
	}

	keypairPaths, err := keypairPathsFromEnv()
	if err != nil {
		return TraderConfig{}, err
	}

	skipPreflight, err := envBool("TRADER_SKIP_PREFLIGHT", false)
	if err != nil {
		return TraderConfig{}, err
	}
	sendMaxRetries, err := envOptionalUint("TRADER_SEND_MAX_RETRIES")
	if err != nil {
		return TraderConfig{}, err
	}
	cuLimit, err := envUint32("TRADER_COMPUTE_UNIT_LIMIT", 200_000)
	if err != nil {
		return TraderConfig{}, err
	}

	feeBase, err := envUint64("TRADER_PRIORITY_FEE_BASE", 100_000)
	if err != nil {
		return TraderConfig{}, err
	}
	feeFloor, err := envUint64("TRADER_PRIORITY_FEE_FLOOR", 10_000)
	if err != nil {
		return TraderConfig{}, err
	}
	feeCeiling, err := envUint64("TRADER_PRIORITY_FEE_CEILING", 5_000_000)
	if err != nil {
		return TraderConfig{}, err
	}
	if feeCeiling < feeFloor {
		return TraderConfig{}, fmt.Errorf("invalid TRADER_PRIORITY_FEE_CEILING: must be >= TRADER_PRIORITY_FEE_FLOOR")
	}
	feeMultiplier, err := envUint64("TRADER_FEE_MULTIPLIER_PCT", 200)
	if err != nil {
		return TraderConfig{}, err
	}
	if feeMultiplier <= 100 {
		return TraderConfig{}, fmt.Errorf("invalid TRADER_FEE_MULTIPLIER_PCT: must be > 100")
	}

	slippageBase, err := envBps("TRADER_SLIPPAGE_BASE_BPS", 300)
	if err != nil {
		return TraderConfig{}, err
	}
	slippageStep, err := envBps("TRADER_SLIPPAGE_STEP_BPS", 200)
	if err != nil {
		return TraderConfig{}, err
	}
	slippageCap, err := envBps("TRADER_SLIPPAGE_CAP_BPS", 2_500)
	if err != nil {
		return TraderConfig{}, err
	}
	if slippageCap < slippageBase {
		return TraderConfig{}, fmt.Errorf("invalid TRADER_SLIPPAGE_CAP_BPS: must be >= TRADER_SLIPPAGE_BASE_BPS")
	}

	maxAttempts, err := envInt("TRADER_MAX_ATTEMPTS", 3)
	if err != nil {
		return TraderConfig{}, err
	}
	confirmTimeout, err := envDuration("TRADER_CONFIRM_TIMEOUT", 45*time.Second)
	if err != nil {
		return TraderConfig{}, err
	}
	pollInterval, err := envDuration("TRADER_POLL_INTERVAL", 700*time.Millisecond)
	if err != nil {
		return TraderConfig{}, err
	}

	cacheTTL, err := envDuration("TRADER_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return TraderConfig{}, err
	}
	negativeTTL, err := envDuration("TRADER_NEGATIVE_CACHE_TTL", 30*time.Second)
	if err != nil {
		return TraderConfig{}, err
	}
	discoveryTimeout, err := envDuration("TRADER_DISCOVERY_TIMEOUT", 30*time.Second)
	if err != nil {
		return TraderConfig{}, err
	}
	priority, err := parseVenuePriority(envOrDefault("TRADER_VENUE_PRIORITY", ""))
	if err != nil {
		return TraderConfig{}, err
	}
	maxReroutes, err := envInt("TRADER_MAX_REROUTES", 2)
	if err != nil {
		return TraderConfig{}, err
	}
	concurrency, err := envInt("TRADER_CONCURRENCY", 8)
	if err != nil {
		return TraderConfig{}, err
	}
	probeLamports, err := envUint64("TRADER_JUPITER_PROBE_LAMPORTS", 10_000_000)
	if err != nil {
		return TraderConfig{}, err
	}

	return TraderConfig{
		RPCURL:             envOrDefault("SOLANA_RPC_URL", defaultRPCURL),
		Commitment:         commitment,
		RPCTimeout:         rpcTimeout,
		RPCMaxRetries:      rpcMaxRetries,
		RPCRetryBaseDelay:  rpcRetryBaseDelay,
		RPCRetryMaxDelay:   rpcRetryMaxDelay,
		KeypairPaths:       keypairPaths,
		SkipPreflight:      skipPreflight,
		SendMaxRetries:     sendMaxRetries,
		ComputeUnitLimit:   cuLimit,
		PriorityFeeBase:    feeBase,
		PriorityFeeFloor:   feeFloor,
		PriorityFeeCeiling: feeCeiling,
		FeeMultiplierPct:   feeMultiplier,
		SlippageBaseBps:    slippageBase,
		SlippageStepBps:    slippageStep,
		SlippageCapBps:     slippageCap,
		MaxAttempts:        maxAttempts,
		ConfirmTimeout:     confirmTimeout,
		PollInterval:       pollInterval,
		CacheTTL:           cacheTTL,
		NegativeCacheTTL:   negativeTTL,
		DiscoveryTimeout:   discoveryTimeout,
		VenuePriority:      priority,
		MaxReroutes:        maxReroutes,
		Concurrency:        concurrency,
		JupiterURL:         envOrDefault("TRADER_JUPITER_URL", defaultJupiterURL),
		ProbeLamports:      probeLamports,
		Log:                buildLogConfig(logPrefix, serviceName),
	}, nil
}

func LoadAPIServerConfig() (APIServerConfig, error) {
	trader, err := loadTraderConfig("API_SERVER", "api-server")
	if err != nil {
		return APIServerConfig{}, err
	}

	readTimeout, err := envDuration("API_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}
	writeTimeout, err := envDuration("API_SERVER_WRITE_TIMEOUT", 3*time.Minute)
	if err != nil {
		return APIServerConfig{}, err
	}
	idleTimeout, err := envDuration("API_SERVER_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}
	tradeTimeout, err := envDuration("API_SERVER_TRADE_TIMEOUT", 150*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}
	if tradeTimeout >= writeTimeout {
		return APIServerConfig{}, fmt.Errorf("invalid API_SERVER_TRADE_TIMEOUT: must be < API_SERVER_WRITE_TIMEOUT")
	}

	allowedOrigins := parseCSVEnv(
		envOrDefault("API_SERVER_ALLOWED_ORIGINS", "*"),
		[]string{"*"},
	)

	return APIServerConfig{
		TraderConfig:   trader,
		ListenAddr:     envOrDefault("API_SERVER_LISTEN_ADDR", ":8080"),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		AllowedOrigins: allowedOrigins,
		TradeTimeout:   tradeTimeout,
	}, nil
}

// keypairPathsFromEnv reads TRADER_KEYPAIR_PATHS (comma separated) and falls
// back to the single-wallet TRADER_KEYPAIR_PATH / SOLANA_KEYPAIR_PATH.
func keypairPathsFromEnv() ([]string, error) {
	single := envOrDefault("TRADER_KEYPAIR_PATH", envOrDefault("SOLANA_KEYPAIR_PATH", "~/.config/solana/id.json"))
	raw := parseCSVEnv(envOrDefault("TRADER_KEYPAIR_PATHS", ""), []string{single})

	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, path := range raw {
		expanded, err := expandHomePath(path)
		if err != nil {
			return nil, fmt.Errorf("expand keypair path %q: %w", path, err)
		}
		if _, ok := seen[expanded]; ok {
			continue
		}
		seen[expanded] = struct{}{}
		out = append(out, expanded)
	}
	return out, nil
}

func parseVenuePriority(raw string) ([]dex.VenueKind, error) {
	parts := parseCSVEnv(raw, nil)
	if len(parts) == 0 {
		return append([]dex.VenueKind(nil), dex.DefaultVenuePriority...), nil
	}

	out := make([]dex.VenueKind, 0, len(parts))
	seen := make(map[dex.VenueKind]struct{}, len(parts))
	for _, part := range parts {
		kind, err := dex.ParseVenueKind(part)
		if err != nil {
			return nil, fmt.Errorf("invalid TRADER_VENUE_PRIORITY entry %q: %w", part, err)
		}
		if _, ok := seen[kind]; ok {
			continue
		}
		seen[kind] = struct{}{}
		out = append(out, kind)
	}
	return out, nil
}

func buildLogConfig(prefix string, serviceName string) LogConfig {
	level := envOrDefault(prefix+"_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info"))
	format := envOrDefault(prefix+"_LOG_FORMAT", envOrDefault("LOG_FORMAT", "text"))
	output := envOrDefault(prefix+"_LOG_OUTPUT", envOrDefault("LOG_OUTPUT", "console"))
	filePath := envOrDefault(prefix+"_LOG_FILE", envOrDefault("LOG_FILE", filepath.Join(".local", "log", serviceName+".log")))

	return LogConfig{
		Level:    level,
		Format:   format,
		Output:   output,
		FilePath: filePath,
	}
}
