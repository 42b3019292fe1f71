package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/tba-provisioner/bindings/erc6551"
	"github.com/ruteri/tba-provisioner/chain"
	"github.com/ruteri/tba-provisioner/common"
	"github.com/ruteri/tba-provisioner/httpserver"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		// account creation waits for inclusion
		WriteTimeout: cCtx.Duration(ReceiptTimeoutFlag.Name) + 30*time.Second,
	}
}

// Chain

var RpcAddrFlag = &cli.StringFlag{
	Name:    "rpc-addr",
	Value:   "http://127.0.0.1:8545",
	Usage:   "address to connect to RPC",
	EnvVars: []string{"TBA_RPC_ADDR"},
}
var ChainIDFlag = &cli.Uint64Flag{
	Name:    "chain-id",
	Usage:   "expected chain id; the command fails if the RPC endpoint serves another chain (0 accepts any)",
	EnvVars: []string{"TBA_CHAIN_ID"},
}
var RegistryAddrFlag = &cli.StringFlag{
	Name:    "registry-address",
	Value:   erc6551.DefaultRegistryAddress.Hex(),
	Usage:   "ERC-6551 registry address",
	EnvVars: []string{"TBA_REGISTRY_ADDRESS"},
}
var PrivateKeyFlag = &cli.StringFlag{
	Name:    "private-key",
	Usage:   "hex-encoded secp256k1 key used to sign transactions",
	EnvVars: []string{"TBA_PRIVATE_KEY", "PRIVATE_KEY"},
}
var ReceiptTimeoutFlag = &cli.DurationFlag{
	Name:    "receipt-timeout",
	Value:   chain.DefaultReceiptTimeout,
	Usage:   "how long to wait for a transaction to be included",
	EnvVars: []string{"TBA_RECEIPT_TIMEOUT"},
}
var PollIntervalFlag = &cli.DurationFlag{
	Name:    "poll-interval",
	Value:   chain.DefaultPollInterval,
	Usage:   "receipt polling interval",
	EnvVars: []string{"TBA_POLL_INTERVAL"},
}

// Account tuple

var NftContractFlag = &cli.StringFlag{
	Name:     "nft-contract",
	Required: true,
	Usage:    "ERC-721 contract owning the account",
	EnvVars:  []string{"TBA_NFT_CONTRACT"},
}
var TokenIDFlag = &cli.StringFlag{
	Name:     "token-id",
	Required: true,
	Usage:    "token id, decimal or 0x-prefixed hex",
	EnvVars:  []string{"TBA_TOKEN_ID"},
}
var SaltFlag = &cli.StringFlag{
	Name:    "salt",
	Value:   "0x0",
	Usage:   "hex salt of at most 32 bytes",
	EnvVars: []string{"TBA_SALT"},
}
var VerifyDerivationFlag = &cli.BoolFlag{
	Name:    "verify-derivation",
	Usage:   "cross-check the registry's account() against a local CREATE2 derivation",
	EnvVars: []string{"TBA_VERIFY_DERIVATION"},
}

// Implementation

var ImplementationFlag = &cli.StringFlag{
	Name:    "implementation",
	Usage:   "address of an already deployed account implementation",
	EnvVars: []string{"TBA_IMPLEMENTATION"},
}
var ImplementationBytecodeFileFlag = &cli.StringFlag{
	Name:    "implementation-bytecode-file",
	Usage:   "hardhat/foundry artifact or hex file with the implementation init code to deploy",
	EnvVars: []string{"TBA_IMPLEMENTATION_BYTECODE_FILE"},
}
var ImplementationBytecodeHashFlag = &cli.StringFlag{
	Name:    "implementation-bytecode-hash",
	Usage:   "expected keccak256 of the implementation runtime code, checked for --implementation",
	EnvVars: []string{"TBA_IMPLEMENTATION_BYTECODE_HASH"},
}
var SkipCodeCheckFlag = &cli.BoolFlag{
	Name:  "skip-code-check",
	Usage: "do not check that --implementation has code",
}

// Ledger

var LedgerFlag = &cli.StringSliceFlag{
	Name:    "ledger",
	Usage:   "storage URI to record deployments in (file://, s3://, vault://); repeatable",
	EnvVars: []string{"TBA_LEDGER"},
}
var ReuseCachedImplementationFlag = &cli.BoolFlag{
	Name:    "reuse-cached-implementation",
	Usage:   "reuse an implementation the ledger recorded for the same init code instead of deploying again",
	EnvVars: []string{"TBA_REUSE_CACHED_IMPLEMENTATION"},
}

// Logging

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "tba-provisioner",
	Usage: "add 'service' tag to logs",
}

// Server

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: []string{"TBA_LISTEN_ADDR"},
}
var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
	EnvVars: []string{"TBA_METRICS_ADDR"},
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var ChainFlags = []cli.Flag{
	RpcAddrFlag,
	ChainIDFlag,
	RegistryAddrFlag,
	PrivateKeyFlag,
	ReceiptTimeoutFlag,
	PollIntervalFlag,
}

var TupleFlags = []cli.Flag{
	NftContractFlag,
	TokenIDFlag,
	SaltFlag,
	VerifyDerivationFlag,
}

var ImplementationFlags = []cli.Flag{
	ImplementationFlag,
	ImplementationBytecodeFileFlag,
	ImplementationBytecodeHashFlag,
	SkipCodeCheckFlag,
}

var LedgerFlags = []cli.Flag{
	LedgerFlag,
	ReuseCachedImplementationFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
