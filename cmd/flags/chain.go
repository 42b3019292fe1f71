package flags

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/tba-provisioner/chain"
	"github.com/ruteri/tba-provisioner/interfaces"
	"github.com/ruteri/tba-provisioner/provisioner"
	"github.com/ruteri/tba-provisioner/registry"
	"github.com/ruteri/tba-provisioner/storage"
	"github.com/ruteri/tba-provisioner/workflow"
)

// Env holds the components built from the command line.
type Env struct {
	Log             *slog.Logger
	Client          *chain.EthChainClient
	Target          interfaces.ChainTarget
	Implementations *provisioner.ImplementationProvisioner
	Accounts        *registry.AccountRegistrar
	Workflow        *workflow.Workflow
	Ledger          *storage.Ledger

	rpc *ethclient.Client
}

// Close releases the RPC connection.
func (e *Env) Close() {
	e.rpc.Close()
}

// Setup dials the RPC endpoint, checks the chain id and wires the
// provisioner, registrar, workflow and optional ledger.
func Setup(cCtx *cli.Context, log *slog.Logger) (*Env, error) {
	ctx := cCtx.Context

	if !ethcommon.IsHexAddress(cCtx.String(RegistryAddrFlag.Name)) {
		return nil, fmt.Errorf("invalid --%s %q", RegistryAddrFlag.Name, cCtx.String(RegistryAddrFlag.Name))
	}
	registryAddr := ethcommon.HexToAddress(cCtx.String(RegistryAddrFlag.Name))

	rpcAddr := cCtx.String(RpcAddrFlag.Name)
	log.Info("Connecting to Ethereum RPC", "address", rpcAddr)
	rpc, err := ethclient.DialContext(ctx, rpcAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}

	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("%w: reading chain id: %w", interfaces.ErrTransientChainError, err)
	}
	if expected := cCtx.Uint64(ChainIDFlag.Name); expected != 0 && chainID.Uint64() != expected {
		rpc.Close()
		return nil, fmt.Errorf("%w: expected %d, %s serves %s", interfaces.ErrChainMismatch, expected, rpcAddr, chainID)
	}

	client := chain.NewEthChainClient(rpc, chain.ReceiptPolicy{
		Timeout:      cCtx.Duration(ReceiptTimeoutFlag.Name),
		PollInterval: cCtx.Duration(PollIntervalFlag.Name),
	}, log)

	if keyHex := cCtx.String(PrivateKeyFlag.Name); keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			rpc.Close()
			return nil, fmt.Errorf("invalid --%s: %w", PrivateKeyFlag.Name, err)
		}
		auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			rpc.Close()
			return nil, err
		}
		client.SetTransactOpts(auth)
		log.Info("Signing transactions", slog.String("from", auth.From.Hex()))
	}

	implementations := provisioner.NewImplementationProvisioner(client, log)
	implementations.SetVerifyCode(!cCtx.Bool(SkipCodeCheckFlag.Name))

	accounts := registry.NewAccountRegistrar(client, registryAddr, log)
	accounts.SetVerifyDerivation(cCtx.Bool(VerifyDerivationFlag.Name))

	wf := workflow.New(client, implementations, accounts, registryAddr, log)
	wf.SetReuseCachedImplementation(cCtx.Bool(ReuseCachedImplementationFlag.Name))

	env := &Env{
		Log:             log,
		Client:          client,
		Target:          interfaces.ChainTarget{ChainID: chainID, RPCEndpoint: rpcAddr},
		Implementations: implementations,
		Accounts:        accounts,
		Workflow:        wf,
		rpc:             rpc,
	}

	if locations := cCtx.StringSlice(LedgerFlag.Name); len(locations) > 0 {
		ledger, err := OpenLedger(locations, log)
		if err != nil {
			rpc.Close()
			return nil, err
		}
		wf.SetLedger(ledger)
		env.Ledger = ledger
	}

	return env, nil
}

// OpenLedger creates a ledger over one or more storage URIs.
func OpenLedger(locations []string, log *slog.Logger) (*storage.Ledger, error) {
	var factory interfaces.StorageBackendFactory = storage.NewStorageBackendFactory(log)

	uris := make([]interfaces.StorageBackendLocation, 0, len(locations))
	for _, loc := range locations {
		uri, err := interfaces.NewStorageBackendLocation(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", LedgerFlag.Name, err)
		}
		uris = append(uris, uri)
	}

	backend, err := factory.CreateMultiBackend(uris)
	if err != nil {
		return nil, fmt.Errorf("could not open ledger: %w", err)
	}
	log.Info("Recording provisioning in ledger", slog.String("location", backend.LocationURI()))
	return storage.NewLedger(backend, log), nil
}

// NftIdentity parses --nft-contract and --token-id.
func NftIdentity(cCtx *cli.Context) (interfaces.NftIdentity, error) {
	contract := cCtx.String(NftContractFlag.Name)
	if !ethcommon.IsHexAddress(contract) {
		return interfaces.NftIdentity{}, fmt.Errorf("invalid --%s %q", NftContractFlag.Name, contract)
	}

	raw := cCtx.String(TokenIDFlag.Name)
	tokenID, ok := math.ParseBig256(raw)
	if !ok || raw == "" || tokenID.Sign() < 0 {
		return interfaces.NftIdentity{}, fmt.Errorf("invalid --%s %q", TokenIDFlag.Name, raw)
	}

	return interfaces.NftIdentity{Contract: ethcommon.HexToAddress(contract), TokenID: tokenID}, nil
}

// Salt parses --salt.
func Salt(cCtx *cli.Context) (interfaces.Salt, error) {
	salt, err := interfaces.ParseSalt(cCtx.String(SaltFlag.Name))
	if err != nil {
		return interfaces.Salt{}, fmt.Errorf("invalid --%s: %w", SaltFlag.Name, err)
	}
	return salt, nil
}

// ImplementationSource selects DeployFresh when a bytecode file is given and
// ExistingAddress when --implementation is. Exactly one must be set.
func ImplementationSource(cCtx *cli.Context) (interfaces.ImplementationSource, error) {
	address := cCtx.String(ImplementationFlag.Name)
	bytecodeFile := cCtx.String(ImplementationBytecodeFileFlag.Name)

	switch {
	case address != "" && bytecodeFile != "":
		return nil, fmt.Errorf("--%s and --%s are mutually exclusive", ImplementationFlag.Name, ImplementationBytecodeFileFlag.Name)
	case bytecodeFile != "":
		bytecode, err := ReadBytecode(bytecodeFile)
		if err != nil {
			return nil, err
		}
		return interfaces.DeployFresh{Bytecode: bytecode}, nil
	case address != "":
		ref, err := ImplementationRef(cCtx)
		if err != nil {
			return nil, err
		}
		return interfaces.ExistingAddress{Ref: ref}, nil
	default:
		return nil, fmt.Errorf("one of --%s or --%s is required", ImplementationFlag.Name, ImplementationBytecodeFileFlag.Name)
	}
}

// ImplementationRef parses --implementation and --implementation-bytecode-hash.
func ImplementationRef(cCtx *cli.Context) (interfaces.ImplementationRef, error) {
	address := cCtx.String(ImplementationFlag.Name)
	if !ethcommon.IsHexAddress(address) {
		return interfaces.ImplementationRef{}, fmt.Errorf("invalid --%s %q", ImplementationFlag.Name, address)
	}
	ref := interfaces.ImplementationRef{Address: ethcommon.HexToAddress(address)}

	if raw := cCtx.String(ImplementationBytecodeHashFlag.Name); raw != "" {
		b, err := hexutil.Decode(raw)
		if err != nil || len(b) != ethcommon.HashLength {
			return interfaces.ImplementationRef{}, fmt.Errorf("invalid --%s %q", ImplementationBytecodeHashFlag.Name, raw)
		}
		hash := ethcommon.BytesToHash(b)
		ref.BytecodeHash = &hash
	}
	return ref, nil
}

// ReadBytecode loads init code from a hardhat artifact ("bytecode": "0x..."),
// a foundry artifact ("bytecode": {"object": "0x..."}) or a plain hex file.
func ReadBytecode(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, "{") {
		var artifact struct {
			Bytecode json.RawMessage `json:"bytecode"`
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return nil, fmt.Errorf("parsing artifact %s: %w", path, err)
		}

		var foundry struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(artifact.Bytecode, &text); err != nil {
			if err := json.Unmarshal(artifact.Bytecode, &foundry); err != nil {
				return nil, fmt.Errorf("artifact %s has no bytecode", path)
			}
			text = foundry.Object
		}
	}

	if !strings.HasPrefix(text, "0x") {
		text = "0x" + text
	}
	bytecode, err := hexutil.Decode(text)
	if err != nil {
		return nil, fmt.Errorf("decoding bytecode from %s: %w", path, err)
	}
	if len(bytecode) == 0 {
		return nil, errors.New("bytecode file " + path + " is empty")
	}
	return bytecode, nil
}
