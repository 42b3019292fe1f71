package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/tba-provisioner/cmd/flags"
	"github.com/ruteri/tba-provisioner/interfaces"
	"github.com/ruteri/tba-provisioner/storage"
	"github.com/ruteri/tba-provisioner/workflow"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "tba",
		Usage: "Deploy ERC-6551 account implementations and create token-bound accounts",
		Flags: append(append([]cli.Flag{}, flags.LogFlags...), flags.ChainFlags...),
		Commands: []*cli.Command{
			{
				Name:  "deploy-implementation",
				Usage: "deploy an account implementation, or verify an existing one",
				Flags: append(append([]cli.Flag{}, flags.ImplementationFlags...), flags.LedgerFlags...),
				Action: func(cCtx *cli.Context) error {
					return withEnv(cCtx, deployImplementation)
				},
			},
			{
				Name:  "account",
				Usage: "print the account address of an NFT without sending a transaction",
				Flags: append([]cli.Flag{flags.ImplementationFlag}, flags.TupleFlags...),
				Action: func(cCtx *cli.Context) error {
					return withEnv(cCtx, deriveAccount)
				},
			},
			{
				Name:  "create",
				Usage: "create the account of an NFT unless it exists",
				Flags: append(append([]cli.Flag{flags.ImplementationFlag}, flags.TupleFlags...), flags.LedgerFlag),
				Action: func(cCtx *cli.Context) error {
					return withEnv(cCtx, createAccount)
				},
			},
			{
				Name:  "provision",
				Usage: "make sure the implementation exists, create the account and read it back",
				Flags: append(append(append([]cli.Flag{}, flags.ImplementationFlags...), flags.TupleFlags...), flags.LedgerFlags...),
				Action: func(cCtx *cli.Context) error {
					return withEnv(cCtx, provision)
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func withEnv(cCtx *cli.Context, fn func(*cli.Context, *flags.Env) error) error {
	logger := flags.SetupLogger(cCtx)
	env, err := flags.Setup(cCtx, logger)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(cCtx, env)
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func deployImplementation(cCtx *cli.Context, env *flags.Env) error {
	source, err := flags.ImplementationSource(cCtx)
	if err != nil {
		return err
	}

	impl, cached, err := env.Workflow.ProvisionImplementation(cCtx.Context, env.Target.ChainID, source)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"chain_id":       env.Target.ChainID.String(),
		"implementation": impl,
		"cached":         cached,
	})
}

func deriveAccount(cCtx *cli.Context, env *flags.Env) error {
	tuple, err := accountTuple(cCtx, env)
	if err != nil {
		return err
	}

	account, err := env.Accounts.DeriveAddress(cCtx.Context, tuple)
	if err != nil {
		return err
	}

	code, err := env.Client.GetCode(cCtx.Context, account)
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"account":  account,
		"deployed": len(code) > 0,
		"chain_id": env.Target.ChainID.String(),
		"registry": env.Accounts.RegistryAddress(),
	})
}

func createAccount(cCtx *cli.Context, env *flags.Env) error {
	tuple, err := accountTuple(cCtx, env)
	if err != nil {
		return err
	}

	record, err := env.Workflow.EnsureAccount(cCtx.Context, env.Target.ChainID, tuple.Implementation, tuple.NftIdentity(), tuple.Salt)
	if err != nil {
		return err
	}

	return printJSON(storage.NewAccountEntry(env.Accounts.RegistryAddress(), tuple, record))
}

func provision(cCtx *cli.Context, env *flags.Env) error {
	source, err := flags.ImplementationSource(cCtx)
	if err != nil {
		return err
	}
	nft, err := flags.NftIdentity(cCtx)
	if err != nil {
		return err
	}
	salt, err := flags.Salt(cCtx)
	if err != nil {
		return err
	}

	res, err := env.Workflow.Run(cCtx.Context, workflow.Request{
		ChainID:        env.Target.ChainID,
		Implementation: source,
		Nft:            nft,
		Salt:           salt,
	})
	if err != nil {
		return err
	}

	env.Log.Info("Account ready",
		"implementation", res.Implementation.Address.Hex(),
		"account", res.Account.DerivedAddress.Hex(),
		"created", res.Account.Created)
	return printJSON(res)
}

func accountTuple(cCtx *cli.Context, env *flags.Env) (interfaces.AccountTuple, error) {
	ref, err := flags.ImplementationRef(cCtx)
	if err != nil {
		return interfaces.AccountTuple{}, err
	}
	nft, err := flags.NftIdentity(cCtx)
	if err != nil {
		return interfaces.AccountTuple{}, err
	}
	salt, err := flags.Salt(cCtx)
	if err != nil {
		return interfaces.AccountTuple{}, err
	}
	return interfaces.NewAccountTuple(ref.Address, salt, env.Target.ChainID, nft), nil
}
