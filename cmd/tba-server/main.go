package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/tba-provisioner/cmd/flags"
	"github.com/ruteri/tba-provisioner/httpserver"
	"github.com/ruteri/tba-provisioner/interfaces"
)

func main() {
	_ = godotenv.Load()

	serverFlags := append([]cli.Flag{}, flags.LogFlags...)
	serverFlags = append(serverFlags, flags.ChainFlags...)
	serverFlags = append(serverFlags, flags.ServerFlags...)
	serverFlags = append(serverFlags,
		flags.ImplementationFlag,
		flags.ImplementationBytecodeHashFlag,
		flags.SkipCodeCheckFlag,
		flags.VerifyDerivationFlag,
		flags.LedgerFlag,
	)

	app := &cli.App{
		Name:  "tba-server",
		Usage: "Serve token-bound account derivation and creation for one implementation",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			if cCtx.String(flags.ImplementationFlag.Name) == "" {
				return errors.New("--implementation is required")
			}

			env, err := flags.Setup(cCtx, logger)
			if err != nil {
				logger.Error("Failed to set up chain access", "err", err)
				return err
			}
			defer env.Close()

			ref, err := flags.ImplementationRef(cCtx)
			if err != nil {
				return err
			}

			// the implementation must exist before accounts are created against it
			impl, _, err := env.Workflow.ProvisionImplementation(cCtx.Context, env.Target.ChainID, interfaces.ExistingAddress{Ref: ref})
			if err != nil {
				logger.Error("Implementation check failed", "err", err)
				return err
			}

			handler := httpserver.NewHandler(env.Accounts, env.Workflow, env.Target.ChainID, impl.Address, logger)

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server",
				"chainId", env.Target.ChainID.String(),
				"rpc", env.Target.RPCEndpoint,
				"registry", env.Accounts.RegistryAddress().Hex(),
				"implementation", impl.Address.Hex())
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
