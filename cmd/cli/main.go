// Command cli estimates, inspects and seeds grocery transaction emissions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dvloznov/grocery-carbon/internal/app"
	"github.com/dvloznov/grocery-carbon/internal/config"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

// offline marks commands that need neither config nor store.
const offline = "offline"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New()
	ctx = logger.WithContext(ctx, log)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cli carries state shared by subcommands for one invocation.
type cli struct {
	configFile string
	app        *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:                "cli",
		Short:              "Estimate the carbon footprint of grocery transactions",
		SilenceUsage:       true,
		PersistentPreRunE:  c.setup,
		PersistentPostRunE: c.teardown,
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "Config file path (default ./config.yaml or ./configs/config.yaml)")

	root.AddCommand(
		c.estimateCmd(),
		c.estimateAllCmd(),
		c.importCmd(),
		c.receiptCmd(),
		c.matchCmd(),
		c.catalogueCmd(),
		mccCmd(),
	)
	return root
}

// setup loads config, rebuilds the logger from it and opens the store.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[offline] == "true" || cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}
	ctx := cmd.Context()

	cfg, err := config.Load(ctx, c.configFile)
	if err != nil {
		return err
	}
	opts := cfg.LoggerOptions()
	opts.Output = cmd.ErrOrStderr()
	log, err := logger.NewWithOptions(opts)
	if err != nil {
		return err
	}
	ctx = logger.WithContext(ctx, log)
	cmd.SetContext(ctx)

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) teardown(cmd *cobra.Command, args []string) error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}
