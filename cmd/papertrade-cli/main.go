package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"papertrade/internal/app"
	"papertrade/internal/config"
	"papertrade/internal/util"
)

const version = "0.1.0"

// cli holds what every subcommand shares.
type cli struct {
	cfgPath string
	asJSON  bool

	cfg *config.Config
	log *slog.Logger
	a   *app.App
}

// config loads the configuration once.
func (c *cli) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	path := c.cfgPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	c.cfg = cfg
	c.log = util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(c.log)
	return cfg, nil
}

// app opens the ledger and wires the engine on first use.
func (c *cli) app(ctx context.Context) (*app.App, error) {
	if c.a != nil {
		return c.a, nil
	}
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, c.log)
	if err != nil {
		return nil, err
	}
	c.a = a
	return a, nil
}

func (c *cli) close() {
	if c.a != nil {
		_ = c.a.Close()
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "papertrade-cli",
		Short:         "Paper-trading ledger and order execution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.cfgPath, "config", "", "config file (default $PAPERTRADE_CONFIG or "+config.DefaultPath+")")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of tables")

	root.AddCommand(
		newSubmitCmd(c),
		newCancelCmd(c),
		newOrdersCmd(c),
		newOrderCmd(c),
		newTriggerCmd(c),
		newPositionsCmd(c),
		newPortfolioCmd(c),
		newPolicyCmd(c),
		newResetCmd(c),
		newMigrateCmd(c),
		newBarsCmd(c),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	c := &cli{}
	err := newRootCmd(c).ExecuteContext(ctx)
	c.close()
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", describe(err))
		os.Exit(exitCode(err))
	}
}
