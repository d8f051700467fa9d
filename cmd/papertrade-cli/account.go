package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPositionsCmd(c *cli) *cobra.Command {
	var mtm bool
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			positions, err := a.Valuator.ListPositions(cmd.Context(), mtm)
			if err != nil {
				return err
			}
			return c.printPositions(cmd.OutOrStdout(), positions)
		},
	}
	cmd.Flags().BoolVar(&mtm, "mtm", false, "mark to market with oracle prices")
	return cmd
}

func newPortfolioCmd(c *cli) *cobra.Command {
	var mtm bool
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Show cash, positions and equity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			pf, err := a.Valuator.Valuate(cmd.Context(), mtm)
			if err != nil {
				return err
			}
			return c.printPortfolio(cmd.OutOrStdout(), pf)
		},
	}
	cmd.Flags().BoolVar(&mtm, "mtm", false, "mark to market with oracle prices")
	return cmd
}

func newPolicyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Show the active risk limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			return c.printPolicy(cmd.OutOrStdout(), a.Engine.Policy(), a.Config.Trading.RecordRejections)
		},
	}
}

func newResetCmd(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every order and position and restore starting cash (debug only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reset is irreversible; pass --yes to confirm")
			}
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Engine.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ledger reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening the app applies migrations.
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			v, err := a.Ledger.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "papertrade-cli %s\n", version)
		},
	}
}
