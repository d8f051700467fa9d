package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"papertrade/internal/domain"
	"papertrade/internal/oracle"
	"papertrade/internal/store"
)

func newBarsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bars",
		Short: "Manage the local bar files the parquet oracle reads",
	}
	cmd.AddCommand(newBarsPutCmd(c), newBarsLastCmd(c), newBarsListCmd(c), newBarsShowCmd(c))
	return cmd
}

func newBarsPutCmd(c *cli) *cobra.Command {
	var (
		tf         string
		closePrice float64
		at         string
	)
	cmd := &cobra.Command{
		Use:   "put SYMBOL",
		Short: "Write one bar so the parquet oracle can price SYMBOL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := oracle.ParseGranularity(tf)
			if err != nil {
				return err
			}
			if closePrice <= 0 {
				return &domain.ValidationError{Field: "close", Message: "close must be > 0"}
			}
			ts := time.Now().UTC().Truncate(time.Hour)
			if at != "" {
				if ts, err = time.Parse(time.RFC3339, at); err != nil {
					return &domain.ValidationError{Field: "time", Message: err.Error()}
				}
			}
			cfg, err := c.config()
			if err != nil {
				return err
			}
			bar := domain.Bar{
				Symbol:    strings.ToUpper(args[0]),
				Timestamp: ts,
				Open:      closePrice,
				High:      closePrice,
				Low:       closePrice,
				Close:     closePrice,
			}
			if err := store.NewParquetStore(cfg.Storage.DataDir).WriteBars(cmd.Context(), string(g), []domain.Bar{bar}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s close=%v at %s\n", bar.Symbol, g, closePrice, ts.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&tf, "tf", "1h", "granularity: 1h or 1d")
	cmd.Flags().Float64Var(&closePrice, "close", 0, "close price")
	cmd.Flags().StringVar(&at, "time", "", "bar time, RFC 3339 (default: current hour)")
	_ = cmd.MarkFlagRequired("close")
	return cmd
}

func newBarsLastCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "last SYMBOL",
		Short: "Show the price the oracle resolves for SYMBOL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			q, err := a.Oracle.LastPrice(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printQuote(cmd.OutOrStdout(), q, a.Oracle.Chain())
		},
	}
}

func newBarsListCmd(c *cli) *cobra.Command {
	var tf string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List symbols with local bars",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := oracle.ParseGranularity(tf)
			if err != nil {
				return err
			}
			cfg, err := c.config()
			if err != nil {
				return err
			}
			symbols, err := store.NewParquetStore(cfg.Storage.DataDir).ListSymbols(cmd.Context(), string(g))
			if err != nil {
				return err
			}
			return c.printSymbols(cmd.OutOrStdout(), symbols)
		},
	}
	cmd.Flags().StringVar(&tf, "tf", "1d", "granularity: 1h or 1d")
	return cmd
}

func newBarsShowCmd(c *cli) *cobra.Command {
	var tf, from, to string
	cmd := &cobra.Command{
		Use:   "show SYMBOL",
		Short: "Print the local bars of SYMBOL in a time range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := oracle.ParseGranularity(tf)
			if err != nil {
				return err
			}
			end := time.Now().UTC()
			if to != "" {
				if end, err = time.Parse(time.RFC3339, to); err != nil {
					return &domain.ValidationError{Field: "to", Message: err.Error()}
				}
			}
			start := end.AddDate(0, 0, -30)
			if from != "" {
				if start, err = time.Parse(time.RFC3339, from); err != nil {
					return &domain.ValidationError{Field: "from", Message: err.Error()}
				}
			}
			if start.After(end) {
				return &domain.ValidationError{Field: "from", Message: "from is after to"}
			}
			cfg, err := c.config()
			if err != nil {
				return err
			}
			bars, err := store.NewParquetStore(cfg.Storage.DataDir).ReadBars(cmd.Context(), args[0], string(g), start, end)
			if err != nil {
				return err
			}
			return c.printBars(cmd.OutOrStdout(), bars)
		},
	}
	cmd.Flags().StringVar(&tf, "tf", "1d", "granularity: 1h or 1d")
	cmd.Flags().StringVar(&from, "from", "", "range start, RFC 3339 (default: 30 days before --to)")
	cmd.Flags().StringVar(&to, "to", "", "range end, RFC 3339 (default: now)")
	return cmd
}
