package main

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"papertrade/internal/domain"
	"papertrade/internal/store"
)

func newSubmitCmd(c *cli) *cobra.Command {
	var (
		symbol, side, qty, typ string
		price, limit, stop     string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a market, limit or stop order",
		Example: "  papertrade-cli submit --symbol AAPL --side buy --qty 10\n" +
			"  papertrade-cli submit --symbol AAPL --side buy --qty 5 --type limit --limit 40",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := domain.OrderRequest{
				Symbol: symbol,
				Side:   domain.OrderSide(side),
				Type:   domain.OrderType(typ),
			}
			var err error
			if req.Qty, err = decimal.NewFromString(qty); err != nil {
				return &domain.ValidationError{Field: "qty", Message: err.Error()}
			}
			if req.Price, err = optDecimal("price", price); err != nil {
				return err
			}
			if req.LimitPrice, err = optDecimal("limit_price", limit); err != nil {
				return err
			}
			if req.StopPrice, err = optDecimal("stop_price", stop); err != nil {
				return err
			}

			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			sub, err := a.Engine.SubmitOrder(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.printSubmission(cmd.OutOrStdout(), sub)
		},
	}
	f := cmd.Flags()
	f.StringVar(&symbol, "symbol", "", "ticker symbol")
	f.StringVar(&side, "side", "", "buy or sell")
	f.StringVar(&qty, "qty", "", "quantity (> 0)")
	f.StringVar(&typ, "type", "market", "market, limit or stop")
	f.StringVar(&price, "price", "", "explicit execution price for market orders")
	f.StringVar(&limit, "limit", "", "limit price")
	f.StringVar(&stop, "stop", "", "stop price")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("side")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func newCancelCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			o, err := a.Engine.CancelOrder(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.printOrders(cmd.OutOrStdout(), []domain.Order{*o})
		},
	}
}

func newOrdersCmd(c *cli) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := domain.OrderStatus(status)
			if status != "" && !st.Valid() {
				return &domain.ValidationError{Field: "status", Message: "status must be open, filled, cancelled or rejected"}
			}
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			orders, err := a.Engine.ListOrders(cmd.Context(), store.OrderFilter{Status: st, Limit: limit})
			if err != nil {
				return err
			}
			return c.printOrders(cmd.OutOrStdout(), orders)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", store.DefaultOrderLimit, "maximum number of orders")
	return cmd
}

func newOrderCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "order ID",
		Short: "Show one order and its fills",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			o, err := a.Engine.GetOrder(cmd.Context(), id)
			if err != nil {
				return err
			}
			fills, err := a.Engine.OrderFills(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.printOrderDetail(cmd.OutOrStdout(), o, fills)
		},
	}
}

func newTriggerCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Re-check open limit and stop orders against current prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.app(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Engine.Trigger(cmd.Context())
			if err != nil {
				return err
			}
			return c.printSweep(cmd.OutOrStdout(), res)
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Field: "id", Message: fmt.Sprintf("%q is not an order id", s)}
	}
	return id, nil
}

func optDecimal(field, s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, &domain.ValidationError{Field: field, Message: err.Error()}
	}
	return decimal.NewNullDecimal(v), nil
}
