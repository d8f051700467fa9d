package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/engine"
	"papertrade/internal/oracle"
)

const timeLayout = "2006-01-02 15:04:05"

// Exit codes.
const (
	exitError      = 1
	exitValidation = 2
	exitRejected   = 3
	exitNotFound   = 4
	exitConflict   = 5
)

func exitCode(err error) int {
	var (
		validation *domain.ValidationError
		rejection  *domain.RiskRejection
	)
	switch {
	case errors.As(err, &validation):
		return exitValidation
	case errors.As(err, &rejection), errors.Is(err, domain.ErrPriceUnavailable):
		return exitRejected
	case errors.Is(err, domain.ErrOrderNotFound):
		return exitNotFound
	case errors.Is(err, domain.ErrNotOpen), errors.Is(err, domain.ErrResetDisabled):
		return exitConflict
	}
	return exitError
}

// describe adds the checked price to risk rejections.
func describe(err error) string {
	var rej *domain.RiskRejection
	if errors.As(err, &rej) && rej.CheckedPrice.Valid {
		return fmt.Sprintf("%v (checked price %s)", err, rej.CheckedPrice.Decimal)
	}
	return err.Error()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	if len(header) > 0 {
		table.SetHeader(header)
	}
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetCenterSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	return table
}

func optional(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func (c *cli) printSubmission(w io.Writer, sub *engine.Submission) error {
	if c.asJSON {
		return writeJSON(w, sub)
	}
	if err := c.printOrders(w, []domain.Order{sub.Order}); err != nil {
		return err
	}
	from := sub.PricedFrom
	if from == "" {
		from = "-"
	}
	fmt.Fprintf(w, "\nchecked price %s (%s)\n", sub.CheckedPrice, from)
	if sub.Filled() {
		fmt.Fprintf(w, "realized pnl  %s\n", sub.RealizedPnL)
		if sub.Position == nil {
			fmt.Fprintf(w, "position      %s flat\n", sub.Order.Symbol)
		} else {
			fmt.Fprintf(w, "position      %s %s @ %s\n", sub.Position.Symbol, sub.Position.Qty, sub.Position.AvgPrice)
		}
	}
	return nil
}

func (c *cli) printOrders(w io.Writer, orders []domain.Order) error {
	if c.asJSON {
		if orders == nil {
			orders = []domain.Order{}
		}
		return writeJSON(w, orders)
	}
	if len(orders) == 0 {
		fmt.Fprintln(w, "no orders")
		return nil
	}
	table := newTable(w, "ID", "SYMBOL", "SIDE", "TYPE", "STATUS", "QTY", "LIMIT", "STOP", "EXEC", "PNL", "CREATED")
	for _, o := range orders {
		table.Append([]string{
			strconv.FormatInt(o.ID, 10),
			o.Symbol,
			string(o.Side),
			string(o.Type),
			string(o.Status),
			o.Qty.String(),
			optional(o.LimitPrice),
			optional(o.StopPrice),
			optional(o.ExecPrice),
			optional(o.RealizedPnL),
			stamp(o.CreatedAt),
		})
	}
	table.Render()
	return nil
}

func (c *cli) printOrderDetail(w io.Writer, o *domain.Order, fills []domain.Fill) error {
	if c.asJSON {
		if fills == nil {
			fills = []domain.Fill{}
		}
		return writeJSON(w, struct {
			*domain.Order
			Fills []domain.Fill `json:"fills"`
		}{o, fills})
	}
	if err := c.printOrders(w, []domain.Order{*o}); err != nil {
		return err
	}
	if len(fills) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	table := newTable(w, "FILL", "QTY", "PRICE", "PNL", "CASH AFTER", "TIME")
	for _, f := range fills {
		table.Append([]string{f.ID, f.Qty.String(), f.Price.String(), f.RealizedPnL.String(), f.CashAfter.String(), stamp(f.Timestamp)})
	}
	table.Render()
	return nil
}

func (c *cli) printPositions(w io.Writer, positions []domain.PositionValuation) error {
	if c.asJSON {
		if positions == nil {
			positions = []domain.PositionValuation{}
		}
		return writeJSON(w, positions)
	}
	if len(positions) == 0 {
		fmt.Fprintln(w, "no open positions")
		return nil
	}
	table := newTable(w, "SYMBOL", "SIDE", "QTY", "AVG", "LAST", "MARK", "VALUE", "UNREALIZED")
	for _, p := range positions {
		mark := p.MarkGranularity
		if !p.Priced {
			mark = "book"
		}
		table.Append([]string{
			p.Symbol,
			string(p.Side()),
			p.Qty.String(),
			p.AvgPrice.String(),
			p.LastPrice.String(),
			mark,
			p.MarketValue.StringFixed(2),
			p.UnrealizedPnL.StringFixed(2),
		})
	}
	table.Render()
	return nil
}

func (c *cli) printPortfolio(w io.Writer, pf *domain.Portfolio) error {
	if c.asJSON {
		return writeJSON(w, pf)
	}
	table := newTable(w)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	table.AppendBulk([][]string{
		{"starting cash", pf.StartingCash.StringFixed(2)},
		{"cash", pf.Cash.StringFixed(2)},
		{"positions value", pf.PositionsValue.StringFixed(2)},
		{"equity", pf.Equity.StringFixed(2)},
		{"realized pnl", pf.RealizedPnLTotal.StringFixed(2)},
		{"unrealized pnl", pf.UnrealizedPnLTotal.StringFixed(2)},
		{"mark to market", strconv.FormatBool(pf.MarkToMarket)},
		{"as of", stamp(pf.AsOf)},
	})
	table.Render()
	if len(pf.Positions) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	return c.printPositions(w, pf.Positions)
}

func (c *cli) printPolicy(w io.Writer, l engine.Limits, recordRejections bool) error {
	if c.asJSON {
		return writeJSON(w, struct {
			engine.Limits
			RecordRejections bool `json:"record_rejections"`
		}{l, recordRejections})
	}
	rows := map[string]string{
		"allow_short":        strconv.FormatBool(l.AllowShort),
		"max_order_value":    l.MaxOrderValue.String(),
		"max_symbol_qty":     l.MaxSymbolQty.String(),
		"max_position_value": l.MaxPositionValue.String(),
		"record_rejections":  strconv.FormatBool(recordRejections),
	}
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := newTable(w, "RULE", "VALUE")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	for _, k := range keys {
		table.Append([]string{k, rows[k]})
	}
	table.Render()
	return nil
}

func (c *cli) printSweep(w io.Writer, res *engine.SweepResult) error {
	if c.asJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "checked %d open orders, filled %d\n", res.Checked, len(res.Filled))
	for _, id := range res.Filled {
		fmt.Fprintf(w, "  filled   #%d\n", id)
	}
	ids := make([]int64, 0, len(res.Deferred))
	for id := range res.Deferred {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(w, "  deferred #%d (%s)\n", id, res.Deferred[id])
	}
	for _, sym := range res.PriceMissing {
		fmt.Fprintf(w, "  no price %s\n", sym)
	}
	return nil
}

func (c *cli) printQuote(w io.Writer, q oracle.Quote, chain []oracle.Granularity) error {
	if c.asJSON {
		return writeJSON(w, struct {
			oracle.Quote
			Chain []oracle.Granularity `json:"chain"`
		}{q, chain})
	}
	names := make([]string, len(chain))
	for i, g := range chain {
		names[i] = string(g)
	}
	fmt.Fprintf(w, "%s %s (%s bar at %s, chain %s)\n", q.Symbol, q.Price, q.Granularity, stamp(q.Timestamp), strings.Join(names, ">"))
	return nil
}

func (c *cli) printSymbols(w io.Writer, symbols []string) error {
	if c.asJSON {
		if symbols == nil {
			symbols = []string{}
		}
		return writeJSON(w, symbols)
	}
	if len(symbols) == 0 {
		fmt.Fprintln(w, "no bars")
		return nil
	}
	fmt.Fprintln(w, strings.Join(symbols, "\n"))
	return nil
}

func (c *cli) printBars(w io.Writer, bars []domain.Bar) error {
	if c.asJSON {
		if bars == nil {
			bars = []domain.Bar{}
		}
		return writeJSON(w, bars)
	}
	if len(bars) == 0 {
		fmt.Fprintln(w, "no bars")
		return nil
	}
	table := newTable(w, "TIME", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME")
	for _, b := range bars {
		table.Append([]string{
			stamp(b.Timestamp),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatInt(b.Volume, 10),
		})
	}
	table.Render()
	return nil
}
