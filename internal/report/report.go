// Package report renders backtest and paper session results as CSV trade
// logs and HTML summaries.
package report

import (
	"html/template"
	"io"
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"oi-trader/internal/errors"
	"oi-trader/internal/models"
	"oi-trader/internal/trading"
	"oi-trader/pkg/utils"
)

// WriteTradesCSV writes the trade log to path, one row per round trip.
func WriteTradesCSV(path string, trades []models.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create trade log")
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&trades, f); err != nil {
		return errors.Wrap(err, "write trade log")
	}
	return nil
}

// Summary is the render model for the HTML and console reports. All money
// fields are preformatted.
type Summary struct {
	Title     string
	StartDate string
	EndDate   string
	Days      int

	TotalTrades int
	Wins        int
	Losses      int
	WinRate     string
	TotalPnL    string
	AvgWin      string
	AvgLoss     string
	MaxDrawdown string

	StartingCash string
	FinalCash    string
	ReturnPct    string

	ExitReasons []ExitReasonCount
	Rows        []TradeRow
	GeneratedAt string
}

// ExitReasonCount is one exit rule's share of the closed trades.
type ExitReasonCount struct {
	Reason string
	Count  int
}

// TradeRow is one formatted trade log line.
type TradeRow struct {
	EntryTime  string
	ExitTime   string
	Contract   string
	EntryPrice string
	ExitPrice  string
	Size       int
	PnL        string
	PnLPct     string
	Reason     string
	Win        bool
}

// BuildSummary formats a backtest result for rendering.
func BuildSummary(title string, res *trading.BacktestResult) Summary {
	s := Summary{
		Title:        title,
		StartDate:    res.StartDate.Format("2006-01-02"),
		EndDate:      res.EndDate.Format("2006-01-02"),
		Days:         res.Days,
		TotalTrades:  res.TotalTrades,
		Wins:         res.Wins,
		Losses:       res.Losses,
		WinRate:      utils.FormatPercent(res.WinRate),
		TotalPnL:     utils.FormatPnL(res.TotalPnL),
		AvgWin:       utils.FormatIndianCurrency(res.AvgWin),
		AvgLoss:      utils.FormatIndianCurrency(res.AvgLoss),
		MaxDrawdown:  utils.FormatIndianCurrency(res.MaxDrawdown),
		StartingCash: utils.FormatIndianCurrency(res.StartingCash),
		FinalCash:    utils.FormatIndianCurrency(res.FinalCash),
		GeneratedAt:  time.Now().Format(time.RFC1123),
	}
	if res.StartingCash > 0 {
		s.ReturnPct = utils.FormatPercent(res.TotalPnL / res.StartingCash * 100)
	}
	for _, reason := range []models.ExitReason{
		models.ExitStopLoss, models.ExitVWAPStop, models.ExitOIStop,
		models.ExitTrailingStop, models.ExitEOD,
	} {
		if n := res.ExitReasons[reason]; n > 0 {
			s.ExitReasons = append(s.ExitReasons, ExitReasonCount{Reason: string(reason), Count: n})
		}
	}
	for _, t := range res.Trades {
		s.Rows = append(s.Rows, formatTrade(t))
	}
	return s
}

func formatTrade(t models.Trade) TradeRow {
	key := models.OptionKey{Strike: t.Strike, Type: t.Type, Expiry: t.Expiry}
	return TradeRow{
		EntryTime:  t.EntryTime.Format("2006-01-02 15:04"),
		ExitTime:   t.ExitTime.Format("15:04"),
		Contract:   key.String(),
		EntryPrice: utils.FormatIndianCurrency(t.EntryPrice),
		ExitPrice:  utils.FormatIndianCurrency(t.ExitPrice),
		Size:       t.Size,
		PnL:        utils.FormatPnL(t.PnL),
		PnLPct:     utils.FormatPercent(t.PnLPercent),
		Reason:     string(t.ExitReason),
		Win:        t.PnL > 0,
	}
}

// RenderHTML writes the summary as a standalone HTML page.
func RenderHTML(w io.Writer, s Summary) error {
	return htmlTemplate.Execute(w, s)
}

// WriteHTMLReport renders the summary to a file at path.
func WriteHTMLReport(path string, s Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create report")
	}
	defer f.Close()
	return RenderHTML(f, s)
}

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2rem; color: #1a1a1a; }
h1 { font-size: 1.4rem; }
table { border-collapse: collapse; margin-top: 1rem; }
th, td { padding: 0.35rem 0.9rem; border: 1px solid #ddd; text-align: right; }
th { background: #f5f5f5; }
td.l, th.l { text-align: left; }
.win { color: #0a7d33; }
.loss { color: #b3261e; }
.meta { color: #777; font-size: 0.8rem; margin-top: 2rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.StartDate}} to {{.EndDate}} ({{.Days}} trading days)</p>

<table>
<tr><th class="l">Total PnL</th><td>{{.TotalPnL}}</td></tr>
<tr><th class="l">Return</th><td>{{.ReturnPct}}</td></tr>
<tr><th class="l">Trades</th><td>{{.TotalTrades}} ({{.Wins}}W / {{.Losses}}L)</td></tr>
<tr><th class="l">Win rate</th><td>{{.WinRate}}</td></tr>
<tr><th class="l">Avg win</th><td>{{.AvgWin}}</td></tr>
<tr><th class="l">Avg loss</th><td>{{.AvgLoss}}</td></tr>
<tr><th class="l">Max drawdown</th><td>{{.MaxDrawdown}}</td></tr>
<tr><th class="l">Starting cash</th><td>{{.StartingCash}}</td></tr>
<tr><th class="l">Final cash</th><td>{{.FinalCash}}</td></tr>
</table>

{{if .ExitReasons}}
<h2>Exits</h2>
<table>
<tr><th class="l">Reason</th><th>Count</th></tr>
{{range .ExitReasons}}<tr><td class="l">{{.Reason}}</td><td>{{.Count}}</td></tr>
{{end}}
</table>
{{end}}

{{if .Rows}}
<h2>Trades</h2>
<table>
<tr><th class="l">Entry</th><th class="l">Exit</th><th class="l">Contract</th><th>In</th><th>Out</th><th>Qty</th><th>PnL</th><th>%</th><th class="l">Reason</th></tr>
{{range .Rows}}<tr>
<td class="l">{{.EntryTime}}</td><td class="l">{{.ExitTime}}</td><td class="l">{{.Contract}}</td>
<td>{{.EntryPrice}}</td><td>{{.ExitPrice}}</td><td>{{.Size}}</td>
<td class="{{if .Win}}win{{else}}loss{{end}}">{{.PnL}}</td><td>{{.PnLPct}}</td><td class="l">{{.Reason}}</td>
</tr>
{{end}}
</table>
{{end}}

<p class="meta">Generated {{.GeneratedAt}}</p>
</body>
</html>
`))
