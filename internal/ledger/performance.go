package ledger

import (
	"context"
	"sort"
	"time"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
)

// Performance summarizes closed trades. Amounts are in the stake currency.
type Performance struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	DrawTrades    int
	WinRate       float64

	TotalProfit money.Decimal
	AverageWin  money.Decimal
	AverageLoss money.Decimal // negative or zero
	// ProfitFactor is gross profit over gross loss, zero without losses.
	ProfitFactor float64
	// MaxDrawdown is the largest fall of cumulative profit from its peak.
	MaxDrawdown money.Decimal

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	MonthlyProfit        map[string]money.Decimal // keyed by close month, "2006-01"
}

// Performance summarizes the closed trades matching filter.
func (l *Ledger) Performance(ctx context.Context, filter ports.TradeFilter) (*Performance, error) {
	closed := false
	filter.IsOpen = &closed
	trades, err := l.TradesMatching(ctx, filter, nil)
	if err != nil {
		return nil, err
	}
	return Summarize(trades), nil
}

// Summarize computes Performance over the closed trades in trades, in close
// order. Open trades are skipped.
func Summarize(trades []*domain.Trade) *Performance {
	p := &Performance{MonthlyProfit: map[string]money.Decimal{}}

	closed := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if !t.IsOpen && t.CloseDate != nil {
			closed = append(closed, t)
		}
	}
	if len(closed) == 0 {
		return p
	}
	sort.SliceStable(closed, func(i, j int) bool { return closed[i].CloseDate.Before(*closed[j].CloseDate) })

	var grossWin, grossLoss, peak money.Decimal
	var wins, losses int
	var totalDuration time.Duration
	for _, t := range closed {
		pnl := t.CloseProfitAbs
		p.TotalTrades++
		switch pnl.Sign() {
		case 1:
			p.WinningTrades++
			grossWin = grossWin.Add(pnl)
			wins++
			losses = 0
		case -1:
			p.LosingTrades++
			grossLoss = grossLoss.Add(pnl)
			losses++
			wins = 0
		default:
			p.DrawTrades++
			wins, losses = 0, 0
		}
		p.MaxConsecutiveWins = max(p.MaxConsecutiveWins, wins)
		p.MaxConsecutiveLosses = max(p.MaxConsecutiveLosses, losses)

		p.TotalProfit = p.TotalProfit.Add(pnl)
		peak = money.Max(peak, p.TotalProfit)
		p.MaxDrawdown = money.Max(p.MaxDrawdown, peak.Sub(p.TotalProfit))

		month := t.CloseDate.UTC().Format("2006-01")
		p.MonthlyProfit[month] = p.MonthlyProfit[month].Add(pnl)
		totalDuration += t.CloseDate.Sub(t.OpenDate)
	}

	p.WinRate = float64(p.WinningTrades) / float64(p.TotalTrades)
	p.AverageTradeDuration = totalDuration / time.Duration(p.TotalTrades)
	if p.WinningTrades > 0 {
		p.AverageWin, _ = grossWin.Div(money.NewFromInt(int64(p.WinningTrades)))
	}
	if p.LosingTrades > 0 {
		p.AverageLoss, _ = grossLoss.Div(money.NewFromInt(int64(p.LosingTrades)))
		if ratio, err := grossWin.Div(grossLoss.Abs()); err == nil {
			p.ProfitFactor = ratio.Float64()
		}
	}
	return p
}

// Fields flattens the summary for structured logging.
func (p *Performance) Fields() map[string]interface{} {
	return map[string]interface{}{
		"trades":               p.TotalTrades,
		"wins":                 p.WinningTrades,
		"losses":               p.LosingTrades,
		"draws":                p.DrawTrades,
		"winRate":              p.WinRate,
		"totalProfit":          p.TotalProfit.String(),
		"averageWin":           p.AverageWin.String(),
		"averageLoss":          p.AverageLoss.String(),
		"profitFactor":         p.ProfitFactor,
		"maxDrawdown":          p.MaxDrawdown.String(),
		"maxConsecutiveWins":   p.MaxConsecutiveWins,
		"maxConsecutiveLosses": p.MaxConsecutiveLosses,
		"averageTradeDuration": p.AverageTradeDuration.String(),
	}
}
