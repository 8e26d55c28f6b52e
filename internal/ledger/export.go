package ledger

import (
	"context"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"tradePilot/internal/domain"
	"tradePilot/internal/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// exportDocument is the archive format written by Export.
type exportDocument struct {
	Version int             `json:"version"`
	Trades  []*domain.Trade `json:"trades"`
}

const exportVersion = 1

// Export writes the trades matching filter, with their orders, to w as JSON.
// Amounts are written as decimal strings so nothing is lost.
func (l *Ledger) Export(ctx context.Context, w io.Writer, filter ports.TradeFilter) (int, error) {
	op := "Export"
	trades, err := l.repo.QueryTrades(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w: %w", op, ports.ErrOperational, err)
	}
	if trades == nil {
		trades = []*domain.Trade{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exportDocument{Version: exportVersion, Trades: trades}); err != nil {
		return 0, fmt.Errorf("%s failed: %w: %w", op, ports.ErrOperational, err)
	}
	l.logger.Info(ctx, op+": trades exported", map[string]interface{}{"count": len(trades)})
	return len(trades), nil
}

// DecodeTrades reads an archive written by Export.
func DecodeTrades(r io.Reader) ([]*domain.Trade, error) {
	var doc exportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("DecodeTrades failed: %w: %w", ports.ErrValidation, err)
	}
	if doc.Version != exportVersion {
		return nil, fmt.Errorf("DecodeTrades failed: %w: unsupported archive version %d", ports.ErrValidation, doc.Version)
	}
	for _, t := range doc.Trades {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("DecodeTrades failed: %w: %w", ports.ErrValidation, err)
		}
	}
	return doc.Trades, nil
}
