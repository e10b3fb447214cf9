package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jfenwick/microtrader/internal/ledger"
	"github.com/jfenwick/microtrader/internal/models"
)

// LoadQuotesCSV reads historical quotes from a CSV file with header columns
// timestamp,bid,ask,last[,bid_size,ask_size]. Missing numeric cells are
// treated as absent; rows with neither a last price nor a full bid/ask are
// skipped. When bid/ask are missing but last exists, a synthetic one-cent
// half-spread is placed around last so spread-based strategies still run;
// when last is missing, it is inferred as the mid.
func LoadQuotesCSV(path, symbol string) ([]models.Quote, error) {
	f, err := os.Open(path) // #nosec G304 -- path is a user-provided data file
	if err != nil {
		return nil, fmt.Errorf("opening quotes file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading quotes header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	cell := func(row []string, names ...string) string {
		for _, name := range names {
			if idx, ok := col[name]; ok && idx < len(row) {
				return row[idx]
			}
		}
		return ""
	}
	num := func(row []string, names ...string) *float64 {
		s := cell(row, names...)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &v
	}

	sym := models.NormalizeSymbol(symbol)
	var quotes []models.Quote
	for {
		row, err := r.Read()
		if err != nil {
			break
		}

		bid := num(row, "bid")
		ask := num(row, "ask")
		last := num(row, "last", "close", "price")
		if last == nil && (bid == nil || ask == nil) {
			continue
		}
		if last == nil {
			last = models.Float((*bid + *ask) / 2)
		}
		if bid == nil || ask == nil {
			const halfSpread = 0.01
			bid = models.Float(*last - halfSpread)
			ask = models.Float(*last + halfSpread)
		}

		q := models.Quote{
			Symbol:  sym,
			Bid:     bid,
			Ask:     ask,
			Last:    last,
			BidSize: num(row, "bid_size"),
			AskSize: num(row, "ask_size"),
		}
		if ts := cell(row, "timestamp", "time", "datetime"); ts != "" {
			if parsed, perr := time.Parse(time.RFC3339, ts); perr == nil {
				q.Timestamp = parsed
			} else if parsed, perr := time.Parse("2006-01-02T15:04:05", ts); perr == nil {
				q.Timestamp = parsed
			}
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// ExportEquityCSV writes the (timestamp, equity) curve.
func ExportEquityCSV(path string, result *Result) error {
	w, closeFn, err := createCSV(path)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := w.Write([]string{"timestamp", "equity"}); err != nil {
		return err
	}
	for i, eq := range result.EquityCurve {
		ts := ""
		if i < len(result.Timestamps) {
			ts = result.Timestamps[i].Format(time.RFC3339)
		}
		if err := w.Write([]string{ts, strconv.FormatFloat(eq, 'f', 4, 64)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ExportFillsCSV writes the (symbol, side, quantity, price, timestamp) log.
func ExportFillsCSV(path string, fills []ledger.Fill) error {
	w, closeFn, err := createCSV(path)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := w.Write([]string{"symbol", "side", "quantity", "price", "timestamp"}); err != nil {
		return err
	}
	for _, f := range fills {
		row := []string{
			f.Symbol,
			string(f.Side),
			strconv.FormatFloat(f.Quantity, 'f', 4, 64),
			strconv.FormatFloat(f.Price, 'f', 4, 64),
			f.Timestamp.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func createCSV(path string) (*csv.Writer, func(), error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("creating output directory: %w", err)
		}
	}
	f, err := os.Create(path) // #nosec G304 -- path is a user-provided output file
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return csv.NewWriter(f), func() { _ = f.Close() }, nil
}
