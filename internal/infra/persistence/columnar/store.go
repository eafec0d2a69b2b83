// Package columnar persists market-data artifacts as gzip-compressed column
// tables plus an append-only JSONL manifest. Files carry a .parquet suffix so
// downstream tooling keyed on the production layout keeps working; the payload
// is a header row followed by one record per line.
package columnar

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

// Store writes artifact tables under a single root directory.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("columnar: empty root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("columnar: create root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

func artifactKey(symbol, vendor string) string {
	return fmt.Sprintf("%s_%s", strings.ToUpper(strings.TrimSpace(symbol)), strings.ToLower(strings.TrimSpace(vendor)))
}

// WriteBars persists a bar series as {SYM}_{vendor}.parquet and returns the path.
func (s *Store) WriteBars(bars *schema.Bars) (string, error) {
	header := []string{"timestamp", "open", "high", "low", "close", "volume"}
	rows := make([][]string, 0, len(bars.Data))
	for _, bar := range bars.Data {
		rows = append(rows, []string{
			bar.Timestamp.UTC().Format(time.RFC3339Nano),
			formatFloat(bar.Open),
			formatFloat(bar.High),
			formatFloat(bar.Low),
			formatFloat(bar.Close),
			formatFloat(bar.Volume),
		})
	}
	name := artifactKey(bars.Symbol, bars.Vendor) + ".parquet"
	return s.WriteTable(name, header, rows)
}

// WriteSignals persists signal frames as {SYM}_{vendor}_signals.parquet.
func (s *Store) WriteSignals(symbol, vendor string, signals []schema.SignalFrame) (string, error) {
	header := []string{"timestamp", "price", "volume", "filtered_price", "velocity", "uncertainty", "butterworth_price", "ema_price"}
	rows := make([][]string, 0, len(signals))
	for _, sig := range signals {
		rows = append(rows, []string{
			sig.Timestamp.UTC().Format(time.RFC3339Nano),
			formatFloat(sig.Price),
			formatFloat(sig.Volume),
			formatFloat(sig.FilteredPrice),
			formatFloat(sig.Velocity),
			formatFloat(sig.Uncertainty),
			formatFloat(sig.ButterworthPrice),
			formatFloat(sig.EMAPrice),
		})
	}
	name := artifactKey(symbol, vendor) + "_signals.parquet"
	return s.WriteTable(name, header, rows)
}

// WriteRegimes persists regime snapshots as {SYM}_regimes.parquet.
func (s *Store) WriteRegimes(symbol string, regimes []schema.RegimeSnapshot) (string, error) {
	header := []string{"timestamp", "regime", "volatility", "uncertainty", "momentum"}
	rows := make([][]string, 0, len(regimes))
	for _, snap := range regimes {
		rows = append(rows, []string{
			snap.Timestamp.UTC().Format(time.RFC3339Nano),
			string(snap.Regime),
			formatFloat(snap.Volatility),
			formatFloat(snap.Uncertainty),
			formatFloat(snap.Momentum),
		})
	}
	name := strings.ToUpper(strings.TrimSpace(symbol)) + "_regimes.parquet"
	return s.WriteTable(name, header, rows)
}

// WriteTable writes a generic table under the root. The write goes through a
// temp file and rename so readers never observe a torn artifact.
func (s *Store) WriteTable(name string, header []string, rows [][]string) (string, error) {
	path := filepath.Join(s.root, name)
	tmp, err := os.CreateTemp(s.root, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("columnar: temp file for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	gz := gzip.NewWriter(tmp)
	writer := csv.NewWriter(gz)
	if err := writer.Write(header); err != nil {
		tmp.Close()
		return "", fmt.Errorf("columnar: write header %s: %w", name, err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			tmp.Close()
			return "", fmt.Errorf("columnar: write row %s: %w", name, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("columnar: flush %s: %w", name, err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("columnar: close gzip %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("columnar: close temp %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("columnar: rename %s: %w", name, err)
	}
	return path, nil
}

// ReadTable loads a previously written artifact.
func ReadTable(path string) (header []string, rows [][]string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("columnar: open %s: %w", path, err)
	}
	defer file.Close()
	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("columnar: gzip %s: %w", path, err)
	}
	defer gz.Close()
	records, err := csv.NewReader(gz).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("columnar: parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	return records[0], records[1:], nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
