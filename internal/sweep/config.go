// Package sweep expands strategy parameter grids into parallel backtest jobs.
package sweep

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsh04/ai-trader-sub000/internal/backtest"
)

const defaultOutputDir = "artifacts/backtests/sweeps"

// Config is the YAML sweep description.
type Config struct {
	Symbol     string           `yaml:"symbol"`
	Start      string           `yaml:"start"`
	End        string           `yaml:"end,omitempty"`
	Strategy   string           `yaml:"strategy"`
	Params     map[string][]any `yaml:"params"`
	MaxWorkers int              `yaml:"max_workers,omitempty"`
	OutputDir  string           `yaml:"output_dir,omitempty"`
	Backtest   backtest.Config  `yaml:"backtest,omitempty"`
}

// Load reads and validates a sweep config file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("sweep: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("sweep: parse config: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.Strategy = strings.TrimSpace(c.Strategy)
	if strings.TrimSpace(c.OutputDir) == "" {
		c.OutputDir = defaultOutputDir
	}
	return c
}

// Validate checks the required fields and date formats.
func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("sweep: symbol required")
	}
	if c.Strategy == "" {
		return fmt.Errorf("sweep: strategy required")
	}
	if len(c.Params) == 0 {
		return fmt.Errorf("sweep: params grid required")
	}
	if _, err := parseDate(c.Start); err != nil {
		return fmt.Errorf("sweep: start: %w", err)
	}
	if strings.TrimSpace(c.End) != "" {
		if _, err := parseDate(c.End); err != nil {
			return fmt.Errorf("sweep: end: %w", err)
		}
	}
	return nil
}

// Window returns the configured [start, end) pair; either bound is nil when
// omitted.
func (c Config) Window() (*time.Time, *time.Time, error) {
	if strings.TrimSpace(c.Start) == "" {
		return nil, nil, nil
	}
	start, err := parseDate(c.Start)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(c.End) == "" {
		return &start, nil, nil
	}
	end, err := parseDate(c.End)
	if err != nil {
		return nil, nil, err
	}
	return &start, &end, nil
}

func parseDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("date required")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", trimmed)
}

// ExpandParams produces the Cartesian product of the grid in a deterministic
// order: parameter names sorted, earlier names varying slowest.
func ExpandParams(params map[string][]any) []map[string]any {
	keys := make([]string, 0, len(params))
	for key := range params {
		if len(params[key]) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return nil
	}

	combos := []map[string]any{{}}
	for _, key := range keys {
		values := params[key]
		next := make([]map[string]any, 0, len(combos)*len(values))
		for _, combo := range combos {
			for _, value := range values {
				expanded := make(map[string]any, len(combo)+1)
				for k, v := range combo {
					expanded[k] = v
				}
				expanded[key] = value
				next = append(next, expanded)
			}
		}
		combos = next
	}
	return combos
}
