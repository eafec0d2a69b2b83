package js

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/zsh04/ai-trader-sub000/internal/strategy"
)

// Generator adapts a JavaScript module to the strategy.Generator interface.
// The VM is single-threaded, so calls are serialized behind a mutex.
type Generator struct {
	name    string
	rt      *goja.Runtime
	handler *goja.Object
	logger  *log.Logger

	mu sync.Mutex
}

type envConfig struct {
	Metadata Metadata       `json:"metadata"`
	Helpers  map[string]any `json:"helpers,omitempty"`
}

type generateInput struct {
	Index   []int64              `json:"index"`
	Columns map[string][]float64 `json:"columns"`
	Labels  map[string][]string  `json:"labels"`
	Params  map[string]any       `json:"params"`
}

type generateResult struct {
	Entries []bool               `json:"entries"`
	Exits   []bool               `json:"exits"`
	Columns map[string][]float64 `json:"columns"`
}

// NewGenerator instantiates a module into a ready generator.
func NewGenerator(module *Module, logger *log.Logger) (*Generator, error) {
	if module == nil {
		return nil, fmt.Errorf("js generator: module required")
	}
	logger = defaultGeneratorLogger(logger)

	rt := goja.New()
	exports, err := runModule(rt, module.Program)
	if err != nil {
		return nil, fmt.Errorf("js generator %s: %w", module.Name, err)
	}

	createValue := exports.Get("create")
	create, ok := goja.AssertFunction(createValue)
	if !ok {
		return nil, fmt.Errorf("js generator %s: create export missing or not callable", module.Name)
	}

	env := envConfig{
		Metadata: module.Metadata,
		Helpers:  map[string]any{"log": makeLogHelper(module.Name, logger)},
	}
	created, err := create(goja.Undefined(), rt.ToValue(env))
	if err != nil {
		return nil, fmt.Errorf("js generator %s: create failed: %w", module.Name, err)
	}
	handler := created.ToObject(rt)
	if handler == nil {
		return nil, fmt.Errorf("js generator %s: create returned non-object", module.Name)
	}
	if _, ok := goja.AssertFunction(handler.Get("generate")); !ok {
		return nil, fmt.Errorf("js generator %s: handler lacks generate method", module.Name)
	}

	return &Generator{
		name:    module.Name,
		rt:      rt,
		handler: handler,
		logger:  logger,
	}, nil
}

// Name returns the registry key declared by module metadata.
func (g *Generator) Name() string { return g.name }

// Generate hands the frame to the script and folds the result columns back.
// Probabilistic gates apply to script output the same way they do to the
// built-in generators, and a missing atr column is backfilled in Go.
func (g *Generator) Generate(f *strategy.Frame, params map[string]any) (*strategy.Frame, error) {
	if params == nil {
		params = map[string]any{}
	}
	n := f.Len()
	input := generateInput{
		Index:   indexMillis(f.Index()),
		Columns: copyNumericColumns(f),
		Labels:  copyLabelColumns(f),
		Params:  params,
	}

	g.mu.Lock()
	value, err := g.callGenerate(input)
	g.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("js generator %s: generate failed: %w", g.name, err)
	}

	var res generateResult
	if err := g.rt.ExportTo(value, &res); err != nil {
		return nil, fmt.Errorf("js generator %s: generate result invalid: %w", g.name, err)
	}
	if len(res.Entries) != n {
		return nil, fmt.Errorf("js generator %s: entries length %d does not match frame length %d", g.name, len(res.Entries), n)
	}
	if res.Exits == nil {
		res.Exits = make([]bool, n)
	}
	if len(res.Exits) != n {
		return nil, fmt.Errorf("js generator %s: exits length %d does not match frame length %d", g.name, len(res.Exits), n)
	}

	strategy.ApplyGates(f, res.Entries, params)

	out := f.Clone()
	for name, series := range res.Columns {
		col := strategy.Column(strings.ToLower(strings.TrimSpace(name)))
		if col == "" {
			continue
		}
		if err := out.SetNumeric(col, series); err != nil {
			return nil, fmt.Errorf("js generator %s: column %q: %w", g.name, name, err)
		}
	}
	if _, ok := out.Numeric(strategy.ColATR); !ok {
		atr, err := strategy.ATRSeries(f, intParam(params, "atr_len", 14))
		if err != nil {
			return nil, fmt.Errorf("js generator %s: %w", g.name, err)
		}
		if err := out.SetNumeric(strategy.ColATR, atr); err != nil {
			return nil, err
		}
	}
	if err := out.SetBool(strategy.ColLongEntry, res.Entries); err != nil {
		return nil, err
	}
	if err := out.SetBool(strategy.ColLongExit, res.Exits); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Generator) callGenerate(input generateInput) (goja.Value, error) {
	method, ok := goja.AssertFunction(g.handler.Get("generate"))
	if !ok {
		return nil, fmt.Errorf("generate method vanished")
	}
	return method(g.handler, g.rt.ToValue(input))
}

// RegisterAll refreshes the loader and registers every module it holds.
func RegisterAll(ctx context.Context, loader *Loader, registry *strategy.Registry, logger *log.Logger) error {
	if err := loader.Refresh(ctx); err != nil {
		return err
	}
	for _, summary := range loader.List() {
		module, err := loader.Get(summary.Name)
		if err != nil {
			return err
		}
		gen, err := NewGenerator(module, logger)
		if err != nil {
			return err
		}
		registry.Register(gen)
		if logger != nil {
			logger.Printf("registered script strategy %s (%s)", summary.Name, summary.Hash[:12])
		}
	}
	return nil
}

func indexMillis(index []time.Time) []int64 {
	out := make([]int64, len(index))
	for i, ts := range index {
		out[i] = ts.UnixMilli()
	}
	return out
}

// copyNumericColumns snapshots float columns so scripts cannot mutate the
// caller's frame through the VM's slice wrappers.
func copyNumericColumns(f *strategy.Frame) map[string][]float64 {
	out := make(map[string][]float64)
	for _, col := range f.NumericColumns() {
		series, _ := f.Numeric(col)
		out[string(col)] = append([]float64(nil), series...)
	}
	return out
}

func copyLabelColumns(f *strategy.Frame) map[string][]string {
	out := make(map[string][]string)
	for _, col := range f.LabelColumns() {
		series, _ := f.Labels(col)
		out[string(col)] = append([]string(nil), series...)
	}
	return out
}

func defaultGeneratorLogger(logger *log.Logger) *log.Logger {
	if logger != nil {
		return logger
	}
	return log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)
}

func makeLogHelper(name string, logger *log.Logger) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		logger.Printf("[%s] %s", name, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func intParam(params map[string]any, key string, def int) int {
	raw, ok := params[key]
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
