package processor

import (
	"strings"

	appconfig "chainflow/config"
)

// LotSizer resolves the contract lot size for an underlying symbol.
type LotSizer interface {
	LotSize(symbol string) int
}

// LotSizeTable is a read-only symbol to lot size mapping with a fallback.
type LotSizeTable struct {
	sizes         map[string]int
	defaultSize   int
	defaultSymbol string
}

const (
	defaultLotSize   = 500
	defaultLotSymbol = "NIFTY"
)

// DefaultLotSizeTable returns the built-in index lot sizes.
func DefaultLotSizeTable() *LotSizeTable {
	return &LotSizeTable{
		sizes:         map[string]int{"NIFTY": 50, "BANKNIFTY": 15},
		defaultSize:   defaultLotSize,
		defaultSymbol: defaultLotSymbol,
	}
}

// NewLotSizeTable builds a table from configuration. Missing values fall
// back to the built-in defaults.
func NewLotSizeTable(cfg appconfig.LotSizesConfig) *LotSizeTable {
	t := &LotSizeTable{
		sizes:         make(map[string]int, len(cfg.Symbols)),
		defaultSize:   cfg.Default,
		defaultSymbol: normalizeSymbol(cfg.DefaultSymbol),
	}
	if t.defaultSize == 0 {
		t.defaultSize = defaultLotSize
	}
	if t.defaultSymbol == "" {
		t.defaultSymbol = defaultLotSymbol
	}
	for sym, size := range cfg.Symbols {
		t.sizes[normalizeSymbol(sym)] = size
	}
	return t
}

// LotSize returns the lot size for symbol, or the default when unknown.
func (t *LotSizeTable) LotSize(symbol string) int {
	if size, ok := t.sizes[normalizeSymbol(symbol)]; ok {
		return size
	}
	return t.defaultSize
}

// DefaultSymbol is the symbol assumed when a batch carries none.
func (t *LotSizeTable) DefaultSymbol() string {
	return t.defaultSymbol
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
