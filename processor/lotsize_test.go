package processor

import (
	"testing"

	appconfig "chainflow/config"
)

func TestDefaultLotSizeTable(t *testing.T) {
	lots := DefaultLotSizeTable()
	cases := map[string]int{
		"NIFTY":     50,
		" nifty ":   50,
		"BankNifty": 15,
		"RELIANCE":  500,
		"":          500,
	}
	for sym, want := range cases {
		if got := lots.LotSize(sym); got != want {
			t.Errorf("LotSize(%q) = %d, want %d", sym, got, want)
		}
	}
	if lots.DefaultSymbol() != "NIFTY" {
		t.Errorf("unexpected default symbol %s", lots.DefaultSymbol())
	}
}

func TestNewLotSizeTable(t *testing.T) {
	lots := NewLotSizeTable(appconfig.LotSizesConfig{
		Default:       250,
		DefaultSymbol: "banknifty",
		Symbols:       map[string]int{"reliance": 505},
	})
	if got := lots.LotSize("RELIANCE"); got != 505 {
		t.Errorf("RELIANCE: got %d", got)
	}
	if got := lots.LotSize("TCS"); got != 250 {
		t.Errorf("TCS: got %d", got)
	}
	if lots.DefaultSymbol() != "BANKNIFTY" {
		t.Errorf("unexpected default symbol %s", lots.DefaultSymbol())
	}

	empty := NewLotSizeTable(appconfig.LotSizesConfig{})
	if empty.LotSize("X") != 500 || empty.DefaultSymbol() != "NIFTY" {
		t.Errorf("empty config should fall back to built-in defaults")
	}
}
