package processor

import (
	"fmt"
	"math"
	"strings"

	"chainflow/models"
)

// Decoder turns one positional record into the quote fields it carries.
// It holds no mutable state and is safe for concurrent use.
type Decoder struct {
	layout Layout
}

// NewDecoder validates layout and returns a decoder bound to it.
func NewDecoder(layout Layout) (*Decoder, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	return &Decoder{layout: layout}, nil
}

// Layout returns the layout the decoder was built with.
func (d *Decoder) Layout() Layout {
	return d.layout
}

// Decode extracts the strike, symbol and quote fields from record. It
// reports false when the record is too short or has no usable strike.
// Values are returned as reported by the vendor; no unit conversion happens
// here.
func (d *Decoder) Decode(record models.RawRecord) (models.PartialStrikeFields, bool) {
	var out models.PartialStrikeFields
	if len(record) < d.layout.MinArity {
		return out, false
	}

	strike, ok := toFloat(record[d.layout.StrikeIndex])
	if !ok {
		return out, false
	}
	out.Strike = strike

	if s, ok := record[d.layout.SymbolIndex].(string); ok {
		out.Symbol = strings.TrimSpace(s)
	}

	for _, fs := range d.layout.Fields {
		v, ok := toFloat(record[fs.Index])
		if !ok {
			continue
		}
		if fs.Rule == RulePositive && v <= 0 {
			continue
		}
		out.Values[fs.Field] = models.GetPointer(v)
	}
	return out, true
}

type float64er interface {
	Float64() (float64, error)
}

// toFloat accepts Go numeric kinds and decoded JSON number types. NaN and
// infinities are treated as absent.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float64er:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
