package processor

import (
	"fmt"

	"chainflow/models"
)

// SentinelRule decides whether a raw value counts as present.
type SentinelRule int

const (
	// RulePresent accepts any non-null numeric value, zero included.
	RulePresent SentinelRule = iota
	// RulePositive accepts only numeric values greater than zero. The vendor
	// sends 0 for an empty side of the book.
	RulePositive
)

func (r SentinelRule) String() string {
	switch r {
	case RulePresent:
		return "present"
	case RulePositive:
		return "positive"
	}
	return "unknown"
}

// FieldSpec binds one quote field to its position in a record.
type FieldSpec struct {
	Field     models.Field
	Index     int
	Rule      SentinelRule
	LotScaled bool
}

// Layout is the positional description of a vendor record.
type Layout struct {
	Version     string
	MinArity    int
	SymbolIndex int
	StrikeIndex int
	Fields      []FieldSpec
}

// IndexedLayout is the fixed-position record layout used by the option chain
// endpoint.
var IndexedLayout = Layout{
	Version:     "indexed-v1",
	MinArity:    21,
	SymbolIndex: 0,
	StrikeIndex: 11,
	Fields: []FieldSpec{
		{Field: models.FieldCallOI, Index: 3, Rule: RulePresent, LotScaled: true},
		{Field: models.FieldCallLTP, Index: 4, Rule: RulePresent},
		{Field: models.FieldCallBid, Index: 5, Rule: RulePositive},
		{Field: models.FieldCallBidQty, Index: 6, Rule: RulePresent},
		{Field: models.FieldCallAsk, Index: 7, Rule: RulePositive},
		{Field: models.FieldCallAskQty, Index: 8, Rule: RulePresent},
		{Field: models.FieldCallVolume, Index: 9, Rule: RulePresent, LotScaled: true},
		{Field: models.FieldPutBid, Index: 12, Rule: RulePositive},
		{Field: models.FieldPutBidQty, Index: 13, Rule: RulePresent},
		{Field: models.FieldPutAsk, Index: 14, Rule: RulePositive},
		{Field: models.FieldPutAskQty, Index: 15, Rule: RulePresent},
		{Field: models.FieldPutOI, Index: 16, Rule: RulePresent, LotScaled: true},
		{Field: models.FieldPutLTP, Index: 18, Rule: RulePositive},
		{Field: models.FieldPutVolume, Index: 19, Rule: RulePresent, LotScaled: true},
	},
}

// Validate checks that every index fits inside MinArity and that no field or
// position is used twice.
func (l Layout) Validate() error {
	if l.MinArity <= 0 {
		return fmt.Errorf("layout %s: min_arity must be greater than 0", l.Version)
	}
	if l.StrikeIndex < 0 || l.StrikeIndex >= l.MinArity {
		return fmt.Errorf("layout %s: strike index %d out of range", l.Version, l.StrikeIndex)
	}
	if l.SymbolIndex < 0 || l.SymbolIndex >= l.MinArity {
		return fmt.Errorf("layout %s: symbol index %d out of range", l.Version, l.SymbolIndex)
	}
	if l.SymbolIndex == l.StrikeIndex {
		return fmt.Errorf("layout %s: symbol and strike share index %d", l.Version, l.StrikeIndex)
	}

	seenField := make(map[models.Field]bool, len(l.Fields))
	seenIndex := map[int]bool{l.StrikeIndex: true, l.SymbolIndex: true}
	for _, fs := range l.Fields {
		if fs.Field < 0 || fs.Field >= models.FieldCount {
			return fmt.Errorf("layout %s: unknown field %d", l.Version, fs.Field)
		}
		if fs.Index < 0 || fs.Index >= l.MinArity {
			return fmt.Errorf("layout %s: %s index %d out of range", l.Version, fs.Field, fs.Index)
		}
		if seenField[fs.Field] {
			return fmt.Errorf("layout %s: duplicate field %s", l.Version, fs.Field)
		}
		if seenIndex[fs.Index] {
			return fmt.Errorf("layout %s: %s reuses index %d", l.Version, fs.Field, fs.Index)
		}
		seenField[fs.Field] = true
		seenIndex[fs.Index] = true
	}
	return nil
}

// LotScaledFields returns the fields divided by lot size during normalization.
func (l Layout) LotScaledFields() []models.Field {
	var out []models.Field
	for _, fs := range l.Fields {
		if fs.LotScaled {
			out = append(out, fs.Field)
		}
	}
	return out
}
