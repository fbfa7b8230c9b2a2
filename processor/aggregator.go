package processor

import (
	rbt "github.com/emirpasic/gods/trees/redblacktree"
	utils "github.com/emirpasic/gods/utils"
	"github.com/shopspring/decimal"

	"chainflow/models"
)

func compareStrike(a, b interface{}) int {
	return utils.Float64Comparator(a.(float64), b.(float64))
}

// AggregateStats describes one aggregation run.
type AggregateStats struct {
	Records  int
	Accepted int
	Rejected int
	Strikes  int
	Symbol   string
	LotSize  int
}

// Aggregator merges decoded records into one row per strike and converts
// lot-multiplied quantities into contract counts. All merge state lives in
// a single call so an Aggregator is safe for concurrent use.
type Aggregator struct {
	decoder       *Decoder
	lots          LotSizer
	defaultSymbol string
	scaled        []models.Field
}

// NewAggregator wires a decoder and a lot size source. defaultSymbol is used
// when no accepted record names its underlying.
func NewAggregator(decoder *Decoder, lots LotSizer, defaultSymbol string) *Aggregator {
	if lots == nil {
		lots = DefaultLotSizeTable()
	}
	if defaultSymbol == "" {
		defaultSymbol = defaultLotSymbol
	}
	return &Aggregator{
		decoder:       decoder,
		lots:          lots,
		defaultSymbol: normalizeSymbol(defaultSymbol),
		scaled:        decoder.Layout().LotScaledFields(),
	}
}

// NewDefaultAggregator uses the indexed record layout and the built-in lot
// sizes.
func NewDefaultAggregator() *Aggregator {
	decoder, err := NewDecoder(IndexedLayout)
	if err != nil {
		panic(err)
	}
	lots := DefaultLotSizeTable()
	return NewAggregator(decoder, lots, lots.DefaultSymbol())
}

// Aggregate returns one row per distinct strike in ascending strike order.
func (a *Aggregator) Aggregate(records []models.RawRecord) []models.StrikeRow {
	rows, _ := a.AggregateWithStats(records)
	return rows
}

// AggregatePayload parses a JSON envelope and aggregates its records.
func (a *Aggregator) AggregatePayload(data []byte) ([]models.StrikeRow, AggregateStats) {
	return a.AggregateWithStats(ParsePayload(data))
}

// AggregateWithStats is Aggregate plus counters describing the run.
func (a *Aggregator) AggregateWithStats(records []models.RawRecord) ([]models.StrikeRow, AggregateStats) {
	stats := AggregateStats{Records: len(records)}
	tree := rbt.NewWith(compareStrike)

	symbolSet := false
	for _, rec := range records {
		partial, ok := a.decoder.Decode(rec)
		if !ok {
			stats.Rejected++
			continue
		}
		stats.Accepted++
		if !symbolSet {
			stats.Symbol = normalizeSymbol(partial.Symbol)
			symbolSet = true
		}

		var row *models.StrikeRow
		if v, found := tree.Get(partial.Strike); found {
			row = v.(*models.StrikeRow)
		} else {
			row = &models.StrikeRow{Strike: partial.Strike}
			tree.Put(partial.Strike, row)
		}
		for f, v := range partial.Values {
			if v != nil {
				row.Set(models.Field(f), v)
			}
		}
	}

	if stats.Symbol == "" {
		stats.Symbol = a.defaultSymbol
	}
	stats.LotSize = a.lots.LotSize(stats.Symbol)
	stats.Strikes = tree.Size()

	rows := make([]models.StrikeRow, 0, tree.Size())
	it := tree.Iterator()
	for it.Next() {
		row := it.Value().(*models.StrikeRow)
		a.normalize(row, stats.LotSize)
		rows = append(rows, *row)
	}
	return rows, stats
}

// normalize divides lot-scaled fields by lot. A non-positive lot leaves
// those fields absent.
func (a *Aggregator) normalize(row *models.StrikeRow, lot int) {
	for _, f := range a.scaled {
		v := row.Get(f)
		if v == nil {
			continue
		}
		if lot <= 0 {
			row.Set(f, nil)
			continue
		}
		q, _ := decimal.NewFromFloat(*v).Div(decimal.NewFromInt(int64(lot))).Float64()
		row.Set(f, &q)
	}
}
