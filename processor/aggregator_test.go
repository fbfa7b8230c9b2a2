package processor

import (
	"math"
	"sync"
	"testing"

	appconfig "chainflow/config"
	"chainflow/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func strikesOf(rows []models.StrikeRow) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Strike
	}
	return out
}

func TestAggregateSortsByStrike(t *testing.T) {
	agg := NewDefaultAggregator()
	rows := agg.Aggregate([]models.RawRecord{
		chainRecord("NIFTY", 1300.0, nil),
		chainRecord("NIFTY", 1200.0, nil),
		chainRecord("NIFTY", 1240.0, nil),
	})
	got := strikesOf(rows)
	want := []float64{1200, 1240, 1300}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAggregateDistinctStrikes(t *testing.T) {
	agg := NewDefaultAggregator()
	records := []models.RawRecord{
		chainRecord("NIFTY", 100.0, nil),
		chainRecord("NIFTY", 100, nil),
		chainRecord("NIFTY", 150.5, nil),
		chainRecord("NIFTY", 200.0, nil),
		chainRecord("NIFTY", 150.5, nil),
		make(models.RawRecord, 15),
		chainRecord("NIFTY", "300", nil),
	}
	rows, stats := agg.AggregateWithStats(records)
	if len(rows) != 3 || stats.Strikes != 3 {
		t.Fatalf("expected 3 distinct strikes, got %v", strikesOf(rows))
	}
	if stats.Records != 7 || stats.Accepted != 5 || stats.Rejected != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Strike >= rows[i].Strike {
			t.Fatalf("strikes not strictly increasing: %v", strikesOf(rows))
		}
	}
}

func TestAggregateMergeDisjointFields(t *testing.T) {
	agg := NewDefaultAggregator()
	a := chainRecord("NIFTY", 22000.0, map[int]any{5: 10.0})
	b := chainRecord("NIFTY", 22000.0, map[int]any{7: 11.0})

	for _, order := range [][]models.RawRecord{{a, b}, {b, a}} {
		rows := agg.Aggregate(order)
		if len(rows) != 1 {
			t.Fatalf("expected one row, got %d", len(rows))
		}
		if rows[0].CallBid == nil || *rows[0].CallBid != 10 {
			t.Errorf("call_bid: got %v", rows[0].CallBid)
		}
		if rows[0].CallAsk == nil || *rows[0].CallAsk != 11 {
			t.Errorf("call_ask: got %v", rows[0].CallAsk)
		}
	}
}

func TestAggregateLastPresentValueWins(t *testing.T) {
	agg := NewDefaultAggregator()
	first := chainRecord("NIFTY", 22000.0, map[int]any{5: 10.0, 4: 99.0})
	second := chainRecord("NIFTY", 22000.0, map[int]any{5: 12.0})
	blank := chainRecord("NIFTY", 22000.0, map[int]any{5: 0.0})

	rows := agg.Aggregate([]models.RawRecord{first, second, blank})
	if *rows[0].CallBid != 12 {
		t.Errorf("later present value should win, got %v", *rows[0].CallBid)
	}
	if rows[0].CallLTP == nil || *rows[0].CallLTP != 99 {
		t.Errorf("absent field must not erase earlier value, got %v", rows[0].CallLTP)
	}

	rows = agg.Aggregate([]models.RawRecord{second, first})
	if *rows[0].CallBid != 10 {
		t.Errorf("reordered input should keep the later value, got %v", *rows[0].CallBid)
	}
}

func TestAggregateIdempotentOnDuplicates(t *testing.T) {
	agg := NewDefaultAggregator()
	batch := []models.RawRecord{
		chainRecord("NIFTY", 22000.0, map[int]any{3: 1000.0, 5: 10.0}),
		chainRecord("NIFTY", 22100.0, map[int]any{16: 500.0, 18: 3.5}),
		chainRecord("NIFTY", 22000.0, map[int]any{7: 11.0}),
	}
	once := agg.Aggregate(batch)
	twice := agg.Aggregate(append(append([]models.RawRecord{}, batch...), batch...))
	if len(once) != len(twice) {
		t.Fatalf("row count changed: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Strike != twice[i].Strike {
			t.Fatalf("strike mismatch at %d", i)
		}
		for f := models.Field(0); f < models.FieldCount; f++ {
			a, b := once[i].Get(f), twice[i].Get(f)
			if (a == nil) != (b == nil) || (a != nil && !approx(*a, *b)) {
				t.Fatalf("strike %v field %s differs: %v vs %v", once[i].Strike, f, a, b)
			}
		}
	}
}

func TestAggregateLotSizeConversion(t *testing.T) {
	agg := NewDefaultAggregator()
	rows, stats := agg.AggregateWithStats([]models.RawRecord{
		chainRecord("NIFTY", 22000.0, map[int]any{3: 1000.0, 9: 250.0, 16: 0.0, 19: 75.0, 4: 120.0}),
	})
	if stats.Symbol != "NIFTY" || stats.LotSize != 50 {
		t.Fatalf("unexpected batch symbol/lot: %+v", stats)
	}
	row := rows[0]
	if row.CallOI == nil || !approx(*row.CallOI, 20) {
		t.Errorf("call_oi: got %v", row.CallOI)
	}
	if row.CallVolume == nil || !approx(*row.CallVolume, 5) {
		t.Errorf("call_volume: got %v", row.CallVolume)
	}
	if row.PutOI == nil || *row.PutOI != 0 {
		t.Errorf("put_oi zero must stay present, got %v", row.PutOI)
	}
	if row.PutVolume == nil || !approx(*row.PutVolume, 1.5) {
		t.Errorf("put_volume: got %v", row.PutVolume)
	}
	if row.CallLTP == nil || *row.CallLTP != 120 {
		t.Errorf("call_ltp must not be scaled, got %v", row.CallLTP)
	}
}

func TestAggregateSentinelAfterNormalization(t *testing.T) {
	agg := NewDefaultAggregator()
	rows := agg.Aggregate([]models.RawRecord{
		chainRecord("NIFTY", 22000.0, map[int]any{5: 0.0, 3: 0.0}),
	})
	if rows[0].CallBid != nil {
		t.Errorf("call_bid zero should be absent")
	}
	if rows[0].CallOI == nil || *rows[0].CallOI != 0 {
		t.Errorf("call_oi zero should be present as 0, got %v", rows[0].CallOI)
	}
}

func TestAggregateBatchSymbol(t *testing.T) {
	agg := NewDefaultAggregator()

	_, stats := agg.AggregateWithStats([]models.RawRecord{
		make(models.RawRecord, 3),
		chainRecord("banknifty", 48000.0, nil),
		chainRecord("NIFTY", 22000.0, nil),
	})
	if stats.Symbol != "BANKNIFTY" || stats.LotSize != 15 {
		t.Errorf("batch symbol should come from the first accepted record: %+v", stats)
	}

	_, stats = agg.AggregateWithStats([]models.RawRecord{chainRecord("RELIANCE", 1300.0, nil)})
	if stats.LotSize != 500 {
		t.Errorf("unknown symbol should use default lot size: %+v", stats)
	}

	_, stats = agg.AggregateWithStats([]models.RawRecord{chainRecord(nil, 1300.0, nil)})
	if stats.Symbol != "NIFTY" || stats.LotSize != 50 {
		t.Errorf("missing symbol should use default symbol: %+v", stats)
	}

	_, stats = agg.AggregateWithStats(nil)
	if stats.Symbol != "NIFTY" || stats.Strikes != 0 {
		t.Errorf("empty batch stats: %+v", stats)
	}
}

func TestAggregateNonPositiveLotSize(t *testing.T) {
	decoder := newIndexedDecoder()
	lots := NewLotSizeTable(appconfig.LotSizesConfig{Default: -1, DefaultSymbol: "X"})
	agg := NewAggregator(decoder, lots, "X")

	rows := agg.Aggregate([]models.RawRecord{
		chainRecord("X", 10.0, map[int]any{3: 100.0, 4: 2.0, 9: 5.0, 16: 1.0, 19: 1.0}),
	})
	row := rows[0]
	if row.CallOI != nil || row.CallVolume != nil || row.PutOI != nil || row.PutVolume != nil {
		t.Errorf("lot scaled fields must be absent when lot size is not positive: %+v", row)
	}
	if row.CallLTP == nil || *row.CallLTP != 2 {
		t.Errorf("unscaled fields should be untouched")
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	agg := NewDefaultAggregator()
	for _, batch := range [][]models.RawRecord{nil, {}, {make(models.RawRecord, 15), nil}} {
		rows := agg.Aggregate(batch)
		if rows == nil || len(rows) != 0 {
			t.Errorf("expected empty non-nil result, got %v", rows)
		}
	}
}

func TestAggregateRowsDoNotAlias(t *testing.T) {
	agg := NewDefaultAggregator()
	rows := agg.Aggregate([]models.RawRecord{
		chainRecord("NIFTY", 1.0, map[int]any{4: 5.0}),
		chainRecord("NIFTY", 2.0, map[int]any{4: 5.0}),
	})
	*rows[0].CallLTP = 42
	if *rows[1].CallLTP != 5 {
		t.Fatalf("rows share value storage")
	}
}

func TestAggregateConcurrentUse(t *testing.T) {
	agg := NewDefaultAggregator()
	batch := []models.RawRecord{
		chainRecord("NIFTY", 22000.0, map[int]any{3: 1000.0}),
		chainRecord("NIFTY", 21900.0, map[int]any{3: 500.0}),
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows := agg.Aggregate(batch)
			if len(rows) != 2 || !approx(*rows[1].CallOI, 20) {
				t.Errorf("unexpected concurrent result: %+v", rows)
			}
		}()
	}
	wg.Wait()
}

func newIndexedDecoder() *Decoder {
	d, err := NewDecoder(IndexedLayout)
	if err != nil {
		panic(err)
	}
	return d
}

func BenchmarkAggregate(b *testing.B) {
	agg := NewDefaultAggregator()
	batch := make([]models.RawRecord, 0, 200)
	for i := 0; i < 200; i++ {
		batch = append(batch, chainRecord("NIFTY", float64(20000+50*(i%100)), map[int]any{3: 1000.0, 4: 10.0, 5: 9.5}))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		agg.Aggregate(batch)
	}
}
