package processor

import (
	"testing"

	"chainflow/models"
)

func TestParsePayloadMalformed(t *testing.T) {
	cases := []string{
		``,
		`{}`,
		`not json`,
		`[]`,
		`{"Records": "not-a-list"}`,
		`{"Records": null}`,
		`{"records": [[1,2,3]]}`,
	}
	for _, c := range cases {
		recs := ParsePayload([]byte(c))
		if recs == nil || len(recs) != 0 {
			t.Errorf("%q: expected empty records, got %v", c, recs)
		}
		rows, _ := NewDefaultAggregator().AggregatePayload([]byte(c))
		if rows == nil || len(rows) != 0 {
			t.Errorf("%q: expected empty rows, got %v", c, rows)
		}
	}
}

func TestParsePayloadNonArrayElements(t *testing.T) {
	recs := ParsePayload([]byte(`{"Records": [1, "x", null, [1,2]]}`))
	if len(recs) != 4 {
		t.Fatalf("expected 4 records, got %d", len(recs))
	}
	if recs[0] != nil || recs[1] != nil || recs[2] != nil {
		t.Errorf("non-array elements should be nil records: %v", recs)
	}
	if len(recs[3]) != 2 {
		t.Errorf("array element should be kept: %v", recs[3])
	}
}

func TestAggregatePayload(t *testing.T) {
	payload := `{"Records": [
		["NIFTY", "x", "y", 1000, 101.5, 0, 75, 102, 150, 5000, null, 22100, 88, 50, 89, 25, 2500, null, 0, 750, null],
		["NIFTY", "x", "y", 500, null, 100, null, null, null, null, null, 22000, null, null, null, null, null, null, 12.5, null, null],
		["NIFTY", "short"],
		["NIFTY", "x", "y", null, 20, null, null, null, null, null, null, 22000, null, null, null, null, null, null, null, null, null]
	]}`
	rows, stats := NewDefaultAggregator().AggregatePayload([]byte(payload))
	if stats.Rejected != 1 || stats.Accepted != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(rows) != 2 || rows[0].Strike != 22000 || rows[1].Strike != 22100 {
		t.Fatalf("unexpected rows: %v", strikesOf(rows))
	}

	low := rows[0]
	if low.CallOI == nil || !approx(*low.CallOI, 10) {
		t.Errorf("call_oi: got %v", low.CallOI)
	}
	if low.CallBid == nil || *low.CallBid != 100 {
		t.Errorf("call_bid: got %v", low.CallBid)
	}
	if low.CallLTP == nil || *low.CallLTP != 20 {
		t.Errorf("call_ltp: got %v", low.CallLTP)
	}
	if low.PutLTP == nil || *low.PutLTP != 12.5 {
		t.Errorf("put_ltp: got %v", low.PutLTP)
	}

	high := rows[1]
	if high.CallBid != nil {
		t.Errorf("zero call bid should be absent")
	}
	if high.PutLTP != nil {
		t.Errorf("zero put ltp should be absent")
	}
	if high.PutOI == nil || !approx(*high.PutOI, 50) {
		t.Errorf("put_oi: got %v", high.PutOI)
	}
	if high.PutVolume == nil || !approx(*high.PutVolume, 15) {
		t.Errorf("put_volume: got %v", high.PutVolume)
	}
}

func TestRecordsFromEnvelope(t *testing.T) {
	env := map[string]any{"Records": []any{[]any{1.0}, models.RawRecord{2.0}}}
	recs := RecordsFromEnvelope(env)
	if len(recs) != 2 || len(recs[0]) != 1 || len(recs[1]) != 1 {
		t.Fatalf("unexpected records: %v", recs)
	}
	if len(RecordsFromEnvelope(nil)) != 0 {
		t.Fatalf("nil envelope should yield no records")
	}
}
