package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStrikeRowGetSet(t *testing.T) {
	var row StrikeRow
	for f := Field(0); f < FieldCount; f++ {
		if row.Get(f) != nil {
			t.Fatalf("%s: expected absent on zero row", f)
		}
		v := float64(f) + 1
		row.Set(f, &v)
		v = -1
		got := row.Get(f)
		if got == nil || *got != float64(f)+1 {
			t.Fatalf("%s: set did not copy value, got %v", f, got)
		}
	}
	row.Set(FieldPutLTP, nil)
	if row.PutLTP != nil {
		t.Fatalf("expected nil after clearing put_ltp")
	}
}

func TestStrikeRowJSONNulls(t *testing.T) {
	row := StrikeRow{Strike: 22000, CallLTP: GetPointer(0.0)}
	data, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"call_ltp":0`) {
		t.Fatalf("zero must serialize as a value: %s", s)
	}
	if !strings.Contains(s, `"put_oi":null`) {
		t.Fatalf("absent must serialize as null: %s", s)
	}
}

func TestFieldNames(t *testing.T) {
	if FieldCallOI.String() != "call_oi" || FieldPutVolume.String() != "put_volume" {
		t.Fatalf("unexpected field names %s %s", FieldCallOI, FieldPutVolume)
	}
	if FieldCount.String() != "unknown" {
		t.Fatalf("expected unknown for out of range field")
	}
}
