package models

import (
	"time"
)

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// RECORDS ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// RawRecord is one positional option-chain record as delivered by the vendor.
// Position is the only source of meaning; values are numbers, strings or nil.
type RawRecord []any

// Field identifies one per-strike quote column.
type Field int

const (
	FieldCallOI Field = iota
	FieldCallLTP
	FieldCallBid
	FieldCallBidQty
	FieldCallAsk
	FieldCallAskQty
	FieldCallVolume
	FieldPutOI
	FieldPutLTP
	FieldPutBid
	FieldPutBidQty
	FieldPutAsk
	FieldPutAskQty
	FieldPutVolume

	// FieldCount is the number of quote fields carried per strike.
	FieldCount
)

var fieldNames = [FieldCount]string{
	"call_oi", "call_ltp", "call_bid", "call_bid_qty", "call_ask", "call_ask_qty", "call_volume",
	"put_oi", "put_ltp", "put_bid", "put_bid_qty", "put_ask", "put_ask_qty", "put_volume",
}

func (f Field) String() string {
	if f < 0 || f >= FieldCount {
		return "unknown"
	}
	return fieldNames[f]
}

// PartialStrikeFields is the decoded content of a single RawRecord. A nil
// value means the record did not carry that field.
type PartialStrikeFields struct {
	Symbol string
	Strike float64
	Values [FieldCount]*float64
}

// StrikeRow is one normalized row of the option chain. Open interest and
// volume are expressed in contracts; absent values serialize as null.
type StrikeRow struct {
	Strike     float64  `json:"strike"`
	CallOI     *float64 `json:"call_oi"`
	CallLTP    *float64 `json:"call_ltp"`
	CallBid    *float64 `json:"call_bid"`
	CallBidQty *float64 `json:"call_bid_qty"`
	CallAsk    *float64 `json:"call_ask"`
	CallAskQty *float64 `json:"call_ask_qty"`
	CallVolume *float64 `json:"call_volume"`
	PutOI      *float64 `json:"put_oi"`
	PutLTP     *float64 `json:"put_ltp"`
	PutBid     *float64 `json:"put_bid"`
	PutBidQty  *float64 `json:"put_bid_qty"`
	PutAsk     *float64 `json:"put_ask"`
	PutAskQty  *float64 `json:"put_ask_qty"`
	PutVolume  *float64 `json:"put_volume"`
}

func (r *StrikeRow) slot(f Field) **float64 {
	switch f {
	case FieldCallOI:
		return &r.CallOI
	case FieldCallLTP:
		return &r.CallLTP
	case FieldCallBid:
		return &r.CallBid
	case FieldCallBidQty:
		return &r.CallBidQty
	case FieldCallAsk:
		return &r.CallAsk
	case FieldCallAskQty:
		return &r.CallAskQty
	case FieldCallVolume:
		return &r.CallVolume
	case FieldPutOI:
		return &r.PutOI
	case FieldPutLTP:
		return &r.PutLTP
	case FieldPutBid:
		return &r.PutBid
	case FieldPutBidQty:
		return &r.PutBidQty
	case FieldPutAsk:
		return &r.PutAsk
	case FieldPutAskQty:
		return &r.PutAskQty
	case FieldPutVolume:
		return &r.PutVolume
	}
	return nil
}

// Get returns the value of f, or nil when absent.
func (r *StrikeRow) Get(f Field) *float64 {
	if s := r.slot(f); s != nil {
		return *s
	}
	return nil
}

// Set stores a copy of v into f. A nil v clears the field.
func (r *StrikeRow) Set(f Field, v *float64) {
	s := r.slot(f)
	if s == nil {
		return
	}
	if v == nil {
		*s = nil
		return
	}
	*s = GetPointer(*v)
}

// GetPointer returns a pointer to a copy of v.
func GetPointer[T any](v T) *T {
	return &v
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// PIPELINE //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// RawChainMessage carries one fetched option-chain payload.
type RawChainMessage struct {
	Symbol    string
	Expiry    string // DD-MM-YYYY
	Spot      *float64
	Data      []byte
	Timestamp time.Time
	Source    string
}

// ChainSnapshot is the normalized option chain produced from one payload.
type ChainSnapshot struct {
	BatchID       string      `json:"batch_id"`
	Symbol        string      `json:"symbol"`
	Underlying    string      `json:"underlying"`
	Expiry        string      `json:"expiry"`
	Spot          *float64    `json:"spot"`
	LotSize       int         `json:"lot_size"`
	Rows          []StrikeRow `json:"rows"`
	RecordCount   int         `json:"record_count"`
	RejectedCount int         `json:"rejected_count"`
	Timestamp     time.Time   `json:"timestamp"`
	ProcessedAt   time.Time   `json:"processed_at"`
}
