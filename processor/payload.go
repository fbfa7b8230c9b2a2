package processor

import (
	jsoniter "github.com/json-iterator/go"

	"chainflow/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// recordsKey is the envelope member holding the record list.
const recordsKey = "Records"

// ParsePayload decodes an option chain envelope and returns its records.
// Invalid JSON or a missing or non-array Records member yields an empty
// result. Elements that are not arrays become nil records so the decoder
// rejects them.
func ParsePayload(data []byte) []models.RawRecord {
	if len(data) == 0 {
		return []models.RawRecord{}
	}
	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		return []models.RawRecord{}
	}
	return RecordsFromEnvelope(envelope)
}

// RecordsFromEnvelope extracts the record list from an already decoded
// envelope.
func RecordsFromEnvelope(envelope map[string]any) []models.RawRecord {
	list, ok := envelope[recordsKey].([]any)
	if !ok {
		return []models.RawRecord{}
	}
	out := make([]models.RawRecord, 0, len(list))
	for _, item := range list {
		switch rec := item.(type) {
		case []any:
			out = append(out, models.RawRecord(rec))
		case models.RawRecord:
			out = append(out, rec)
		default:
			out = append(out, nil)
		}
	}
	return out
}
