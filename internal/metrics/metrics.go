package metrics

import (
	"chainflow/logger"
)

// EmitMetric logs a metric and forwards numeric values to CloudWatch through
// the logger. A nil log falls back to the global logger.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	if log == nil {
		log = logger.GetLogger()
	}
	copied := make(logger.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	log.LogMetric(component, metric, value, metricType, copied)
}
