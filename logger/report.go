package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type componentStat struct {
	warns  int64
	errors int64
}

var (
	chainFetches int64
	chainBytes   int64
	s3Writes     int64
	s3Bytes      int64
	components   sync.Map // map[string]*componentStat
)

func statFor(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&statFor(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&statFor(component).errors, 1)
}

// IncrementChainFetch records one option chain payload read from the vendor.
func IncrementChainFetch(size int) {
	atomic.AddInt64(&chainFetches, 1)
	atomic.AddInt64(&chainBytes, int64(size))
}

// IncrementS3Write records one object uploaded by the writer.
func IncrementS3Write(size int64) {
	atomic.AddInt64(&s3Writes, 1)
	atomic.AddInt64(&s3Bytes, size)
}

// ComponentCounts returns the warn and error counts recorded for component.
func ComponentCounts(component string) (warns, errors int64) {
	v, ok := components.Load(component)
	if !ok {
		return 0, 0
	}
	cs := v.(*componentStat)
	return atomic.LoadInt64(&cs.warns), atomic.LoadInt64(&cs.errors)
}

// StartReport logs a runtime report every interval until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	perComponent := map[string]map[string]int64{}
	names := []string{}
	components.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*componentStat)
		perComponent[name] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		names = append(names, name)
		return true
	})
	sort.Strings(names)

	fields := Fields{
		"chain_fetches": atomic.LoadInt64(&chainFetches),
		"chain_bytes":   atomic.LoadInt64(&chainBytes),
		"s3_writes":     atomic.LoadInt64(&s3Writes),
		"s3_bytes":      atomic.LoadInt64(&s3Bytes),
		"goroutines":    runtime.NumGoroutine(),
		"heap_mb":       int64(ms.HeapAlloc) / 1024 / 1024,
		"components":    perComponent,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("ChainFetches"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["chain_fetches"].(int64)))},
		{MetricName: aws.String("ChainBytes"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(fields["chain_bytes"].(int64)))},
		{MetricName: aws.String("S3Writes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["s3_writes"].(int64)))},
		{MetricName: aws.String("Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(runtime.NumGoroutine()))},
		{MetricName: aws.String("HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(ms.HeapAlloc) / 1024 / 1024)},
	}
	for _, name := range names {
		dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("Warnings"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(perComponent[name]["warns"]))},
			cwtypes.MetricDatum{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(perComponent[name]["errors"]))},
		)
	}

	publishMetrics(ctx, data)
}
