package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names and dimensions published under the configured namespace.
const (
	MetricAPIRequestCount    = "APIRequestCount"
	MetricAPILatency         = "APILatency"
	MetricGateDecision       = "GateDecision"
	MetricUsageCountersReset = "UsageCountersReset"

	DimMethod = "Method"
	DimRoute  = "Route"
	DimStatus = "Status"
	DimKind   = "Kind"
	DimResult = "Result"
)

// maxDatumsPerCall is the PutMetricData batch limit.
const maxDatumsPerCall = 1000

// maxBufferedDatums bounds memory when flushing keeps failing.
const maxBufferedDatums = 20000

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics buffers datums in memory and publishes them on Flush.
// Recording never performs I/O, so it is safe on the request path.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	buf     []cwtypes.MetricDatum
	dropped int
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordRequest implements MetricsCollector.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	ts := m.now()
	m.add(
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  aws.Time(ts),
			Dimensions: []cwtypes.Dimension{
				dim(DimMethod, method),
				dim(DimRoute, endpoint),
				dim(DimStatus, status),
			},
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Timestamp:  aws.Time(ts),
			Dimensions: []cwtypes.Dimension{
				dim(DimMethod, method),
				dim(DimRoute, endpoint),
			},
		},
	)
}

// RecordGateDecision implements MetricsCollector.
func (m *CloudWatchMetrics) RecordGateDecision(kind string, blocked bool) {
	result := "allowed"
	if blocked {
		result = "blocked"
	}
	m.add(cwtypes.MetricDatum{
		MetricName: aws.String(MetricGateDecision),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  aws.Time(m.now()),
		Dimensions: []cwtypes.Dimension{
			dim(DimKind, kind),
			dim(DimResult, result),
		},
	})
}

// RecordUsageCountersReset records how many counters a rollover run reset.
func (m *CloudWatchMetrics) RecordUsageCountersReset(count int64) {
	m.add(cwtypes.MetricDatum{
		MetricName: aws.String(MetricUsageCountersReset),
		Value:      aws.Float64(float64(count)),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  aws.Time(m.now()),
	})
}

func (m *CloudWatchMetrics) add(datums ...cwtypes.MetricDatum) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range datums {
		if len(m.buf) >= maxBufferedDatums {
			m.dropped++
			continue
		}
		m.buf = append(m.buf, d)
	}
}

// Flush publishes all buffered datums in batches of at most 1000. Datums in
// a failed batch are discarded; the first error is returned after every
// batch has been attempted.
func (m *CloudWatchMetrics) Flush(ctx context.Context) error {
	m.mu.Lock()
	pending := m.buf
	dropped := m.dropped
	m.buf = nil
	m.dropped = 0
	m.mu.Unlock()

	if dropped > 0 {
		m.logger.Warn("metric datums dropped, buffer full", "dropped", dropped)
	}

	var firstErr error
	for start := 0; start < len(pending); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(pending))
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: pending[start:end],
		})
		if err != nil {
			m.logger.Error("failed to publish metrics",
				"error", err.Error(),
				"datums", end-start,
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("put metric data: %w", err)
			}
		}
	}
	return firstErr
}

// Pending returns the number of buffered datums.
func (m *CloudWatchMetrics) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}

// RunFlusher flushes every interval until ctx is cancelled, then once more
// with a short grace period.
func (m *CloudWatchMetrics) RunFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = m.Flush(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = m.Flush(final)
			cancel()
			return
		}
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// NoopMetrics discards everything. Used when metrics are disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordRequest(string, string, string, time.Duration) {}
func (NoopMetrics) RecordGateDecision(string, bool)                     {}
func (NoopMetrics) RecordUsageCountersReset(int64)                      {}
func (NoopMetrics) Flush(context.Context) error                         { return nil }

var (
	_ MetricsCollector = (*CloudWatchMetrics)(nil)
	_ MetricsCollector = NoopMetrics{}
)
