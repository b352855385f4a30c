package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}
	if m.HandshakeDuration == nil || m.SessionDuration == nil ||
		m.ConnectAttempts == nil || m.ReconnectAttempts == nil ||
		m.TranscriptEntries == nil || m.AudioFramesSent == nil ||
		m.AudioFramesDropped == nil || m.TransportErrors == nil ||
		m.MalformedMessages == nil || m.ActiveSessions == nil {
		t.Error("NewMetrics() left an instrument nil")
	}
}

func TestRecordConnectAttemptIsCollected(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}

	ctx := context.Background()
	m.RecordConnectAttempt(ctx, "wss://a.example/ws", "ok")
	m.RecordConnectAttempt(ctx, "wss://a.example/ws", "error")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	found := false
	for _, scope := range rm.ScopeMetrics {
		for _, met := range scope.Metrics {
			if met.Name == "viva.transport.connect.attempts" {
				found = true
				sum, ok := met.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("connect attempts data type = %T, want Sum[int64]", met.Data)
				}
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				if total != 2 {
					t.Errorf("connect attempts total = %d, want 2", total)
				}
			}
		}
	}
	if !found {
		t.Error("viva.transport.connect.attempts not collected")
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics() returned different pointers")
	}
}
