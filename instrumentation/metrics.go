package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the credential core
type Metrics struct {
	// Authorization flow metrics
	FlowsStarted       metric.Int64Counter
	CallbacksProcessed metric.Int64Counter
	CodesExchanged     metric.Int64Counter
	StatesRejected     metric.Int64Counter

	// Token lifecycle metrics
	TokensRefreshed metric.Int64Counter
	RefreshFailures metric.Int64Counter

	// Upstream API metrics
	UpstreamCalls        metric.Int64Counter
	UpstreamCallDuration metric.Float64Histogram

	// Storage metrics
	StorageConnectionsCount metric.Int64ObservableGauge
	StorageStatesCount      metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	serviceMeter := inst.Meter("service")
	providerMeter := inst.Meter("provider")
	storageMeter := inst.Meter("storage")

	var err error
	m.FlowsStarted, err = serviceMeter.Int64Counter(
		"stravalink.flows.started",
		metric.WithDescription("Number of authorization flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flows.started counter: %w", err)
	}

	m.CallbacksProcessed, err = serviceMeter.Int64Counter(
		"stravalink.callbacks.processed",
		metric.WithDescription("Number of provider callbacks processed"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callbacks.processed counter: %w", err)
	}

	m.CodesExchanged, err = serviceMeter.Int64Counter(
		"stravalink.codes.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for token pairs"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create codes.exchanged counter: %w", err)
	}

	m.StatesRejected, err = serviceMeter.Int64Counter(
		"stravalink.states.rejected",
		metric.WithDescription("Number of callbacks rejected before token exchange"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create states.rejected counter: %w", err)
	}

	m.TokensRefreshed, err = serviceMeter.Int64Counter(
		"stravalink.tokens.refreshed",
		metric.WithDescription("Number of access tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.refreshed counter: %w", err)
	}

	m.RefreshFailures, err = serviceMeter.Int64Counter(
		"stravalink.refresh.failures",
		metric.WithDescription("Number of refresh failures that purged a connection"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.failures counter: %w", err)
	}

	m.UpstreamCalls, err = providerMeter.Int64Counter(
		"stravalink.upstream.calls",
		metric.WithDescription("Number of authenticated upstream API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.calls counter: %w", err)
	}

	m.UpstreamCallDuration, err = providerMeter.Float64Histogram(
		"stravalink.upstream.call.duration",
		metric.WithDescription("Upstream API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.call.duration histogram: %w", err)
	}

	m.StorageConnectionsCount, err = storageMeter.Int64ObservableGauge(
		"stravalink.storage.connections.count",
		metric.WithDescription("Number of stored Strava connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.connections.count gauge: %w", err)
	}

	m.StorageStatesCount, err = storageMeter.Int64ObservableGauge(
		"stravalink.storage.states.count",
		metric.WithDescription("Number of in-flight authorization states"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.states.count gauge: %w", err)
	}

	return m, nil
}
