package obs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// PushJob is the Pushgateway job name runs are grouped under.
const PushJob = "uifixture"

var registry = prometheus.NewRegistry()

var (
	// FixturesCreated counts fixture entities created through the remote API.
	FixturesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uifixture",
		Name:      "fixtures_created_total",
		Help:      "Fixture entities created through the remote API.",
	}, []string{"kind"})

	// APIRequests counts remote API calls by method and outcome.
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uifixture",
		Name:      "api_requests_total",
		Help:      "Remote API requests by method and status class.",
	}, []string{"method", "status"})

	// WaitTimeouts counts synchronization waits that exhausted their budget.
	WaitTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uifixture",
		Name:      "wait_timeouts_total",
		Help:      "Synchronization waits that timed out.",
	})

	// ObligationsExecuted counts cleanup statements applied to the backing store.
	ObligationsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uifixture",
		Name:      "cleanup_obligations_executed_total",
		Help:      "Cleanup statements applied, by table.",
	}, []string{"table"})

	// FlushFailures counts batched flushes that rolled back.
	FlushFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uifixture",
		Name:      "cleanup_flush_failures_total",
		Help:      "Cleanup flushes that failed and were rolled back.",
	})
)

func init() {
	registry.MustRegister(
		FixturesCreated,
		APIRequests,
		WaitTimeouts,
		ObligationsExecuted,
		FlushFailures,
	)
}

// Registry returns the registry holding fixture lifecycle metrics.
func Registry() *prometheus.Registry {
	return registry
}

// Snapshot gathers the registry into a map keyed by series, e.g.
// uifixture_fixtures_created_total{kind="user"}.
func Snapshot() (map[string]float64, error) {
	families, err := registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	out := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			out[seriesName(f.GetName(), m.GetLabel())] = metricValue(m)
		}
	}
	return out, nil
}

// LogMetrics writes one record per metric family with the value of each of
// its series.
func LogMetrics(ctx context.Context) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	log := From(ctx)
	for _, f := range families {
		values := make(map[string]float64, len(f.GetMetric()))
		var total float64
		for _, m := range f.GetMetric() {
			v := metricValue(m)
			values[labelString(m.GetLabel())] = v
			total += v
		}
		log.Info("metrics", "pkg", "obs", "family", f.GetName(), "total", total, "series", values)
	}
	return nil
}

// PushMetrics sends the registry to a Pushgateway, grouped by run id so
// concurrent runs do not overwrite each other.
func PushMetrics(ctx context.Context, gatewayURL, runID string) error {
	p := push.New(gatewayURL, PushJob).
		Gatherer(registry).
		Format(expfmt.NewFormat(expfmt.TypeTextPlain))
	if runID != "" {
		p = p.Grouping("run_id", runID)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	From(ctx).Info("metrics pushed", "pkg", "obs", "gateway", gatewayURL, "run_id", runID)
	return nil
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	}
	return 0
}

func seriesName(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	return name + "{" + labelString(labels) + "}"
}

func labelString(labels []*dto.LabelPair) string {
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+"="+strconv.Quote(l.GetValue()))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
