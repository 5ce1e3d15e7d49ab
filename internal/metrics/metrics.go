package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/lendermatch/internal/logger"
	"github.com/liamcoop/lendermatch/rules"
)

const namespace = "lendermatch"

// Collector records underwriting and HTTP metrics. It implements
// rules.Observer.
//
// Metrics:
//   - lendermatch_underwriting_runs_total: runs by outcome (matched, no_match)
//   - lendermatch_underwriting_duration_seconds: time spent matching all lenders
//   - lendermatch_underwriting_eligible_lenders: eligible lenders per run
//   - lendermatch_rule_verdicts_total: rule outcomes by rule type and verdict
//   - lendermatch_lender_failures_total: lenders whose evaluation failed
//   - lendermatch_http_requests_total: requests by method, route and status
//   - lendermatch_http_request_duration_seconds: request latency by route
type Collector struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	eligible       prometheus.Histogram
	ruleVerdicts   *prometheus.CounterVec
	lenderFailures prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ rules.Observer = (*Collector)(nil)

// NewCollector registers every metric with registry, or with a fresh
// registry when nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "underwriting",
				Name:      "runs_total",
				Help:      "Underwriting runs by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "underwriting",
			Name:      "duration_seconds",
			Help:      "Time spent evaluating all lenders for one application",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~800ms
		}),
		eligible: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "underwriting",
			Name:      "eligible_lenders",
			Help:      "Eligible lenders per underwriting run",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		}),
		ruleVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_verdicts_total",
				Help:      "Rule outcomes in the selected program of each lender",
			},
			[]string{"rule_type", "verdict"},
		),
		lenderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lender_failures_total",
			Help:      "Lenders whose evaluation failed and were reported ineligible",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	registry.MustRegister(
		c.runs,
		c.runDuration,
		c.eligible,
		c.ruleVerdicts,
		c.lenderFailures,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveUnderwriting records one completed run.
func (c *Collector) ObserveUnderwriting(results *rules.UnderwritingResults, elapsed time.Duration) {
	outcome := "no_match"
	if results.EligibleCount > 0 {
		outcome = "matched"
	}
	c.runs.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(elapsed.Seconds())
	c.eligible.Observe(float64(results.EligibleCount))

	ruleErrors := 0
	for _, r := range results.Results {
		for _, d := range r.EvaluationDetails.Details {
			c.ruleVerdicts.WithLabelValues(d.RuleType, d.Verdict.String()).Inc()
			if d.Verdict == rules.VerdictError {
				ruleErrors++
			}
		}
	}
	logger.WarnRuleErrors(ruleErrors)
}

func (c *Collector) ObserveLenderFailure(lenderID string) {
	c.lenderFailures.Inc()
	logger.ErrorLenderFailure()
}

// ObserveRequest records one HTTP request. route is the matched pattern, not
// the raw path, so ids do not explode label cardinality.
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
