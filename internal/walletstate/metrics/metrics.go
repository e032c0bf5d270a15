package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the wallet state engine.
type Metrics struct {
	// Appended events by kind
	EventsAppended *prometheus.CounterVec

	// Events absorbed into the base state
	EventsFolded prometheus.Counter

	// Merge outcomes: "merged", "fast_forward", "identical", "incompatible"
	MergeOutcome *prometheus.CounterVec

	// Events of a kind this build cannot fold
	UnknownKinds prometheus.Counter

	// Containers rejected by the consistency verifier
	CorruptHistories prometheus.Counter

	// Tail length observed after each fold
	TailLength prometheus.Histogram
}

// New registers the engine metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wwwallet_walletstate_events_appended_total",
			Help: "Total events appended to wallet state containers by kind",
		}, []string{"kind"}),

		EventsFolded: factory.NewCounter(prometheus.CounterOpts{
			Name: "wwwallet_walletstate_events_folded_total",
			Help: "Total events folded into container base states",
		}),

		MergeOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wwwallet_walletstate_merges_total",
			Help: "Total container merges by outcome",
		}, []string{"outcome"}),

		UnknownKinds: factory.NewCounter(prometheus.CounterOpts{
			Name: "wwwallet_walletstate_unknown_event_kinds_total",
			Help: "Events preserved without folding because their kind is not recognized",
		}),

		CorruptHistories: factory.NewCounter(prometheus.CounterOpts{
			Name: "wwwallet_walletstate_corrupt_histories_total",
			Help: "Containers that failed hash chain verification",
		}),

		TailLength: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wwwallet_walletstate_tail_length",
			Help:    "Number of unfolded tail events left after compaction",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
	}
}

// IncrementAppended records an appended event.
func (m *Metrics) IncrementAppended(kind string) {
	if m != nil {
		m.EventsAppended.WithLabelValues(kind).Inc()
	}
}

// AddFolded records events folded by one compaction.
func (m *Metrics) AddFolded(n int) {
	if m != nil && n > 0 {
		m.EventsFolded.Add(float64(n))
	}
}

// IncrementMergeOutcome records the outcome of a merge.
func (m *Metrics) IncrementMergeOutcome(outcome string) {
	if m != nil {
		m.MergeOutcome.WithLabelValues(outcome).Inc()
	}
}

// AddUnknownKinds records preserved events of unknown kind.
func (m *Metrics) AddUnknownKinds(n int) {
	if m != nil && n > 0 {
		m.UnknownKinds.Add(float64(n))
	}
}

// IncrementCorrupt records a container rejected by verification.
func (m *Metrics) IncrementCorrupt() {
	if m != nil {
		m.CorruptHistories.Inc()
	}
}

// ObserveTailLength records the tail length left after a fold.
func (m *Metrics) ObserveTailLength(n int) {
	if m != nil {
		m.TailLength.Observe(float64(n))
	}
}
