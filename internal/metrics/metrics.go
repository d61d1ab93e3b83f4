// Package metrics exposes the mesh's Prometheus instrumentation: the
// contact table's current size and population, and counters for the
// gossip traffic flowing through internal/discovery and
// internal/dupresolve. Every node process registers under its own
// instance label so a single Prometheus job scraping several nodes can
// tell them apart.
package metrics

import (
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// InstanceID is a per-process label distinguishing this node's series from
// any other dchat process the same Prometheus job scrapes. It is
// generated once at package init.
var InstanceID = uuid.New().String()

var (
	tableUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "dchat_contacttable_used_contacts",
		Help:        "Current population of the contact table.",
		ConstLabels: prometheus.Labels{"instance": InstanceID},
	})

	tableSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "dchat_contacttable_size",
		Help:        "Current capacity (cl_size) of the contact table.",
		ConstLabels: prometheus.Labels{"instance": InstanceID},
	})

	contactsGossiped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "dchat_discovery_contacts_gossiped_total",
			Help:        "Contact lines sent or received via control/discover PDUs.",
			ConstLabels: prometheus.Labels{"instance": InstanceID},
		},
		[]string{"direction"}, // "sent" or "received"
	)

	duplicatesResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "dchat_dupresolve_resolved_total",
		Help:        "Duplicate-connection collisions resolved by dupresolve.CheckDuplicates.",
		ConstLabels: prometheus.Labels{"instance": InstanceID},
	})

	dialFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "dchat_discovery_dial_failures_total",
		Help:        "Outbound dials that failed while applying a discover PDU.",
		ConstLabels: prometheus.Labels{"instance": InstanceID},
	})
)

func init() {
	prometheus.MustRegister(tableUsed, tableSize, contactsGossiped, duplicatesResolved, dialFailures)
}

// ObserveTable records the contact table's current size and population.
// Callers typically invoke this from the event loop after each mutating
// table operation.
func ObserveTable(used, size int) {
	tableUsed.Set(float64(used))
	tableSize.Set(float64(size))
}

// ContactsSent records n contact lines gossiped out in a discover PDU.
func ContactsSent(n int) {
	if n > 0 {
		contactsGossiped.WithLabelValues("sent").Add(float64(n))
	}
}

// ContactsReceived records n contact lines newly learned from a peer's
// discover PDU.
func ContactsReceived(n int) {
	if n > 0 {
		contactsGossiped.WithLabelValues("received").Add(float64(n))
	}
}

// DuplicateResolved records one collision resolved by dupresolve.
func DuplicateResolved() {
	duplicatesResolved.Inc()
}

// DialFailure records one failed outbound dial while chasing a gossiped
// contact.
func DialFailure() {
	dialFailures.Inc()
}
