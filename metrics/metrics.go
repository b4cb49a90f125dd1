// Package metrics exports auth activity as prometheus counters.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	auth "github.com/service-laboratory/lab-auth"
)

// ActivitySink counts every auth.ActivityEvent by type
type ActivitySink struct {
	events *prometheus.CounterVec
}

var _ auth.ActivitySink = (*ActivitySink)(nil)

// NewActivitySink registers the counters on reg. A nil reg uses the
// default registerer.
func NewActivitySink(reg prometheus.Registerer) (*ActivitySink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "labauth",
			Name:      "activity_events_total",
			Help:      "Auth activity events by type",
		},
		[]string{"event"},
	)

	if err := reg.Register(events); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			events = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}

	return &ActivitySink{events: events}, nil
}

// Record implements auth.ActivitySink
func (s *ActivitySink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.events.WithLabelValues(string(event.EventType)).Inc()
	return nil
}

// Counter exposes the underlying vector, used by tests
func (s *ActivitySink) Counter() *prometheus.CounterVec {
	return s.events
}
