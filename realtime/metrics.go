package realtime

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports per-channel client counters. A nil *Metrics records nothing.
type Metrics struct {
	messagesTotal    *prometheus.CounterVec
	parseErrorsTotal *prometheus.CounterVec
	reconnectsTotal  *prometheus.CounterVec
	exhaustedTotal   *prometheus.CounterVec
	droppedSends     *prometheus.CounterVec
	state            *prometheus.GaugeVec
}

func newCounterVec(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtside",
			Subsystem: "realtime",
			Name:      name,
			Help:      help,
		},
		[]string{"channel"},
	)
}

// NewMetrics creates the collectors and registers them with reg.
// Collectors already registered by another Metrics on the same registry are
// reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messagesTotal:    newCounterVec("messages_total", "Messages dispatched to listeners."),
		parseErrorsTotal: newCounterVec("parse_errors_total", "Inbound frames dropped as malformed JSON."),
		reconnectsTotal:  newCounterVec("reconnects_total", "Reconnect attempts started."),
		exhaustedTotal:   newCounterVec("reconnect_exhausted_total", "Times the reconnect budget ran out."),
		droppedSends:     newCounterVec("dropped_sends_total", "Outbound messages dropped because the channel was not open."),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "courtside",
				Subsystem: "realtime",
				Name:      "state",
				Help:      "Current connection state (0 idle, 1 connecting, 2 open, 3 closing, 4 closed).",
			},
			[]string{"channel"},
		),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.messagesTotal, err = register(reg, m.messagesTotal); err != nil {
		return nil, err
	}
	if m.parseErrorsTotal, err = register(reg, m.parseErrorsTotal); err != nil {
		return nil, err
	}
	if m.reconnectsTotal, err = register(reg, m.reconnectsTotal); err != nil {
		return nil, err
	}
	if m.exhaustedTotal, err = register(reg, m.exhaustedTotal); err != nil {
		return nil, err
	}
	if m.droppedSends, err = register(reg, m.droppedSends); err != nil {
		return nil, err
	}
	if m.state, err = register(reg, m.state); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) message(channel string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(channel).Inc()
}

func (m *Metrics) parseError(channel string) {
	if m == nil {
		return
	}
	m.parseErrorsTotal.WithLabelValues(channel).Inc()
}

func (m *Metrics) reconnect(channel string) {
	if m == nil {
		return
	}
	m.reconnectsTotal.WithLabelValues(channel).Inc()
}

func (m *Metrics) exhausted(channel string) {
	if m == nil {
		return
	}
	m.exhaustedTotal.WithLabelValues(channel).Inc()
}

func (m *Metrics) droppedSend(channel string) {
	if m == nil {
		return
	}
	m.droppedSends.WithLabelValues(channel).Inc()
}

func (m *Metrics) setState(channel string, s State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(channel).Set(float64(s))
}
