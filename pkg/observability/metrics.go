package observability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/docket/pkg/domain"
)

// Metrics records session activity as Prometheus collectors.
type Metrics struct {
	transitions *prometheus.CounterVec
	answers     *prometheus.CounterVec
	errors      *prometheus.CounterVec
	thinking    prometheus.Histogram

	mu      sync.Mutex
	started map[string]time.Time // SessionID -> thinking start
}

// NewMetrics creates the collectors and registers them on reg.
// Collectors already registered (e.g. by a second Metrics on the same
// registry) are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_phase_transitions_total",
			Help: "Session phase transitions",
		}, []string{"from", "to"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_answers_total",
			Help: "Answers submitted per question",
		}, []string{"question_id"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_errors_total",
			Help: "Errors surfaced to users by kind",
		}, []string{"kind"}),
		thinking: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docket_thinking_seconds",
			Help:    "Time the thinking indicator stayed visible",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		started: make(map[string]time.Time),
	}

	var err error
	m.transitions = register(reg, m.transitions, &err)
	m.answers = register(reg, m.answers, &err)
	m.errors = register(reg, m.errors, &err)
	m.thinking = register(reg, m.thinking, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

// Hooks returns the hooks feeding the collectors.
func (m *Metrics) Hooks() domain.Hooks {
	return domain.Hooks{
		OnPhaseChange: func(_ context.Context, e *domain.PhaseEvent) {
			m.transitions.WithLabelValues(string(e.From), string(e.To)).Inc()
			if e.To.IsTerminal() {
				m.mu.Lock()
				delete(m.started, e.SessionID)
				m.mu.Unlock()
			}
		},
		OnEcho: func(_ context.Context, e *domain.EchoEvent) {
			m.answers.WithLabelValues(e.QuestionID).Inc()
		},
		OnError: func(_ context.Context, e *domain.ErrorEvent) {
			m.errors.WithLabelValues(string(e.Kind)).Inc()
		},
		OnThinking: m.onThinking,
	}
}

func (m *Metrics) onThinking(_ context.Context, e *domain.ThinkingEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Active {
		m.started[e.SessionID] = e.Timestamp
		return
	}
	start, ok := m.started[e.SessionID]
	if !ok {
		return
	}
	delete(m.started, e.SessionID)
	if d := e.Timestamp.Sub(start); d >= 0 {
		m.thinking.Observe(d.Seconds())
	}
}
