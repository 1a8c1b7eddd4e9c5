// Package metrics exposes Prometheus collectors for agent activity.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "truebit"

// Metrics records agent activity. A nil *Metrics discards everything.
type Metrics struct {
	eventsDispatched *prometheus.CounterVec
	handlerErrors    *prometheus.CounterVec
	transactions     *prometheus.CounterVec
	schedulerChecks  *prometheus.CounterVec
	registryTasks    *prometheus.GaugeVec
	registryGames    *prometheus.GaugeVec
}

// New builds the collectors and registers them with reg. Collectors that
// are already registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Ledger events delivered to agent handlers.",
		}, []string{"role", "event"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Event handler invocations that returned an error.",
		}, []string{"role", "event"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions submitted, by contract method and outcome.",
		}, []string{"role", "method", "status"}),
		schedulerChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_checks_total",
			Help:      "Timeout predicate evaluations, by outcome.",
		}, []string{"role", "check", "outcome"}),
		registryTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_tasks",
			Help:      "Tasks currently owned by an agent.",
		}, []string{"role"}),
		registryGames: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_games",
			Help:      "Verification games currently owned by an agent.",
		}, []string{"role"}),
	}

	var err error
	if m.eventsDispatched, err = registerCounter(reg, m.eventsDispatched); err != nil {
		return nil, err
	}
	if m.handlerErrors, err = registerCounter(reg, m.handlerErrors); err != nil {
		return nil, err
	}
	if m.transactions, err = registerCounter(reg, m.transactions); err != nil {
		return nil, err
	}
	if m.schedulerChecks, err = registerCounter(reg, m.schedulerChecks); err != nil {
		return nil, err
	}
	if m.registryTasks, err = registerGauge(reg, m.registryTasks); err != nil {
		return nil, err
	}
	if m.registryGames, err = registerGauge(reg, m.registryGames); err != nil {
		return nil, err
	}
	return m, nil
}

func registerCounter(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, g *prometheus.GaugeVec) (*prometheus.GaugeVec, error) {
	if err := reg.Register(g); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return g, nil
}

// EventDispatched counts a record handed to handlers.
func (m *Metrics) EventDispatched(role, event string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(role, event).Inc()
}

// HandlerError counts a failed handler invocation.
func (m *Metrics) HandlerError(role, event string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(role, event).Inc()
}

// Transaction counts a submitted transaction.
func (m *Metrics) Transaction(role, method string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.transactions.WithLabelValues(role, method, status).Inc()
}

// Check outcomes.
const (
	OutcomeIdle  = "idle"
	OutcomeFired = "fired"
	OutcomeError = "error"
)

// SchedulerCheck counts a predicate evaluation.
func (m *Metrics) SchedulerCheck(role, check, outcome string) {
	if m == nil {
		return
	}
	m.schedulerChecks.WithLabelValues(role, check, outcome).Inc()
}

// RegistrySize reports the number of tasks and games owned by role.
func (m *Metrics) RegistrySize(role string, tasks, games int) {
	if m == nil {
		return
	}
	m.registryTasks.WithLabelValues(role).Set(float64(tasks))
	m.registryGames.WithLabelValues(role).Set(float64(games))
}
