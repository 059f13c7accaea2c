package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ledger collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CashOperations        *prometheus.CounterVec
	PaymentTransactions   *prometheus.CounterVec
	InventoryTransactions *prometheus.CounterVec
	ShiftEvents           *prometheus.CounterVec
	TxRetries             prometheus.Counter
	NotificationsDropped  *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "posledger"
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		CashOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cash_operations_total",
			Help:      "Cash operations recorded, by type and payment method.",
		}, []string{"type", "payment_method"}),
		PaymentTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_method_transactions_total",
			Help:      "Payment method ledger postings, by transaction type.",
		}, []string{"type"}),
		InventoryTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_transactions_total",
			Help:      "Inventory transactions recorded, by type.",
		}, []string{"type"}),
		ShiftEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shift_events_total",
			Help:      "Shift lifecycle transitions.",
		}, []string{"event"}),
		TxRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_tx_retries_total",
			Help:      "Serializable transactions retried after a conflict.",
		}),
		NotificationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Best-effort notifications that could not be delivered.",
		}, []string{"event"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.CashOperations,
		m.PaymentTransactions,
		m.InventoryTransactions,
		m.ShiftEvents,
		m.TxRetries,
		m.NotificationsDropped,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CashOperation(opType string, paymentMethod string) {
	if m == nil {
		return
	}
	m.CashOperations.WithLabelValues(opType, paymentMethod).Inc()
}

func (m *Metrics) PaymentTransaction(txType string) {
	if m == nil {
		return
	}
	m.PaymentTransactions.WithLabelValues(txType).Inc()
}

func (m *Metrics) InventoryTransaction(txType string) {
	if m == nil {
		return
	}
	m.InventoryTransactions.WithLabelValues(txType).Inc()
}

func (m *Metrics) ShiftEvent(event string) {
	if m == nil {
		return
	}
	m.ShiftEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) TxRetry() {
	if m == nil {
		return
	}
	m.TxRetries.Inc()
}

func (m *Metrics) NotificationFailed(event string) {
	if m == nil {
		return
	}
	m.NotificationsDropped.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveHTTP(method string, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
