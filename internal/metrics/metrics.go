package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// Payments
	PaymentsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_created_total",
			Help: "Payments created with providers",
		},
		[]string{"provider"},
	)
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Settled purchases that credited tokens",
		},
		[]string{"provider"},
	)
	DuplicateSettlements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlements_duplicate_total",
			Help: "Settlement attempts that hit an already-settled transaction",
		},
	)
	WebhookRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_rejected_total",
			Help: "Webhook deliveries rejected before settlement",
		},
		[]string{"provider"},
	)

	// Ledger
	DebitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "token_debits_total",
			Help: "Successful token debits",
		},
	)
	InsufficientBalance = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "token_debits_insufficient_total",
			Help: "Debits rejected for insufficient balance",
		},
	)

	// Worker queue
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(PaymentsCreated)
	prometheus.MustRegister(SettlementsTotal)
	prometheus.MustRegister(DuplicateSettlements)
	prometheus.MustRegister(WebhookRejected)
	prometheus.MustRegister(DebitsTotal)
	prometheus.MustRegister(InsufficientBalance)
	prometheus.MustRegister(WorkerQueueDepth)
}
