package generic

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// METRICS / TRACING
// =============================================================================

var tracer = otel.Tracer("github.com/carepay/benefit-wallet/generic")

// failSpan records err on span and marks the span failed.
func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

var (
	ledgerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "benefit_wallet",
		Name:      "ledger_operations_total",
		Help:      "Wallet ledger mutations by type and outcome.",
	}, []string{"type", "outcome"})

	ledgerAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "benefit_wallet",
		Name:      "ledger_amount_rupees_total",
		Help:      "Rupees moved by the wallet ledger, by transaction type.",
	}, []string{"type"})

	insufficientBalance = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "benefit_wallet",
		Name:      "insufficient_balance_total",
		Help:      "Debits rejected for insufficient total or category balance.",
	}, []string{"scope"})

	bookingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "benefit_wallet",
		Name:      "booking_transitions_total",
		Help:      "Booking lifecycle transitions by service type and target status.",
	}, []string{"service_type", "status"})

	paymentScenarios = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "benefit_wallet",
		Name:      "booking_payment_scenarios_total",
		Help:      "Creation-time payment scenario selected (A-D).",
	}, []string{"service_type", "scenario"})

	externalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "benefit_wallet",
		Name:      "external_failures_total",
		Help:      "Best-effort collaborator calls that failed (refunds, invoices, summaries, events).",
	}, []string{"service", "op"})

	compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "benefit_wallet",
		Name:      "booking_compensations_total",
		Help:      "Bookings removed or cancelled because money movement failed, by stage (create, payment).",
	}, []string{"service_type", "stage"})

	ledgerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "benefit_wallet",
		Name:      "ledger_operation_seconds",
		Help:      "Latency of wallet ledger mutations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})
)
