package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	OrdersCreated       *prometheus.CounterVec
	OrdersCancelled     *prometheus.CounterVec
	Compensations       *prometheus.CounterVec
	ReconciliationTasks *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OrdersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order",
			Name:      "create_requests_total",
			Help:      "CreateOrder outcomes.",
		}, []string{"outcome"}),
		OrdersCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order",
			Name:      "cancel_requests_total",
			Help:      "CancelOrder outcomes.",
		}, []string{"outcome"}),
		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order",
			Name:      "compensations_total",
			Help:      "Stock releases and cancellations handed off after a failed order write.",
		}, []string{"result"}),
		ReconciliationTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order",
			Name:      "reconciliation_tasks_total",
			Help:      "Reconciliation worker results per task.",
		}, []string{"result"}),
	}
}

// Nop returns metrics bound to a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
