package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "bn_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	newCounter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
	}
	spotPlaced := newCounter("spot_orders_placed_total", "Total number of spot market orders placed.")
	swapPlaced := newCounter("swap_orders_placed_total", "Total number of perpetual swap market orders placed.")
	spotFailed := newCounter("spot_orders_failed_total", "Total number of spot order placement failures.")
	swapFailed := newCounter("swap_orders_failed_total", "Total number of swap order placement failures.")
	openFlows := newCounter("open_workflows_total", "Total number of hedge open workflows started.")
	closeFlows := newCounter("close_workflows_total", "Total number of hedge close workflows started.")
	partialLeg := newCounter("partial_leg_failures_total", "Total number of single-leg fill failures leaving directional exposure.")
	reconciles := newCounter("reconciles_total", "Total number of account reconciliations.")
	reconcileFailed := newCounter("reconcile_failures_total", "Total number of failed account reconciliations.")

	registry.MustRegister(spotPlaced, swapPlaced, spotFailed, swapFailed, openFlows, closeFlows, partialLeg, reconciles, reconcileFailed)

	m := &Metrics{
		SpotOrdersPlaced:   promCounter{spotPlaced},
		SwapOrdersPlaced:   promCounter{swapPlaced},
		SpotOrdersFailed:   promCounter{spotFailed},
		SwapOrdersFailed:   promCounter{swapFailed},
		OpenWorkflows:      promCounter{openFlows},
		CloseWorkflows:     promCounter{closeFlows},
		PartialLegFailures: promCounter{partialLeg},
		Reconciles:         promCounter{reconciles},
		ReconcileFailures:  promCounter{reconcileFailed},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
