package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "candlebot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry         *prometheus.Registry
	ordersPlaced     prometheus.Counter
	ordersFailed     prometheus.Counter
	stopLosses       prometheus.Counter
	takeProfits      prometheus.Counter
	lossGate         prometheus.Counter
	insufficientData prometheus.Counter
	dataFetchFailed  prometheus.Counter
	cycleFailures    prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:         registry,
		ordersPlaced:     newCounter("orders_placed_total", "Total number of filled orders."),
		ordersFailed:     newCounter("orders_failed_total", "Total number of order placement failures."),
		stopLosses:       newCounter("stop_losses_total", "Total number of stop-loss exits."),
		takeProfits:      newCounter("take_profits_total", "Total number of take-profit tier exits."),
		lossGate:         newCounter("loss_gate_suppressed_total", "Total number of sell signals suppressed by the loss gate."),
		insufficientData: newCounter("insufficient_data_total", "Total number of cycles skipped for lack of candles."),
		dataFetchFailed:  newCounter("data_fetch_failed_total", "Total number of market data fetch failures."),
		cycleFailures:    newCounter("cycle_failures_total", "Total number of failed trading cycles."),
	}
	registry.MustRegister(
		p.ordersPlaced,
		p.ordersFailed,
		p.stopLosses,
		p.takeProfits,
		p.lossGate,
		p.insufficientData,
		p.dataFetchFailed,
		p.cycleFailures,
		prometheus.NewGoCollector(),
	)
	p.Metrics = &Metrics{
		OrdersPlaced:       promCounter{p.ordersPlaced},
		OrdersFailed:       promCounter{p.ordersFailed},
		StopLosses:         promCounter{p.stopLosses},
		TakeProfits:        promCounter{p.takeProfits},
		LossGateSuppressed: promCounter{p.lossGate},
		InsufficientData:   promCounter{p.insufficientData},
		DataFetchFailed:    promCounter{p.dataFetchFailed},
		CycleFailures:      promCounter{p.cycleFailures},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
