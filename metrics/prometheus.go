// Package metrics exposes Prometheus instrumentation for the exchange and
// the agent platform. Both services mount Handler() under /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds all stockex metrics.
type Collector struct {
	// Order flow
	OrdersPlaced    *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec

	// Trades
	TradesTotal   *prometheus.CounterVec
	TradeVolume   *prometheus.CounterVec
	TradeNotional *prometheus.CounterVec

	// Book
	BookDepth *prometheus.GaugeVec

	// HTTP surface
	APIRequestsTotal *prometheus.CounterVec
	APILatency       *prometheus.HistogramVec
	RateLimitHits    *prometheus.CounterVec
	WSClientsActive  prometheus.Gauge

	// Agent platform
	AgentsRunning   prometheus.Gauge
	AgentTicksTotal *prometheus.CounterVec
	AgentTickErrors *prometheus.CounterVec
	AgentActions    *prometheus.CounterVec
}

// GetCollector returns the process-wide metrics collector.
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
		collector.register()
	})
	return collector
}

func newCollector() *Collector {
	return &Collector{
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockex", Name: "orders_placed_total",
			Help: "Orders accepted by the matching engine.",
		}, []string{"ticker", "side", "type"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockex", Name: "orders_rejected_total",
			Help: "Orders rejected before matching.",
		}, []string{"reason"}),
		OrdersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockex", Name: "orders_cancelled_total",
			Help: "Orders cancelled by their owner.",
		}, []string{"ticker"}),

		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockex", Name: "trades_total",
			Help: "Executed trades.",
		}, []string{"ticker"}),
		TradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockex", Name: "trade_volume_shares_total",
			Help: "Shares exchanged.",
		}, []string{"ticker"}),
		TradeNotional: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockex", Name: "trade_notional_total",
			Help: "Cash exchanged.",
		}, []string{"ticker"}),

		BookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stockex", Name: "book_depth_orders",
			Help: "Resting orders per ticker and side.",
		}, []string{"ticker", "side"}),

		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockex", Name: "api_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "method", "status"}),
		APILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stockex", Name: "api_request_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		RateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockex", Name: "rate_limit_hits_total",
			Help: "Requests refused by the rate limiter.",
		}, []string{"scope"}),
		WSClientsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stockex", Name: "ws_clients_active",
			Help: "Connected websocket feed clients.",
		}),

		AgentsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stockex", Name: "agents_running",
			Help: "Agents currently in RUNNING state.",
		}),
		AgentTicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockex", Name: "agent_ticks_total",
			Help: "Agent evaluation ticks.",
		}, []string{"agent"}),
		AgentTickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockex", Name: "agent_tick_errors_total",
			Help: "Agent ticks that ended in an error.",
		}, []string{"agent"}),
		AgentActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockex", Name: "agent_actions_total",
			Help: "Actions submitted by agents.",
		}, []string{"agent", "action"}),
	}
}

func (c *Collector) register() {
	prometheus.MustRegister(
		c.OrdersPlaced, c.OrdersRejected, c.OrdersCancelled,
		c.TradesTotal, c.TradeVolume, c.TradeNotional,
		c.BookDepth,
		c.APIRequestsTotal, c.APILatency, c.RateLimitHits, c.WSClientsActive,
		c.AgentsRunning, c.AgentTicksTotal, c.AgentTickErrors, c.AgentActions,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	GetCollector()
	return promhttp.Handler()
}
