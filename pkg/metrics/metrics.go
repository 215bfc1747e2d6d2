// Package metrics 提供 Prometheus 指标：订单、结算、事件投递
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/exchangecore/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// 成功创建的订单数，按市场、类型
	OrdersCreated *prometheus.CounterVec
	// 被拒绝的订单数，按原因
	OrdersRejected *prometheus.CounterVec
	// 订单状态迁移数，按目标状态
	OrderTransitions *prometheus.CounterVec
	// 已结算成交数，按市场
	TradesSettled *prometheus.CounterVec
	// 结算失败数，按原因
	SettlementFailures *prometheus.CounterVec
	// 结算耗时
	SettlementDuration prometheus.Histogram
	// 已投递的 outbox 事件数
	OutboxRelayed prometheus.Counter
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec
}

// New 创建指标实例并注册到 reg，reg 为 nil 时使用默认注册器
func New(serviceName string, reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "orders_created_total",
			Help:      "Total orders created",
		}, []string{"market", "ord_type"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "orders_rejected_total",
			Help:      "Total orders rejected before creation",
		}, []string{"reason"}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "order_transitions_total",
			Help:      "Total order state transitions",
		}, []string{"state"}),
		TradesSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "trades_settled_total",
			Help:      "Total trades settled",
		}, []string{"market"}),
		SettlementFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "settlement_failures_total",
			Help:      "Total settlement failures",
		}, []string{"reason"}),
		SettlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "settlement_duration_seconds",
			Help:      "Trade settlement duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		OutboxRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "outbox_relayed_total",
			Help:      "Total outbox events relayed to Kafka",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	collectors := []prometheus.Collector{
		m.OrdersCreated,
		m.OrdersRejected,
		m.OrderTransitions,
		m.TradesSettled,
		m.SettlementFailures,
		m.SettlementDuration,
		m.OutboxRelayed,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return nil, err
		}
	}

	return m, nil
}

// ObserveHTTP 记录一次 HTTP 请求
func (m *Metrics) ObserveHTTP(method, path, status string, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// NewHTTPServer 创建 Prometheus 抓取端点
func NewHTTPServer(addr, path string) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
