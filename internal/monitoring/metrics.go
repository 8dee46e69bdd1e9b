package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 连接指标
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  *prometheus.CounterVec
	IdentitiesOnline  prometheus.Gauge
	InboundEvents     *prometheus.CounterVec

	// 消息指标
	MessagesSent    prometheus.Counter
	MessagesFailed  *prometheus.CounterVec
	PersistDuration prometheus.Histogram
	Deliveries      *prometheus.CounterVec
	DeliveryGaps    prometheus.Counter
	TypingSignals   prometheus.Counter

	// 错误指标
	PanicsTotal prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics 创建监控指标（注册到默认注册表）
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry 创建注册到独立注册表的监控指标，测试中避免重复注册
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heartchat_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "heartchat_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		ConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "heartchat_ws_connections_active",
				Help: "Number of live WebSocket connections",
			},
		),

		ConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heartchat_ws_connections_total",
				Help: "Total number of WebSocket connection attempts by result",
			},
			[]string{"result"}, // authenticated, unauthenticated, rejected
		),

		IdentitiesOnline: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "heartchat_identities_online",
				Help: "Number of identities with at least one live connection",
			},
		),

		InboundEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heartchat_ws_inbound_events_total",
				Help: "Total number of inbound WebSocket events",
			},
			[]string{"event"},
		),

		MessagesSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "heartchat_messages_sent_total",
				Help: "Total number of chat messages persisted and acknowledged",
			},
		),

		MessagesFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heartchat_messages_failed_total",
				Help: "Total number of rejected send requests",
			},
			[]string{"reason"}, // unauthenticated, validation, rate_limited, persistence
		),

		PersistDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "heartchat_persist_duration_seconds",
				Help:    "Time spent appending a chat message to the store",
				Buckets: prometheus.DefBuckets,
			},
		),

		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heartchat_deliveries_total",
				Help: "Total number of outbound event deliveries by result",
			},
			[]string{"event", "result"}, // result: delivered, dropped
		),

		DeliveryGaps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "heartchat_delivery_gaps_total",
				Help: "Messages persisted while the receiver had no live connection",
			},
		),

		TypingSignals: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "heartchat_typing_signals_total",
				Help: "Total number of forwarded typing signals",
			},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "heartchat_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		gatherer: gatherer,
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordConnection 记录连接结果
func (m *Metrics) RecordConnection(result string) {
	m.ConnectionsTotal.WithLabelValues(result).Inc()
}

// RecordInboundEvent 记录入站事件
func (m *Metrics) RecordInboundEvent(event string) {
	m.InboundEvents.WithLabelValues(event).Inc()
}

// RecordMessageSent 记录成功发送
func (m *Metrics) RecordMessageSent(persist time.Duration) {
	m.MessagesSent.Inc()
	m.PersistDuration.Observe(persist.Seconds())
}

// RecordMessageFailed 记录发送失败
func (m *Metrics) RecordMessageFailed(reason string) {
	m.MessagesFailed.WithLabelValues(reason).Inc()
}

// RecordDelivery 记录投递结果
func (m *Metrics) RecordDelivery(event string, delivered, dropped int) {
	if delivered > 0 {
		m.Deliveries.WithLabelValues(event, "delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		m.Deliveries.WithLabelValues(event, "dropped").Add(float64(dropped))
	}
}

// RecordDeliveryGap 记录接收方不在线
func (m *Metrics) RecordDeliveryGap() {
	m.DeliveryGaps.Inc()
}

// RecordTypingSignal 记录输入状态转发
func (m *Metrics) RecordTypingSignal() {
	m.TypingSignals.Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// UpdateConnections 更新在线连接与在线身份数
func (m *Metrics) UpdateConnections(connections, identities int) {
	m.ConnectionsActive.Set(float64(connections))
	m.IdentitiesOnline.Set(float64(identities))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
