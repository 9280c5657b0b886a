package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relay_bot/internal/logger"
)

// Metrics 转发流水线的 Prometheus 计数器集合
// 所有方法对 nil 接收者安全，未配置 METRICS_ADDR 时传 nil 即可
type Metrics struct {
	registry      *prometheus.Registry
	claimsTotal   *prometheus.CounterVec
	jobsEnqueued  prometheus.Counter
	forwardsTotal *prometheus.CounterVec
	retriesTotal  prometheus.Counter
	jobsFailed    prometheus.Counter
}

// New 创建并注册所有计数器
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		claimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "claims_total",
			Help:      "FCFS claim attempts by outcome (won/lost)",
		}, []string{"outcome"}),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "jobs_enqueued_total",
			Help:      "Forward jobs written to the job stream",
		}),
		forwardsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "forwards_total",
			Help:      "Completed deliveries by kind (post/update)",
		}, []string{"kind"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "retries_total",
			Help:      "Delivery attempts re-scheduled after a retryable failure",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "jobs_failed_total",
			Help:      "Jobs archived after exhausting all delivery attempts",
		}),
	}

	registry.MustRegister(
		m.claimsTotal,
		m.jobsEnqueued,
		m.forwardsTotal,
		m.retriesTotal,
		m.jobsFailed,
	)

	return m
}

// Handler 返回 /metrics 的 HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 在 addr 上启动 /metrics 监听，ctx 取消时关闭
func (m *Metrics) Serve(ctx context.Context, addr string) {
	if m == nil || addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.L().Infof("Metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L().Errorf("Metrics server error: %v", err)
		}
	}()
}

// IncClaim 记录一次 claim 结果
func (m *Metrics) IncClaim(outcome string) {
	if m == nil {
		return
	}
	m.claimsTotal.WithLabelValues(outcome).Inc()
}

// IncEnqueued 记录一次任务入队
func (m *Metrics) IncEnqueued() {
	if m == nil {
		return
	}
	m.jobsEnqueued.Inc()
}

// IncForward 记录一次成功投递
func (m *Metrics) IncForward(kind string) {
	if m == nil {
		return
	}
	m.forwardsTotal.WithLabelValues(kind).Inc()
}

// IncRetry 记录一次重试
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

// IncFailed 记录一次任务最终失败
func (m *Metrics) IncFailed() {
	if m == nil {
		return
	}
	m.jobsFailed.Inc()
}
