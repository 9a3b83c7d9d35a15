// Package metrics регистрирует счётчики Prometheus сервиса.
// Методы нулевого *Metrics ничего не делают.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pricegate"

// Metrics набор метрик сервиса.
type Metrics struct {
	reconcileEvents  *prometheus.CounterVec
	checkouts        *prometheus.CounterVec
	accessDecisions  *prometheus.CounterVec
	deviceAdmissions *prometheus.CounterVec
	sweeperRuns      *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New регистрирует метрики в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reconcileEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_events_total",
			Help:      "Payment events processed by the reconciler, by event type and outcome.",
		}, []string{"event", "outcome"}),
		checkouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout initiations by plan and result.",
		}, []string{"plan", "result"}),
		accessDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Access evaluations by decision and reason.",
		}, []string{"allowed", "reason"}),
		deviceAdmissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_admissions_total",
			Help:      "Device admission results.",
		}, []string{"result"}),
		sweeperRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_items_total",
			Help:      "Records processed by the maintenance sweeper, by task and outcome.",
		}, []string{"task", "outcome"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// ReconcileEvent учитывает обработанное событие оплаты.
func (m *Metrics) ReconcileEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.reconcileEvents.WithLabelValues(event, outcome).Inc()
}

// Checkout учитывает попытку оформления оплаты.
func (m *Metrics) Checkout(plan, result string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(plan, result).Inc()
}

// AccessDecision учитывает решение о доступе.
func (m *Metrics) AccessDecision(allowed bool, reason string) {
	if m == nil {
		return
	}
	m.accessDecisions.WithLabelValues(strconv.FormatBool(allowed), reason).Inc()
}

// DeviceAdmission учитывает результат привязки устройства.
func (m *Metrics) DeviceAdmission(result string) {
	if m == nil {
		return
	}
	m.deviceAdmissions.WithLabelValues(result).Inc()
}

// SweeperItem учитывает запись, обработанную фоновой задачей.
func (m *Metrics) SweeperItem(task, outcome string) {
	if m == nil {
		return
	}
	m.sweeperRuns.WithLabelValues(task, outcome).Inc()
}

// Middleware измеряет длительность запросов по шаблону маршрута chi.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
