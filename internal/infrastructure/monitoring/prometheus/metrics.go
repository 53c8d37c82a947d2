// Package prometheus exposes the portal's Prometheus metrics.
package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds every metric the portal records.
type AppMetrics struct {
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	CRMRequestsTotal   CounterVec
	CRMRequestDuration HistogramVec

	SyncRunsTotal     CounterVec
	SyncDuration      HistogramVec
	SyncedDealsTotal  CounterVec
	LastSyncTimestamp GaugeVec

	NotificationsGenerated CounterVec
	NotificationsPublished CounterVec
	NotificationsDelivered CounterVec
	NotificationsRead      CounterVec

	OverdueDeals      GaugeVec
	OverduePenaltySum GaugeVec

	CacheHitsTotal   CounterVec
	CacheMissesTotal CounterVec

	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

var (
	DefaultHTTPDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultSyncDurationBuckets = []float64{.5, 1, 5, 10, 30, 60, 120, 300}
)

// NewAppMetrics registers all metrics on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "route", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "route")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "In-flight HTTP requests")

	m.CRMRequestsTotal = collector.RegisterCounter("crm_requests_total", "CRM API calls", "operation", "outcome")
	m.CRMRequestDuration = collector.RegisterHistogram("crm_request_duration_seconds", "CRM API call duration", DefaultHTTPDurationBuckets, "operation")

	m.SyncRunsTotal = collector.RegisterCounter("sync_runs_total", "Deal sync runs", "scope", "result")
	m.SyncDuration = collector.RegisterHistogram("sync_duration_seconds", "Deal sync duration", DefaultSyncDurationBuckets, "scope")
	m.SyncedDealsTotal = collector.RegisterCounter("synced_deals_total", "Deals written by sync", "scope")
	m.LastSyncTimestamp = collector.RegisterGauge("last_sync_timestamp_seconds", "Unix time of the last successful full sync")

	m.NotificationsGenerated = collector.RegisterCounter("notifications_generated_total", "Notifications generated", "bucket")
	m.NotificationsPublished = collector.RegisterCounter("notifications_published_total", "Notifications published to the event bus", "bucket")
	m.NotificationsDelivered = collector.RegisterCounter("notifications_delivered_total", "Notifications delivered", "channel", "result")
	m.NotificationsRead = collector.RegisterCounter("notifications_read_total", "Notifications marked read")

	m.OverdueDeals = collector.RegisterGauge("overdue_deals", "Approved deals past their due date at the last scan")
	m.OverduePenaltySum = collector.RegisterGauge("overdue_penalty_rub", "Accrued penalty over overdue deals at the last scan")

	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")

	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Errors by component", "component", "code")

	return m
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(m *AppMetrics, method, route string, statusCode int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordCRMCall records one CRM exchange; outcome is the HTTP status or
// "error".
func RecordCRMCall(m *AppMetrics, operation, outcome string, d time.Duration) {
	m.CRMRequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.CRMRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordSync records a finished sync run.
func RecordSync(m *AppMetrics, scope string, deals int, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.SyncRunsTotal.WithLabelValues(scope, result).Inc()
	m.SyncDuration.WithLabelValues(scope).Observe(d.Seconds())
	m.SyncedDealsTotal.WithLabelValues(scope).Add(float64(deals))
	if err == nil && scope == "full" {
		m.LastSyncTimestamp.WithLabelValues().Set(float64(time.Now().Unix()))
	}
}

// RecordCacheAccess counts a cache lookup.
func RecordCacheAccess(m *AppMetrics, cache string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordError counts an error by its code.
func RecordError(m *AppMetrics, component, code string) {
	m.ErrorsTotal.WithLabelValues(component, code).Inc()
}
