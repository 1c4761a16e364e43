package httpapi

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "surveyd_http_requests_total",
		Help: "HTTP requests by method, route and status code",
	}, []string{"method", "route", "status"})
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "surveyd_http_request_duration_seconds",
		Help:    "HTTP request latency, including streaming connections",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	StreamClients = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "surveyd_http_stream_clients",
		Help: "Open live video connections by transport",
	}, []string{"transport"})
)

func init() {
	prometheus.MustRegister(RequestsTotal, RequestDuration, StreamClients)
}
