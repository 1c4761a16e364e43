package survey

import "github.com/prometheus/client_golang/prometheus"

var RequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "surveyd_survey_requests_total",
	Help: "Total number of survey requests recorded",
})

func init() {
	prometheus.MustRegister(RequestsTotal)
}
