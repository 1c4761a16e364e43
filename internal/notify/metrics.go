package notify

import "github.com/prometheus/client_golang/prometheus"

var notificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "surveyd_notifications_total",
		Help: "Notifications by channel and result",
	},
	[]string{"channel", "result"},
)

func init() {
	prometheus.MustRegister(notificationsTotal)
}
