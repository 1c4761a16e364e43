package capture

import "github.com/prometheus/client_golang/prometheus"

var (
	FramesCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "surveyd_capture_frames_total",
		Help: "Total number of frames captured from the camera",
	})
	FetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "surveyd_capture_fetch_errors_total",
		Help: "Total number of failed or undecodable camera fetches",
	})
	Snapshots = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "surveyd_capture_snapshots_total",
		Help: "Total number of still images saved",
	})
	VideosOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "surveyd_capture_videos_opened_total",
		Help: "Total number of video files started",
	})
	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "surveyd_capture_frames_dropped_total",
		Help: "Frames replaced before a slow viewer picked them up",
	})
	Viewers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "surveyd_capture_viewers",
		Help: "Number of connected live viewers",
	})
)

func init() {
	prometheus.MustRegister(FramesCaptured, FetchErrors, Snapshots, VideosOpened, FramesDropped, Viewers)
}
