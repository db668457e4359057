package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackwire",
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Frames moved over stack sessions.",
		},
		[]string{"direction", "cipher"},
	)
	bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackwire",
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Frame bytes moved over stack sessions, headers included.",
		},
		[]string{"direction"},
	)
	roundTripDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stackwire",
			Subsystem: "transport",
			Name:      "round_trip_seconds",
			Help:      "Time from command send to validated response.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackwire",
			Subsystem: "session",
			Name:      "errors_total",
			Help:      "Session errors by protocol error kind.",
		},
		[]string{"kind", "fatal"},
	)
	handshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackwire",
			Subsystem: "session",
			Name:      "handshakes_total",
			Help:      "Completed and failed handshakes.",
		},
		[]string{"cipher", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesTotal, bytesTotal, roundTripDuration, errorsTotal, handshakesTotal)
	})
}

// Handler serves the default registry for the CLI metrics listener.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordFrame(direction, cipher string, size int) {
	RegisterMetrics()
	framesTotal.WithLabelValues(direction, cipher).Inc()
	bytesTotal.WithLabelValues(direction).Add(float64(size))
}

func RecordRoundTrip(command string, duration time.Duration) {
	RegisterMetrics()
	roundTripDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func RecordError(kind string, fatal bool) {
	RegisterMetrics()
	errorsTotal.WithLabelValues(kind, strconv.FormatBool(fatal)).Inc()
}

func RecordHandshake(cipher string, success bool) {
	RegisterMetrics()
	handshakesTotal.WithLabelValues(cipher, strconv.FormatBool(success)).Inc()
}
