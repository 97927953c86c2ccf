// Package metrics exposes Prometheus instrumentation for HTTP and collaboration.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "collabwrite"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "collab_active_rooms",
		Help:      "Documents with at least one connected participant",
	})

	participants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "collab_participants",
		Help:      "Connections admitted to a document room",
	})

	waitingConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "collab_waiting_connections",
		Help:      "Connections waiting for a document owner to come online",
	})

	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "collab_connections",
		Help:      "Open collaboration websocket connections",
	})

	collabEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collab_events_total",
		Help:      "Collaboration events processed, by event and outcome",
	}, []string{"event", "outcome"})
)

// PresenceSnapshot is the set of presence gauges published after each hub event
type PresenceSnapshot struct {
	Rooms        int
	Participants int
	Waiting      int
	Connections  int
}

// RecordPresence publishes the hub's presence counts
func RecordPresence(s PresenceSnapshot) {
	activeRooms.Set(float64(s.Rooms))
	participants.Set(float64(s.Participants))
	waitingConnections.Set(float64(s.Waiting))
	connections.Set(float64(s.Connections))
}

// RecordEvent counts one processed collaboration event
func RecordEvent(event, outcome string) {
	collabEvents.WithLabelValues(event, outcome).Inc()
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request counts and latency labelled by route template
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(rec.status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
