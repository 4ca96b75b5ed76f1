// Package metrics instruments the session layer with Prometheus
// counters and a histogram, following the registration/accessor pattern
// used throughout the wider example corpus's protocol adapters
// (internal/adapter/nlm, internal/protocol/nfs/v4/state).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds every metric the session layer reports. A nil
// *Recorder is safe to call methods on (they become no-ops), so callers
// that don't wire metrics don't need to guard every call site.
type Recorder struct {
	FramesSent       *prometheus.CounterVec
	FramesReceived   *prometheus.CounterVec
	CrcFailures      prometheus.Counter
	LengthMismatches prometheus.Counter
	Duplicates       prometheus.Counter
	Retransmits      prometheus.Counter
	HeartbeatsMissed prometheus.Counter
	SessionState     prometheus.Gauge
	TransferDuration *prometheus.HistogramVec
}

// New creates and registers the session metrics against reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reliable_udp_frames_sent_total",
				Help: "Total frames sent, labeled by message type.",
			},
			[]string{"type"},
		),
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reliable_udp_frames_received_total",
				Help: "Total frames received, labeled by message type.",
			},
			[]string{"type"},
		),
		CrcFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_udp_crc_failures_total",
			Help: "Total frames dropped for CRC mismatch.",
		}),
		LengthMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_udp_length_mismatches_total",
			Help: "Total frames dropped for declared/actual length mismatch.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_udp_duplicates_total",
			Help: "Total data frames dropped as duplicates of the last accepted msg_id.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_udp_retransmits_total",
			Help: "Total fragment retransmissions (NACK or ack-timeout driven).",
		}),
		HeartbeatsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_udp_heartbeats_missed_total",
			Help: "Total heartbeat polling windows that produced nothing.",
		}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reliable_udp_session_state",
			Help: "Current session phase: 0=opening, 1=established, 2=closing, 3=closed.",
		}),
		TransferDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reliable_udp_transfer_duration_seconds",
				Help:    "Wall-clock duration of a completed text or file transfer.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"}, // "text" or "file"
		),
	}

	reg.MustRegister(
		r.FramesSent,
		r.FramesReceived,
		r.CrcFailures,
		r.LengthMismatches,
		r.Duplicates,
		r.Retransmits,
		r.HeartbeatsMissed,
		r.SessionState,
		r.TransferDuration,
	)

	return r
}

func (r *Recorder) recvTypeLabel(typ string) {
	if r == nil {
		return
	}
	r.FramesReceived.WithLabelValues(typ).Inc()
}

// ObserveSent records an outbound frame of the given message-type label.
func (r *Recorder) ObserveSent(typ string) {
	if r == nil {
		return
	}
	r.FramesSent.WithLabelValues(typ).Inc()
}

// ObserveReceived records an inbound frame of the given message-type label.
func (r *Recorder) ObserveReceived(typ string) {
	r.recvTypeLabel(typ)
}

// IncCrcFailure records a CRC verification failure on the receive path.
func (r *Recorder) IncCrcFailure() {
	if r == nil {
		return
	}
	r.CrcFailures.Inc()
}

// IncLengthMismatch records a declared/actual length mismatch.
func (r *Recorder) IncLengthMismatch() {
	if r == nil {
		return
	}
	r.LengthMismatches.Inc()
}

// IncDuplicate records a suppressed duplicate data frame.
func (r *Recorder) IncDuplicate() {
	if r == nil {
		return
	}
	r.Duplicates.Inc()
}

// IncRetransmit records a fragment retransmission.
func (r *Recorder) IncRetransmit() {
	if r == nil {
		return
	}
	r.Retransmits.Inc()
}

// IncHeartbeatMissed records one missed heartbeat poll window.
func (r *Recorder) IncHeartbeatMissed() {
	if r == nil {
		return
	}
	r.HeartbeatsMissed.Inc()
}

// SetState updates the session-phase gauge.
func (r *Recorder) SetState(phase int) {
	if r == nil {
		return
	}
	r.SessionState.Set(float64(phase))
}

// ObserveTransfer records the duration of a completed transfer.
func (r *Recorder) ObserveTransfer(kind string, seconds float64) {
	if r == nil {
		return
	}
	r.TransferDuration.WithLabelValues(kind).Observe(seconds)
}

// Serve starts an HTTP server exposing /metrics on addr. It runs until
// the process exits or the listener fails; callers typically launch it
// in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
