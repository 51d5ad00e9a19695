// Package metrics exposes Prometheus instrumentation for the softphone's
// sessions and media transports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive tracks live call sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dialtone_sessions_active",
		Help: "Number of call sessions that are not yet disposed",
	})

	// SessionsTotal counts sessions ever created, by direction.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialtone_sessions_total",
		Help: "Call sessions created",
	}, []string{"direction"})

	// PacketsSent counts outbound RTP packets after encryption.
	PacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialtone_rtp_packets_sent_total",
		Help: "Encrypted RTP packets written to the media socket",
	})

	// PacketsReceived counts inbound datagrams that decrypted cleanly.
	PacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialtone_rtp_packets_received_total",
		Help: "Inbound RTP packets successfully decrypted and parsed",
	})

	// PacketsLost counts gaps observed in the inbound sequence space.
	PacketsLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialtone_rtp_packets_lost_total",
		Help: "Inbound RTP packets skipped over per sequence tracking",
	})

	// DecryptFailures counts datagrams dropped by the SRTP layer.
	DecryptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialtone_srtp_decrypt_failures_total",
		Help: "Inbound datagrams dropped because decrypt or parse failed",
	})

	// DTMFDigits counts decoded DTMF characters, in and out.
	DTMFDigits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialtone_dtmf_digits_total",
		Help: "DTMF digits sent and received",
	}, []string{"direction"})

	// StreamerFrames counts audio frames pushed by streamers.
	StreamerFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialtone_streamer_frames_total",
		Help: "Audio frames emitted by audio streamers",
	})
)

// Handler returns an HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
