// Package metrics exposes the Prometheus gauges/counters called out in
// SPEC_FULL.md section 4 and 6: frame bus throughput, overlay pass-through
// ratio, encode bitrate, recognition latency, and live WebRTC session
// counts. Every metric is labeled by camera_id so a single /metrics
// endpoint on the signaling process can aggregate across all cameras.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FrameBusProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vms_frame_bus_produced_total",
		Help: "Frames offered to a frame bus, by camera and stage.",
	}, []string{"camera_id", "stage"})

	FrameBusDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vms_frame_bus_delivered_total",
		Help: "Frames delivered from a frame bus, by camera and stage.",
	}, []string{"camera_id", "stage"})

	FrameBusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vms_frame_bus_dropped_total",
		Help: "Frames evicted by the drop-oldest policy, by camera and stage.",
	}, []string{"camera_id", "stage"})

	FrameBusDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vms_frame_bus_depth",
		Help: "Current queue depth of a frame bus, by camera and stage.",
	}, []string{"camera_id", "stage"})

	OverlayMissed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vms_overlay_missed_total",
		Help: "Frames passed through without a recognition result before the overlay deadline.",
	}, []string{"camera_id"})

	OverlayMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vms_overlay_matched_total",
		Help: "Frames annotated with a recognition result within the overlay deadline.",
	}, []string{"camera_id"})

	EncodeBitrateKbps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vms_encode_bitrate_kbps",
		Help: "Observed output bitrate of the VP8 encoder, by camera.",
	}, []string{"camera_id"})

	RecognitionLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vms_recognition_latency_seconds",
		Help:    "recognize() call latency as observed by the camera worker.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.12, 0.25, 0.5, 1},
	}, []string{"camera_id"})

	WebRTCSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vms_webrtc_sessions",
		Help: "Live WebRTC viewer sessions, by camera.",
	}, []string{"camera_id"})

	WorkerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vms_camera_worker_state",
		Help: "1 for the camera worker's current state label, 0 for states it has left (see worker.State).",
	}, []string{"camera_id", "state"})

	UnknownsAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vms_unknowns_admitted_total",
		Help: "UnknownCandidate promotions emitted as UnknownDiscovered events.",
	}, []string{"camera_id"})

	RecognitionDispatchDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vms_recognition_dispatch_dropped_total",
		Help: "Frames whose recognition request was dropped because the dispatch channel was full.",
	}, []string{"camera_id"})
)
