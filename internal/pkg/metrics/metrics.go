package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ChecksTotal counts availability queries.
	// trigger: request/automatic, result: available/not_available/failed
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otabridge_ota_checks_total",
			Help: "Total number of firmware availability queries.",
		},
		[]string{"trigger", "result"},
	)

	// UpdatesTotal counts finished update attempts. result: succeeded/failed
	UpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otabridge_ota_updates_total",
			Help: "Total number of firmware update attempts.",
		},
		[]string{"result"},
	)

	// UpdateDuration observes how long an update transfer took.
	UpdateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otabridge_ota_update_duration_seconds",
			Help:    "Duration of firmware update attempts.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 30s .. ~4h
		},
		[]string{"result"},
	)

	// RequestsRejected counts commands refused before dispatch.
	// reason: invalid/not_found/not_supported/in_progress
	RequestsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otabridge_ota_requests_rejected_total",
			Help: "Total number of OTA requests rejected before dispatch.",
		},
		[]string{"reason"},
	)

	// OperationsInFlight is the size of the in-progress set.
	OperationsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "otabridge_ota_operations_in_flight",
			Help: "Number of devices with a check or update in progress.",
		},
	)

	// NextImageResponses counts NO_IMAGE_AVAILABLE answers sent to devices. result: sent/failed
	NextImageResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otabridge_ota_next_image_responses_total",
			Help: "Total number of NO_IMAGE_AVAILABLE responses sent to devices.",
		},
		[]string{"result"},
	)

	// RegisteredDevices is the number of devices in the directory.
	RegisteredDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "otabridge_registered_devices",
			Help: "Number of devices known to the directory.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ChecksTotal,
		UpdatesTotal,
		UpdateDuration,
		RequestsRejected,
		OperationsInFlight,
		NextImageResponses,
		RegisteredDevices,
	)
}
