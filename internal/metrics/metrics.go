package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeviceOperations counts per-device operations by kind and result.
	DeviceOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocrtool",
		Name:      "device_operations_total",
		Help:      "Total device operations by operation and result.",
	}, []string{"operation", "result"})

	// DeviceOperationDuration tracks remote command latency.
	DeviceOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ocrtool",
		Name:      "device_operation_duration_seconds",
		Help:      "Device operation duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	// ReachabilityChecks counts ICMP checks by result.
	ReachabilityChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocrtool",
		Name:      "reachability_checks_total",
		Help:      "Total reachability checks by result (reachable/unreachable).",
	}, []string{"result"})

	// TopologyDevices reports the device count of the active topology.
	TopologyDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocrtool",
		Name:      "topology_devices",
		Help:      "Number of devices in the active topology.",
	})
)

// ObserveOperation records one device operation outcome.
func ObserveOperation(operation string, ok bool, elapsed time.Duration) {
	result := "success"
	if !ok {
		result = "failed"
	}
	DeviceOperations.WithLabelValues(operation, result).Inc()
	DeviceOperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveReachability records one reachability check.
func ObserveReachability(reachable bool) {
	result := "reachable"
	if !reachable {
		result = "unreachable"
	}
	ReachabilityChecks.WithLabelValues(result).Inc()
}
