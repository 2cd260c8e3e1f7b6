// Package metrics provides Prometheus metrics for capture devices, plus a
// local snapshot cache for status output.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons for SkipIteration.
const (
	SkipNoWritableBuffer = "no_writable_buffer"
	SkipNoData           = "no_data"
	SkipWaitTimeout      = "wait_timeout"
)

var (
	framesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "videocapture",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames read into the buffer ring",
	}, []string{"device"})

	bytesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "videocapture",
		Subsystem: "capture",
		Name:      "bytes_total",
		Help:      "Bytes read into the buffer ring",
	}, []string{"device"})

	iterationsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "videocapture",
		Subsystem: "capture",
		Name:      "skipped_iterations_total",
		Help:      "Capture loop iterations that produced no frame",
	}, []string{"device", "reason"})

	readErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "videocapture",
		Subsystem: "capture",
		Name:      "read_errors_total",
		Help:      "Fatal read or wait errors",
	}, []string{"device"})

	buffersLocked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "videocapture",
		Subsystem: "ring",
		Name:      "locked_buffers",
		Help:      "Buffers currently held by at least one reader",
	}, []string{"device"})

	loopRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "videocapture",
		Subsystem: "capture",
		Name:      "running",
		Help:      "1 while the capture loop is running",
	}, []string{"device"})

	readDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "videocapture",
		Subsystem: "capture",
		Name:      "read_duration_seconds",
		Help:      "Time spent in read(2) per frame",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	}, []string{"device"})

	// Local cache for status output.
	deviceCache   = make(map[string]*DeviceMetrics)
	deviceCacheMu sync.RWMutex
)

// DeviceMetrics holds current metric values for a device.
type DeviceMetrics struct {
	Frames        uint64
	Bytes         uint64
	Skipped       uint64
	ReadErrors    uint64
	LockedBuffers int
	Running       bool
	LastFrame     time.Time
}

// FrameCaptured records one frame of n bytes that took readTime to read.
func FrameCaptured(device string, n int, readTime time.Duration) {
	framesCaptured.WithLabelValues(device).Inc()
	bytesCaptured.WithLabelValues(device).Add(float64(n))
	readDuration.WithLabelValues(device).Observe(readTime.Seconds())
	updateCache(device, func(m *DeviceMetrics) {
		m.Frames++
		m.Bytes += uint64(n)
		m.LastFrame = time.Now()
	})
}

// SkipIteration records a loop iteration that produced no frame.
func SkipIteration(device, reason string) {
	iterationsSkipped.WithLabelValues(device, reason).Inc()
	updateCache(device, func(m *DeviceMetrics) { m.Skipped++ })
}

// ReadError records a fatal read or wait error.
func ReadError(device string) {
	readErrors.WithLabelValues(device).Inc()
	updateCache(device, func(m *DeviceMetrics) { m.ReadErrors++ })
}

// SetLockedBuffers sets the number of buffers held by readers.
func SetLockedBuffers(device string, n int) {
	buffersLocked.WithLabelValues(device).Set(float64(n))
	updateCache(device, func(m *DeviceMetrics) { m.LockedBuffers = n })
}

// SetRunning sets whether the capture loop is running.
func SetRunning(device string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	loopRunning.WithLabelValues(device).Set(v)
	updateCache(device, func(m *DeviceMetrics) { m.Running = running })
}

// DeleteDevice removes all metrics for a device.
func DeleteDevice(device string) {
	framesCaptured.DeleteLabelValues(device)
	bytesCaptured.DeleteLabelValues(device)
	iterationsSkipped.DeletePartialMatch(prometheus.Labels{"device": device})
	readErrors.DeleteLabelValues(device)
	buffersLocked.DeleteLabelValues(device)
	loopRunning.DeleteLabelValues(device)
	readDuration.DeleteLabelValues(device)

	deviceCacheMu.Lock()
	delete(deviceCache, device)
	deviceCacheMu.Unlock()
}

// GetDeviceMetrics returns current metric values for a device.
func GetDeviceMetrics(device string) *DeviceMetrics {
	deviceCacheMu.RLock()
	defer deviceCacheMu.RUnlock()
	if m, ok := deviceCache[device]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllDeviceMetrics returns metrics for all known devices.
func GetAllDeviceMetrics() map[string]*DeviceMetrics {
	deviceCacheMu.RLock()
	defer deviceCacheMu.RUnlock()
	result := make(map[string]*DeviceMetrics, len(deviceCache))
	for id, m := range deviceCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updateCache(device string, update func(*DeviceMetrics)) {
	deviceCacheMu.Lock()
	defer deviceCacheMu.Unlock()
	m, ok := deviceCache[device]
	if !ok {
		m = &DeviceMetrics{}
		deviceCache[device] = m
	}
	update(m)
}
