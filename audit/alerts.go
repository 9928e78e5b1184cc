package audit

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertRateLimitSpike    AlertType = "rate_limit_spike"
	AlertLoginFailureSpike AlertType = "login_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultAlertWindow           = time.Minute
	defaultRateLimitThreshold    = 50
	defaultLoginFailureThreshold = 25
)

// AlertThresholds configures the detector. Zero fields take defaults.
type AlertThresholds struct {
	Window       time.Duration
	RateLimit    int
	LoginFailure int
}

// slidingCounter counts events inside a trailing window.
type slidingCounter struct {
	times     []time.Time
	threshold int
}

// add records an event at now and reports the count when the threshold is
// reached. The counter is cleared after firing so one spike alerts once.
func (c *slidingCounter) add(now time.Time, window time.Duration) (int, bool) {
	c.times = append(c.times, now)
	c.times = trimWindow(c.times, now, window)
	if len(c.times) < c.threshold {
		return 0, false
	}
	n := len(c.times)
	c.times = c.times[:0]
	return n, true
}

// AlertDetector tracks sliding window counters over recorded entries.
type AlertDetector struct {
	mu           sync.Mutex
	window       time.Duration
	rateLimits   slidingCounter
	loginFailure slidingCounter
	alertFn      AlertFunc
}

// NewAlertDetector returns a detector invoking fn on each spike.
func NewAlertDetector(th AlertThresholds, fn AlertFunc) *AlertDetector {
	if th.Window <= 0 {
		th.Window = defaultAlertWindow
	}
	if th.RateLimit <= 0 {
		th.RateLimit = defaultRateLimitThreshold
	}
	if th.LoginFailure <= 0 {
		th.LoginFailure = defaultLoginFailureThreshold
	}
	return &AlertDetector{
		window:       th.Window,
		rateLimits:   slidingCounter{threshold: th.RateLimit},
		loginFailure: slidingCounter{threshold: th.LoginFailure},
		alertFn:      fn,
	}
}

// Observe inspects e and fires an alert when a counter crosses its threshold.
func (d *AlertDetector) Observe(e Entry) {
	if d == nil || d.alertFn == nil {
		return
	}
	now := e.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	var alert *AlertEvent
	d.mu.Lock()
	switch {
	case e.EventType.IsRateLimit():
		if n, fired := d.rateLimits.add(now, d.window); fired {
			alert = &AlertEvent{
				Type:      AlertRateLimitSpike,
				Message:   "rate limit violations exceed threshold",
				Count:     n,
				Threshold: d.rateLimits.threshold,
				Timestamp: now,
			}
		}
	case e.EventType == EventLoginFailure:
		if n, fired := d.loginFailure.add(now, d.window); fired {
			alert = &AlertEvent{
				Type:      AlertLoginFailureSpike,
				Message:   "login failure rate exceeds threshold",
				Count:     n,
				Threshold: d.loginFailure.threshold,
				Timestamp: now,
			}
		}
	}
	d.mu.Unlock()

	if alert != nil {
		d.alertFn(*alert)
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
