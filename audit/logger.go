package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/showcase/internal/metrics"
	"github.com/jmcleod/showcase/internal/uuid"
)

// DefaultQueueSize is the capacity of the Logger's hand-off channel.
const DefaultQueueSize = 4096

const writeTimeout = 5 * time.Second

// Appender persists entries. *Store is the production implementation.
type Appender interface {
	Append(ctx context.Context, e *Entry) error
}

// Logger accepts entries from request handlers and writes them from a single
// background goroutine. Record never blocks and never fails; persistence
// errors are only reported through slog.
type Logger struct {
	store     Appender
	sink      AnalyticsSink
	detector  *AlertDetector
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	queueSize int

	queue  chan Entry
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithAnalytics mirrors security events to sink.
func WithAnalytics(sink AnalyticsSink) LoggerOption {
	return func(l *Logger) {
		l.sink = sink
	}
}

// WithAlerts feeds every written entry to d.
func WithAlerts(d *AlertDetector) LoggerOption {
	return func(l *Logger) {
		l.detector = d
	}
}

// WithMetrics counts written and dropped entries.
func WithMetrics(m *metrics.Metrics) LoggerOption {
	return func(l *Logger) {
		l.metrics = m
	}
}

// WithSlog sets the diagnostic logger. Lines are tagged component=audit.
func WithSlog(logger *slog.Logger) LoggerOption {
	return func(l *Logger) {
		l.logger = logger
	}
}

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) LoggerOption {
	return func(l *Logger) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

// WithLoggerClock sets the time source used to stamp entries.
func WithLoggerClock(now func() time.Time) LoggerOption {
	return func(l *Logger) {
		l.now = now
	}
}

// NewLogger starts the consumer goroutine. Call Close on shutdown to drain
// queued entries.
func NewLogger(store Appender, opts ...LoggerOption) *Logger {
	l := &Logger{
		store:     store,
		logger:    slog.Default(),
		now:       time.Now,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "audit")
	l.queue = make(chan Entry, l.queueSize)
	l.wg.Add(1)
	go l.run()
	return l
}

// Record queues e. ID and Timestamp are assigned when empty. When the queue
// is full or the Logger is closed the entry is dropped with a warning.
func (l *Logger) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewOrdered()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn("audit: logger closed, dropping entry", "event", e.EventType)
		l.metrics.AuditDropped()
		return
	}
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("audit: queue full, dropping entry", "event", e.EventType)
		l.metrics.AuditDropped()
	}
}

// Close stops accepting entries and waits until queued ones are written.
func (l *Logger) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Logger) run() {
	defer l.wg.Done()
	for e := range l.queue {
		l.write(e)
	}
}

func (l *Logger) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("event", string(e.EventType)),
		slog.String("id", e.ID),
		slog.String("subject_id", e.SubjectID),
		slog.String("remote_addr", e.RemoteAddr),
		slog.String("method", e.Method),
		slog.String("url", e.URL),
		slog.Any("detail", e.Detail),
		slog.String("timestamp", e.Timestamp.UTC().Format(time.RFC3339)),
	)

	if l.store != nil {
		if err := l.store.Append(ctx, &e); err != nil {
			l.logger.Error("audit: writing security log entry failed", "event", e.EventType, "error", err)
			l.metrics.AuditWriteError()
		} else {
			l.metrics.AuditRecorded(string(e.EventType))
		}
	}

	if l.sink != nil && e.EventType.IsSecurityEvent() {
		if err := l.sink.Send(ctx, e); err != nil {
			l.logger.Warn("audit: analytics delivery failed", "event", e.EventType, "error", err)
		}
	}

	l.detector.Observe(e)
}

// LogAlert is an AlertFunc that writes alerts to logger and counts them.
func LogAlert(logger *slog.Logger, m *metrics.Metrics) AlertFunc {
	logger = logger.With("component", "audit")
	return func(a AlertEvent) {
		logger.Warn("audit: anomaly detected",
			"alert", string(a.Type),
			"message", a.Message,
			"count", a.Count,
			"threshold", a.Threshold,
		)
		m.Alert(string(a.Type))
	}
}
