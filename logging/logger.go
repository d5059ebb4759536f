// Package logging provides structured logging with trace-id propagation for
// a single offline-drain cycle across queue, auth and storage events.
package logging

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried by the logger.
type ContextKey string

const (
	TraceIDKey  ContextKey = "trace_id"
	UserIDKey   ContextKey = "user_id"
	SessionKey  ContextKey = "session_id"
	ResourceKey ContextKey = "resource"
)

// Logger wraps logrus.Logger with SDK-specific context propagation.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a Logger for the given component name ("queue", "auth", "storage", ...).
func New(component, level, format string) *Logger {
	logger := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv builds a logger using LOG_LEVEL / LOG_FORMAT, defaulting to info/json.
func NewFromEnv(component string) *Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext returns an entry carrying trace/user/session ids found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if userID := ctx.Value(UserIDKey); userID != nil {
		entry = entry.WithField("user_id", userID)
	}
	if sessionID := ctx.Value(SessionKey); sessionID != nil {
		entry = entry.WithField("session_id", sessionID)
	}
	if resource := ctx.Value(ResourceKey); resource != nil {
		entry = entry.WithField("resource", resource)
	}
	return entry
}

// WithFields returns an entry carrying both the component name and fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError returns an entry carrying the component name and error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"component": l.component, "error": err.Error()})
}

// NewTraceID generates a new correlation id for an offline-drain cycle.
func NewTraceID() string { return uuid.New().String() }

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionKey, sessionID)
}

func WithResource(ctx context.Context, resource string) context.Context {
	return context.WithValue(ctx, ResourceKey, resource)
}

// LogQueueEvent logs a queue lifecycle transition.
func (l *Logger) LogQueueEvent(ctx context.Context, itemID, status string, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{"item_id": itemID, "status": status})
	if err != nil {
		entry.WithError(err).Warn("queue item transition")
		return
	}
	entry.Debug("queue item transition")
}

// LogAuthEvent logs an auth lifecycle event (login/refresh/logout).
func (l *Logger) LogAuthEvent(ctx context.Context, event string, err error) {
	entry := l.WithContext(ctx).WithField("event", event)
	if err != nil {
		entry.WithError(err).Warn("auth event")
		return
	}
	entry.Info("auth event")
}

// LogStorageEvent logs a storage operation outcome.
func (l *Logger) LogStorageEvent(ctx context.Context, op, key string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"op":          op,
		"key":         key,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("storage operation failed")
		return
	}
	entry.Debug("storage operation")
}

// LogCircuitStateChange logs a per-resource breaker transition.
func (l *Logger) LogCircuitStateChange(ctx context.Context, resource, from, to string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"resource":   resource,
		"from_state": from,
		"to_state":   to,
	}).Warn("circuit breaker state changed")
}

// Global default logger, lazily initialized.
var defaultLogger *Logger

// InitDefault initializes the package-level default logger.
func InitDefault(component, level, format string) {
	defaultLogger = New(component, level, format)
}

// Default returns the default logger, creating a fallback if uninitialized.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("sdk", "info", "json")
	}
	return defaultLogger
}
