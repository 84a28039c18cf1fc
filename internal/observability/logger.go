package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field represents a key-value pair for observability.
type Field struct {
	Key   string
	Value interface{}
}

// MetricField represents a key-value pair for logging metrics.
type MetricField struct {
	Key   string
	Value interface{}
}

type ObservabilityContextKey string

const observabilityKey ObservabilityContextKey = "observability_fields"

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// quietPaths are polled constantly by orchestrators and load balancers.
var quietPaths = map[string]bool{
	"/health":              true,
	"/health/live":         true,
	"/health/ready":        true,
	"/api/health/liveness": true,
	"/metrics":             true,
}

// WithFields adds a set of observability fields to the context.
func WithFields(ctx context.Context, fields ...Field) context.Context {
	existing := getObservabilityFields(ctx)
	merged := make([]Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, observabilityKey, merged)
}

func getObservabilityFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	if fields, ok := ctx.Value(observabilityKey).([]Field); ok {
		return fields
	}
	return nil
}

// FieldValue returns the last value stored under key, if any.
func FieldValue(ctx context.Context, key string) (interface{}, bool) {
	fields := getObservabilityFields(ctx)
	for i := len(fields) - 1; i >= 0; i-- {
		if fields[i].Key == key {
			return fields[i].Value, true
		}
	}
	return nil, false
}

// Merge fields from context and additional metric fields, later keys win.
func mergeFields(ctx context.Context, fields []MetricField) []zapcore.Field {
	fieldMap := make(map[string]zapcore.Field)
	order := make([]string, 0)

	for _, f := range getObservabilityFields(ctx) {
		if _, seen := fieldMap[f.Key]; !seen {
			order = append(order, f.Key)
		}
		fieldMap[f.Key] = zap.Any(f.Key, f.Value)
	}
	for _, f := range fields {
		if _, seen := fieldMap[f.Key]; !seen {
			order = append(order, f.Key)
		}
		fieldMap[f.Key] = zap.Any(f.Key, f.Value)
	}

	merged := make([]zapcore.Field, 0, len(order))
	for _, k := range order {
		merged = append(merged, fieldMap[k])
	}
	return merged
}

// Middleware adds a correlation id and request fields to the request context, recovers panics
// and records request metrics.
func Middleware(l *Logger, metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = c.GetHeader(HeaderCorrelationID)
		}
		if requestID == "" {
			requestID = fmt.Sprintf("req-%s", uuid.New().String())
		}
		c.Request.Header.Set(HeaderRequestID, requestID)
		c.Writer.Header().Set(HeaderRequestID, requestID)

		ctx := WithFields(c.Request.Context(),
			Field{"request_id", requestID},
			Field{"path", c.Request.URL.Path},
			Field{"method", c.Request.Method},
			Field{"client_ip", c.ClientIP()},
		)
		if ua := c.Request.UserAgent(); ua != "" {
			ctx = WithFields(ctx, Field{"user_agent", ua})
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				l.Error(c.Request.Context(), "Recovered from panic", fmt.Errorf("reason: %+v", r))
				c.AbortWithStatus(500)
			}

			latency := time.Since(start)
			status := c.Writer.Status()
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			metrics.ObserveHTTP(c.Request.Method, route, status, latency)

			if quietPaths[c.Request.URL.Path] {
				return
			}
			l.Metrics(c.Request.Context(),
				MetricField{"status", status},
				MetricField{"latency_ms", latency.Milliseconds()},
			)
		}()
		c.Next()
	}
}

// LogConfig controls the encoder and level of a Logger.
type LogConfig struct {
	Level string
	JSON  bool
}

// Logger represents a custom logger with Zap integration.
type Logger struct {
	zapLogger *zap.Logger
}

// NewLogger creates a production JSON logger at info level.
func NewLogger() *Logger {
	return NewLoggerWithConfig(LogConfig{Level: "info", JSON: true})
}

// NewLoggerWithConfig creates a logger honouring level and encoding.
func NewLoggerWithConfig(cfg LogConfig) *Logger {
	var zc zap.Config
	if cfg.JSON {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zc.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		zapLogger = zap.NewNop()
	}
	return &Logger{zapLogger: zapLogger}
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return &Logger{zapLogger: zap.NewNop()}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.zapLogger.Sync()
}

func (l *Logger) loggerFromContext(ctx context.Context) *zap.Logger {
	fields := getObservabilityFields(ctx)
	if len(fields) == 0 {
		return l.zapLogger
	}
	zapFields := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		zapFields[i] = zap.Any(f.Key, f.Value)
	}
	return l.zapLogger.With(zapFields...)
}

// Info logs an informational message with context-based fields.
func (l *Logger) Info(ctx context.Context, msg string, fields ...Field) {
	l.loggerFromContext(WithFields(ctx, fields...)).Info(msg)
}

// InfoWithError logs an informational message with context and an error.
func (l *Logger) InfoWithError(ctx context.Context, msg string, err error) {
	l.loggerFromContext(ctx).Info(msg, zap.Error(err))
}

// Error logs an error message with context-based fields.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.loggerFromContext(ctx).Error(msg, zap.Error(err))
}

// Warn logs a warning message with context-based fields.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.loggerFromContext(WithFields(ctx, fields...)).Warn(msg)
}

// WarnWithError logs a warning message with an error. Used for degraded paths that recover.
func (l *Logger) WarnWithError(ctx context.Context, msg string, err error) {
	l.loggerFromContext(ctx).Warn(msg, zap.Error(err))
}

// Debug logs a debug message with context-based fields.
func (l *Logger) Debug(ctx context.Context, msg string) {
	l.loggerFromContext(ctx).Debug(msg)
}

// Fatal logs a fatal message with context-based fields.
func (l *Logger) Fatal(ctx context.Context, msg string, err error) {
	l.loggerFromContext(ctx).Fatal(msg, zap.Error(err))
}

// Metrics logs metrics-related information using custom MetricField type.
func (l *Logger) Metrics(ctx context.Context, fields ...MetricField) {
	l.zapLogger.Info("Metrics", mergeFields(ctx, fields)...)
}
