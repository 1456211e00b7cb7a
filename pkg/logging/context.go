// Package logging provides structured logging for piesss-binder.
package logging

import (
	"context"

	"github.com/go-logr/logr"
)

type contextKey string

const loggerKey contextKey = "logger"

// FromContext returns the logger from the context, or the global logger.
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return GetGlobalLogger()
	}
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return GetGlobalLogger()
}

// IntoContext returns a new context with the logger
func IntoContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LogrFromContext returns a logr.Logger from the context
func LogrFromContext(ctx context.Context) logr.Logger {
	return FromContext(ctx).Logger()
}

// LoggerForPort returns a logger with port binding fields
func LoggerForPort(portID, host string) *Logger {
	return GetGlobalLogger().WithName("binding").WithValues(
		"port", portID,
		"host", host,
	)
}

// LoggerForHost returns a logger with host-specific fields
func LoggerForHost(host string) *Logger {
	return GetGlobalLogger().WithValues("host", host)
}

// LoggerForStore returns a logger for a port record backend
func LoggerForStore(backend string) *Logger {
	return GetGlobalLogger().WithName("store").WithValues("backend", backend)
}

// LoggerForServer returns a logger for the binding API
func LoggerForServer(endpoint string) *Logger {
	return GetGlobalLogger().WithName("server").WithValues("endpoint", endpoint)
}

// LoggerForSegment returns a logger with segment fields
func LoggerForSegment(segmentID, networkType string) *Logger {
	return GetGlobalLogger().WithName("segment").WithValues(
		"segment", segmentID,
		"networkType", networkType,
	)
}
