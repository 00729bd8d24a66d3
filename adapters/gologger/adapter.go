// Package gologger bridges the go-logger contracts used across the
// connection runtime into the shapes its collaborators expect, chiefly
// the go-job queue worker behind token refresh.
package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// RuntimeLoggerName scopes loggers resolved for the connection runtime.
const RuntimeLoggerName = "connections"

// Resolve applies the precedence provider > logger > nop for a named scope.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ResolveRuntime resolves the pair under the connection runtime scope.
func ResolveRuntime(provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return Resolve(RuntimeLoggerName, provider, logger)
}

// ToJobProvider adapts a glog provider for the refresh queue worker.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger adapts a single glog logger for the refresh queue worker.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the glog pair and returns the go-job bridges next
// to it, so the sweep loop and the queue worker log through one sink.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
