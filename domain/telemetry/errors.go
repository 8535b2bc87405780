package telemetry

import "errors"

var (
	// ErrExporterFailed indicates a trace exporter could not be created.
	ErrExporterFailed = errors.New("trace exporter failed")

	// ErrShutdownFailed indicates pending spans could not be flushed.
	ErrShutdownFailed = errors.New("tracing shutdown failed")
)
