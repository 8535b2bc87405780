package application

import "time"

// Recorder observes invocation metrics. *observability.Metrics implements it.
type Recorder interface {
	ObserveInvocation(outcome string)
	ObserveStage(stage string, d time.Duration)
	ObserveSandbox(status string)
	AddEventsDropped(n int)
}

type noopRecorder struct{}

func (noopRecorder) ObserveInvocation(string) {}
func (noopRecorder) ObserveStage(string, time.Duration) {}
func (noopRecorder) ObserveSandbox(string) {}
func (noopRecorder) AddEventsDropped(int) {}
