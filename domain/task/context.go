package task

import "context"

type runKey struct{}

type runInfo struct {
	runID  string
	userID string
}

// WithRun returns ctx carrying the invocation's run and user IDs so that
// components below the engine can attribute their work.
func WithRun(ctx context.Context, runID, userID string) context.Context {
	return context.WithValue(ctx, runKey{}, runInfo{runID: runID, userID: userID})
}

// RunFromContext returns the run and user IDs stored by WithRun.
func RunFromContext(ctx context.Context) (runID, userID string) {
	info, _ := ctx.Value(runKey{}).(runInfo)
	return info.runID, info.userID
}
