package sandbox

import (
	"context"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
)

// Limited caps the number of concurrent runs across all invocations
// sharing the wrapped provider.
type Limited struct {
	Provider
	bulkhead bulkhead.Bulkhead[RunResult]
}

// Limit wraps p with a bulkhead of n concurrent runs. n <= 0 returns p unchanged.
func Limit(p Provider, n int) Provider {
	if n <= 0 {
		return p
	}
	return &Limited{
		Provider: p,
		bulkhead: bulkhead.New[RunResult](bulkhead.Config{MaxConcurrent: n}),
	}
}

// Run implements Provider.
func (l *Limited) Run(ctx context.Context, h Handle, script string, timeout time.Duration) (RunResult, error) {
	return l.bulkhead.Execute(ctx, func(ctx context.Context) (RunResult, error) {
		return l.Provider.Run(ctx, h, script, timeout)
	})
}
