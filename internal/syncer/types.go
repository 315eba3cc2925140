package syncer

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/livinlefevreloca/catalogsync/internal/platform"
	"github.com/livinlefevreloca/catalogsync/internal/stats"
)

// TimeWindow bounds the source changes a pass considers. A zero Start means
// every resource; the end is always "now".
type TimeWindow struct {
	Start time.Time
}

// Full reports whether the window covers all history
func (w TimeWindow) Full() bool {
	return w.Start.IsZero()
}

func (w TimeWindow) String() string {
	if w.Full() {
		return "full"
	}
	return "since " + w.Start.UTC().Format(time.RFC3339)
}

// Strategy fetches changed source resources and applies them to the target.
// Item-level failures are counted in the returned statistics; a returned
// error aborts the pass.
type Strategy interface {
	FetchChanged(ctx context.Context, window TimeWindow) iter.Seq2[[]platform.Resource, error]
	ApplyBatch(ctx context.Context, batch []platform.Resource) (stats.Statistics, error)
}

// Flusher is implemented by strategies that hold resources back across
// pages. Flush is called once after the last page and must settle every
// held resource.
type Flusher interface {
	Flush(ctx context.Context) (stats.Statistics, error)
}

// StrategyBuilder creates the strategy for one module bound to a source and
// target project
type StrategyBuilder func(source, target platform.Client, logger *slog.Logger) (Strategy, error)

// ClientProvider lazily supplies a platform client
type ClientProvider func(ctx context.Context) (platform.Client, error)

// StaticProvider returns a provider that always yields c
func StaticProvider(c platform.Client) ClientProvider {
	return func(context.Context) (platform.Client, error) {
		return c, nil
	}
}
