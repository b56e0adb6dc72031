package trigger

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"streamd/pkg/types"
)

// Source produces trigger events from some external feed. Run blocks until
// ctx is canceled or the source fails; it must not close out.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- types.TriggerEvent) error
}

// restartBackoff is how long a failed source waits before reconnecting.
const restartBackoff = 5 * time.Second

// Supervise runs each source on its own goroutine and restarts it after a
// backoff when it fails. It returns once ctx is canceled and all sources
// have stopped.
func Supervise(ctx context.Context, log zerolog.Logger, out chan<- types.TriggerEvent, sources ...Source) {
	done := make(chan struct{}, len(sources))
	for _, src := range sources {
		go func(src Source) {
			defer func() { done <- struct{}{} }()
			for {
				err := src.Run(ctx, out)
				if ctx.Err() != nil {
					return
				}
				log.Warn().Str("source", src.Name()).Err(err).Dur("backoff", restartBackoff).Msg("trigger source stopped, restarting")
				select {
				case <-ctx.Done():
					return
				case <-time.After(restartBackoff):
				}
			}
		}(src)
	}
	for range sources {
		<-done
	}
}

// send delivers ev unless ctx is done first.
func send(ctx context.Context, out chan<- types.TriggerEvent, ev types.TriggerEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
