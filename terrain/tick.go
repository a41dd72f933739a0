package terrain

import (
	"context"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	tpsSampleSize = 20
	// tpsWarningRatio is the fraction of the configured tick rate below which
	// a warning is logged.
	tpsWarningRatio = 0.95
)

// Exec queues f to be run on the goroutine running Run and returns a channel
// closed once f has run. f may call any method of the Terrain. Functions
// queued while Run is not active run once it is.
func (t *Terrain) Exec(f func()) <-chan struct{} {
	done := make(chan struct{})
	t.queue <- func() {
		defer close(done)
		f()
	}
	return done
}

// Run ticks the Terrain at the configured interval until ctx is cancelled,
// running functions passed to Exec in between ticks and saving voxel edits
// periodically. viewer is called before every tick to obtain the position of
// the viewer. If nil, the viewer stays where it is, unless teleported. Run
// returns nil once ctx is cancelled.
func (t *Terrain) Run(ctx context.Context, viewer func() mgl64.Vec3) error {
	if viewer == nil {
		viewer = t.Viewer
	}
	tc := time.NewTicker(t.conf.TickInterval)
	defer tc.Stop()
	save := time.NewTicker(t.conf.SaveInterval)
	defer save.Stop()

	threshold := tpsWarningRatio * float64(time.Second) / float64(t.conf.TickInterval)
	lastTick := time.Now()
	var (
		durationSum time.Duration
		ticksCount  int
		warned      bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-t.queue:
			f()
		case <-save.C:
			if err := t.Save(); err != nil {
				t.conf.Log.Error("autosave voxel edits", "error", err)
			}
		case <-tc.C:
			tickStart := time.Now()
			duration := tickStart.Sub(lastTick)
			lastTick = tickStart
			if duration > 0 {
				durationSum += duration
				ticksCount++
				if ticksCount >= tpsSampleSize {
					tps := 1.0 / (durationSum / time.Duration(ticksCount)).Seconds()
					t.tps.Store(math.Float64bits(tps))
					if tps < threshold {
						if !warned {
							t.conf.Log.Warn("TPS dropped below threshold.", "tps", tps, "pending", t.sched.LastTick().Pending)
							warned = true
						}
					} else if warned {
						warned = false
					}
					durationSum, ticksCount = 0, 0
				}
			}
			t.Tick(viewer())
		}
	}
}
